package source

import "testing"

func validPayload() map[string]any {
	return map[string]any{
		"id": "1", "uuid": "abc", "host_id": "h1", "topic": "Lecture",
		"start_time": "2026-03-01T10:00:00Z", "duration": 60,
		"recording_files": []any{
			map[string]any{
				"id": "f1", "recording_start": "t0", "recording_end": "t1",
				"download_url": "https://x", "file_type": "MP4", "file_size": 100,
				"recording_type": "shared_screen_with_speaker_view", "status": "Completed",
			},
		},
	}
}

func TestValidateRecordingPayloadAccepts(t *testing.T) {
	if err := ValidateRecordingPayload(validPayload()); err != nil {
		t.Fatalf("expected valid payload to pass, got %v", err)
	}
}

func TestValidateRecordingPayloadMissingField(t *testing.T) {
	p := validPayload()
	delete(p, "topic")
	if err := ValidateRecordingPayload(p); err == nil {
		t.Fatalf("expected missing field to fail validation")
	}
}

func TestValidateRecordingPayloadNoMp4(t *testing.T) {
	p := validPayload()
	p["recording_files"] = []any{
		map[string]any{
			"id": "f1", "recording_start": "t0", "recording_end": "t1",
			"download_url": "https://x", "file_type": "M4A", "file_size": 100,
			"recording_type": "audio_only", "status": "completed",
		},
	}
	if err := ValidateRecordingPayload(p); err == nil {
		t.Fatalf("expected no-mp4 payload to fail")
	}
}

func TestValidateRenamedPayload(t *testing.T) {
	payload := map[string]any{
		"old_object": map[string]any{"uuid": "u1", "topic": "Old"},
		"object":     map[string]any{"uuid": "u1", "topic": "New"},
	}
	if err := ValidateRenamedPayload(payload); err != nil {
		t.Fatalf("expected valid rename payload to pass, got %v", err)
	}
}

func TestValidateRenamedPayloadMissingObject(t *testing.T) {
	payload := map[string]any{"old_object": map[string]any{"uuid": "u1", "topic": "Old"}}
	if err := ValidateRenamedPayload(payload); err == nil {
		t.Fatalf("expected missing object to fail")
	}
}
