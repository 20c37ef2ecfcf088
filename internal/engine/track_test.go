package engine

import "testing"

func TestSelectTrackPrefersSharedScreenWithSpeakerView(t *testing.T) {
	files := []RecordingFile{
		{ID: "f1", RecordingType: "gallery_view"},
		{ID: "f2", RecordingType: "shared_screen_with_speaker_view"},
		{ID: "f3", RecordingType: "active_speaker"},
	}
	got, err := SelectTrack(files)
	if err != nil {
		t.Fatalf("SelectTrack: %v", err)
	}
	if got.File.ID != "f2" || got.Fallback {
		t.Fatalf("expected f2 (preferred, non-fallback), got %+v", got)
	}
}

func TestSelectTrackFallsBackToGalleryView(t *testing.T) {
	files := []RecordingFile{{ID: "f1", RecordingType: "gallery_view"}}
	got, err := SelectTrack(files)
	if err != nil {
		t.Fatalf("SelectTrack: %v", err)
	}
	if got.File.ID != "f1" || !got.Fallback {
		t.Fatalf("expected f1 (fallback), got %+v", got)
	}
}

func TestSelectTrackNoMatchFails(t *testing.T) {
	files := []RecordingFile{{ID: "f1", RecordingType: "chat_file"}}
	if _, err := SelectTrack(files); err == nil {
		t.Fatalf("expected NoMp4Files when nothing matches")
	}
}

func TestSelectTrackDeterministic(t *testing.T) {
	files := []RecordingFile{
		{ID: "f1", RecordingType: "shared_screen"},
		{ID: "f2", RecordingType: "shared_screen_with_speaker_view"},
	}
	first, _ := SelectTrack(files)
	second, _ := SelectTrack(files)
	if first.File.ID != second.File.ID {
		t.Fatalf("expected deterministic selection, got %q then %q", first.File.ID, second.File.ID)
	}
}

func TestFindChatFile(t *testing.T) {
	files := []RecordingFile{{ID: "c1", RecordingType: "chat_file"}}
	got, ok := FindChatFile(files)
	if !ok || got.ID != "c1" {
		t.Fatalf("expected to find chat_file, got %+v ok=%v", got, ok)
	}
}

func TestFindChatFileAbsent(t *testing.T) {
	if _, ok := FindChatFile(nil); ok {
		t.Fatalf("expected no chat file in empty list")
	}
}
