package source

import (
	"strings"

	"meetingsync/internal/pipeline"
)

var requiredPayloadFields = []string{"id", "uuid", "host_id", "topic", "start_time", "duration", "recording_files"}

var requiredFileFields = []string{"id", "recording_start", "recording_end", "download_url", "file_type", "file_size", "recording_type", "status"}

// ValidateRecordingPayload implements spec §4.1/§4.2 payload validation:
// every required top-level field must be present, every file entry must
// carry its required fields, and at least one file must be an mp4 with
// status "completed" (both compared case-insensitively).
func ValidateRecordingPayload(obj map[string]any) error {
	for _, field := range requiredPayloadFields {
		if _, ok := obj[field]; !ok {
			return pipeline.BadWebhookData("missing field %q", field)
		}
	}
	files, ok := obj["recording_files"].([]any)
	if !ok {
		return pipeline.BadWebhookData("recording_files must be an array")
	}
	hasMp4 := false
	for i, raw := range files {
		file, ok := raw.(map[string]any)
		if !ok {
			return pipeline.BadWebhookData("recording_files[%d] must be an object", i)
		}
		for _, field := range requiredFileFields {
			if _, ok := file[field]; !ok {
				return pipeline.BadWebhookData("recording_files[%d] missing field %q", i, field)
			}
		}
		fileType, _ := file["file_type"].(string)
		status, _ := file["status"].(string)
		if strings.EqualFold(fileType, "mp4") && strings.EqualFold(status, "completed") {
			hasMp4 = true
		}
	}
	if !hasMp4 {
		return pipeline.NoMp4Files("no completed mp4 file in recording_files")
	}
	return nil
}

// ValidateRecordingObject validates the `payload.object` of a
// recording.completed webhook event, which is the same shape as a full
// recording payload (spec §4.1).
func ValidateRecordingObject(obj map[string]any) error {
	return ValidateRecordingPayload(obj)
}

// ValidateRenamedPayload implements spec §4.1 "Rename validation requires
// old_object and object, each with at least uuid and topic."
func ValidateRenamedPayload(payload map[string]any) error {
	old, ok := payload["old_object"].(map[string]any)
	if !ok {
		return pipeline.BadWebhookData("missing old_object")
	}
	current, ok := payload["object"].(map[string]any)
	if !ok {
		return pipeline.BadWebhookData("missing object")
	}
	for name, obj := range map[string]map[string]any{"old_object": old, "object": current} {
		if _, ok := obj["uuid"]; !ok {
			return pipeline.BadWebhookData("%s missing uuid", name)
		}
		if _, ok := obj["topic"]; !ok {
			return pipeline.BadWebhookData("%s missing topic", name)
		}
	}
	return nil
}
