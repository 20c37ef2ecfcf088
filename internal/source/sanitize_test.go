package source

import "testing"

func TestStripZWS(t *testing.T) {
	input := "Intro​ to Go​"
	got := StripZWS(input)
	if got != "Intro to Go" {
		t.Fatalf("got %q", got)
	}
}

func TestStripZWSNoOp(t *testing.T) {
	if got := StripZWS("plain ascii"); got != "plain ascii" {
		t.Fatalf("got %q", got)
	}
}

func TestSanitizeValueRecursesThroughMapsAndSlices(t *testing.T) {
	v := map[string]any{
		"title": "Lecture​ One",
		"files": []any{
			map[string]any{"name": "a​.mp4"},
			"b​.mp4",
		},
		"count": 3,
	}
	out := SanitizeValue(v).(map[string]any)
	if out["title"] != "Lecture One" {
		t.Fatalf("unexpected title: %v", out["title"])
	}
	files := out["files"].([]any)
	if files[0].(map[string]any)["name"] != "a.mp4" {
		t.Fatalf("unexpected nested name: %v", files[0])
	}
	if files[1] != "b.mp4" {
		t.Fatalf("unexpected slice string: %v", files[1])
	}
	if out["count"] != 3 {
		t.Fatalf("expected non-string values untouched, got %v", out["count"])
	}
}
