// Package engine is the Ingest Engine: it owns the state transitions of
// Ingest rows and drives the download/upload pipeline between the Source
// and the Sink.
package engine

import (
	"strings"

	"meetingsync/internal/pipeline"
)

// preferredTracks and fallbackTracks are the hard-coded recording_type
// preference order (spec §4.4 "Track selection"); kept as package
// constants rather than configuration per the Design Notes' framing of
// this as an accepted, not-yet-reconsidered hard-coding.
var preferredTracks = []string{
	"shared_screen_with_speaker_view",
	"shared_screen_with_speaker_view(CC)",
	"shared_screen",
	"active_speaker",
}

var fallbackTracks = []string{
	"shared_screen_with_gallery_view",
	"gallery_view",
	"speaker_view",
	"audio_only",
}

// RecordingFile is the subset of a Source file entry the engine needs to
// select and download a track.
type RecordingFile struct {
	ID            string
	RecordingType string
	FileType      string
	DownloadURL   string
	FileSize      int64
}

// SelectedTrack is the outcome of track selection: the chosen file and
// whether it came from the fallback list (fallback ⇒ terminal status
// WARNING instead of FINISHED).
type SelectedTrack struct {
	File     RecordingFile
	Fallback bool
}

// SelectTrack implements spec §4.4 "Track selection": iterate the
// preferred list in order, falling back to the fallback list; fail with
// NoMp4Files if neither matches. Deterministic given the same input list
// (spec §8 invariant 7).
func SelectTrack(files []RecordingFile) (SelectedTrack, error) {
	if file, ok := firstMatch(files, preferredTracks); ok {
		return SelectedTrack{File: file}, nil
	}
	if file, ok := firstMatch(files, fallbackTracks); ok {
		return SelectedTrack{File: file, Fallback: true}, nil
	}
	return SelectedTrack{}, pipeline.NoMp4Files("no file matched the preferred or fallback track lists")
}

func firstMatch(files []RecordingFile, order []string) (RecordingFile, bool) {
	for _, recordingType := range order {
		for _, f := range files {
			if strings.EqualFold(f.RecordingType, recordingType) {
				return f, true
			}
		}
	}
	return RecordingFile{}, false
}

// FindChatFile locates a chat_file entry, if any (spec §4.4 "Also attempt
// to locate a chat_file entry").
func FindChatFile(files []RecordingFile) (RecordingFile, bool) {
	for _, f := range files {
		if strings.EqualFold(f.RecordingType, "chat_file") {
			return f, true
		}
	}
	return RecordingFile{}, false
}
