package engine

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"meetingsync/internal/models"
	"meetingsync/internal/store"
)

type fakeStore struct {
	mu      sync.Mutex
	ingests map[int64]models.Ingest
}

func newFakeStore(ingests ...models.Ingest) *fakeStore {
	s := &fakeStore{ingests: make(map[int64]models.Ingest)}
	for _, i := range ingests {
		s.ingests[i.ID] = i
	}
	return s
}

func (s *fakeStore) Ping(context.Context) error { return nil }
func (s *fakeStore) UpsertRecording(_ context.Context, r models.Recording) (models.Recording, error) {
	return r, nil
}
func (s *fakeStore) GetRecording(context.Context, string) (models.Recording, error) {
	return models.Recording{}, nil
}
func (s *fakeStore) HasActiveWebhookIngest(context.Context, string) (bool, error) { return false, nil }
func (s *fakeStore) CreateIngest(context.Context, store.CreateIngestParams) (int64, error) {
	return 0, nil
}
func (s *fakeStore) GetIngest(_ context.Context, id int64) (models.Ingest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ingests[id], nil
}
func (s *fakeStore) TransitionIngest(_ context.Context, id int64, from []models.Status, to models.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ing, ok := s.ingests[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if ing.Status == f {
			ing.Status = to
			s.ingests[id] = ing
			return true, nil
		}
	}
	return false, nil
}
func (s *fakeStore) FinishIngest(_ context.Context, id int64, status models.Status, mpID, wfID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ing := s.ingests[id]
	ing.Status = status
	ing.MediaPackageID = mpID
	ing.WorkflowInstance = wfID
	s.ingests[id] = ing
	return nil
}
func (s *fakeStore) ReturnToNew(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ing := s.ingests[id]
	ing.Status = models.StatusNew
	s.ingests[id] = ing
	return nil
}
func (s *fakeStore) ListStale(context.Context, time.Time) ([]models.Ingest, error) {
	return nil, nil
}
func (s *fakeStore) CancelIngest(context.Context, int64) error                  { return nil }
func (s *fakeStore) UpsertUser(context.Context, models.User) error              { return nil }
func (s *fakeStore) GetUser(context.Context, string) (models.User, error)       { return models.User{}, nil }

func (s *fakeStore) status(id int64) models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ingests[id].Status
}

type fakeSource struct {
	files []RecordingFile
	data  []byte
}

func (f *fakeSource) Download(_ context.Context, _ string, w io.Writer) (int64, error) {
	n, err := w.Write(f.data)
	return int64(n), err
}

func (f *fakeSource) GetRecordingFiles(context.Context, string) ([]RecordingFile, error) {
	return f.files, nil
}

type fakeSink struct{ called int }

func (f *fakeSink) Ingest(context.Context, IngestRequest) (IngestResult, error) {
	f.called++
	return IngestResult{MediaPackageID: "mp-1", WorkflowInstanceID: "wf-1"}, nil
}

func TestProcessHappyPathFinishesOnPreferredTrack(t *testing.T) {
	storeFake := newFakeStore(models.Ingest{ID: 1, RecordingUUID: "u1", Status: models.StatusNew})
	sourceFake := &fakeSource{
		files: []RecordingFile{{ID: "f1", RecordingType: "shared_screen_with_speaker_view", FileType: "mp4", FileSize: 5}},
		data:  []byte("abcde"),
	}
	sinkFake := &fakeSink{}

	e := New(Config{
		Store:        storeFake,
		Source:       sourceFake,
		Sink:         sinkFake,
		DownloadRoot: t.TempDir(),
	})
	var acked bool
	e.process(context.Background(), jobItem{ingestID: 1, uuid: "u1", ack: func() error { acked = true; return nil }})

	if got := storeFake.status(1); got != models.StatusFinished {
		t.Fatalf("expected FINISHED, got %q", got)
	}
	if sinkFake.called != 1 {
		t.Fatalf("expected sink.Ingest called once, got %d", sinkFake.called)
	}
	if !acked {
		t.Fatalf("expected job to be acked on success")
	}
}

func TestProcessFallbackTrackYieldsWarning(t *testing.T) {
	storeFake := newFakeStore(models.Ingest{ID: 2, RecordingUUID: "u2", Status: models.StatusNew})
	sourceFake := &fakeSource{
		files: []RecordingFile{{ID: "f2", RecordingType: "gallery_view", FileType: "mp4", FileSize: 3}},
		data:  []byte("xyz"),
	}
	sinkFake := &fakeSink{}

	e := New(Config{Store: storeFake, Source: sourceFake, Sink: sinkFake, DownloadRoot: t.TempDir()})
	e.process(context.Background(), jobItem{ingestID: 2, uuid: "u2", ack: func() error { return nil }})

	if got := storeFake.status(2); got != models.StatusWarning {
		t.Fatalf("expected WARNING for fallback track, got %q", got)
	}
}

func TestProcessSkipsAlreadyClaimedRow(t *testing.T) {
	storeFake := newFakeStore(models.Ingest{ID: 3, RecordingUUID: "u3", Status: models.StatusInProgress})
	sinkFake := &fakeSink{}
	e := New(Config{Store: storeFake, Source: &fakeSource{}, Sink: sinkFake, DownloadRoot: t.TempDir()})

	var acked bool
	e.process(context.Background(), jobItem{ingestID: 3, uuid: "u3", ack: func() error { acked = true; return nil }})

	if sinkFake.called != 0 {
		t.Fatalf("expected no sink call for an already in-progress row")
	}
	if !acked {
		t.Fatalf("expected ack for a row that could not be claimed")
	}
}

func TestProcessNoMatchingTrackReturnsRowToNewAndDoesNotAck(t *testing.T) {
	storeFake := newFakeStore(models.Ingest{ID: 4, RecordingUUID: "u4", Status: models.StatusNew})
	sourceFake := &fakeSource{files: []RecordingFile{{ID: "f4", RecordingType: "chat_file"}}}
	sinkFake := &fakeSink{}
	e := New(Config{Store: storeFake, Source: sourceFake, Sink: sinkFake, DownloadRoot: t.TempDir()})

	var acked bool
	e.process(context.Background(), jobItem{ingestID: 4, uuid: "u4", ack: func() error { acked = true; return nil }})

	if got := storeFake.status(4); got != models.StatusNew {
		t.Fatalf("expected row returned to NEW for the reaper, got %q", got)
	}
	if acked {
		t.Fatalf("expected a retryable failure to leave the message unacked")
	}
}

