package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"meetingsync/internal/pipeline"
	"meetingsync/internal/queue"
	"meetingsync/internal/store"
)

// Sink is the subset of *sink.Client the engine drives.
type Sink interface {
	Ingest(ctx context.Context, req IngestRequest) (IngestResult, error)
}

// IngestRequest and IngestResult mirror sink.IngestRequest/IngestResult;
// defined here to keep the engine package decoupled from the sink
// package's multipart/XML internals.
type IngestRequest struct {
	WorkflowID    string
	EpisodeDC     map[string]string
	Duration      int
	ExtensionDC   map[string]string
	ACLID         string
	ChatPath      string
	VideoPath     string
	VideoFileName string
}

type IngestResult struct {
	MediaPackageID     string
	WorkflowInstanceID string
}

// RecordingSource is the subset of *source.Client the engine needs: refetch
// a recording's file list and stream a file to disk.
type RecordingSource interface {
	Downloader
	GetRecordingFiles(ctx context.Context, uuid string) ([]RecordingFile, error)
}

// Config wires the Ingest Engine's collaborators, all received as
// explicit constructor parameters rather than process-globals (Design
// Notes "Global singleton configuration").
type Config struct {
	Store            store.Repository
	Queue            queue.Queue
	Source           RecordingSource
	Sink             Sink
	DownloadRoot     string
	UploadWorkers    int64
	ReaperInterval   time.Duration
	ReaperStaleAfter time.Duration
	Logger           *slog.Logger
	Metrics          Recorder
}

// Recorder receives engine-level outcome counts. Satisfied by
// *metrics.Recorder.
type Recorder interface {
	IncIngestFinished()
	IncIngestWarning()
	IncIngestRetried()
	IncReaperSweep(n int)
}

// Engine is the Ingest Engine.
type Engine struct {
	store  store.Repository
	queue  queue.Queue
	source RecordingSource
	sink   Sink

	downloadRoot     string
	reaperInterval   time.Duration
	reaperStaleAfter time.Duration
	logger           *slog.Logger
	metrics          Recorder

	sem *semaphore.Weighted
}

type jobItem struct {
	ingestID int64
	uuid     string
	ack      func() error
}

// New constructs an Engine.
func New(cfg Config) *Engine {
	workers := cfg.UploadWorkers
	if workers <= 0 {
		workers = 1
	}
	reaperInterval := cfg.ReaperInterval
	if reaperInterval <= 0 {
		reaperInterval = 60 * time.Second
	}
	reaperStaleAfter := cfg.ReaperStaleAfter
	if reaperStaleAfter <= 0 {
		reaperStaleAfter = time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:            cfg.Store,
		queue:            cfg.Queue,
		source:           cfg.Source,
		sink:             cfg.Sink,
		downloadRoot:     cfg.DownloadRoot,
		reaperInterval:   reaperInterval,
		reaperStaleAfter: reaperStaleAfter,
		logger:           logger,
		metrics:          cfg.Metrics,
		sem:              semaphore.NewWeighted(workers),
	}
}

// Run starts the broker consumer and the reaper, both feeding the same
// internal channel of jobs consumed by a semaphore-bounded worker pool
// (Design Notes "Coroutine / callback model"). Run blocks until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	work := make(chan jobItem, 64)

	sub := e.queue.Subscribe()
	defer sub.Close()

	go e.consumeBroker(ctx, sub, work)
	go e.runReaper(ctx, work)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-work:
			if err := e.sem.Acquire(ctx, 1); err != nil {
				return ctx.Err()
			}
			go func(item jobItem) {
				defer e.sem.Release(1)
				e.process(ctx, item)
			}(item)
		}
	}
}

func (e *Engine) consumeBroker(ctx context.Context, sub queue.Subscription, work chan<- jobItem) {
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-sub.Deliveries():
			if !ok {
				return
			}
			item := jobItem{ingestID: delivery.Job.IngestID, uuid: delivery.Job.UUID, ack: delivery.Ack}
			select {
			case work <- item:
			case <-ctx.Done():
				return
			}
		}
	}
}

// runReaper selects stale rows every tick and feeds them into work as
// no-op-ack jobs (spec §4.4 "Job source" producer 2).
func (e *Engine) runReaper(ctx context.Context, work chan<- jobItem) {
	ticker := time.NewTicker(e.reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep(ctx, work)
		}
	}
}

func (e *Engine) sweep(ctx context.Context, work chan<- jobItem) {
	cutoff := time.Now().Add(-e.reaperStaleAfter)
	stale, err := e.store.ListStale(ctx, cutoff)
	if err != nil {
		e.logger.Error("reaper sweep failed", "error", err)
		return
	}
	if e.metrics != nil {
		e.metrics.IncReaperSweep(len(stale))
	}
	for _, ing := range stale {
		item := jobItem{ingestID: ing.ID, uuid: ing.RecordingUUID, ack: func() error { return nil }}
		select {
		case work <- item:
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) ack(item jobItem, err error) {
	if err != nil && pipeline.IsRetryable(err) {
		return
	}
	if item.ack == nil {
		return
	}
	if ackErr := item.ack(); ackErr != nil {
		e.logger.Warn("ack failed", "ingest_id", item.ingestID, "error", ackErr)
	}
}
