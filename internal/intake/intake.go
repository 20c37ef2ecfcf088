// Package intake is the Intake component: it converts external stimuli
// (webhooks and human-facing requests) into exactly one enqueued job, or a
// documented rejection, per spec §4.1.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"

	"meetingsync/internal/models"
	"meetingsync/internal/observability/logging"
	"meetingsync/internal/queue"
	"meetingsync/internal/source"
	"meetingsync/internal/store"
)

// Source is the subset of *source.Client Intake needs to re-fetch a
// recording on a rename event with no tracked Ingest.
type Source interface {
	GetRecording(ctx context.Context, uuid string) (map[string]any, error)
}

// Config wires Intake's collaborators and the webhook/filter settings from
// spec §6.
type Config struct {
	Store   store.Repository
	Queue   queue.Queue
	Source  Source
	Logger  *slog.Logger

	MinDurationMinutes int
	TopicRegex         string
	WebhookSecret      string
	DefaultSeriesID    string
	DefaultACLID       string
	DefaultWorkflowID  string
}

// Intake implements the handle_webhook / ingest_manual / ingest_bulk
// operations of spec §4.1.
type Intake struct {
	store  store.Repository
	queue  queue.Queue
	source Source
	logger *slog.Logger

	minDuration   int
	topicRegex    *regexp.Regexp
	webhookSecret string

	defaultSeriesID   string
	defaultACLID      string
	defaultWorkflowID string
}

// New constructs an Intake.
func New(cfg Config) (*Intake, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pattern := cfg.TopicRegex
	if pattern == "" {
		pattern = ".*"
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile topic regex %q: %w", pattern, err)
	}
	return &Intake{
		store:             cfg.Store,
		queue:             cfg.Queue,
		source:            cfg.Source,
		logger:            logger,
		minDuration:       cfg.MinDurationMinutes,
		topicRegex:        re,
		webhookSecret:     cfg.WebhookSecret,
		defaultSeriesID:   cfg.DefaultSeriesID,
		defaultACLID:      cfg.DefaultACLID,
		defaultWorkflowID: cfg.DefaultWorkflowID,
	}, nil
}

// WebhookDisabled reports whether webhook ingest is globally disabled:
// neither a default workflow nor a default series/acl pair is configured
// (spec §4.1 "Filtering and gating").
func (in *Intake) WebhookDisabled() bool {
	return in.defaultWorkflowID == "" && in.defaultSeriesID == "" && in.defaultACLID == ""
}

// Result is the outcome of processing one webhook or manual-ingest request.
type Result struct {
	Status  int
	Message string
	// IngestID is non-zero when a job was enqueued.
	IngestID int64
}

func ok(msg string) Result         { return Result{Status: 200, Message: msg} }
func badRequest(msg string) Result { return Result{Status: 400, Message: msg} }
func methodNotAllowed() Result     { return Result{Status: 405, Message: "webhook ingest is disabled"} }

// HandleWebhook implements handle_webhook(headers, body) (spec §4.1).
func (in *Intake) HandleWebhook(ctx context.Context, authHeader string, body []byte) Result {
	if in.webhookSecret != "" && authHeader != in.webhookSecret {
		return Result{Status: 400, Message: "invalid authorization"}
	}

	var envelope struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return badRequest("malformed JSON body")
	}

	switch envelope.Event {
	case "recording.completed":
		return in.handleRecordingCompleted(ctx, envelope.Payload)
	case "recording.renamed":
		return in.handleRecordingRenamed(ctx, envelope.Payload)
	default:
		return ok("unknown event")
	}
}

func (in *Intake) handleRecordingCompleted(ctx context.Context, payload json.RawMessage) Result {
	if in.WebhookDisabled() {
		return methodNotAllowed()
	}

	var wrapper struct {
		Object map[string]any `json:"object"`
	}
	if err := json.Unmarshal(payload, &wrapper); err != nil {
		return badRequest("malformed payload")
	}
	obj := source.SanitizeValue(wrapper.Object).(map[string]any)

	if err := source.ValidateRecordingPayload(obj); err != nil {
		return badRequestFromError(err)
	}

	uuid, _ := obj["uuid"].(string)
	topic, _ := obj["topic"].(string)
	if !in.topicRegex.MatchString(topic) {
		return ok("dropped by filter")
	}

	durationMinutes := intField(obj["duration"])
	if durationMinutes < in.minDuration {
		return badRequest("recording too short")
	}

	exists, err := in.store.HasActiveWebhookIngest(ctx, uuid)
	if err != nil {
		return Result{Status: 500, Message: "store error"}
	}
	if exists {
		return ok("already created")
	}

	params := models.IngestParams{
		WorkflowID: in.defaultWorkflowID,
		ACLID:      in.defaultACLID,
		SeriesID:   in.defaultSeriesID,
		Title:      topic,
		Duration:   durationMinutes,
	}
	ingestID, err := in.enqueue(ctx, uuid, obj, params, true)
	if err != nil {
		return Result{Status: 500, Message: err.Error()}
	}
	return Result{Status: 200, Message: "accepted", IngestID: ingestID}
}

func (in *Intake) handleRecordingRenamed(ctx context.Context, payload json.RawMessage) Result {
	if err := source.ValidateRenamedPayload(structFromRaw(payload)); err != nil {
		return badRequestFromError(err)
	}

	var wrapper struct {
		Object    map[string]any `json:"object"`
		OldObject map[string]any `json:"old_object"`
	}
	if err := json.Unmarshal(payload, &wrapper); err != nil {
		return badRequest("malformed payload")
	}

	uuid, _ := wrapper.Object["uuid"].(string)
	topic, _ := wrapper.Object["topic"].(string)
	topic = source.StripZWS(topic)

	rec, err := in.store.GetRecording(ctx, uuid)
	if err != nil {
		return Result{Status: 500, Message: "store error"}
	}
	if rec.UUID != "" {
		rec.Title = topic
		if _, err := in.store.UpsertRecording(ctx, rec); err != nil {
			return Result{Status: 500, Message: "store error"}
		}
	}

	exists, err := in.store.HasActiveWebhookIngest(ctx, uuid)
	if err != nil {
		return Result{Status: 500, Message: "store error"}
	}
	if exists {
		return ok("acknowledged")
	}

	// No active Ingest tracks this uuid: fall back to re-fetching the full
	// recording from the Source and processing it as a completion.
	if in.source == nil {
		return ok("acknowledged")
	}
	full, err := in.source.GetRecording(ctx, uuid)
	if err != nil {
		return Result{Status: 500, Message: "source fetch failed"}
	}
	raw, err := json.Marshal(map[string]any{"object": full})
	if err != nil {
		return Result{Status: 500, Message: "marshal failed"}
	}
	return in.handleRecordingCompleted(ctx, raw)
}

func structFromRaw(raw json.RawMessage) map[string]any {
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

func badRequestFromError(err error) Result {
	return badRequest(err.Error())
}

func intField(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func (in *Intake) enqueue(ctx context.Context, uuid string, obj map[string]any, params models.IngestParams, isWebhook bool) (int64, error) {
	rec := models.Recording{
		UUID:     uuid,
		HostID:   stringOf(obj["host_id"]),
		Title:    params.Title,
		Duration: params.Duration,
	}
	ingestID, err := in.store.CreateIngest(ctx, store.CreateIngestParams{
		Recording: rec,
		Params:    params,
		IsWebhook: isWebhook,
	})
	if err != nil {
		return 0, err
	}
	if err := in.queue.Publish(ctx, queue.Job{UUID: uuid, IngestID: ingestID}); err != nil {
		// Spec §4.1: on publish failure, surface the error; the row stays
		// NEW and the reaper will pick it up.
		log := logging.WithContext(logging.ContextWithIngestID(ctx, ingestID), in.logger)
		log.Error("enqueue publish failed", "uuid", uuid, "error", err)
		return 0, fmt.Errorf("publish job: %w", err)
	}
	return ingestID, nil
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

// IngestManual implements ingest_manual(recording_uuid, params, dur_check)
// (spec §4.1). Unlike the webhook path: is_webhook is false, the duration
// check is controllable via durCheck, and there is no pre-shared-secret
// gate.
func (in *Intake) IngestManual(ctx context.Context, uuid string, params models.IngestParams, durCheck bool) (int64, error) {
	if durCheck && params.Duration < in.minDuration {
		return 0, fmt.Errorf("recording too short")
	}
	params.Title = source.StripZWS(params.Title)
	rec := models.Recording{UUID: uuid, Title: params.Title, Duration: params.Duration}
	ingestID, err := in.store.CreateIngest(ctx, store.CreateIngestParams{
		Recording: rec,
		Params:    params,
		IsWebhook: false,
	})
	if err != nil {
		return 0, err
	}
	if err := in.queue.Publish(ctx, queue.Job{UUID: uuid, IngestID: ingestID}); err != nil {
		log := logging.WithContext(logging.ContextWithIngestID(ctx, ingestID), in.logger)
		log.Error("enqueue publish failed", "uuid", uuid, "error", err)
		return 0, fmt.Errorf("publish job: %w", err)
	}
	return ingestID, nil
}

// BulkResult is one outcome from IngestBulk.
type BulkResult struct {
	UUID     string
	IngestID int64
	Error    string
}

// IngestBulk implements ingest_bulk(event_ids[], shared_params) (spec
// §4.1): loops IngestManual with shared workflow/acl/series parameters.
func (in *Intake) IngestBulk(ctx context.Context, uuids []string, shared models.IngestParams, durCheck bool) []BulkResult {
	results := make([]BulkResult, 0, len(uuids))
	for _, uuid := range uuids {
		id, err := in.IngestManual(ctx, uuid, shared, durCheck)
		res := BulkResult{UUID: uuid}
		if err != nil {
			res.Error = err.Error()
		} else {
			res.IngestID = id
		}
		results = append(results, res)
	}
	return results
}

// Cancel implements the human-facing cancel operation (spec §5): removes
// the Ingest row if (and only if) it is currently NEW or WARNING.
func (in *Intake) Cancel(ctx context.Context, id int64) error {
	return in.store.CancelIngest(ctx, id)
}
