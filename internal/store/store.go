// Package store is the Persistence Layer: the relational store holding the
// Recording and Ingest tables (plus the auxiliary User cache), and the only
// component permitted to mutate them. All other components hold values by
// copy.
package store

import (
	"context"
	"errors"
	"time"

	"meetingsync/internal/models"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// ErrWebhookIngestExists is returned by CreateIngest when a webhook-created
// Ingest already exists for the Recording (spec invariant: a given
// Recording has at most one Ingest with webhook=true).
var ErrWebhookIngestExists = errors.New("store: webhook ingest already exists for recording")

// CreateIngestParams bundles the Recording upsert and the new Ingest row so
// both happen inside one transaction (spec invariant 1: the Recording must
// exist before the Ingest referencing it, established atomically).
type CreateIngestParams struct {
	Recording models.Recording
	Params    models.IngestParams
	IsWebhook bool
}

// Repository is the persistence contract consumed by Intake and the Ingest
// Engine. A single relational store backs it; row-level locking inside a
// per-action transaction is relied upon for the invariants in spec §5.
type Repository interface {
	Ping(ctx context.Context) error

	// UpsertRecording creates the Recording on first sight or updates its
	// mutable Title field on a rename event. All other fields are immutable
	// after creation.
	UpsertRecording(ctx context.Context, rec models.Recording) (models.Recording, error)

	GetRecording(ctx context.Context, uuid string) (models.Recording, error)

	// HasActiveWebhookIngest reports whether a webhook-created Ingest
	// already exists for uuid, used by Intake to short-circuit duplicate
	// webhook deliveries before attempting CreateIngest.
	HasActiveWebhookIngest(ctx context.Context, uuid string) (bool, error)

	// CreateIngest upserts the Recording and inserts a new Ingest row in one
	// transaction, returning the new Ingest id. When params.IsWebhook is
	// true and a webhook Ingest already exists for the recording, it
	// returns ErrWebhookIngestExists without creating a row.
	CreateIngest(ctx context.Context, params CreateIngestParams) (int64, error)

	GetIngest(ctx context.Context, id int64) (models.Ingest, error)

	// TransitionIngest atomically moves the Ingest from one of the `from`
	// statuses to `to`, returning false (no error) if the current status
	// did not match any of `from`. Used for the NEW -> IN_PROGRESS
	// transition, which must commit before any network work begins.
	TransitionIngest(ctx context.Context, id int64, from []models.Status, to models.Status) (bool, error)

	// FinishIngest records a terminal transition to FINISHED or WARNING
	// along with the Sink-assigned mediapackage and workflow instance ids.
	FinishIngest(ctx context.Context, id int64, status models.Status, mediaPackageID, workflowInstanceID string) error

	// ReturnToNew moves an IN_PROGRESS-adjacent Ingest back to NEW, used
	// when a retryable error is encountered mid-job so the reaper can
	// re-drive it later.
	ReturnToNew(ctx context.Context, id int64) error

	// ListStale returns Ingests with status outside {FINISHED, WARNING,
	// IN_PROGRESS} whose last transition is at or before cutoff, ordered by
	// id for deterministic processing (spec §4.4 reaper sweep).
	ListStale(ctx context.Context, cutoff time.Time) ([]models.Ingest, error)

	// CancelIngest removes the row if (and only if) it is currently NEW or
	// WARNING, matching the human-facing cancel operation in spec §5.
	CancelIngest(ctx context.Context, id int64) error

	UpsertUser(ctx context.Context, user models.User) error
	GetUser(ctx context.Context, id string) (models.User, error)
}
