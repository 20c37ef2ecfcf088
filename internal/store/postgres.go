package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"meetingsync/internal/models"
)

const defaultOperationTimeout = 10 * time.Second

// PostgresOption configures a PostgresRepository at construction time,
// following the teacher's functional-option idiom
// (internal/auth/postgres_store.go's PostgresSessionStoreOption).
type PostgresOption func(*postgresOptions)

type postgresOptions struct {
	timeout time.Duration
}

// WithOperationTimeout bounds how long any single Repository call waits for
// Postgres.
func WithOperationTimeout(d time.Duration) PostgresOption {
	return func(o *postgresOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// PostgresRepository is the pgx-backed implementation of Repository.
type PostgresRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository opens a connection pool against dsn and ensures the
// recording/ingest/user schema exists.
func NewPostgresRepository(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresRepository, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store: dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}

	options := postgresOptions{timeout: defaultOperationTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	repo := &PostgresRepository{pool: pool, timeout: options.timeout}
	if err := repo.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// Close releases the underlying connection pool.
func (r *PostgresRepository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

func (r *PostgresRepository) ensureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS recording (
	id BIGSERIAL PRIMARY KEY,
	uuid TEXT NOT NULL UNIQUE,
	host_id TEXT NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	title TEXT NOT NULL,
	duration INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ingest (
	id BIGSERIAL PRIMARY KEY,
	uuid TEXT NOT NULL REFERENCES recording(uuid),
	status SMALLINT NOT NULL,
	"timestamp" TIMESTAMPTZ NOT NULL,
	is_webhook BOOLEAN NOT NULL,
	zingest_params JSONB NOT NULL,
	mediapackage_id TEXT,
	workflow_id TEXT
);

CREATE INDEX IF NOT EXISTS ingest_uuid_idx ON ingest(uuid);
CREATE UNIQUE INDEX IF NOT EXISTS ingest_webhook_uuid_idx ON ingest(uuid) WHERE is_webhook;

CREATE TABLE IF NOT EXISTS "user" (
	user_id TEXT PRIMARY KEY,
	first_name TEXT NOT NULL,
	last_name TEXT NOT NULL,
	email TEXT NOT NULL,
	updated TIMESTAMPTZ NOT NULL
);
`
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.pool.Ping(ctx)
}

// statusCode maps the wire-visible status taxonomy (spec §6) to the
// smallint stored in the ingest table.
var statusCode = map[models.Status]int16{
	models.StatusNew:        0,
	models.StatusInProgress: 1,
	models.StatusFinished:   2,
	models.StatusWarning:    3,
}

var codeStatus = map[int16]models.Status{
	0: models.StatusNew,
	1: models.StatusInProgress,
	2: models.StatusFinished,
	3: models.StatusWarning,
}

func (r *PostgresRepository) UpsertRecording(ctx context.Context, rec models.Recording) (models.Recording, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx, `
INSERT INTO recording (uuid, host_id, start_time, title, duration)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (uuid) DO UPDATE SET title = EXCLUDED.title
RETURNING id, uuid, host_id, start_time, title, duration
`, rec.UUID, rec.HostID, rec.StartTime.UTC(), rec.Title, rec.Duration)
	return scanRecording(row)
}

func (r *PostgresRepository) GetRecording(ctx context.Context, uuid string) (models.Recording, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT id, uuid, host_id, start_time, title, duration FROM recording WHERE uuid = $1`, uuid)
	return scanRecording(row)
}

func scanRecording(row pgx.Row) (models.Recording, error) {
	var rec models.Recording
	if err := row.Scan(&rec.ID, &rec.UUID, &rec.HostID, &rec.StartTime, &rec.Title, &rec.Duration); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Recording{}, ErrNotFound
		}
		return models.Recording{}, err
	}
	return rec, nil
}

func (r *PostgresRepository) HasActiveWebhookIngest(ctx context.Context, uuid string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM ingest WHERE uuid = $1 AND is_webhook)`, uuid).Scan(&exists)
	return exists, err
}

func (r *PostgresRepository) CreateIngest(ctx context.Context, params CreateIngestParams) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: begin create ingest: %w", err)
	}
	defer rollback(ctx, tx)

	rec := params.Recording
	if _, err := tx.Exec(ctx, `
INSERT INTO recording (uuid, host_id, start_time, title, duration)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (uuid) DO UPDATE SET title = EXCLUDED.title
`, rec.UUID, rec.HostID, rec.StartTime.UTC(), rec.Title, rec.Duration); err != nil {
		return 0, fmt.Errorf("store: upsert recording: %w", err)
	}

	if params.IsWebhook {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM ingest WHERE uuid = $1 AND is_webhook)`, rec.UUID).Scan(&exists); err != nil {
			return 0, fmt.Errorf("store: check existing webhook ingest: %w", err)
		}
		if exists {
			return 0, ErrWebhookIngestExists
		}
	}

	payload, err := json.Marshal(params.Params)
	if err != nil {
		return 0, fmt.Errorf("store: marshal ingest params: %w", err)
	}

	var id int64
	if err := tx.QueryRow(ctx, `
INSERT INTO ingest (uuid, status, "timestamp", is_webhook, zingest_params)
VALUES ($1, $2, $3, $4, $5)
RETURNING id
`, rec.UUID, statusCode[models.StatusNew], time.Now().UTC(), params.IsWebhook, payload).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: insert ingest: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("store: commit create ingest: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) GetIngest(ctx context.Context, id int64) (models.Ingest, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx, `
SELECT id, uuid, status, "timestamp", is_webhook, zingest_params, COALESCE(mediapackage_id, ''), COALESCE(workflow_id, '')
FROM ingest WHERE id = $1
`, id)
	return scanIngest(row)
}

func scanIngest(row pgx.Row) (models.Ingest, error) {
	var (
		ing     models.Ingest
		code    int16
		payload []byte
	)
	if err := row.Scan(&ing.ID, &ing.RecordingUUID, &code, &ing.LastTransition, &ing.IsWebhook, &payload, &ing.MediaPackageID, &ing.WorkflowInstance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ingest{}, ErrNotFound
		}
		return models.Ingest{}, err
	}
	ing.Status = codeStatus[code]
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &ing.Params); err != nil {
			return models.Ingest{}, fmt.Errorf("store: unmarshal ingest params: %w", err)
		}
	}
	return ing, nil
}

func (r *PostgresRepository) TransitionIngest(ctx context.Context, id int64, from []models.Status, to models.Status) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	fromCodes := make([]int16, 0, len(from))
	for _, s := range from {
		fromCodes = append(fromCodes, statusCode[s])
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE ingest SET status = $1, "timestamp" = $2
WHERE id = $3 AND status = ANY($4)
`, statusCode[to], time.Now().UTC(), id, fromCodes)
	if err != nil {
		return false, fmt.Errorf("store: transition ingest: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) FinishIngest(ctx context.Context, id int64, status models.Status, mediaPackageID, workflowInstanceID string) error {
	if status != models.StatusFinished && status != models.StatusWarning {
		return fmt.Errorf("store: FinishIngest requires a terminal status, got %s", status)
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.pool.Exec(ctx, `
UPDATE ingest SET status = $1, "timestamp" = $2, mediapackage_id = $3, workflow_id = $4
WHERE id = $5
`, statusCode[status], time.Now().UTC(), mediaPackageID, workflowInstanceID, id)
	return err
}

func (r *PostgresRepository) ReturnToNew(ctx context.Context, id int64) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.pool.Exec(ctx, `UPDATE ingest SET status = $1, "timestamp" = $2 WHERE id = $3`, statusCode[models.StatusNew], time.Now().UTC(), id)
	return err
}

func (r *PostgresRepository) ListStale(ctx context.Context, cutoff time.Time) ([]models.Ingest, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.pool.Query(ctx, `
SELECT id, uuid, status, "timestamp", is_webhook, zingest_params, COALESCE(mediapackage_id, ''), COALESCE(workflow_id, '')
FROM ingest
WHERE status NOT IN ($1, $2, $3) AND "timestamp" <= $4
ORDER BY id
`, statusCode[models.StatusFinished], statusCode[models.StatusWarning], statusCode[models.StatusInProgress], cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("store: list stale ingests: %w", err)
	}
	defer rows.Close()

	var out []models.Ingest
	for rows.Next() {
		ing, err := scanIngest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ing)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CancelIngest(ctx context.Context, id int64) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `
DELETE FROM ingest WHERE id = $1 AND status IN ($2, $3)
`, id, statusCode[models.StatusNew], statusCode[models.StatusWarning])
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) UpsertUser(ctx context.Context, user models.User) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.pool.Exec(ctx, `
INSERT INTO "user" (user_id, first_name, last_name, email, updated)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE SET first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name, email = EXCLUDED.email, updated = EXCLUDED.updated
`, user.ID, user.First, user.Last, user.Email, user.UpdatedAt.UTC())
	return err
}

func (r *PostgresRepository) GetUser(ctx context.Context, id string) (models.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT user_id, first_name, last_name, email, updated FROM "user" WHERE user_id = $1`, id)
	var u models.User
	if err := row.Scan(&u.ID, &u.First, &u.Last, &u.Email, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, err
	}
	return u, nil
}

func rollback(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(ctx)
}
