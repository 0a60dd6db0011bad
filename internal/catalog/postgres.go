package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check that PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS generated_media (
	id               TEXT PRIMARY KEY,
	job_id           TEXT NOT NULL DEFAULT '',
	url              TEXT NOT NULL,
	prompt           TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	is_video         BOOLEAN NOT NULL,
	model            TEXT NOT NULL DEFAULT '',
	width            INTEGER NOT NULL DEFAULT 0,
	height           INTEGER NOT NULL DEFAULT 0,
	duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_local_ref     BOOLEAN NOT NULL DEFAULT FALSE
);
ALTER TABLE generated_media ADD COLUMN IF NOT EXISTS seq BIGSERIAL;
DROP INDEX IF EXISTS generated_media_kind_created_idx;
CREATE INDEX IF NOT EXISTS generated_media_kind_order_idx
	ON generated_media (is_video, created_at DESC, seq DESC);
`

// recordOrder is newest first; seq breaks ties in save order, matching the
// in-memory catalog.
const recordOrder = `created_at DESC, seq DESC`

const recordColumns = `id, job_id, url, prompt, created_at, is_video, model, width, height, duration_seconds, is_local_ref`

// NewPostgresPool opens a pgx connection pool for databaseURL.
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
	caps Caps
	now  func() time.Time
}

// NewPostgresRepository constructs a catalog backed by pool.
func NewPostgresRepository(pool *pgxpool.Pool, caps Caps) *PostgresRepository {
	return &PostgresRepository{pool: pool, caps: caps, now: time.Now}
}

// Migrate creates the catalog table when it does not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	return nil
}

// Save upserts rec and evicts the oldest records of its kind beyond the cap
// in the same transaction.
func (r *PostgresRepository) Save(ctx context.Context, rec Record) ([]Record, error) {
	rec, err := prepare(rec, r.now())
	if err != nil {
		return nil, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO generated_media (`+recordColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
	job_id = EXCLUDED.job_id,
	url = EXCLUDED.url,
	prompt = EXCLUDED.prompt,
	created_at = EXCLUDED.created_at,
	is_video = EXCLUDED.is_video,
	model = EXCLUDED.model,
	width = EXCLUDED.width,
	height = EXCLUDED.height,
	duration_seconds = EXCLUDED.duration_seconds,
	is_local_ref = EXCLUDED.is_local_ref,
	seq = nextval(pg_get_serial_sequence('generated_media', 'seq'));
`, rec.ID, rec.JobID, rec.URL, rec.Prompt, rec.Timestamp, rec.IsVideo, rec.Model,
		rec.Width, rec.Height, rec.DurationSeconds, rec.IsLocalRef)
	if err != nil {
		return nil, fmt.Errorf("catalog: insert: %w", err)
	}

	var evicted []Record
	if limit := r.caps.limit(rec.IsVideo); limit > 0 {
		rows, err := tx.Query(ctx, `
WITH gone AS (
	DELETE FROM generated_media
	WHERE id IN (
		SELECT id FROM generated_media
		WHERE is_video = $1
		ORDER BY `+recordOrder+`
		OFFSET $2
	)
	RETURNING `+recordColumns+`, seq
)
SELECT `+recordColumns+` FROM gone ORDER BY created_at ASC, seq ASC;
`, rec.IsVideo, limit)
		if err != nil {
			return nil, fmt.Errorf("catalog: evict: %w", err)
		}
		evicted, err = scanRecords(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: evict: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("catalog: commit: %w", err)
	}
	return evicted, nil
}

// Get returns a record by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM generated_media WHERE id = $1;`, id)
	if err != nil {
		return Record{}, fmt.Errorf("catalog: get: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("catalog: get: %w", err)
	}
	return rec, nil
}

// List returns records of kind, newest first.
func (r *PostgresRepository) List(ctx context.Context, kind Kind, limit int) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM generated_media`
	var args []any
	switch kind {
	case KindImage:
		query += ` WHERE is_video = FALSE`
	case KindVideo:
		query += ` WHERE is_video = TRUE`
	}
	query += ` ORDER BY ` + recordOrder
	if limit > 0 {
		args = append(args, limit)
		query += ` LIMIT $1`
	}

	rows, err := r.pool.Query(ctx, query+";", args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	return records, nil
}

// Delete removes a record.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM generated_media WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("catalog: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecord(row pgx.CollectableRow) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.JobID, &rec.URL, &rec.Prompt, &rec.Timestamp, &rec.IsVideo,
		&rec.Model, &rec.Width, &rec.Height, &rec.DurationSeconds, &rec.IsLocalRef)
	rec.Timestamp = rec.Timestamp.UTC()
	return rec, err
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}
