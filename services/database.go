package services

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"docgen/models"
)

// DatabaseService keeps an audit trail of job transitions in Postgres.
// The in-memory scheduler is the source of truth; the table exists for
// operators and sibling systems, so recording failures are logged and
// swallowed rather than failing the job.
type DatabaseService struct {
	db *sql.DB
}

func NewDatabaseService(databaseURL string) (*DatabaseService, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DatabaseService{db: db}, nil
}

// EnsureSchema creates the audit table if it does not exist.
func (d *DatabaseService) EnsureSchema(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS conversion_jobs (
			job_id        TEXT PRIMARY KEY,
			input_name    TEXT NOT NULL,
			target_format TEXT NOT NULL,
			state         TEXT NOT NULL,
			attempts      INT NOT NULL DEFAULT 0,
			error_kind    TEXT,
			error_message TEXT,
			duration_ms   BIGINT,
			submitted_at  TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL
		)`)
	return err
}

// RecordTransition upserts the job's current state.
func (d *DatabaseService) RecordTransition(ctx context.Context, job *models.ConversionJob) {
	var errKind, errMsg sql.NullString
	if job.Failure != nil {
		errKind = sql.NullString{String: string(job.Failure.Kind), Valid: true}
		errMsg = sql.NullString{String: job.Failure.Message, Valid: true}
	}

	var durationMS sql.NullInt64
	if d := job.Duration(); d > 0 {
		durationMS = sql.NullInt64{Int64: d.Milliseconds(), Valid: true}
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO conversion_jobs
			(job_id, input_name, target_format, state, attempts,
			 error_kind, error_message, duration_ms, submitted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (job_id) DO UPDATE SET
			state = EXCLUDED.state,
			attempts = EXCLUDED.attempts,
			error_kind = EXCLUDED.error_kind,
			error_message = EXCLUDED.error_message,
			duration_ms = EXCLUDED.duration_ms,
			updated_at = EXCLUDED.updated_at`,
		job.ID, job.InputName, job.TargetFormat, string(job.State), job.Attempts,
		errKind, errMsg, durationMS, job.SubmittedAt, time.Now().UTC(),
	)
	if err != nil {
		slog.Warn("failed to record job transition", "job_id", job.ID, "error", err)
	}
}

func (d *DatabaseService) Close() error {
	return d.db.Close()
}
