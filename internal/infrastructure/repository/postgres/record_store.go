package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/pacsight/rvutrack/internal/core/domain"
	"github.com/pacsight/rvutrack/internal/infrastructure/resilience"
)

// RecordStore persists completed studies and answers the tracker's
// duplicate-suppression lookups. It also satisfies the CompletionSink
// contract so it can sit directly in the sink fan-out.
type RecordStore struct {
	db       *sql.DB
	executor *resilience.Executor
}

func NewRecordStore(db *sql.DB) *RecordStore {
	return &RecordStore{db: db}
}

// NewRecordStoreWithExecutor wraps lookups in retry/breaker handling; used
// by the live tracker, where a flaky database must not stall a tick for
// long.
func NewRecordStoreWithExecutor(db *sql.DB, executor *resilience.Executor) *RecordStore {
	return &RecordStore{db: db, executor: executor}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *RecordStore) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across tracker/reconcile startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS completed_studies (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	accession TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL,
	rvu DOUBLE PRECISION NOT NULL DEFAULT 0,
	patient_class TEXT NOT NULL DEFAULT '',
	first_observed TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL,
	duration_ns BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_completed_studies_session_accession
	ON completed_studies(session_id, accession);
CREATE INDEX IF NOT EXISTS idx_completed_studies_completed_at
	ON completed_studies(completed_at DESC);

CREATE TABLE IF NOT EXISTS batch_members (
	accession TEXT PRIMARY KEY,
	record_id TEXT NOT NULL,
	absorbed_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *RecordStore) Insert(ctx context.Context, rec *domain.CompletedStudy) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO completed_studies (
	id, session_id, accession, description, category, rvu, patient_class, first_observed, completed_at, duration_ns
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
		rec.ID, rec.SessionID, rec.Accession, rec.Description, rec.Category, rec.RVU,
		rec.PatientClass, rec.FirstObserved, rec.CompletedAt, rec.Duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert completed study: %w", err)
	}
	return nil
}

// Record implements the CompletionSink contract.
func (r *RecordStore) Record(ctx context.Context, recs []domain.CompletedStudy) error {
	for i := range recs {
		if err := r.Insert(ctx, &recs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *RecordStore) WasRecorded(ctx context.Context, sessionID, accession string) (bool, error) {
	var exists bool
	err := r.lookup(ctx, "recordstore.was_recorded", func(ctx context.Context) error {
		row := r.db.QueryRowContext(ctx, `
SELECT EXISTS (
	SELECT 1 FROM completed_studies WHERE session_id = $1 AND accession = $2
)
`, sessionID, accession)
		return row.Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("query recorded accession: %w", err)
	}
	return exists, nil
}

func (r *RecordStore) InBatch(ctx context.Context, accession string) (bool, error) {
	var exists bool
	err := r.lookup(ctx, "recordstore.in_batch", func(ctx context.Context) error {
		row := r.db.QueryRowContext(ctx, `
SELECT EXISTS (
	SELECT 1 FROM batch_members WHERE accession = $1
)
`, accession)
		return row.Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("query batch membership: %w", err)
	}
	return exists, nil
}

func (r *RecordStore) ListSession(ctx context.Context, sessionID string) ([]domain.CompletedStudy, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, session_id, accession, description, category, rvu, patient_class, first_observed, completed_at, duration_ns
FROM completed_studies
WHERE session_id = $1
ORDER BY completed_at
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session records: %w", err)
	}
	defer rows.Close()

	var records []domain.CompletedStudy
	for rows.Next() {
		var rec domain.CompletedStudy
		var durationNs int64
		err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.Accession, &rec.Description, &rec.Category,
			&rec.RVU, &rec.PatientClass, &rec.FirstObserved, &rec.CompletedAt, &durationNs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan session record: %w", err)
		}
		rec.Duration = time.Duration(durationNs)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session records: %w", err)
	}
	return records, nil
}

func (r *RecordStore) UpdateClassification(ctx context.Context, recordID, category string, rvu float64) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE completed_studies
SET category = $2, rvu = $3
WHERE id = $1
`, recordID, category, rvu)
	if err != nil {
		return fmt.Errorf("update classification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update classification rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update classification: %w: %s", domain.ErrRecordNotFound, recordID)
	}
	return nil
}

// AbsorbIntoBatch marks accessions as members of a multi-accession batch
// record, which suppresses them from future tracking.
func (r *RecordStore) AbsorbIntoBatch(ctx context.Context, recordID string, accessions []string, at time.Time) error {
	for _, accession := range accessions {
		_, err := r.db.ExecContext(ctx, `
INSERT INTO batch_members (accession, record_id, absorbed_at)
VALUES ($1, $2, $3)
ON CONFLICT (accession) DO UPDATE SET record_id = $2, absorbed_at = $3
`, accession, recordID, at)
		if err != nil {
			return fmt.Errorf("absorb accession into batch: %w", err)
		}
	}
	return nil
}

func (r *RecordStore) lookup(ctx context.Context, operation string, fn func(context.Context) error) error {
	if r.executor == nil {
		return fn(ctx)
	}
	return r.executor.Execute(ctx, operation, fn, classifyStoreError)
}

func classifyStoreError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	// Connection-level failures are worth one more try within the tick.
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}
