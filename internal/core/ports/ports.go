package ports

import (
	"context"

	"github.com/pacsight/rvutrack/internal/core/domain"
)

// RuleProvider supplies the current weight table and classification rules.
// Implementations may reload from disk at runtime; callers re-read per use
// and never cache the result across ticks.
type RuleProvider interface {
	Rules(ctx context.Context) (domain.RuleSet, error)
}

// RecordStore is the external persistence the tracker consults for
// duplicate suppression and that offline reconciliation reads and repairs.
type RecordStore interface {
	// WasRecorded reports whether the accession was already persisted in
	// the given work session.
	WasRecorded(ctx context.Context, sessionID, accession string) (bool, error)
	// InBatch reports whether the accession was absorbed into an earlier
	// multi-accession batch record.
	InBatch(ctx context.Context, accession string) (bool, error)
	Insert(ctx context.Context, rec *domain.CompletedStudy) error
	ListSession(ctx context.Context, sessionID string) ([]domain.CompletedStudy, error)
	UpdateClassification(ctx context.Context, recordID, category string, rvu float64) error
}

// CompletionSink receives finalized study records per tick. The tracker has
// no knowledge of where they go.
type CompletionSink interface {
	Record(ctx context.Context, recs []domain.CompletedStudy) error
}

// SnapshotFeed delivers poll-tick snapshots pushed by the external
// observation source.
type SnapshotFeed interface {
	Subscribe(ctx context.Context, handler func(context.Context, domain.Snapshot) error) error
}
