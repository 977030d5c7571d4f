package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pacsight/rvutrack/internal/core/classify"
	"github.com/pacsight/rvutrack/internal/core/domain"
	"github.com/pacsight/rvutrack/internal/core/ports"
)

// FindMismatches re-evaluates stored records against the current rule set
// and returns a diff entry for every record whose classification drifted.
// A re-evaluation that resolves to Unknown is never a correction: offline
// repair follows the same never-downgrade rule as live tracking.
func FindMismatches(records []domain.CompletedStudy, rs domain.RuleSet) []domain.Mismatch {
	var diffs []domain.Mismatch
	for _, rec := range records {
		category, rvu := classify.Classify(rec.Description, rs)
		if category == domain.CategoryUnknown {
			continue
		}
		if category == rec.Category && rvu == rec.RVU {
			continue
		}
		diffs = append(diffs, domain.Mismatch{
			RecordID:    rec.ID,
			Accession:   rec.Accession,
			Description: rec.Description,
			OldCategory: rec.Category,
			OldRVU:      rec.RVU,
			NewCategory: category,
			NewRVU:      rvu,
		})
	}
	return diffs
}

// ReconcileSummary reports what an offline repair run did.
type ReconcileSummary struct {
	Scanned    int
	Mismatched int
	Applied    int
}

// ReconcileUseCase is the offline repair flow: load a session's records,
// diff them against the current rule set, and apply corrections in batch.
// It shares the classification contract with live tracking but is never
// part of the tick loop.
type ReconcileUseCase struct {
	store ports.RecordStore
	rules ports.RuleProvider
}

func NewReconcileUseCase(store ports.RecordStore, rules ports.RuleProvider) *ReconcileUseCase {
	return &ReconcileUseCase{store: store, rules: rules}
}

// Run scans one session. With dryRun set, mismatches are reported but not
// written back.
func (uc *ReconcileUseCase) Run(ctx context.Context, sessionID string, dryRun bool) (ReconcileSummary, []domain.Mismatch, error) {
	rs, err := uc.rules.Rules(ctx)
	if err != nil {
		return ReconcileSummary{}, nil, domain.WrapError(domain.ErrNoRuleSet, "load rule set", err)
	}
	if !rs.HasWeights() {
		return ReconcileSummary{}, nil, fmt.Errorf("load rule set: %w: empty weight table", domain.ErrNoRuleSet)
	}

	records, err := uc.store.ListSession(ctx, sessionID)
	if err != nil {
		return ReconcileSummary{}, nil, fmt.Errorf("list session records: %w", err)
	}

	diffs := FindMismatches(records, rs)
	summary := ReconcileSummary{Scanned: len(records), Mismatched: len(diffs)}
	if dryRun {
		return summary, diffs, nil
	}

	for _, diff := range diffs {
		if err := uc.store.UpdateClassification(ctx, diff.RecordID, diff.NewCategory, diff.NewRVU); err != nil {
			return summary, diffs, fmt.Errorf("apply correction for %s: %w", diff.Accession, err)
		}
		summary.Applied++
		slog.Info("classification corrected",
			"accession", diff.Accession,
			"old_category", diff.OldCategory,
			"new_category", diff.NewCategory,
		)
	}
	return summary, diffs, nil
}
