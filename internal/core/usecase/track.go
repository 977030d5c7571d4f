package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/pacsight/rvutrack/internal/core/domain"
	"github.com/pacsight/rvutrack/internal/core/ports"
	"github.com/pacsight/rvutrack/internal/core/tracker"
)

// TrackUseCase drives one poll tick through the tracker: observe every
// described accession, evaluate completions, and fan finalized records out
// to the sinks.
type TrackUseCase struct {
	tracker            *tracker.Tracker
	rules              ports.RuleProvider
	sinks              []ports.CompletionSink
	suppressDuplicates bool
}

func NewTrackUseCase(
	tr *tracker.Tracker,
	rules ports.RuleProvider,
	sinks []ports.CompletionSink,
	suppressDuplicates bool,
) *TrackUseCase {
	return &TrackUseCase{
		tracker:            tr,
		rules:              rules,
		sinks:              sinks,
		suppressDuplicates: suppressDuplicates,
	}
}

// HandleSnapshot processes one snapshot and returns the records emitted on
// this tick. Rule-set failures degrade to tracking without classification;
// sink failures are logged per record and never stop the tick. The tracker
// must outlive flaky configuration and I/O by construction.
func (uc *TrackUseCase) HandleSnapshot(ctx context.Context, snap domain.Snapshot) ([]domain.CompletedStudy, error) {
	rs, err := uc.rules.Rules(ctx)
	if err != nil {
		slog.Warn("rule set unavailable, tracking without classification", "error", err)
		rs = domain.RuleSet{}
	}

	uc.observe(ctx, snap, rs)

	completed := uc.tracker.CheckCompleted(snap.TakenAt, snap.VisibleAccession)
	emitted := make([]domain.CompletedStudy, 0, len(completed))
	for _, rec := range completed {
		if uc.tracker.IsAlreadyRecorded(ctx, rec.Accession) {
			slog.Debug("completed study already recorded", "accession", rec.Accession)
			continue
		}
		rec.ID = uuid.NewString()
		uc.emit(ctx, rec)
		uc.tracker.MarkRecorded(rec.Accession, rec.CompletedAt)
		emitted = append(emitted, rec)
	}
	return emitted, nil
}

// observe feeds every accession in the snapshot to the tracker, the
// visible one included even when no description row was extracted for it.
func (uc *TrackUseCase) observe(ctx context.Context, snap domain.Snapshot, rs domain.RuleSet) {
	accessions := make([]string, 0, len(snap.Descriptions))
	for accession := range snap.Descriptions {
		accessions = append(accessions, accession)
	}
	sort.Strings(accessions)

	for _, accession := range accessions {
		if uc.tracker.ShouldIgnore(ctx, accession, uc.suppressDuplicates) {
			slog.Debug("accession suppressed as batch member", "accession", accession)
			continue
		}
		uc.tracker.AddOrUpdate(accession, snap.Descriptions[accession], snap.TakenAt, snap.PatientClass, rs)
	}

	if snap.VisibleAccession == "" {
		return
	}
	if _, ok := snap.Descriptions[snap.VisibleAccession]; ok {
		return
	}
	if !uc.tracker.ShouldIgnore(ctx, snap.VisibleAccession, uc.suppressDuplicates) {
		uc.tracker.AddOrUpdate(snap.VisibleAccession, "", snap.TakenAt, snap.PatientClass, rs)
	}
}

func (uc *TrackUseCase) emit(ctx context.Context, rec domain.CompletedStudy) {
	for _, sink := range uc.sinks {
		if err := sink.Record(ctx, []domain.CompletedStudy{rec}); err != nil {
			slog.Error("completion sink failed",
				"accession", rec.Accession,
				"category", rec.Category,
				"error", fmt.Errorf("record completed study: %w", err),
			)
		}
	}
}
