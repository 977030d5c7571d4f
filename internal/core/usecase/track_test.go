package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pacsight/rvutrack/internal/core/domain"
	"github.com/pacsight/rvutrack/internal/core/ports"
	"github.com/pacsight/rvutrack/internal/core/tracker"
)

type fakeRuleProvider struct {
	rs      domain.RuleSet
	failErr error
}

func (f *fakeRuleProvider) Rules(context.Context) (domain.RuleSet, error) {
	if f.failErr != nil {
		return domain.RuleSet{}, f.failErr
	}
	return f.rs, nil
}

type fakeSink struct {
	recorded []domain.CompletedStudy
	failErr  error
}

func (f *fakeSink) Record(_ context.Context, recs []domain.CompletedStudy) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.recorded = append(f.recorded, recs...)
	return nil
}

func usecaseRuleSet() domain.RuleSet {
	return domain.RuleSet{
		Weights: map[string]float64{
			"CT Chest":  1.5,
			"MRI Brain": 2.3,
		},
	}
}

func tick(second int) time.Time {
	return time.Date(2026, 8, 31, 9, 0, second, 0, time.UTC)
}

func snapshot(second int, visible string, descriptions map[string]string) domain.Snapshot {
	return domain.Snapshot{
		VisibleAccession: visible,
		Descriptions:     descriptions,
		PatientClass:     "Outpatient",
		TakenAt:          tick(second),
	}
}

func newTrackFixture(sinks []ports.CompletionSink) (*TrackUseCase, *tracker.Tracker) {
	tr := tracker.New(tracker.Config{
		MissThreshold: 2,
		MinDuration:   time.Second,
		// Records carry fixed timestamps while the seen cache is judged
		// against the wall clock; a wide TTL keeps the tests hermetic.
		SeenTTL:   100000 * time.Hour,
		SessionID: "s-1",
	}, nil)
	uc := NewTrackUseCase(tr, &fakeRuleProvider{rs: usecaseRuleSet()}, sinks, true)
	return uc, tr
}

func TestHandleSnapshotEmitsCompletedStudiesToAllSinks(t *testing.T) {
	first := &fakeSink{}
	second := &fakeSink{}
	uc, _ := newTrackFixture([]ports.CompletionSink{first, second})
	ctx := context.Background()

	_, err := uc.HandleSnapshot(ctx, snapshot(0, "ACC1", map[string]string{
		"ACC1": "ct chest",
		"ACC2": "mri brain",
	}))
	if err != nil {
		t.Fatalf("HandleSnapshot() error = %v", err)
	}
	_, err = uc.HandleSnapshot(ctx, snapshot(10, "ACC1", map[string]string{
		"ACC1": "ct chest",
		"ACC2": "mri brain",
	}))
	if err != nil {
		t.Fatalf("HandleSnapshot() error = %v", err)
	}

	// ACC2 vanishes while ACC1 stays visible: different-study-visible
	// finalization is immediate.
	emitted, err := uc.HandleSnapshot(ctx, snapshot(30, "ACC1", map[string]string{
		"ACC1": "ct chest",
	}))
	if err != nil {
		t.Fatalf("HandleSnapshot() error = %v", err)
	}
	if len(emitted) != 1 || emitted[0].Accession != "ACC2" {
		t.Fatalf("emitted = %+v, want single ACC2 record", emitted)
	}
	if emitted[0].ID == "" {
		t.Fatalf("emitted record has no ID")
	}
	if len(first.recorded) != 1 || len(second.recorded) != 1 {
		t.Fatalf("sink fan-out incomplete: %d/%d", len(first.recorded), len(second.recorded))
	}
}

func TestHandleSnapshotSinkFailureDoesNotStopTheTick(t *testing.T) {
	failing := &fakeSink{failErr: errors.New("disk full")}
	healthy := &fakeSink{}
	uc, tr := newTrackFixture([]ports.CompletionSink{failing, healthy})
	ctx := context.Background()

	_, _ = uc.HandleSnapshot(ctx, snapshot(0, "ACC1", map[string]string{
		"ACC1": "ct chest",
		"ACC2": "mri brain",
	}))
	_, _ = uc.HandleSnapshot(ctx, snapshot(10, "ACC1", map[string]string{
		"ACC1": "ct chest",
		"ACC2": "mri brain",
	}))
	emitted, err := uc.HandleSnapshot(ctx, snapshot(30, "ACC1", map[string]string{
		"ACC1": "ct chest",
	}))
	if err != nil {
		t.Fatalf("HandleSnapshot() error = %v", err)
	}
	if len(emitted) != 1 {
		t.Fatalf("emitted %d records, want 1", len(emitted))
	}
	if len(healthy.recorded) != 1 {
		t.Fatalf("healthy sink skipped after failing sink")
	}
	// The record still counts as recorded so it is not re-emitted later.
	if !tr.IsAlreadyRecorded(ctx, "ACC2") {
		t.Fatalf("emitted record not marked as recorded")
	}
}

func TestHandleSnapshotSuppressesAlreadyRecordedStudies(t *testing.T) {
	sink := &fakeSink{}
	uc, tr := newTrackFixture([]ports.CompletionSink{sink})
	ctx := context.Background()

	// Seen-cache freshness is judged against the wall clock.
	tr.MarkRecorded("ACC2", time.Now())

	_, _ = uc.HandleSnapshot(ctx, snapshot(0, "ACC1", map[string]string{
		"ACC1": "ct chest",
		"ACC2": "mri brain",
	}))
	_, _ = uc.HandleSnapshot(ctx, snapshot(10, "ACC1", map[string]string{
		"ACC1": "ct chest",
		"ACC2": "mri brain",
	}))
	emitted, err := uc.HandleSnapshot(ctx, snapshot(30, "ACC1", map[string]string{
		"ACC1": "ct chest",
	}))
	if err != nil {
		t.Fatalf("HandleSnapshot() error = %v", err)
	}
	if len(emitted) != 0 {
		t.Fatalf("already-recorded study re-emitted: %+v", emitted)
	}
	if len(sink.recorded) != 0 {
		t.Fatalf("sink received duplicate record")
	}
}

func TestHandleSnapshotTracksVisibleAccessionWithoutDescription(t *testing.T) {
	uc, tr := newTrackFixture(nil)
	ctx := context.Background()

	_, err := uc.HandleSnapshot(ctx, snapshot(0, "ACC7", map[string]string{
		"ACC1": "ct chest",
	}))
	if err != nil {
		t.Fatalf("HandleSnapshot() error = %v", err)
	}
	if tr.ActiveCount() != 2 {
		t.Fatalf("ActiveCount() = %d, want 2 (described plus visible)", tr.ActiveCount())
	}
}

func TestHandleSnapshotSurvivesRuleProviderFailure(t *testing.T) {
	tr := tracker.New(tracker.Config{MinDuration: time.Second, SessionID: "s-1"}, nil)
	uc := NewTrackUseCase(tr, &fakeRuleProvider{failErr: errors.New("rules file missing")}, nil, true)

	_, err := uc.HandleSnapshot(context.Background(), snapshot(0, "ACC1", map[string]string{
		"ACC1": "ct chest",
	}))
	if err != nil {
		t.Fatalf("HandleSnapshot() error = %v, want tracking to continue", err)
	}
	if tr.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", tr.ActiveCount())
	}
}
