package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/pacsight/rvutrack/internal/core/domain"
)

type fakeListingStore struct {
	records []domain.CompletedStudy
	listErr error

	updates map[string]string
}

func (f *fakeListingStore) WasRecorded(context.Context, string, string) (bool, error) {
	return false, nil
}

func (f *fakeListingStore) InBatch(context.Context, string) (bool, error) { return false, nil }

func (f *fakeListingStore) Insert(context.Context, *domain.CompletedStudy) error { return nil }

func (f *fakeListingStore) ListSession(context.Context, string) ([]domain.CompletedStudy, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.records, nil
}

func (f *fakeListingStore) UpdateClassification(_ context.Context, recordID, category string, _ float64) error {
	if f.updates == nil {
		f.updates = make(map[string]string)
	}
	f.updates[recordID] = category
	return nil
}

func TestFindMismatchesSkipsUnknownReclassification(t *testing.T) {
	rs := usecaseRuleSet()
	records := []domain.CompletedStudy{
		// Was classified when rules still mapped the description; under
		// the current rules it resolves to Unknown, so it keeps its value.
		{ID: "r-1", Accession: "ACC1", Description: "abdomen survey", Category: "CT Chest", RVU: 1.5},
	}

	diffs := FindMismatches(records, rs)
	if len(diffs) != 0 {
		t.Fatalf("Unknown reclassification produced a diff: %+v", diffs)
	}
}

func TestFindMismatchesSkipsUnchangedRecords(t *testing.T) {
	rs := usecaseRuleSet()
	records := []domain.CompletedStudy{
		{ID: "r-1", Accession: "ACC1", Description: "ct chest", Category: "CT Chest", RVU: 1.5},
	}

	if diffs := FindMismatches(records, rs); len(diffs) != 0 {
		t.Fatalf("unchanged record produced a diff: %+v", diffs)
	}
}

func TestFindMismatchesDetectsDrift(t *testing.T) {
	rs := usecaseRuleSet()
	records := []domain.CompletedStudy{
		{ID: "r-1", Accession: "ACC1", Description: "ct chest", Category: "CT Other", RVU: 1.0},
		{ID: "r-2", Accession: "ACC2", Description: "ct chest", Category: "CT Chest", RVU: 0.9},
	}

	diffs := FindMismatches(records, rs)
	if len(diffs) != 2 {
		t.Fatalf("expected 2 diffs, got %d", len(diffs))
	}
	if diffs[0].NewCategory != "CT Chest" || diffs[0].NewRVU != 1.5 {
		t.Fatalf("diff[0] = %+v", diffs[0])
	}
	// Same category, drifted weight still counts.
	if diffs[1].OldRVU != 0.9 || diffs[1].NewRVU != 1.5 {
		t.Fatalf("diff[1] = %+v", diffs[1])
	}
}

func TestReconcileRunDryRunAppliesNothing(t *testing.T) {
	store := &fakeListingStore{
		records: []domain.CompletedStudy{
			{ID: "r-1", Accession: "ACC1", Description: "ct chest", Category: "CT Other", RVU: 1.0},
		},
	}
	uc := NewReconcileUseCase(store, &fakeRuleProvider{rs: usecaseRuleSet()})

	summary, diffs, err := uc.Run(context.Background(), "s-1", true)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Scanned != 1 || summary.Mismatched != 1 || summary.Applied != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(diffs) != 1 {
		t.Fatalf("expected 1 diff, got %d", len(diffs))
	}
	if len(store.updates) != 0 {
		t.Fatalf("dry run wrote updates: %v", store.updates)
	}
}

func TestReconcileRunAppliesCorrections(t *testing.T) {
	store := &fakeListingStore{
		records: []domain.CompletedStudy{
			{ID: "r-1", Accession: "ACC1", Description: "ct chest", Category: "CT Other", RVU: 1.0},
			{ID: "r-2", Accession: "ACC2", Description: "mri brain", Category: "MRI Brain", RVU: 2.3},
		},
	}
	uc := NewReconcileUseCase(store, &fakeRuleProvider{rs: usecaseRuleSet()})

	summary, _, err := uc.Run(context.Background(), "s-1", false)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Scanned != 2 || summary.Mismatched != 1 || summary.Applied != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if store.updates["r-1"] != "CT Chest" {
		t.Fatalf("updates = %v, want r-1 corrected to CT Chest", store.updates)
	}
}

func TestReconcileRunFailsWithoutRuleSet(t *testing.T) {
	uc := NewReconcileUseCase(&fakeListingStore{}, &fakeRuleProvider{failErr: errors.New("no file")})

	_, _, err := uc.Run(context.Background(), "s-1", false)
	if !domain.IsKind(err, domain.ErrNoRuleSet) {
		t.Fatalf("error = %v, want ErrNoRuleSet kind", err)
	}
}

func TestReconcileRunFailsOnEmptyWeightTable(t *testing.T) {
	uc := NewReconcileUseCase(&fakeListingStore{}, &fakeRuleProvider{rs: domain.RuleSet{}})

	_, _, err := uc.Run(context.Background(), "s-1", false)
	if !errors.Is(err, domain.ErrNoRuleSet) {
		t.Fatalf("error = %v, want ErrNoRuleSet", err)
	}
}
