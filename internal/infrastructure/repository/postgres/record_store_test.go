package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/pacsight/rvutrack/internal/core/domain"
)

func TestRecordStoreInsertPersistsDurationNanoseconds(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	store := NewRecordStore(db)
	rec := domain.CompletedStudy{
		ID:            "r-1",
		SessionID:     "s-1",
		Accession:     "ACC100",
		Description:   "ct chest wo contrast",
		Category:      "CT Chest",
		RVU:           1.5,
		PatientClass:  "Outpatient",
		FirstObserved: time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC),
		CompletedAt:   time.Date(2026, 8, 31, 9, 4, 30, 0, time.UTC),
		Duration:      4*time.Minute + 30*time.Second,
	}

	mock.ExpectExec("INSERT INTO completed_studies").
		WithArgs(rec.ID, rec.SessionID, rec.Accession, rec.Description, rec.Category, rec.RVU,
			rec.PatientClass, rec.FirstObserved, rec.CompletedAt, rec.Duration.Nanoseconds()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Insert(context.Background(), &rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordStoreWasRecorded(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	store := NewRecordStore(db)
	mock.ExpectQuery("FROM completed_studies").
		WithArgs("s-1", "ACC100").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	found, err := store.WasRecorded(context.Background(), "s-1", "ACC100")
	if err != nil {
		t.Fatalf("WasRecorded() error = %v", err)
	}
	if !found {
		t.Fatalf("expected accession to be recorded")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordStoreListSessionRestoresDuration(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	store := NewRecordStore(db)
	first := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	done := first.Add(12 * time.Minute)
	rows := sqlmock.NewRows([]string{
		"id", "session_id", "accession", "description", "category", "rvu",
		"patient_class", "first_observed", "completed_at", "duration_ns",
	}).AddRow("r-1", "s-1", "ACC100", "mri brain", "MRI Brain", 2.3, "Inpatient", first, done, int64(12*time.Minute))

	mock.ExpectQuery("FROM completed_studies").
		WithArgs("s-1").
		WillReturnRows(rows)

	records, err := store.ListSession(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("ListSession() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Duration != 12*time.Minute {
		t.Fatalf("Duration = %v, want %v", records[0].Duration, 12*time.Minute)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordStoreUpdateClassificationMissingRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	store := NewRecordStore(db)
	mock.ExpectExec("UPDATE completed_studies").
		WithArgs("missing", "CT Chest", 1.5).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.UpdateClassification(context.Background(), "missing", "CT Chest", 1.5)
	if !errors.Is(err, domain.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordStoreInBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	store := NewRecordStore(db)
	mock.ExpectQuery("FROM batch_members").
		WithArgs("ACC200").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	found, err := store.InBatch(context.Background(), "ACC200")
	if err != nil {
		t.Fatalf("InBatch() error = %v", err)
	}
	if found {
		t.Fatalf("expected accession to be absent from batches")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
