package excel

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/pacsight/rvutrack/internal/core/domain"
)

const sheetName = "Completed"

var headerRow = []any{
	"Accession", "Description", "Category", "RVU", "Patient Class",
	"First Observed", "Completed At", "Duration",
}

// Workbook appends completed studies to an xlsx file, one row per study.
// Rows accumulate in memory between Flush calls so a crash between flushes
// loses at most one flush interval of rows; the database remains the
// source of truth.
type Workbook struct {
	mu      sync.Mutex
	path    string
	file    *excelize.File
	nextRow int
}

func Open(path string) (*Workbook, error) {
	w := &Workbook{path: path}
	if _, err := os.Stat(path); err == nil {
		file, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("open workbook: %w", err)
		}
		rows, err := file.GetRows(sheetName)
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("read workbook sheet: %w", err)
		}
		w.file = file
		w.nextRow = len(rows) + 1
		return w, nil
	}

	file := excelize.NewFile()
	index, err := file.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("create workbook sheet: %w", err)
	}
	file.SetActiveSheet(index)
	if err := file.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}
	w.file = file
	if err := w.writeRow(1, headerRow); err != nil {
		return nil, err
	}
	w.nextRow = 2
	return w, nil
}

// Record implements the completion sink contract. Rows are staged in
// memory; the flush schedule persists them.
func (w *Workbook) Record(_ context.Context, recs []domain.CompletedStudy) error {
	return w.Append(recs)
}

// Append adds rows for the given studies. Callers must Flush to persist.
func (w *Workbook) Append(recs []domain.CompletedStudy) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range recs {
		rec := &recs[i]
		row := []any{
			rec.Accession,
			rec.Description,
			rec.Category,
			rec.RVU,
			rec.PatientClass,
			rec.FirstObserved.Format("2006-01-02 15:04:05"),
			rec.CompletedAt.Format("2006-01-02 15:04:05"),
			rec.Duration.String(),
		}
		if err := w.writeRow(w.nextRow, row); err != nil {
			return err
		}
		w.nextRow++
	}
	return nil
}

func (w *Workbook) writeRow(row int, values []any) error {
	for col, value := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return fmt.Errorf("cell coordinates: %w", err)
		}
		if err := w.file.SetCellValue(sheetName, cell, value); err != nil {
			return fmt.Errorf("set cell %s: %w", cell, err)
		}
	}
	return nil
}

func (w *Workbook) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.SaveAs(w.path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func (w *Workbook) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.SaveAs(w.path); err != nil {
		return fmt.Errorf("save workbook on close: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close workbook: %w", err)
	}
	return nil
}
