package domain

import "time"

// Snapshot is one poll tick pushed by the external observation source:
// which accession is visible right now (possibly none) and whatever
// description text could be extracted per accession. Descriptions may be
// empty or placeholder-like; the tracker is built to tolerate that.
type Snapshot struct {
	VisibleAccession string            `json:"visible_accession"`
	Descriptions     map[string]string `json:"descriptions,omitempty"`
	PatientClass     string            `json:"patient_class,omitempty"`
	TakenAt          time.Time         `json:"taken_at"`
}
