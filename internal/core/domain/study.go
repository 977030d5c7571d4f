package domain

import "time"

// CategoryUnknown is the sentinel classification for descriptions the
// cascade could not resolve. It is never a key of a weight table.
const CategoryUnknown = "Unknown"

// Study is a worklist entry currently being tracked. Accession is the
// external key; FirstObserved is set once at creation and never changes.
type Study struct {
	Accession     string    `json:"accession"`
	Description   string    `json:"description"`
	Category      string    `json:"category"`
	RVU           float64   `json:"rvu"`
	PatientClass  string    `json:"patient_class,omitempty"`
	FirstObserved time.Time `json:"first_observed"`
	LastObserved  time.Time `json:"last_observed"`
}

// CompletedStudy is the finalized record emitted once a study is decided
// done. Duration is exactly CompletedAt minus FirstObserved.
type CompletedStudy struct {
	ID            string        `json:"id"`
	SessionID     string        `json:"session_id"`
	Accession     string        `json:"accession"`
	Description   string        `json:"description"`
	Category      string        `json:"category"`
	RVU           float64       `json:"rvu"`
	PatientClass  string        `json:"patient_class,omitempty"`
	FirstObserved time.Time     `json:"first_observed"`
	CompletedAt   time.Time     `json:"completed_at"`
	Duration      time.Duration `json:"duration"`
}

// Mismatch is a drift entry produced by offline reconciliation: a stored
// record whose description classifies differently under the current rule set.
type Mismatch struct {
	RecordID    string  `json:"record_id"`
	Accession   string  `json:"accession"`
	Description string  `json:"description"`
	OldCategory string  `json:"old_category"`
	OldRVU      float64 `json:"old_rvu"`
	NewCategory string  `json:"new_category"`
	NewRVU      float64 `json:"new_rvu"`
}
