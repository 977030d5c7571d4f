// Package tracker turns noisy worklist snapshots into durable completion
// events. It maintains the set of currently open studies, debounces
// disappearance, and decides when a study is done and with what duration.
//
// State machine per accession: unseen -> active -> (active, updated) ->
// finalized. There is no paused state; absence immediately starts the
// completion-evaluation path.
package tracker

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pacsight/rvutrack/internal/core/classify"
	"github.com/pacsight/rvutrack/internal/core/domain"
	"github.com/pacsight/rvutrack/internal/core/ports"
)

// Config carries the tracker's debounce and suppression knobs. Zero values
// are normalized to the documented defaults at construction.
type Config struct {
	// MissThreshold is how many consecutive empty-worklist ticks a study
	// must be absent before it is finalized. Default 3.
	MissThreshold int
	// MinDuration filters out spurious flicker: studies observed for less
	// than this are discarded silently at finalization. Default 10s.
	MinDuration time.Duration
	// SeenTTL bounds how long a recorded accession suppresses
	// re-processing. Default 15m.
	SeenTTL time.Duration
	// SeenSweepEvery is the amortized eviction cadence of the seen cache.
	// Default 64 lookups.
	SeenSweepEvery int
	// SessionID scopes duplicate checks against the record store.
	SessionID string
}

func (c Config) normalize() Config {
	out := c
	if out.MissThreshold <= 0 {
		out.MissThreshold = 3
	}
	if out.MinDuration <= 0 {
		out.MinDuration = 10 * time.Second
	}
	if out.SeenTTL <= 0 {
		out.SeenTTL = 15 * time.Minute
	}
	if out.SeenSweepEvery <= 0 {
		out.SeenSweepEvery = 64
	}
	return out
}

// Tracker is the debounced presence state machine. All state lives behind
// one exclusive lock; every public operation holds it for its full
// duration. The expected study count is tens, not millions, so the coarse
// lock is not a bottleneck and keeps every tick's view consistent.
type Tracker struct {
	mu     sync.Mutex
	cfg    Config
	store  ports.RecordStore // optional; nil disables external consults
	active map[string]*domain.Study
	misses map[string]int
	seen   *SeenCache
}

// New builds a tracker. store may be nil, in which case duplicate
// suppression falls back to the in-memory seen cache only.
func New(cfg Config, store ports.RecordStore) *Tracker {
	cfg = cfg.normalize()
	return &Tracker{
		cfg:    cfg,
		store:  store,
		active: make(map[string]*domain.Study),
		misses: make(map[string]int),
		seen:   NewSeenCache(cfg.SeenTTL, cfg.SeenSweepEvery),
	}
}

// AddOrUpdate records an observation of an accession. An empty accession
// is a no-op. New studies are classified immediately when the rule set can
// classify and the description is usable. On update, the stored
// description is overwritten only when it is placeholder-like, the new one
// is valid, and re-classification resolves to a real category: a valid
// classification is never replaced by a worse one, which protects records
// against transient bad reads.
func (t *Tracker) AddOrUpdate(accession, description string, observedAt time.Time, patientClass string, rs domain.RuleSet) {
	if accession == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	study, ok := t.active[accession]
	if !ok {
		study = &domain.Study{
			Accession:     accession,
			Description:   description,
			Category:      domain.CategoryUnknown,
			PatientClass:  patientClass,
			FirstObserved: observedAt,
			LastObserved:  observedAt,
		}
		if rs.HasWeights() && strings.TrimSpace(description) != "" {
			study.Category, study.RVU = classify.Classify(description, rs)
		}
		t.active[accession] = study
		slog.Debug("study observed", "accession", accession, "category", study.Category)
		return
	}

	// The study is back on the worklist; its absence streak is over.
	delete(t.misses, accession)
	if observedAt.After(study.LastObserved) {
		study.LastObserved = observedAt
	}
	if patientClass != "" {
		study.PatientClass = patientClass
	}

	if !isPlaceholder(study.Description) || isPlaceholder(description) {
		return
	}
	category, rvu := classify.Classify(description, rs)
	if category == domain.CategoryUnknown {
		return
	}
	study.Description = description
	study.Category = category
	study.RVU = rvu
	slog.Debug("study description corrected", "accession", accession, "category", category)
}

// CheckCompleted evaluates every active study against one (now, visible)
// snapshot and returns the studies finalized on this tick, ordered by
// first observation. The visible study's miss counter resets and it is
// never finalized. When a different study is visible, absence is
// conclusive: the user demonstrably moved on, so completion is immediate
// with the study's own LastObserved as end time. When nothing is visible,
// absence only counts after MissThreshold consecutive ticks, with now as
// end time. Studies shorter than MinDuration are dropped without being
// emitted.
func (t *Tracker) CheckCompleted(now time.Time, visibleAccession string) []domain.CompletedStudy {
	t.mu.Lock()
	defer t.mu.Unlock()

	var completed []domain.CompletedStudy
	for accession, study := range t.active {
		if accession == visibleAccession {
			t.misses[accession] = 0
			continue
		}

		var end time.Time
		switch {
		case visibleAccession != "":
			end = study.LastObserved
		default:
			t.misses[accession]++
			if t.misses[accession] < t.cfg.MissThreshold {
				continue
			}
			end = now
		}

		duration := end.Sub(study.FirstObserved)
		delete(t.active, accession)
		delete(t.misses, accession)

		if duration < t.cfg.MinDuration {
			slog.Debug("study discarded as too short",
				"accession", accession,
				"duration", duration,
			)
			continue
		}

		completed = append(completed, domain.CompletedStudy{
			SessionID:     t.cfg.SessionID,
			Accession:     study.Accession,
			Description:   study.Description,
			Category:      study.Category,
			RVU:           study.RVU,
			PatientClass:  study.PatientClass,
			FirstObserved: study.FirstObserved,
			CompletedAt:   end,
			Duration:      duration,
		})
	}

	sort.Slice(completed, func(i, j int) bool {
		if !completed[i].FirstObserved.Equal(completed[j].FirstObserved) {
			return completed[i].FirstObserved.Before(completed[j].FirstObserved)
		}
		return completed[i].Accession < completed[j].Accession
	})
	return completed
}

// IsAlreadyRecorded reports whether the accession was already persisted:
// seen cache first, then the record store (same-session record or
// membership in an earlier batch record both count). Store errors degrade
// to "not recorded" so tracking never stalls on flaky persistence.
func (t *Tracker) IsAlreadyRecorded(ctx context.Context, accession string) bool {
	if accession == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if t.seen.Contains(accession, now) {
		return true
	}
	if t.store == nil {
		return false
	}

	recorded, err := t.store.WasRecorded(ctx, t.cfg.SessionID, accession)
	if err != nil {
		slog.Warn("record store lookup failed", "accession", accession, "error", err)
		return false
	}
	if !recorded {
		inBatch, err := t.store.InBatch(ctx, accession)
		if err != nil {
			slog.Warn("batch membership lookup failed", "accession", accession, "error", err)
			return false
		}
		recorded = inBatch
	}
	if recorded {
		t.seen.Mark(accession, now)
	}
	return recorded
}

// ShouldIgnore decides whether an observed accession should be skipped
// before tracking starts. A currently active study is never suppressed.
// With suppression disabled nothing is suppressed. Otherwise only
// accessions known to be absorbed into an earlier batch record are.
func (t *Tracker) ShouldIgnore(ctx context.Context, accession string, suppressDuplicates bool) bool {
	if accession == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active[accession]; ok {
		return false
	}
	if !suppressDuplicates || t.store == nil {
		return false
	}
	inBatch, err := t.store.InBatch(ctx, accession)
	if err != nil {
		slog.Warn("batch membership lookup failed", "accession", accession, "error", err)
		return false
	}
	return inBatch
}

// MarkRecorded notifies the seen cache that a completed study was
// persisted by a sink.
func (t *Tracker) MarkRecorded(accession string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen.Mark(accession, at)
}

// ActiveCount reports how many studies are currently tracked.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// MissCount reports the consecutive-absence count for an accession.
func (t *Tracker) MissCount(accession string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.misses[accession]
}

// Reset clears all tracking state, including the seen cache.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = make(map[string]*domain.Study)
	t.misses = make(map[string]int)
	t.seen.Clear()
}

// placeholders are description values the worklist shows while the real
// text has not loaded yet, or when extraction failed.
var placeholders = map[string]struct{}{
	"":           {},
	"-":          {},
	"--":         {},
	"n/a":        {},
	"pending":    {},
	"loading":    {},
	"loading...": {},
}

func isPlaceholder(description string) bool {
	_, ok := placeholders[strings.ToLower(strings.TrimSpace(description))]
	return ok
}
