package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/pacsight/rvutrack/internal/config"
	"github.com/pacsight/rvutrack/internal/core/ports"
	"github.com/pacsight/rvutrack/internal/core/tracker"
	"github.com/pacsight/rvutrack/internal/core/usecase"
	"github.com/pacsight/rvutrack/internal/infrastructure/export/excel"
	"github.com/pacsight/rvutrack/internal/infrastructure/feed/nats"
	"github.com/pacsight/rvutrack/internal/infrastructure/repository/postgres"
	"github.com/pacsight/rvutrack/internal/infrastructure/resilience"
	"github.com/pacsight/rvutrack/internal/infrastructure/rules/yamlrules"
	"github.com/pacsight/rvutrack/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Metrics *metrics.TrackerMetrics

	Rules   ports.RuleProvider
	Store   *postgres.RecordStore
	Feed    ports.SnapshotFeed
	Export  *excel.Workbook
	Tracker *tracker.Tracker

	TrackUC     *usecase.TrackUseCase
	ReconcileUC *usecase.ReconcileUseCase

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	executor := resilience.NewExecutor(resilience.DefaultConfig())
	store := postgres.NewRecordStoreWithExecutor(db, executor)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	rules := yamlrules.New(cfg.RulesPath)

	trackerMetrics := metrics.NewTrackerMetrics(sessionID)

	feed, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
		MinInterval:        cfg.SnapshotMinInterval,
		OnDrop:             trackerMetrics.SnapshotDropped,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init snapshot feed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.ExportPath), 0o755); err != nil {
		feed.Close()
		_ = db.Close()
		return nil, fmt.Errorf("prepare export directory: %w", err)
	}
	workbook, err := excel.Open(cfg.ExportPath)
	if err != nil {
		feed.Close()
		_ = db.Close()
		return nil, fmt.Errorf("open export workbook: %w", err)
	}

	tr := tracker.New(tracker.Config{
		MissThreshold:  cfg.MissThreshold,
		MinDuration:    cfg.MinStudyDuration,
		SeenTTL:        cfg.SeenTTL,
		SeenSweepEvery: cfg.SeenSweepEvery,
		SessionID:      sessionID,
	}, store)

	trackUC := usecase.NewTrackUseCase(
		tr,
		rules,
		[]ports.CompletionSink{store, workbook},
		cfg.SuppressDuplicates,
	)
	reconcileUC := usecase.NewReconcileUseCase(store, rules)

	return &App{
		Config:  cfg,
		Metrics: trackerMetrics,

		Rules:   rules,
		Store:   store,
		Feed:    feed,
		Export:  workbook,
		Tracker: tr,

		TrackUC:     trackUC,
		ReconcileUC: reconcileUC,

		closeFn: func() {
			feed.Close()
			_ = workbook.Close()
			_ = db.Close()
		},
	}, nil
}

// NewReconcile wires only what the reconcile binary needs: the record
// store and the rule provider, no feed, no export, no metrics listener.
func NewReconcile(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	store := postgres.NewRecordStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	rules := yamlrules.New(cfg.RulesPath)

	return &App{
		Config: cfg,
		Rules:  rules,
		Store:  store,

		ReconcileUC: usecase.NewReconcileUseCase(store, rules),

		closeFn: func() {
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

