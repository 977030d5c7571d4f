package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pacsight/rvutrack/internal/bootstrap"
	"github.com/pacsight/rvutrack/internal/config"
	"github.com/pacsight/rvutrack/internal/core/domain"
	"github.com/pacsight/rvutrack/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("tracker", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := startMetricsServer(app, cfg.MetricsPort)
	defer shutdownMetricsServer(metricsServer)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.ExportFlushSchedule, func() {
		if err := app.Export.Flush(); err != nil {
			slog.Error("export flush failed", "error", err)
			return
		}
		slog.Debug("export workbook flushed", "path", cfg.ExportPath)
	}); err != nil {
		slog.Error("invalid export flush schedule", "schedule", cfg.ExportFlushSchedule, "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	slog.Info("tracker subscribed", "subject", cfg.NATSSubject)
	err = app.Feed.Subscribe(ctx, func(handlerCtx context.Context, snap domain.Snapshot) error {
		started := time.Now()
		tickCtx, cancel := context.WithTimeout(handlerCtx, 30*time.Second)
		defer cancel()

		emitted, err := app.TrackUC.HandleSnapshot(tickCtx, snap)
		app.Metrics.ObserveSnapshot(time.Since(started), err)
		for _, rec := range emitted {
			app.Metrics.RecordCompleted(rec.Category, rec.RVU)
		}
		app.Metrics.SetActiveStudies(app.Tracker.ActiveCount())
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("feed subscription failed", "error", err)
		os.Exit(1)
	}

	if err := app.Export.Flush(); err != nil {
		slog.Error("final export flush failed", "error", err)
	}
}

func startMetricsServer(app *bootstrap.App, port string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.Metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return server
}

func shutdownMetricsServer(server *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}
