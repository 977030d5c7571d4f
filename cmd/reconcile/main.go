package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pacsight/rvutrack/internal/bootstrap"
	"github.com/pacsight/rvutrack/internal/config"
	"github.com/pacsight/rvutrack/internal/observability/logging"
)

func main() {
	var (
		sessionID = flag.String("session", "", "session whose records to reconcile (required)")
		dryRun    = flag.Bool("dry-run", false, "report mismatches without applying updates")
	)
	flag.Parse()

	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("reconcile", cfg.LogLevel))

	if *sessionID == "" {
		fmt.Fprintln(os.Stderr, "reconcile: -session is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewReconcile(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	summary, mismatches, err := app.ReconcileUC.Run(ctx, *sessionID, *dryRun)
	if err != nil {
		slog.Error("reconcile failed", "session", *sessionID, "error", err)
		os.Exit(1)
	}

	for _, m := range mismatches {
		fmt.Printf("%s  %-14s  %q: %s (%.2f) -> %s (%.2f)\n",
			m.RecordID, m.Accession, m.Description,
			m.OldCategory, m.OldRVU, m.NewCategory, m.NewRVU)
	}

	mode := "applied"
	if *dryRun {
		mode = "dry-run"
	}
	fmt.Printf("%s: scanned=%d mismatched=%d applied=%d\n",
		mode, summary.Scanned, summary.Mismatched, summary.Applied)
}
