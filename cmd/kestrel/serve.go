package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/worker"
)

func serveCmd() *cobra.Command {
	var noWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the async batch worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), !noWorker)
		},
	}
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "do not consume async batches in this process")
	return cmd
}

func runServe(ctx context.Context, withWorker bool) error {
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	var asyncWorker *worker.Worker
	if withWorker {
		asyncWorker = worker.NewWorker(a.bus, a.repo, a.pipeline)
		if err := asyncWorker.Start(worker.Config{WorkerCount: cfg.Pipeline.AsyncWorkers}); err != nil {
			return fmt.Errorf("failed to start async worker: %w", err)
		}
	}

	srv := api.NewServer(cfg.Server, a.repo, a.cache, a.bus, a.pipeline, a.custom, Version)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
	case err = <-errCh:
		slog.Error("server failed", "error", err)
	}
	slog.Info("shutting down...")

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
	return err
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL - AP/GL anomaly scoring")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /batches                      - Score a batch (async: true to queue)")
	fmt.Println("    GET  /batches/{id}                 - Batch status and summary")
	fmt.Println("    GET  /batches/{id}/scores          - Row scores")
	fmt.Println("    GET  /batches/{id}/documents       - Document scores")
	fmt.Println("    GET  /batches/{id}/duplicates      - Duplicate groups")
	fmt.Println("    POST /invoices/verify              - Verify one invoice")
	fmt.Println("    GET  /invoices/{id}/verification   - Stored verification")
	fmt.Println("    GET  /rules                        - Built-in and custom rules")
	fmt.Println("    POST /rules                        - Create a custom CEL rule")
	fmt.Println("    POST /rules/reload                 - Hot-reload custom rules")
	fmt.Println("    PUT  /settings/{module}            - Update rule settings")
	fmt.Println("    PUT  /scenarios                    - Update duplicate scenarios")
	fmt.Println("    GET  /health                       - Health check")
	fmt.Println()
}
