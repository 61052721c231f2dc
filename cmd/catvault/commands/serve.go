package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/catvault/catvault/pkg/api"
	"github.com/catvault/catvault/pkg/errors"
	"github.com/catvault/catvault/pkg/metrics"
	"github.com/catvault/catvault/pkg/query"
	"github.com/catvault/catvault/pkg/trigger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and, when configured, the NATS fetch trigger",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateCatalog(); err != nil {
		// Queries still work; every run will fail with this error.
		slog.Warn("catalog_not_configured", "error", err)
	}

	repo, err := openRepository(cfg, true)
	if err != nil {
		return err
	}
	defer repo.Close()

	// Nothing from a previous process can still be running.
	if _, err := repo.FailStaleRuns(ctx, "interrupted by restart"); err != nil {
		return errors.Wrap(err, "stale run recovery failed")
	}

	m, err := metrics.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return errors.Wrap(err, "metrics init failed")
	}

	runner, err := newRunner(ctx, cfg, repo, m)
	if err != nil {
		return err
	}
	defer runner.Shutdown(10 * time.Second)

	if cfg.NATSURL != "" {
		t := trigger.New(cfg.NATSSubject, runner)
		if err := t.Connect(cfg.NATSURL); err != nil {
			return errors.Wrap(err, "NATS trigger failed")
		}
		defer t.Close()
	}

	server := api.NewServer(api.Config{
		Engine:   query.NewEngine(repo),
		Runs:     repo,
		Jobs:     runner,
		Metrics:  m,
		Gatherer: prometheus.DefaultGatherer,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ListenAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http_server_shutdown_failed", "error", err)
	}

	slog.Info("serve_stopped")
	return nil
}
