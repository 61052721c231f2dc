package commands

import (
	"context"
	"os"
	"path/filepath"

	"github.com/catvault/catvault/internal/config"
	"github.com/catvault/catvault/pkg/catalog"
	"github.com/catvault/catvault/pkg/db"
	"github.com/catvault/catvault/pkg/errors"
	"github.com/catvault/catvault/pkg/ingest"
	"github.com/catvault/catvault/pkg/jobs"
	"github.com/catvault/catvault/pkg/metrics"
	"github.com/catvault/catvault/pkg/storage"
)

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(sqlitePath, fsmDBPath string) error {
	// Create database directory
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}

	// Create FSM state directory (only needed for ingestion)
	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	return nil
}

// loadConfig loads and validates configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config invalid")
	}
	return cfg, nil
}

// openRepository opens the store, creating its directory first
func openRepository(cfg *config.Config, withFSM bool) (*db.Repository, error) {
	fsmDBPath := ""
	if withFSM {
		fsmDBPath = cfg.FSMDBPath
	}
	if err := ensureDirectories(cfg.SQLitePath, fsmDBPath); err != nil {
		return nil, err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return nil, errors.Wrap(err, "db init failed")
	}
	return repo, nil
}

func newPipeline(cfg *config.Config, repo *db.Repository) *ingest.Pipeline {
	client := catalog.NewClient(catalog.Options{
		BaseURL: cfg.CatalogBaseURL,
		APIKey:  cfg.CatalogAPIKey,
		Timeout: cfg.FetchTimeout,
	})

	filter := catalog.DefaultFilter()
	filter.BreedIDs = cfg.BreedIDs

	return ingest.NewPipeline(client, repo, cfg.FetchLimit).WithFilter(filter)
}

// newRunner wires the pipeline, the FSM and the optional report uploader
func newRunner(ctx context.Context, cfg *config.Config, repo *db.Repository, m *metrics.Metrics) (*jobs.Runner, error) {
	opts := jobs.Options{
		Pipeline:     newPipeline(cfg, repo),
		Store:        repo,
		FSMDBPath:    cfg.FSMDBPath,
		Metrics:      m,
		ReportPrefix: cfg.ReportPrefix,
	}

	if cfg.ReportBucket != "" {
		s3Client, err := storage.NewClient(ctx, cfg.ReportBucket, cfg.ReportRegion)
		if err != nil {
			return nil, errors.Wrap(err, "S3 client failed")
		}
		opts.Reporter = s3Client
	}

	runner, err := jobs.NewRunner(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "runner init failed")
	}
	return runner, nil
}
