package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/catvault/catvault/pkg/errors"
	"github.com/catvault/catvault/pkg/jobs"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch one batch from the catalog and store new images",
	RunE:  runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateCatalog(); err != nil {
		return errors.Wrap(err, "config invalid")
	}

	repo, err := openRepository(cfg, true)
	if err != nil {
		return err
	}
	defer repo.Close()

	runner, err := newRunner(ctx, cfg, repo, nil)
	if err != nil {
		return err
	}
	defer runner.Shutdown(10 * time.Second)

	run, err := runner.RunSync(ctx, jobs.SourceCLI)
	if run != nil {
		fmt.Printf("Run:           %s\n", run.ID)
		fmt.Printf("Status:        %s\n", run.Status)
		fmt.Printf("Records added: %d\n", run.RecordsAdded)
		fmt.Printf("Labels added:  %d\n", run.LabelsAdded)
		fmt.Printf("Skipped:       %d\n", run.Skipped)
		fmt.Printf("Violations:    %d\n", run.Violations)
	}
	if err != nil {
		return errors.Wrap(err, "ingest failed")
	}

	return nil
}
