package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/catvault/catvault/internal/config"
	"github.com/catvault/catvault/pkg/db"
	"github.com/catvault/catvault/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	cleanupStale    bool
	cleanupFSMState bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Clean up leftovers of interrupted ingestion runs",
	Long: `Clean up state left behind by ingestion runs that did not finish:
  --stale       Mark pending and running runs as failed
  --fsm-state   Remove the FSM state directory

Only use while no catvault process is ingesting. Stored images and labels are never touched.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupStale, "stale", false, "Mark unfinished runs as failed")
	cleanupCmd.Flags().BoolVar(&cleanupFSMState, "fsm-state", false, "Remove the FSM state directory")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if !cleanupStale && !cleanupFSMState {
		return fmt.Errorf("must specify --stale, --fsm-state, or both")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openRepository(cfg, false)
	if err != nil {
		return err
	}
	defer repo.Close()

	ctx := context.Background()

	if cleanupStale {
		if err := cleanupStaleRuns(ctx, repo); err != nil {
			return err
		}
	}
	if cleanupFSMState {
		if err := cleanupFSMDirectory(cfg); err != nil {
			return err
		}
	}
	return nil
}

func cleanupStaleRuns(ctx context.Context, repo *db.Repository) error {
	fmt.Println("🔍 Scanning for unfinished runs...")

	n, err := repo.FailStaleRuns(ctx, "abandoned, cleaned up")
	if err != nil {
		return errors.Wrap(err, "stale run cleanup failed")
	}

	if n == 0 {
		fmt.Println("✅ No unfinished runs")
		return nil
	}
	fmt.Printf("✅ Marked %d run(s) as failed\n", n)
	return nil
}

func cleanupFSMDirectory(cfg *config.Config) error {
	if _, err := os.Stat(cfg.FSMDBPath); os.IsNotExist(err) {
		fmt.Printf("✅ No FSM state at %s\n", cfg.FSMDBPath)
		return nil
	}

	fmt.Printf("🧹 Removing FSM state at %s...\n", cfg.FSMDBPath)
	if err := os.RemoveAll(cfg.FSMDBPath); err != nil {
		return errors.Wrap(err, "failed to remove FSM state")
	}

	fmt.Println("✅ FSM state removed")
	return nil
}
