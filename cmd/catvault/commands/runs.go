package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/catvault/catvault/pkg/db"
	"github.com/catvault/catvault/pkg/errors"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs [id]",
	Short: "List recent ingestion runs, or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().Int("limit", 20, "Number of runs to list")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	limit, _ := cmd.Flags().GetInt("limit")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openRepository(cfg, false)
	if err != nil {
		return err
	}
	defer repo.Close()

	var runs []*db.Run
	if len(args) == 1 {
		run, err := repo.GetRun(ctx, args[0])
		if err != nil {
			return errors.Wrap(err, "get run failed")
		}
		if run == nil {
			return errors.NotFound("get run", "run not found: id=%s", args[0])
		}
		runs = append(runs, run)
	} else {
		runs, err = repo.ListRuns(ctx, limit)
		if err != nil {
			return errors.Wrap(err, "list runs failed")
		}
	}

	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	fmt.Printf("%-36s %-6s %-10s %-8s %-7s %-8s %-10s %-20s %s\n",
		"ID", "SOURCE", "STATUS", "RECORDS", "LABELS", "SKIPPED", "VIOLATIONS", "STARTED", "ERROR")
	fmt.Println("------------------------------------------------------------------------------------------------------------------------")

	for _, run := range runs {
		errMsg := run.ErrorMessage
		if errMsg == "" {
			errMsg = "-"
		}
		fmt.Printf("%-36s %-6s %-10s %-8d %-7d %-8d %-10d %-20s %s\n",
			run.ID, run.Source, run.Status, run.RecordsAdded, run.LabelsAdded,
			run.Skipped, run.Violations, run.StartedAt.Format(time.DateTime), errMsg)
	}

	return nil
}
