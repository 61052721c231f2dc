package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/catvault/catvault/pkg/errors"
	"github.com/catvault/catvault/pkg/query"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "List stored images, optionally filtered by label",
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().String("tag", "", "Only images carrying this label (case-insensitive)")
	queryCmd.Flags().Int("page", query.DefaultPage, "Page number, starting at 1")
	queryCmd.Flags().Int("page-size", query.DefaultPageSize, "Images per page")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	tag, _ := cmd.Flags().GetString("tag")
	page, _ := cmd.Flags().GetInt("page")
	pageSize, _ := cmd.Flags().GetInt("page-size")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openRepository(cfg, false)
	if err != nil {
		return err
	}
	defer repo.Close()

	result, err := query.NewEngine(repo).Query(context.Background(), query.Params{
		Label:    tag,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return errors.Wrap(err, "query failed")
	}

	if len(result.Items) == 0 {
		fmt.Printf("No images found (total %d)\n", result.Total)
		return nil
	}

	fmt.Printf("%-6s %-12s %-6s %-6s %-50s %s\n", "ID", "EXTERNAL ID", "WIDTH", "HEIGHT", "URL", "LABELS")
	fmt.Println("----------------------------------------------------------------------------------------------------------")

	for _, img := range result.Items {
		labels := strings.Join(img.Labels, ", ")
		if labels == "" {
			labels = "-"
		}
		fmt.Printf("%-6d %-12s %-6d %-6d %-50s %s\n",
			img.ID, img.ExternalID, img.Width, img.Height, img.ImageURL, labels)
	}

	fmt.Printf("\nPage %d, %d per page, %d total\n", result.Page, result.PageSize, result.Total)
	return nil
}
