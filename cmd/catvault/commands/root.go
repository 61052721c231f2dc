package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "catvault",
	Short: "Cat image catalog - ingest and query labelled cat images",
	Long: `Imports cat images from TheCatAPI into a local SQLite catalog, deduplicated and
labelled by breed temperament, and serves paginated label queries over the CLI and HTTP.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("sqlite-path", ".artifacts/catvault.db", "SQLite database path")
	flags.String("fsm-db-path", ".artifacts/fsm", "FSM state directory")
	flags.String("catalog-base-url", "https://api.thecatapi.com/v1", "Catalog API base URL")
	flags.String("catalog-api-key", "", "Catalog API key (or CATVAULT_CATALOG_API_KEY)")
	flags.Int("fetch-limit", 25, "Items requested per ingestion run")
	flags.Duration("fetch-timeout", 30*time.Second, "Catalog request timeout")
	flags.StringSlice("breed-ids", nil, "Restrict fetches to these breed ids")
	flags.String("listen-addr", ":8080", "HTTP listen address")
	flags.String("report-bucket", "", "S3 bucket for run reports (disabled when empty)")
	flags.String("report-region", "us-east-1", "S3 region for run reports")
	flags.String("report-prefix", "runs/", "S3 key prefix for run reports")
	flags.String("nats-url", "", "NATS URL for the fetch trigger (disabled when empty)")
	flags.String("nats-subject", "catvault.fetch", "NATS subject that triggers a fetch")

	for _, name := range []string{
		"sqlite-path", "fsm-db-path",
		"catalog-base-url", "catalog-api-key", "fetch-limit", "fetch-timeout", "breed-ids",
		"listen-addr",
		"report-bucket", "report-region", "report-prefix",
		"nats-url", "nats-subject",
	} {
		viper.BindPFlag(name, flags.Lookup(name))
	}
}
