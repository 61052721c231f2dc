package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/catvault/catvault/pkg/errors"
	"github.com/catvault/catvault/pkg/query"
	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one stored image as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return errors.InvalidArgument("get record", "id must be an integer, got %q", args[0])
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

	view, err := query.NewEngine(repo).Get(context.Background(), id)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode record")
	}
	fmt.Println(string(out))
	return nil
}
