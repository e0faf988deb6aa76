package cmd

import (
	"context"
	"encoding/json"
	"os"

	"orderflow/internal/api"
	"orderflow/internal/worker"

	"github.com/spf13/cobra"
)

func stateCmd() *cobra.Command {
	var failed bool

	var command = &cobra.Command{
		Use:   "state",
		Short: "Print a summary of the persisted state without modifying it",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := worker.ReadState(context.Background(), loadConfig())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if !failed {
				return enc.Encode(api.Summarize(st))
			}
			return enc.Encode(api.Failures(st))
		},
	}

	command.Flags().BoolVar(&failed, "failed", false, "List failure records instead of the summary")
	return command
}
