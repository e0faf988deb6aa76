package cmd

import (
	"orderflow/internal/worker"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var cfg worker.Config

	var command = &cobra.Command{
		Use:     "run",
		Aliases: []string{"worker"},
		Short:   "Start the poll loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return worker.Run(loadConfig(), cfg)
		},
	}

	command.Flags().BoolVar(&cfg.Once, "once", false, "Run a single poll cycle and exit")
	command.Flags().BoolVar(&cfg.DryRun, "dry-run", false, "Select orders and log their plans without running steps")
	command.Flags().StringVar(&cfg.Listen, "listen", "", "Address for the operator API, overrides API_ADDR")

	return command
}
