package cmd

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"orderflow/internal/config"
)

func Run() {
	var command = &cobra.Command{
		Use:           "orderflow",
		Short:         "Order fulfillment orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	command.AddCommand(runCmd())
	command.AddCommand(stateCmd())
	command.AddCommand(requeueCmd())

	if err := command.Execute(); err != nil {
		log.Fatal().Msgf("failed to execute command, err: %v", err.Error())
	}
}

// loadConfig reads the configuration and sets up the global logger from it.
func loadConfig() *config.Config {
	cfg := config.Load()
	setupLogger(cfg.Log)
	return cfg
}

func setupLogger(c config.Log) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if strings.EqualFold(c.Format, "console") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = log.With().Str("service", "orderflow").Logger()
	zerolog.DefaultContextLogger = &log.Logger
}
