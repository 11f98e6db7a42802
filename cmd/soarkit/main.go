package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// Load .env before anything reads the environment.
	_ = godotenv.Load()

	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd creates the root 'soarkit' command with its subcommands.
func NewRootCmd() *cobra.Command {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "soarkit",
		Short:         "Security playbook glue: events, parameter templates and human interactions",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	cfg := func() Config {
		c := loadConfig()
		if logLevel != "" {
			c.LogLevel = logLevel
		}
		return c
	}

	rootCmd.AddCommand(
		newServeCmd(cfg),
		newMigrateCmd(cfg),
		newRenderCmd(cfg),
		newResolveCmd(cfg),
		newInvokeCmd(cfg),
		newEventsCmd(cfg),
		newRespondCmd(cfg),
		newSecretsCmd(cfg),
		newBlobsCmd(cfg),
		newScheduleCmd(cfg),
		newVersionCmd(),
	)
	return rootCmd
}
