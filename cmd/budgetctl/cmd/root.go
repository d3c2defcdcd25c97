// Package cmd provides CLI commands for budgetctl.
package cmd

import (
	"github.com/spf13/cobra"

	"budget/internal/cli"
	"budget/internal/config"
	applog "budget/internal/log"
)

var (
	envFile string
	debug   bool

	cfg    *config.Config
	logger *applog.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "budgetctl",
	Short: "Maintain the budget ledger database",
	Long: `budgetctl runs maintenance tasks against the database configured
through the same environment variables as the budget server.

Example:
  budgetctl migrate
  budgetctl seed --file seed.example.yaml
  budgetctl verify --repair
  budgetctl token --user 1`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			cli.LoadEnvFile(envFile)
		} else {
			cli.LoadEnvFile()
		}
		cfg = config.Load()
		if debug {
			cfg.LogLevel = "debug"
		}
		logger = cli.SetupLogger(cfg, "budgetctl")
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load (default is .env)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(tokenCmd)
}
