package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"budget/internal/cli"
	"budget/internal/core"
	"budget/internal/seed"
)

var (
	seedFile  string
	seedToday string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create accounts and categories from a fixtures file",
	Long: `seed creates the users' accounts and categories listed in a YAML
fixtures file. Opening balances are recorded as ledger transactions dated
opened_on, or --today when it is missing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if seedFile == "" {
			return errors.New("--file is required")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		today := core.Date{Time: time.Now().UTC().Truncate(24 * time.Hour)}
		if seedToday != "" {
			d, err := core.ParseDate(seedToday)
			if err != nil {
				return fmt.Errorf("--today: %w", err)
			}
			today = d
		}

		fx, err := seed.Load(seedFile)
		if err != nil {
			return err
		}

		res, err := cli.OpenBackend(cmd.Context(), logger, cfg)
		if err != nil {
			return err
		}
		defer res.Cleanup()

		summary, err := seed.Apply(cmd.Context(), res.Store, res.Service, fx, today)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d accounts, %d categories, %d opening transactions\n",
			summary.Accounts, summary.Categories, summary.Transactions)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "fixtures file (YAML)")
	seedCmd.Flags().StringVar(&seedToday, "today", "", "date for opening balances without opened_on (YYYY-MM-DD)")
}
