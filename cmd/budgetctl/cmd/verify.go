package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"budget/internal/cli"
	"budget/internal/core"
	"budget/internal/worker"
)

var repair bool

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every account balance equals the sum of its transactions",
	Long: `verify recomputes each account's balance from its transactions and
reports the accounts whose stored balance drifted. With --repair the stored
balance of each drifted account is reset to the recomputed one.

The command exits non-zero when drift is found and not repaired.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		res, err := cli.OpenBackend(cmd.Context(), logger, cfg)
		if err != nil {
			return err
		}
		defer res.Cleanup()

		auditor := worker.NewAuditor(res.Store, cfg.VerifyConcurrency)
		run := auditor.VerifyAll
		if repair {
			run = auditor.RepairAll
		}
		report, err := run(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, a := range report.Drifted {
			fmt.Fprintf(out, "account %d (user %d): balance %s, ledger sum %s, drift %s\n",
				a.AccountID, a.UserID,
				core.FormatAmount(a.Balance), core.FormatAmount(a.Expected), core.FormatAmount(a.Drift()))
		}
		fmt.Fprintf(out, "checked %d accounts, %d drifted, %d repaired\n",
			report.Checked, len(report.Drifted), report.Repaired)

		if len(report.Drifted) > report.Repaired {
			return fmt.Errorf("%d accounts drifted", len(report.Drifted)-report.Repaired)
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&repair, "repair", false, "reset drifted balances to their ledger sums")
}
