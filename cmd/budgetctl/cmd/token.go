package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"budget/internal/identity"
)

var (
	tokenUser int64
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for local testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenUser <= 0 {
			return errors.New("--user must be a positive user id")
		}
		if err := cfg.ValidateServer(); err != nil {
			return err
		}
		token, err := identity.NewVerifier(cfg.JWTSecret).Issue(tokenUser, tokenTTL)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Int64Var(&tokenUser, "user", 0, "user id to put in the token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
