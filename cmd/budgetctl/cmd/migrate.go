package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"budget/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		dialect, err := storage.ParseDialect(cfg.DataBackend)
		if err != nil {
			return fmt.Errorf("backend %q has no schema to migrate", cfg.DataBackend)
		}
		dsn := cfg.PostgresDSN
		if dialect == storage.SQLite {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLiteDBPath), 0755); err != nil {
				return fmt.Errorf("create db directory: %w", err)
			}
			dsn = storage.SQLiteDSN(cfg.SQLiteDBPath)
		}
		if err := storage.RunMigrations(dialect, dsn); err != nil {
			return err
		}

		logger.Info("Schema up to date", "backend", cfg.DataBackend)
		return nil
	},
}
