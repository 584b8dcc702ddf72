package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"example.com/backstage/services/gateway/internal/core"
	"example.com/backstage/services/gateway/internal/infrastructure"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Runs command journal migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrations()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrations() error {
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for migrations")
	}

	logger.Info("Connecting to database...")
	db, err := infrastructure.NewDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	logger.Info("Running migrations...")
	if err := db.Migrate(&core.CommandRecord{}); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	logger.Info("Migrations completed successfully")
	return nil
}
