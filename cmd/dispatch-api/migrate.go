// README: migrate command; applies migrations/*.sql in order.
package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"riderdispatch/internal/infra"
)

var migrationsDir string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply SQL migrations to the configured database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		dir := migrationsDir
		if dir == "" {
			root, err := infra.FindRepoRoot()
			if err != nil {
				return fmt.Errorf("locate migrations: %w", err)
			}
			dir = filepath.Join(root, "migrations")
		}

		ctx := context.Background()
		db, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return fmt.Errorf("connect db: %w", err)
		}
		defer db.Close()

		if err := infra.ApplyMigrations(ctx, db, dir); err != nil {
			return err
		}
		log.Info().Str("dir", dir).Msg("migrations applied")
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrationsDir, "dir", "", "migrations directory (default <repo>/migrations)")
	rootCmd.AddCommand(migrateCmd)
}
