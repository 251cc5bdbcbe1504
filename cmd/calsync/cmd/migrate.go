package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/jw6ventures/calsync/internal/config"
	"github.com/jw6ventures/calsync/internal/store"
)

var migrateDryRun bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded database schema",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "List pending migrations without applying them")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadDatabase()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := cmd.Context()

	pool, err := openPool(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	if migrateDryRun {
		pending, err := store.PendingMigrations(ctx, pool)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
		}
		for _, name := range pending {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	}

	if err := store.ApplyMigrations(ctx, pool); err != nil {
		return err
	}
	log.Printf("[INFO] migrations applied")
	return nil
}
