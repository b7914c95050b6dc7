package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tally/internal/config"
	"tally/internal/store"
)

func newMigrateCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var dryRun bool
	var inspect bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run or inspect database schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, err := store.ParseDriver(cfg.Database.Driver)
			if err != nil {
				return err
			}
			target := cfg.DatabaseTarget()
			if target == "" {
				return fmt.Errorf("database target is required")
			}

			if !inspect && !dryRun {
				st, err := store.OpenDriver(driver, target)
				if err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				if err := st.Close(); err != nil {
					return err
				}
				if !*jsonOutput {
					return writePlain("Migrations applied successfully.\n")
				}
			}

			plan, err := store.InspectMigrations(driver, target)
			if err != nil {
				return fmt.Errorf("inspect migrations: %w", err)
			}
			if *jsonOutput {
				return writeJSON(plan)
			}

			_ = writePlain("Driver: %s\n", plan.Driver)
			_ = writePlain("Current version: %d\n", plan.CurrentVersion)
			_ = writePlain("Available version: %d\n", plan.AvailableVersion)
			if plan.Dirty {
				_ = writePlain("Schema is dirty; fix the failed migration before retrying.\n")
			}
			if len(plan.Pending) == 0 {
				return writePlain("No pending migrations.\n")
			}
			_ = writePlain("Pending migrations: %d\n", len(plan.Pending))
			for _, m := range plan.Pending {
				_ = writePlain("  %d: %s\n", m.Version, m.Description)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show pending migrations without applying")
	cmd.Flags().BoolVar(&inspect, "inspect", false, "show migration status")

	return cmd
}
