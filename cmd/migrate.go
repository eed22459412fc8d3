package main

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/deepresearch/orchestrator/config"
)

func migrateCMD() *cobra.Command {
	var migDir string
	var migDirDefault = "file://migrations"
	var direction string
	var steps int
	var cfgPath string

	var migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			dsn := cfg.Storage.Postgres.DSN()
			if migDir == "" {
				migDir = migDirDefault
			}
			return runMigrate(migDir, dsn, direction, steps)
		},
	}
	migrateCmd.Flags().StringVar(&migDir, "dir", migDirDefault, "migrations source (file://migrations)")
	migrateCmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrateCmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	migrateCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return migrateCmd
}

func runMigrate(sourceURL, dsn, direction string, steps int) error {
	m, err := migrate.New(sourceURL, dsn)
	if err != nil {
		return fmt.Errorf("migrate: new: %w", err)
	}
	defer m.Close()

	var applyErr error
	switch {
	case steps != 0:
		applyErr = m.Steps(signedSteps(direction, steps))
	case direction == "down":
		applyErr = m.Down()
	default:
		applyErr = m.Up()
	}
	if applyErr != nil && applyErr != migrate.ErrNoChange {
		return fmt.Errorf("migrate: %s: %w", direction, applyErr)
	}
	return nil
}

func signedSteps(direction string, steps int) int {
	if direction == "down" {
		return -steps
	}
	return steps
}
