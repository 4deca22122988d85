package main

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/queryorch/orchestrator/internal/config"
)

//go:embed migrations
var migrationsFS embed.FS

// newMigrateCmd applies the relational bookkeeping schema (the
// orchestrator_query_audit table) to the first configured relational
// source. Nothing in the orchestrator writes rows to that table.
func newMigrateCmd(configPath, envPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply relational bookkeeping migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath, *envPath)
			if err != nil {
				return err
			}
			dsn := firstRelationalDSN(cfg)
			if dsn == "" {
				return fmt.Errorf("no relational source configured to migrate")
			}
			return applyMigrations(dsn)
		},
	}
}

func firstRelationalDSN(cfg config.Config) string {
	for _, s := range cfg.Sources {
		if s.Kind == "relational" {
			return s.URI
		}
	}
	return ""
}

func applyMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "orchestrator", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return sourceDriver.Close()
}
