package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Zecruu/SpineLineDemo/migrations"
	"github.com/Zecruu/SpineLineDemo/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	var dsn string
	rootCmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the scheduling database schema",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("POSTGRES_DSN"), "Postgres connection string (defaults to POSTGRES_DSN)")

	logger := logging.New(os.Getenv("LOG_LEVEL"))

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(dsn, func(m *migrate.Migrate) error {
					if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
						return fmt.Errorf("migrate up: %w", err)
					}
					logger.Info("migrations applied")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back the given number of migrations (default 1)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n <= 0 {
						return fmt.Errorf("steps must be a positive integer, got %q", args[0])
					}
					steps = n
				}
				return withMigrator(dsn, func(m *migrate.Migrate) error {
					if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
						return fmt.Errorf("migrate down: %w", err)
					}
					logger.Info("migrations rolled back", "steps", steps)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(dsn, func(m *migrate.Migrate) error {
					version, dirty, err := m.Version()
					if errors.Is(err, migrate.ErrNilVersion) {
						fmt.Println("no migrations applied")
						return nil
					}
					if err != nil {
						return fmt.Errorf("read version: %w", err)
					}
					fmt.Printf("version %d (dirty=%t)\n", version, dirty)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version: %w", err)
				}
				return withMigrator(dsn, func(m *migrate.Migrate) error {
					if err := m.Force(version); err != nil {
						return fmt.Errorf("force version: %w", err)
					}
					logger.Info("schema version forced", "version", version)
					return nil
				})
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func withMigrator(dsn string, fn func(m *migrate.Migrate) error) error {
	if dsn == "" {
		return errors.New("POSTGRES_DSN is required")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("db driver: %w", err)
	}
	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("source driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	return fn(m)
}
