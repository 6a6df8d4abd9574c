package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/spf13/cobra"

	"github.com/letsgohq/letsgo/internal/config"
	"github.com/letsgohq/letsgo/internal/store/pg"
)

// newMigrator builds a migrator over the embedded migration set, so the
// binary needs no migrations directory on disk.
func newMigrator(dsn string) (*migrate.Migrate, error) {
	src, err := iofs.New(pg.Migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

func resolveDSN() (string, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	dsn := cfg.Database.PostgresDSN
	if dsn == "" {
		return "", fmt.Errorf("database.postgres_dsn is not set (or LETSGO_POSTGRES_DSN)")
	}
	return dsn, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration management",
	}
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateDownCmd())
	cmd.AddCommand(migrateVersionCmd())
	cmd.AddCommand(migrateForceCmd())
	return cmd
}

func withMigrator(fn func(*migrate.Migrate) error) {
	dsn, err := resolveDSN()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	m, err := newMigrator(dsn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer m.Close()

	if err := fn(m); err != nil && err != migrate.ErrNoChange {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Run: func(cmd *cobra.Command, args []string) {
			withMigrator(func(m *migrate.Migrate) error {
				if err := m.Up(); err != nil {
					return err
				}
				fmt.Println("migrations applied")
				return nil
			})
		},
	}
}

func migrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back one migration",
		Run: func(cmd *cobra.Command, args []string) {
			withMigrator(func(m *migrate.Migrate) error {
				if err := m.Steps(-1); err != nil {
					return err
				}
				fmt.Println("rolled back one migration")
				return nil
			})
		},
	}
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the current migration version",
		Run: func(cmd *cobra.Command, args []string) {
			withMigrator(func(m *migrate.Migrate) error {
				version, dirty, err := m.Version()
				if err == migrate.ErrNilVersion {
					fmt.Println("no migrations applied")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Printf("version %d (dirty=%v)\n", version, dirty)
				return nil
			})
		},
	}
}

func migrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Force the migration version (recover from dirty state)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				fmt.Fprintln(os.Stderr, "error: version must be an integer")
				os.Exit(1)
			}
			withMigrator(func(m *migrate.Migrate) error {
				if err := m.Force(version); err != nil {
					return err
				}
				fmt.Printf("forced version %d\n", version)
				return nil
			})
		},
	}
}
