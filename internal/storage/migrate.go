package storage

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFiles embed.FS

// Dialect names the SQL engine behind a replica
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// MigrationURL converts a replica location into a golang-migrate database
// URL: a file path for SQLite, a postgres:// URL for Postgres
func MigrationURL(dialect Dialect, location string) (string, error) {
	switch dialect {
	case DialectSQLite:
		return "sqlite3://" + location, nil
	case DialectPostgres:
		for _, prefix := range []string{"postgres://", "postgresql://"} {
			if strings.HasPrefix(location, prefix) {
				return "pgx5://" + strings.TrimPrefix(location, prefix), nil
			}
		}
		return "", fmt.Errorf("postgres location must be a postgres:// URL")
	default:
		return "", fmt.Errorf("unknown dialect %q", dialect)
	}
}

func newMigrate(dialect Dialect, location string) (*migrate.Migrate, error) {
	databaseURL, err := MigrationURL(dialect, location)
	if err != nil {
		return nil, err
	}

	source, err := iofs.New(migrationFiles, "migrations/"+string(dialect))
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// RunMigrations brings the replica schema up to date
func RunMigrations(dialect Dialect, location string) error {
	m, err := newMigrate(dialect, location)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = m.Close() // nolint:errcheck // cleanup in defer
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RollbackMigrations rolls back the last migration
func RollbackMigrations(dialect Dialect, location string) error {
	m, err := newMigrate(dialect, location)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = m.Close() // nolint:errcheck // cleanup in defer
	}()

	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	return nil
}

// MigrationVersion returns the current migration version
func MigrationVersion(dialect Dialect, location string) (version uint, dirty bool, err error) {
	m, migrateErr := newMigrate(dialect, location)
	if migrateErr != nil {
		return 0, false, migrateErr
	}
	defer func() {
		_, _ = m.Close() // nolint:errcheck // cleanup in defer
	}()

	version, dirty, err = m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}

	return version, dirty, nil
}
