package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const migrationsTable = "storefront_schema_migrations"

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// RunMigrations applies every pending migration for the given driver.
func RunMigrations(ctx context.Context, db *sql.DB, driverName string) error {
	src, err := iofs.New(migrationsFS, "migrations/"+driverName)
	if err != nil {
		return fmt.Errorf("could not open migration source: %w", err)
	}

	var (
		driver database.Driver
		conn   *sql.Conn
	)
	switch driverName {
	case DriverPostgres:
		// a dedicated connection so closing the migrator leaves the pool open
		conn, err = db.Conn(ctx)
		if err != nil {
			return fmt.Errorf("could not acquire connection: %w", err)
		}
		driver, err = postgres.WithConnection(ctx, conn, &postgres.Config{MigrationsTable: migrationsTable})
	case DriverSQLite:
		driver, err = sqlite.WithInstance(db, &sqlite.Config{MigrationsTable: migrationsTable})
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, driverName)
	}
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driverName, driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	if conn != nil {
		defer m.Close()
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}
