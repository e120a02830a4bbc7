// Package storagetest opens throwaway databases with the schema applied.
package storagetest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/fjod/storefront/internal/storage"
	"github.com/stretchr/testify/require"
)

// NewSQLite returns a migrated sqlite database in the test's temp dir. It is
// closed when the test finishes.
func NewSQLite(t testing.TB) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, err := storage.Open(ctx, storage.Credentials{
		Driver: storage.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "storefront.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.RunMigrations(ctx, db, storage.DriverSQLite))
	return db
}
