// Package testutil opens throwaway stores for package tests.
package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pillfolio/pillfolio/internal/platform/db"
)

// FixedNow is the instant returned by Clock.
const FixedNow = "2025-02-01T10:00:00.000Z"

// Clock returns FixedNow.
func Clock() string { return FixedNow }

// OpenStore opens an in-memory SQLite store, applies every embedded
// migration and closes the store when the test ends.
func OpenStore(t testing.TB) (*db.SQLDB, *db.Migrator) {
	t.Helper()

	store, err := db.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	migs, err := db.DefaultMigrations()
	require.NoError(t, err)

	m := db.NewMigrator(store, migs, Clock)
	_, err = m.Migrate(context.Background())
	require.NoError(t, err)
	return store, m
}
