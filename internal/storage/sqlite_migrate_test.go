package storage

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func TestRunSQLiteMigrationsCreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	migrations, err := sqliteMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	require.NoError(t, runSQLiteMigrations(path, migrations))

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"stamp_events", "storage_incentives_events", "batches", "addresses", "chunk_cache", "kv_state"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, "table %s should exist after migration", table)
		require.Equal(t, table, name)
	}
}

func TestRunSQLiteMigrationsIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	migrations, err := sqliteMigrations()
	require.NoError(t, err)

	require.NoError(t, runSQLiteMigrations(path, migrations))
	require.NoError(t, runSQLiteMigrations(path, migrations), "re-running already-applied migrations must be a no-op, not an error")
}

func TestRunSQLiteMigrationsRejectsMissingUpSeparator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	err := runSQLiteMigrations(path, []Migration{{ID: "bad", SQL: "CREATE TABLE foo (id INTEGER);"}})
	require.Error(t, err)
}
