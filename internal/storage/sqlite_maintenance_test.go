package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/swarmstats/indexer/internal/logger"
	pkgconfig "github.com/swarmstats/indexer/pkg/config"
)

func TestNewMaintenanceCoordinatorReturnsNoOpWhenUnset(t *testing.T) {
	require.IsType(t, NoOpMaintenance{}, newMaintenanceCoordinator("ignored.db", nil, nil, logger.NewNopLogger()))
}

func TestNewMaintenanceCoordinatorReturnsNoOpWhenDisabled(t *testing.T) {
	cfg := &pkgconfig.MaintenanceConfig{Enabled: false}
	require.IsType(t, NoOpMaintenance{}, newMaintenanceCoordinator("ignored.db", nil, cfg, logger.NewNopLogger()))
}

func TestNewMaintenanceCoordinatorReturnsRealCoordinatorWhenEnabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maint.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	cfg := &pkgconfig.MaintenanceConfig{Enabled: true, CheckIntervalSeconds: 3600, WALCheckpointMode: "PASSIVE"}
	m := newMaintenanceCoordinator(path, db, cfg, logger.NewNopLogger())
	_, isNoOp := m.(NoOpMaintenance)
	require.False(t, isNoOp)

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	unlock := m.AcquireOperationLock()
	unlock()

	require.NoError(t, m.RunMaintenance(context.Background()))
}

func TestSqliteFileSizeSumsMainAndSiblings(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "db.sqlite")
	require.NoError(t, os.WriteFile(main, []byte("1234567890"), 0o600))
	require.NoError(t, os.WriteFile(main+"-wal", []byte("12345"), 0o600))

	size, err := sqliteFileSize(main)
	require.NoError(t, err)
	require.Equal(t, int64(15), size)
}

func TestSqliteFileSizeIgnoresMissingSiblings(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "db.sqlite")
	require.NoError(t, os.WriteFile(main, []byte("abc"), 0o600))

	size, err := sqliteFileSize(main)
	require.NoError(t, err)
	require.Equal(t, int64(3), size)
}
