package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/swarmstats/indexer/internal/logger"
	"github.com/swarmstats/indexer/internal/metrics"
	pkgconfig "github.com/swarmstats/indexer/pkg/config"
)

// Maintenance runs periodic WAL-checkpoint and VACUUM housekeeping against
// the embedded sqlite file. The postgres back-end has no equivalent: it
// manages its own storage.
type Maintenance interface {
	Start(ctx context.Context) error
	Stop() error
	AcquireOperationLock() func()
	RunMaintenance(ctx context.Context) error
}

// NoOpMaintenance is used when maintenance is disabled or unconfigured.
type NoOpMaintenance struct{}

func (NoOpMaintenance) Start(ctx context.Context) error       { return nil }
func (NoOpMaintenance) Stop() error                           { return nil }
func (NoOpMaintenance) AcquireOperationLock() func()          { return func() {} }
func (NoOpMaintenance) RunMaintenance(ctx context.Context) error { return nil }

// maintenanceCoordinator periodically checkpoints the WAL and vacuums the
// database file, serialised against chunk writes via opLock: chunk
// transactions hold the read side, maintenance holds the write side.
type maintenanceCoordinator struct {
	db     *sql.DB
	dbPath string
	cfg    pkgconfig.MaintenanceConfig
	log    *logger.Logger

	opLock sync.RWMutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// newMaintenanceCoordinator returns NoOpMaintenance if cfg is nil or
// disabled, otherwise a running maintenanceCoordinator.
func newMaintenanceCoordinator(dbPath string, db *sql.DB, cfg *pkgconfig.MaintenanceConfig, log *logger.Logger) Maintenance {
	if cfg == nil || !cfg.Enabled {
		return NoOpMaintenance{}
	}
	return &maintenanceCoordinator{db: db, dbPath: dbPath, cfg: *cfg, log: log.WithComponent("storage-maintenance")}
}

func (m *maintenanceCoordinator) Start(ctx context.Context) error {
	maintenanceCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	if m.cfg.VacuumOnStartup {
		if err := m.RunMaintenance(maintenanceCtx); err != nil {
			m.log.Warnf("startup maintenance failed: %v", err)
		}
	}

	m.wg.Add(1)
	go m.loop(maintenanceCtx)
	return nil
}

func (m *maintenanceCoordinator) Stop() error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	m.wg.Wait()
	return nil
}

func (m *maintenanceCoordinator) loop(ctx context.Context) {
	defer m.wg.Done()
	interval := time.Duration(m.cfg.CheckIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.RunMaintenance(ctx); err != nil {
				m.log.Warnf("periodic maintenance failed: %v", err)
			}
		}
	}
}

func (m *maintenanceCoordinator) AcquireOperationLock() func() {
	m.opLock.RLock()
	return m.opLock.RUnlock
}

// RunMaintenance runs one WAL-checkpoint-then-VACUUM cycle under an
// exclusive lock, blocking new chunk writes until it completes.
func (m *maintenanceCoordinator) RunMaintenance(ctx context.Context) error {
	start := time.Now()
	metrics.MaintenanceRun()

	m.opLock.Lock()
	defer m.opLock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	initialSize, _ := sqliteFileSize(m.dbPath)

	var maintenanceErr error
	if err := m.walCheckpoint(); err != nil {
		maintenanceErr = fmt.Errorf("wal checkpoint: %w", err)
	}
	if err := m.vacuum(); err != nil {
		if maintenanceErr == nil {
			maintenanceErr = fmt.Errorf("vacuum: %w", err)
		}
	}

	finalSize, err := sqliteFileSize(m.dbPath)
	if err == nil {
		metrics.MaintenanceDBSize(finalSize)
		if initialSize > finalSize {
			metrics.MaintenanceSpaceReclaimed(uint64(initialSize - finalSize))
		}
	}

	metrics.MaintenanceCompleted(maintenanceErr == nil, time.Since(start))
	return maintenanceErr
}

func (m *maintenanceCoordinator) walCheckpoint() error {
	isWAL, err := m.isWALMode()
	if err != nil {
		return err
	}
	if !isWAL {
		return nil
	}

	var busy, logFrames, checkpointed int
	err = m.db.QueryRow(fmt.Sprintf("PRAGMA wal_checkpoint(%s)", m.cfg.WALCheckpointMode)).
		Scan(&busy, &logFrames, &checkpointed)
	if err != nil {
		return err
	}
	metrics.WALCheckpoint(strings.ToLower(m.cfg.WALCheckpointMode))
	return nil
}

func (m *maintenanceCoordinator) vacuum() error {
	if _, err := m.db.Exec("VACUUM"); err != nil {
		return err
	}
	metrics.VacuumRun()
	return nil
}

func (m *maintenanceCoordinator) isWALMode() (bool, error) {
	var mode string
	if err := m.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return false, err
	}
	return strings.EqualFold(mode, "wal"), nil
}

// sqliteFileSize sums the main database file with its -wal and -shm
// siblings, if present.
func sqliteFileSize(dbPath string) (int64, error) {
	var total int64
	for _, suffix := range []string{"", "-wal", "-shm"} {
		info, err := os.Stat(dbPath + suffix)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}
