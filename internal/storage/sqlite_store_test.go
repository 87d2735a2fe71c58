package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/swarmstats/indexer/internal/logger"
	pkgconfig "github.com/swarmstats/indexer/pkg/config"
)

func openTestSQLiteStore(t *testing.T) *sqliteStore {
	t.Helper()
	cfg := pkgconfig.DatabaseConfig{ConnectionString: filepath.Join(t.TempDir(), "store.db")}
	cfg.ApplyDefaults()

	store, err := openSQLite(context.Background(), cfg, nil, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	s, ok := store.(*sqliteStore)
	require.True(t, ok)
	return s
}

// TestUpsertAddressDetectsConcurrentVersionBump reproduces the race
// flushAddressTouches is exposed to: it reads an address record outside a
// chunk transaction, something else (here standing in for
// RecomputeTopFunders) bumps the row's version in between, and the stale
// record is then written through WithinChunk/UpsertAddress.
func TestUpsertAddressDetectsConcurrentVersionBump(t *testing.T) {
	s := openTestSQLiteStore(t)
	ctx := context.Background()
	addr := common.HexToAddress("0x1234567890123456789012345678901234567890")

	require.NoError(t, s.WithinChunk(ctx, func(w ChunkWriter) error {
		return w.UpsertAddress(AddressRecord{
			Address:              addr,
			TotalStampsPurchased: 1,
			TotalAmountSpent:     "100",
			FirstSeen:            time.Now(),
			LastSeen:             time.Now(),
			FirstBlock:           1,
			LastBlock:            1,
			TransactionCount:     1,
			Classification:       ClassificationBuyer,
			Version:              0,
		})
	}))

	staleRecord, ok, err := s.GetAddress(ctx, addr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), staleRecord.Version)

	// Something else bumps the row's version before the chunk holding the
	// stale read gets to commit its own write.
	require.NoError(t, s.UpdateTopFunders(ctx, addr, []FunderShare{{Funder: common.HexToAddress("0x2"), Amount: "5"}}))

	staleRecord.TotalStampsPurchased++
	staleRecord.TransactionCount++
	err = s.WithinChunk(ctx, func(w ChunkWriter) error {
		return w.UpsertAddress(*staleRecord)
	})
	require.Error(t, err)

	var conflict *ErrAddressVersionConflict
	require.True(t, errors.As(err, &conflict), "expected *ErrAddressVersionConflict, got %T: %v", err, err)
	require.Equal(t, addr, conflict.Address)

	// The chunk rolled back: the concurrent top-funders write survives
	// untouched, the stale record's fields were never applied.
	final, ok, err := s.GetAddress(ctx, addr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), final.TotalStampsPurchased)
	require.Len(t, final.TopFunders, 1)
}
