package ingest

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/swarmstats/indexer/internal/logger"
	"github.com/swarmstats/indexer/internal/storage"
	"github.com/swarmstats/indexer/pkg/config"
	"github.com/swarmstats/indexer/pkg/types"
)

// fakeFunderStore implements just enough of storage.Store for
// RecomputeTopFunders: AllFundedAddresses, FundersOf, UpdateTopFunders.
// Embedding the nil interface lets every other method panic if the engine
// ever calls it, which would itself be a test failure worth seeing.
type fakeFunderStore struct {
	storage.Store

	funded       []common.Address
	fundersOf    map[common.Address][]storage.FunderShare
	updated      map[common.Address][]storage.FunderShare
	updateErrFor common.Address
}

func (f *fakeFunderStore) AllFundedAddresses(ctx context.Context) ([]common.Address, error) {
	return f.funded, nil
}

func (f *fakeFunderStore) FundersOf(ctx context.Context, funded common.Address) ([]storage.FunderShare, error) {
	return f.fundersOf[funded], nil
}

func (f *fakeFunderStore) UpdateTopFunders(ctx context.Context, funded common.Address, topFunders []storage.FunderShare) error {
	if f.updateErrFor == funded {
		return errTopFundersUpdate
	}
	if f.updated == nil {
		f.updated = make(map[common.Address][]storage.FunderShare)
	}
	f.updated[funded] = topFunders
	return nil
}

var errTopFundersUpdate = errors.New("update top funders failed")

func newTestEngine(store storage.Store, tracking config.AddressTrackingConfig) *Engine {
	return New(nil, nil, store, config.RetryConfig{}, config.BlockchainConfig{ChunkSize: 1}, tracking, logger.NewNopLogger())
}

func addr(hex string) common.Address { return common.HexToAddress(hex) }

func TestRecomputeTopFundersSortsDescendingAndCaps(t *testing.T) {
	funded := addr("0x0000000000000000000000000000000000000a")
	small := addr("0x0000000000000000000000000000000000000b")
	big1 := addr("0x0000000000000000000000000000000000000c")

	store := &fakeFunderStore{
		funded: []common.Address{funded},
		fundersOf: map[common.Address][]storage.FunderShare{
			funded: {
				{Funder: small, Amount: "10"},
				{Funder: big1, Amount: "1000"},
			},
		},
	}
	e := newTestEngine(store, config.AddressTrackingConfig{MaxFundersTracked: 1})

	updated, err := e.RecomputeTopFunders(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, updated)

	got := store.updated[funded]
	require.Len(t, got, 1, "capped at MaxFundersTracked")
	require.Equal(t, big1, got[0].Funder, "largest funder kept")
}

func TestRecomputeTopFundersDefaultsCapWhenUnset(t *testing.T) {
	funded := addr("0x0000000000000000000000000000000000000a")
	shares := make([]storage.FunderShare, 0, 15)
	for i := 0; i < 15; i++ {
		shares = append(shares, storage.FunderShare{
			Funder: common.BigToAddress(big.NewInt(int64(i + 1))),
			Amount: types.NewBigUnsigned(big.NewInt(int64(i + 1))).String(),
		})
	}
	store := &fakeFunderStore{
		funded:    []common.Address{funded},
		fundersOf: map[common.Address][]storage.FunderShare{funded: shares},
	}
	e := newTestEngine(store, config.AddressTrackingConfig{})

	_, err := e.RecomputeTopFunders(context.Background())
	require.NoError(t, err)
	require.Len(t, store.updated[funded], 10, "defaults to top 10 when MaxFundersTracked is unset")
}

func TestRecomputeTopFundersSkipsAddressesWithNoShares(t *testing.T) {
	funded := addr("0x0000000000000000000000000000000000000a")
	store := &fakeFunderStore{funded: []common.Address{funded}}
	e := newTestEngine(store, config.AddressTrackingConfig{})

	updated, err := e.RecomputeTopFunders(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, updated)
	require.Empty(t, store.updated)
}

func TestRecomputeTopFundersPropagatesUpdateError(t *testing.T) {
	funded := addr("0x0000000000000000000000000000000000000a")
	store := &fakeFunderStore{
		funded:       []common.Address{funded},
		fundersOf:    map[common.Address][]storage.FunderShare{funded: {{Funder: addr("0x0000000000000000000000000000000000000b"), Amount: "1"}}},
		updateErrFor: funded,
	}
	e := newTestEngine(store, config.AddressTrackingConfig{})

	_, err := e.RecomputeTopFunders(context.Background())
	require.Error(t, err)
}
