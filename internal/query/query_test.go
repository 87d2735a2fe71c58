package query

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmstats/indexer/internal/registry"
	"github.com/swarmstats/indexer/internal/storage"
	"github.com/swarmstats/indexer/pkg/chain"
	"github.com/swarmstats/indexer/pkg/config"
	"github.com/swarmstats/indexer/pkg/types"
)

type mockQueries struct {
	summary     storage.Summary
	candidates  []storage.ExpiryCandidate
	addressRows map[common.Address]*storage.AddressSummary
}

func (m *mockQueries) Summary(ctx context.Context) (storage.Summary, error) {
	return m.summary, nil
}

func (m *mockQueries) BatchStatus(ctx context.Context, batchID common.Hash) (*storage.BatchStatus, error) {
	return nil, nil
}

func (m *mockQueries) ExpiryCandidates(ctx context.Context) ([]storage.ExpiryCandidate, error) {
	return m.candidates, nil
}

func (m *mockQueries) AddressSummary(ctx context.Context, address common.Address) (*storage.AddressSummary, error) {
	return m.addressRows[address], nil
}

type mockChain struct {
	block   types.BlockNumber
	price   types.BigUnsigned
	balance types.BigUnsigned
}

func (m *mockChain) BlockNumber(ctx context.Context) (types.BlockNumber, error) { return m.block, nil }
func (m *mockChain) FinalizedBlockNumber(ctx context.Context, finality chain.Finality) (types.BlockNumber, error) {
	return m.block, nil
}
func (m *mockChain) BlockTimestamp(ctx context.Context, block types.BlockNumber) (int64, error) {
	return 0, nil
}
func (m *mockChain) Logs(ctx context.Context, address types.Address, from, to types.BlockNumber) ([]gethtypes.Log, error) {
	return nil, nil
}
func (m *mockChain) Transaction(ctx context.Context, hash common.Hash) (chain.TransactionDetail, error) {
	return chain.TransactionDetail{}, nil
}
func (m *mockChain) Code(ctx context.Context, address types.Address) ([]byte, error) {
	return nil, nil
}
func (m *mockChain) CurrentPrice(ctx context.Context, priceOracleAddress types.Address) (types.BigUnsigned, error) {
	return m.price, nil
}
func (m *mockChain) RemainingBalance(ctx context.Context, postageStampAddress types.Address, batchID common.Hash) (types.BigUnsigned, error) {
	return m.balance, nil
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	postage, err := types.NewAddress("0x1111111111111111111111111111111111111111")
	require.NoError(t, err)
	oracle, err := types.NewAddress("0x2222222222222222222222222222222222222222")
	require.NoError(t, err)

	reg, err := registry.New([]registry.ContractMetadata{
		{
			Name:            "PostageStamp-v1",
			Family:          types.FamilyPostageStamp,
			Address:         postage,
			DeploymentBlock: 0,
			Active:          true,
		},
		{
			Name:            "PriceOracle-v1",
			Family:          types.FamilyPriceOracle,
			Address:         oracle,
			DeploymentBlock: 0,
			Active:          true,
		},
	})
	require.NoError(t, err)
	return reg
}

func TestSummaryPassesThrough(t *testing.T) {
	q := &mockQueries{summary: storage.Summary{TotalBatches: 5, LastSyncedBlock: 100}}
	e := New(q, &mockChain{}, testRegistry(t), config.RetryConfig{}, 5, nil)

	got, err := e.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.TotalBatches)
	assert.Equal(t, uint64(100), got.LastSyncedBlock)
}

func TestBatchStatusComputesTTL(t *testing.T) {
	q := &mockQueries{candidates: []storage.ExpiryCandidate{
		{BatchID: common.HexToHash("0x1"), Depth: 20, NormalisedBalance: "10000000000000"},
		{BatchID: common.HexToHash("0x2"), Depth: 20, NormalisedBalance: "0"},
	}}
	c := &mockChain{block: 1000, price: types.BigUnsignedFromUint64(24000)}
	e := New(q, c, testRegistry(t), config.RetryConfig{}, 5, nil)

	entries, err := e.BatchStatus(context.Background(), BatchStatusOptions{SortBy: SortByTTL})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(397), entries[0].TTLBlocks)
	assert.Equal(t, common.HexToHash("0x1"), entries[0].BatchID)
}

func TestBatchStatusHidesZeroBalance(t *testing.T) {
	q := &mockQueries{candidates: []storage.ExpiryCandidate{
		{BatchID: common.HexToHash("0x1"), Depth: 20, NormalisedBalance: "10000000000000"},
		{BatchID: common.HexToHash("0x2"), Depth: 20, NormalisedBalance: "0"},
	}}
	c := &mockChain{block: 1000, price: types.BigUnsignedFromUint64(24000)}
	e := New(q, c, testRegistry(t), config.RetryConfig{}, 5, nil)

	entries, err := e.BatchStatus(context.Background(), BatchStatusOptions{HideZeroBalance: true})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, common.HexToHash("0x1"), entries[0].BatchID)
}

func TestBatchStatusUsesBasePriceOverride(t *testing.T) {
	q := &mockQueries{candidates: []storage.ExpiryCandidate{
		{BatchID: common.HexToHash("0x1"), Depth: 20, NormalisedBalance: "10000000000000"},
	}}
	c := &mockChain{block: 1000, price: types.BigUnsignedFromUint64(1)}
	e := New(q, c, testRegistry(t), config.RetryConfig{}, 5, nil)

	entries, err := e.BatchStatus(context.Background(), BatchStatusOptions{BasePrice: big.NewInt(24000)})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(397), entries[0].TTLBlocks)
}

func TestExpiryAnalyticsBucketsByDay(t *testing.T) {
	q := &mockQueries{candidates: []storage.ExpiryCandidate{
		{BatchID: common.HexToHash("0x1"), Depth: 20, NormalisedBalance: "10000000000000"},
	}}
	c := &mockChain{block: 1000, price: types.BigUnsignedFromUint64(24000)}
	e := New(q, c, testRegistry(t), config.RetryConfig{}, 5, nil)

	periods, err := e.ExpiryAnalytics(context.Background(), ExpiryAnalyticsOptions{})
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, uint64(1)<<20, periods[0].TotalChunks)
}

func TestAddressSummaryMapsClassificationToRole(t *testing.T) {
	addr := common.HexToAddress("0xabc")
	q := &mockQueries{addressRows: map[common.Address]*storage.AddressSummary{
		addr: {
			Address:              addr,
			Classification:       storage.ClassificationFunder,
			TotalStampsPurchased: 3,
			FundedAddresses:      []common.Address{common.HexToAddress("0xdef")},
			FirstSeen:            time.Unix(0, 0),
			LastSeen:             time.Unix(100, 0),
		},
	}}
	e := New(q, &mockChain{}, testRegistry(t), config.RetryConfig{}, 5, nil)

	got, err := e.AddressSummary(context.Background(), addr)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, RoleFunder, got.Role)
	assert.True(t, got.Delegated)
}

func TestAddressSummaryReturnsNilForUnknownAddress(t *testing.T) {
	q := &mockQueries{addressRows: map[common.Address]*storage.AddressSummary{}}
	e := New(q, &mockChain{}, testRegistry(t), config.RetryConfig{}, 5, nil)

	got, err := e.AddressSummary(context.Background(), common.HexToAddress("0xnone"))
	require.NoError(t, err)
	assert.Nil(t, got)
}
