package follow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmstats/indexer/internal/ingest"
	"github.com/swarmstats/indexer/pkg/chain"
	"github.com/swarmstats/indexer/pkg/types"
)

type fakeScanner struct {
	lastSynced types.BlockNumber
	hasSynced  bool
	scanCalls  [][2]types.BlockNumber
	scanErr    error
}

func (f *fakeScanner) Scan(ctx context.Context, from, to types.BlockNumber) (ingest.Result, error) {
	f.scanCalls = append(f.scanCalls, [2]types.BlockNumber{from, to})
	if f.scanErr != nil {
		return ingest.Result{}, f.scanErr
	}
	f.lastSynced = to
	f.hasSynced = true
	return ingest.Result{LastSyncedBlock: to, ChunksProcessed: 1, EventsWritten: 3}, nil
}

func (f *fakeScanner) LastSyncedBlock(ctx context.Context) (types.BlockNumber, bool, error) {
	return f.lastSynced, f.hasSynced, nil
}

type fakeChain struct {
	block types.BlockNumber
	err   error
}

func (f *fakeChain) BlockNumber(ctx context.Context) (types.BlockNumber, error) { return f.block, f.err }
func (f *fakeChain) FinalizedBlockNumber(ctx context.Context, finality chain.Finality) (types.BlockNumber, error) {
	return f.block, f.err
}
func (f *fakeChain) BlockTimestamp(ctx context.Context, block types.BlockNumber) (int64, error) {
	return 0, nil
}
func (f *fakeChain) Logs(ctx context.Context, address types.Address, from, to types.BlockNumber) ([]gethtypes.Log, error) {
	return nil, nil
}
func (f *fakeChain) Transaction(ctx context.Context, hash common.Hash) (chain.TransactionDetail, error) {
	return chain.TransactionDetail{}, nil
}
func (f *fakeChain) Code(ctx context.Context, address types.Address) ([]byte, error) { return nil, nil }
func (f *fakeChain) CurrentPrice(ctx context.Context, priceOracleAddress types.Address) (types.BigUnsigned, error) {
	return types.BigUnsigned{}, nil
}
func (f *fakeChain) RemainingBalance(ctx context.Context, postageStampAddress types.Address, batchID common.Hash) (types.BigUnsigned, error) {
	return types.BigUnsigned{}, nil
}

func TestTickScansFromStartBlockOnColdStart(t *testing.T) {
	scanner := &fakeScanner{}
	c := &fakeChain{block: 1000}
	loop := newLoop(scanner, c, Options{SafetyDepth: 10, StartBlock: 5}, nil)

	result, err := loop.tick(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	require.Len(t, scanner.scanCalls, 1)
	assert.Equal(t, types.BlockNumber(5), scanner.scanCalls[0][0])
	assert.Equal(t, types.BlockNumber(990), scanner.scanCalls[0][1])
}

func TestTickResumesFromLastSyncedPlusOne(t *testing.T) {
	scanner := &fakeScanner{lastSynced: 500, hasSynced: true}
	c := &fakeChain{block: 1000}
	loop := newLoop(scanner, c, Options{SafetyDepth: 10}, nil)

	result, err := loop.tick(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	require.Len(t, scanner.scanCalls, 1)
	assert.Equal(t, types.BlockNumber(501), scanner.scanCalls[0][0])
	assert.Equal(t, types.BlockNumber(990), scanner.scanCalls[0][1])
}

func TestTickSkipsWhenNoNewRange(t *testing.T) {
	scanner := &fakeScanner{lastSynced: 995, hasSynced: true}
	c := &fakeChain{block: 1000}
	loop := newLoop(scanner, c, Options{SafetyDepth: 10}, nil)

	result, err := loop.tick(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Empty(t, scanner.scanCalls)
}

func TestTickPropagatesChainTipError(t *testing.T) {
	scanner := &fakeScanner{}
	c := &fakeChain{err: errors.New("rpc down")}
	loop := newLoop(scanner, c, Options{}, nil)

	_, err := loop.tick(context.Background())
	require.Error(t, err)
}

func TestTickPropagatesScanError(t *testing.T) {
	scanner := &fakeScanner{scanErr: errors.New("storage unavailable")}
	c := &fakeChain{block: 1000}
	loop := newLoop(scanner, c, Options{StartBlock: 0}, nil)

	_, err := loop.tick(context.Background())
	require.Error(t, err)
}

func TestTickUsesFinalizedTagDirectlyIgnoringSafetyDepth(t *testing.T) {
	scanner := &fakeScanner{}
	c := &fakeChain{block: 990}
	loop := newLoop(scanner, c, Options{Finality: chain.FinalityFinalized, SafetyDepth: 100, StartBlock: 5}, nil)

	result, err := loop.tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.BlockNumber(990), result.Tip)
	require.Len(t, scanner.scanCalls, 1)
	assert.Equal(t, types.BlockNumber(990), scanner.scanCalls[0][1])
}

func TestRunStopsOnCancellation(t *testing.T) {
	scanner := &fakeScanner{lastSynced: 995, hasSynced: true}
	c := &fakeChain{block: 1000}
	loop := newLoop(scanner, c, Options{SafetyDepth: 10, PollInterval: time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ticks := 0
	loop.OnTick(func(TickResult) {
		ticks++
		if ticks >= 2 {
			cancel()
		}
	})

	err := loop.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, ticks, 2)
}
