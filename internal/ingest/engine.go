// Package ingest drives the chunked historical/catch-up scan described by
// the storage layer's chunk cache: for every block range and every
// registered contract whose deployment window intersects it, fetch logs,
// decode them, resolve the owner/payer/sender address triple, and commit
// everything for the chunk in one storage transaction.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"github.com/swarmstats/indexer/internal/decoder"
	"github.com/swarmstats/indexer/internal/logger"
	"github.com/swarmstats/indexer/internal/metrics"
	"github.com/swarmstats/indexer/internal/registry"
	"github.com/swarmstats/indexer/internal/retry"
	"github.com/swarmstats/indexer/internal/storage"
	"github.com/swarmstats/indexer/pkg/chain"
	"github.com/swarmstats/indexer/pkg/config"
	"github.com/swarmstats/indexer/pkg/types"
)

// maxContractFanout bounds how many contracts within one chunk fetch logs
// concurrently; decoding and storage still happen sequentially afterwards.
const maxContractFanout = 8

// ChunkResult describes one committed chunk, passed to a Progress callback.
type ChunkResult struct {
	FromBlock  types.BlockNumber
	ToBlock    types.BlockNumber
	EventCount int
}

// Progress is invoked once per successfully committed chunk.
type Progress func(ChunkResult)

// Result summarises one Scan call.
type Result struct {
	LastSyncedBlock types.BlockNumber
	ChunksProcessed int
	EventsWritten   int
}

// blockTimestampBatcher is implemented by internal/chainrpc.Client to
// amortise header lookups across a chunk. Engines built against a fake
// chain.Client in tests fall back to one BlockTimestamp call per distinct
// block.
type blockTimestampBatcher interface {
	BatchBlockTimestamps(ctx context.Context, blocks []types.BlockNumber) (map[types.BlockNumber]int64, error)
}

// Engine drives one ingestion scan against a chain client, a contract
// registry and a storage back-end.
type Engine struct {
	chain    chain.Client
	registry *registry.Registry
	store    storage.Store
	retry    *retry.Policy
	log      *logger.Logger

	chunkSize       uint64
	addressTracking config.AddressTrackingConfig

	onProgress Progress

	mu                sync.Mutex
	contractCodeCache map[common.Address]bool
}

// New builds an Engine. log may be nil, in which case logging is a no-op.
func New(
	c chain.Client,
	r *registry.Registry,
	s storage.Store,
	retryCfg config.RetryConfig,
	blockchainCfg config.BlockchainConfig,
	addressTracking config.AddressTrackingConfig,
	log *logger.Logger,
) *Engine {
	policy := retry.New(retry.Config{
		MaxRetries:        retryCfg.MaxRetries,
		InitialDelay:      time.Duration(retryCfg.InitialDelayMs) * time.Millisecond,
		BackoffMultiplier: retryCfg.BackoffMultiplier,
		ExtendedRetryWait: time.Duration(retryCfg.ExtendedRetryWaitSeconds) * time.Second,
	}, retry.DefaultClassifier)

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Engine{
		chain:             c,
		registry:          r,
		store:             s,
		retry:             policy,
		log:               log.WithComponent("ingest"),
		chunkSize:         blockchainCfg.ChunkSize,
		addressTracking:   addressTracking,
		contractCodeCache: make(map[common.Address]bool),
	}
}

// OnProgress registers a callback invoked after each chunk commits. Not
// safe to call concurrently with Scan.
func (e *Engine) OnProgress(fn Progress) { e.onProgress = fn }

// LastSyncedBlock returns the block number of the last chunk committed by
// any previous Scan, or ok=false if no chunk has ever been committed.
func (e *Engine) LastSyncedBlock(ctx context.Context) (block types.BlockNumber, ok bool, err error) {
	value, ok, err := e.store.GetKV(ctx, "last_synced_block")
	if err != nil || !ok {
		return 0, ok, err
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("ingest: parse last_synced_block %q: %w", value, err)
	}
	return types.BlockNumber(parsed), true, nil
}

// Scan processes every block in the inclusive range [from, to] in
// chunkSize-block steps, skipping (contract, range) pairs already recorded
// in the chunk cache, and returns the last block whose chunk committed.
// A non-retryable failure aborts the scan with the uncommitted chunk left
// untouched, so a subsequent Scan starting from the same block resumes
// cleanly.
func (e *Engine) Scan(ctx context.Context, from, to types.BlockNumber) (Result, error) {
	if to < from {
		return Result{}, fmt.Errorf("ingest: scan range invalid: from %s > to %s", from, to)
	}

	var result Result
	for lo := from; lo <= to; lo += types.BlockNumber(e.chunkSize) {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		hi := lo + types.BlockNumber(e.chunkSize) - 1
		if hi > to {
			hi = to
		}

		chunkStart := time.Now()
		eventCount, err := e.processChunk(ctx, lo, hi)
		if err != nil {
			return result, fmt.Errorf("ingest: chunk [%s,%s]: %w", lo, hi, err)
		}
		metrics.ChunkCommitted("all", eventCount, time.Since(chunkStart), uint64(hi))

		result.LastSyncedBlock = hi
		result.ChunksProcessed++
		result.EventsWritten += eventCount

		if e.onProgress != nil {
			e.onProgress(ChunkResult{FromBlock: lo, ToBlock: hi, EventCount: eventCount})
		}
	}
	return result, nil
}

// decodedEvent is one materialised log, ready to be written inside a chunk
// transaction. Exactly one of stamp/incentive is set.
type decodedEvent struct {
	blockNumber uint64
	logIndex    uint

	stamp     *decoder.StampEvent
	incentive *decoder.StorageIncentivesEvent

	txDetail       *storage.TxDetail
	fromAddress    *common.Address
	fromIsContract bool
}

type contractFetch struct {
	contract  registry.ContractMetadata
	chunkHash string
	skip      bool
	events    []decodedEvent
}

// processChunk fetches and decodes logs for every intersecting contract
// concurrently, then commits the whole chunk (events, batch mutations,
// address/interaction upserts, chunk-cache rows, last-synced marker) as one
// storage transaction.
func (e *Engine) processChunk(ctx context.Context, lo, hi types.BlockNumber) (int, error) {
	contracts := e.registry.AllIntersecting(lo, hi)
	fetches := make([]contractFetch, len(contracts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxContractFanout)
	for i, contract := range contracts {
		i, contract := i, contract
		g.Go(func() error {
			hash := chunkHash(contract.Address, lo, hi)

			processed, err := e.store.ChunkProcessed(gctx, hash)
			if err != nil {
				return fmt.Errorf("check chunk cache for %s: %w", contract.Name, err)
			}
			if processed {
				fetches[i] = contractFetch{contract: contract, chunkHash: hash, skip: true}
				return nil
			}

			events, err := e.fetchAndDecode(gctx, contract, lo, hi)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", contract.Name, err)
			}
			fetches[i] = contractFetch{contract: contract, chunkHash: hash, events: events}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var all []decodedEvent
	for _, f := range fetches {
		all = append(all, f.events...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].blockNumber != all[j].blockNumber {
			return all[i].blockNumber < all[j].blockNumber
		}
		return all[i].logIndex < all[j].logIndex
	})

	err := e.store.WithinChunk(ctx, func(w storage.ChunkWriter) error {
		touches := make(map[common.Address]*addressTouch)
		for _, ev := range all {
			if err := e.applyEvent(ctx, w, ev, touches); err != nil {
				return err
			}
		}
		if err := e.flushAddressTouches(ctx, w, touches); err != nil {
			return err
		}

		for _, f := range fetches {
			if f.skip {
				continue
			}
			if err := w.RecordChunk(storage.ChunkCacheEntry{
				ChunkHash:       f.chunkHash,
				ContractAddress: toCommonAddress(f.contract.Address),
				FromBlock:       uint64(lo),
				ToBlock:         uint64(hi),
				ProcessedAt:     time.Now().UTC(),
				EventCount:      len(f.events),
			}); err != nil {
				return fmt.Errorf("record chunk for %s: %w", f.contract.Name, err)
			}
		}

		return w.SetKV("last_synced_block", hi.String())
	})
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// fetchAndDecode retrieves every log contract emitted in [lo, hi], decodes
// it, and — when address tracking is enabled — resolves the side-channel
// data (transaction sender, contract-ness) a stamp event needs. All chain
// calls happen here, before any storage transaction opens.
func (e *Engine) fetchAndDecode(ctx context.Context, contract registry.ContractMetadata, lo, hi types.BlockNumber) ([]decodedEvent, error) {
	var logs []gethtypes.Log
	err := e.retry.Execute(ctx, "eth_getLogs", func(ctx context.Context) error {
		fetched, err := e.chain.Logs(ctx, contract.Address, lo, hi)
		if err != nil {
			return err
		}
		logs = fetched
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, nil
	}

	timestamps, err := e.blockTimestamps(ctx, logs)
	if err != nil {
		return nil, err
	}

	expectedAddress := toCommonAddress(contract.Address)
	events := make([]decodedEvent, 0, len(logs))
	for i := range logs {
		raw := logs[i]
		decoded, err := decoder.Decode(contract.Family, expectedAddress, &raw, contract.Name, types.BlockNumber(raw.BlockNumber))
		if err != nil {
			var unknown *decoder.ErrUnknownEvent
			if errors.As(err, &unknown) {
				// Expected, high-volume: most topics a contract emits aren't
				// ones this decoder family tracks. No operator signal needed.
				metrics.DecodeSkip(contract.Name, "unknown_event")
				continue
			}

			reason := "malformed"
			var mismatch *decoder.ErrAddressMismatch
			if errors.As(err, &mismatch) {
				reason = "address_mismatch"
			}
			e.log.Warnw("skipping log", "contract", contract.Name, "tx", raw.TxHash.Hex(), "logIndex", raw.Index, "reason", err)
			metrics.DecodeSkip(contract.Name, reason)
			continue
		}

		ts := time.Unix(timestamps[types.BlockNumber(raw.BlockNumber)], 0).UTC()
		ev := decodedEvent{blockNumber: raw.BlockNumber, logIndex: raw.Index}

		switch typed := decoded.(type) {
		case *decoder.StampEvent:
			typed.BlockTimestamp = ts
			if e.addressTracking.Enabled {
				if err := e.resolveStampSideChannel(ctx, typed, &ev); err != nil {
					return nil, fmt.Errorf("resolve address side channel for %s: %w", raw.TxHash.Hex(), err)
				}
			}
			ev.stamp = typed
		case *decoder.StorageIncentivesEvent:
			typed.BlockTimestamp = ts
			ev.incentive = typed
		default:
			return nil, fmt.Errorf("decoder returned unexpected type %T", decoded)
		}
		events = append(events, ev)
	}
	return events, nil
}

// blockTimestamps resolves the wall-clock timestamp of every distinct block
// referenced by logs, preferring a batching call if the chain client
// supports it.
func (e *Engine) blockTimestamps(ctx context.Context, logs []gethtypes.Log) (map[types.BlockNumber]int64, error) {
	seen := make(map[types.BlockNumber]struct{}, len(logs))
	blocks := make([]types.BlockNumber, 0, len(logs))
	for _, l := range logs {
		b := types.BlockNumber(l.BlockNumber)
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		blocks = append(blocks, b)
	}

	if batcher, ok := e.chain.(blockTimestampBatcher); ok {
		var out map[types.BlockNumber]int64
		err := e.retry.Execute(ctx, "batch_block_timestamps", func(ctx context.Context) error {
			result, err := batcher.BatchBlockTimestamps(ctx, blocks)
			if err != nil {
				return err
			}
			out = result
			return nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}

	out := make(map[types.BlockNumber]int64, len(blocks))
	for _, b := range blocks {
		b := b
		var ts int64
		if err := e.retry.Execute(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
			v, err := e.chain.BlockTimestamp(ctx, b)
			if err != nil {
				return err
			}
			ts = v
			return nil
		}); err != nil {
			return nil, err
		}
		out[b] = ts
	}
	return out, nil
}

// resolveStampSideChannel fills in a stamp event's transaction sender and
// the sender's contract-ness, consulting the persisted transaction-detail
// cache before issuing a chain call.
func (e *Engine) resolveStampSideChannel(ctx context.Context, event *decoder.StampEvent, ev *decodedEvent) error {
	detail, ok, err := e.store.GetTxDetail(ctx, event.TransactionHash)
	if err != nil {
		return err
	}
	if !ok {
		var txd chain.TransactionDetail
		if err := e.retry.Execute(ctx, "eth_getTransactionByHash", func(ctx context.Context) error {
			d, err := e.chain.Transaction(ctx, event.TransactionHash)
			if err != nil {
				return err
			}
			txd = d
			return nil
		}); err != nil {
			return err
		}

		fresh := &storage.TxDetail{
			TransactionHash:    event.TransactionHash,
			From:               txd.From,
			To:                 txd.To,
			Value:              types.NewBigUnsigned(txd.Value).String(),
			BlockNumber:        event.BlockNumber,
			BlockTimestamp:     event.BlockTimestamp,
			IsContractCreation: txd.IsCreation,
			FetchedAt:          time.Now().UTC(),
		}
		if txd.GasPrice != nil {
			gasPrice := types.NewBigUnsigned(txd.GasPrice).String()
			fresh.GasPrice = &gasPrice
		}
		if len(txd.Input) > 0 {
			input := common.Bytes2Hex(txd.Input)
			fresh.InputData = &input
		}
		detail = fresh
		ev.txDetail = fresh
	}

	from := detail.From
	event.FromAddress = &from
	ev.fromAddress = &from

	isContract, err := e.isContract(ctx, from)
	if err != nil {
		return err
	}
	ev.fromIsContract = isContract
	return nil
}

// isContract reports whether address has deployed bytecode, caching the
// result for the lifetime of the Engine since code never disappears once
// deployed.
func (e *Engine) isContract(ctx context.Context, address common.Address) (bool, error) {
	e.mu.Lock()
	cached, ok := e.contractCodeCache[address]
	e.mu.Unlock()
	if ok {
		return cached, nil
	}

	addr, err := toTypesAddress(address)
	if err != nil {
		return false, err
	}

	var code []byte
	if err := e.retry.Execute(ctx, "eth_getCode", func(ctx context.Context) error {
		c, err := e.chain.Code(ctx, addr)
		if err != nil {
			return err
		}
		code = c
		return nil
	}); err != nil {
		return false, err
	}

	isContract := len(code) > 0
	e.mu.Lock()
	e.contractCodeCache[address] = isContract
	e.mu.Unlock()
	return isContract, nil
}

// applyEvent writes one decoded event's tables inside the chunk
// transaction. Address-record mutations are accumulated into touches
// rather than written immediately, since a same-chunk address touched by
// two events must be read-modified-written exactly once (the version
// column's compare-and-set would otherwise silently drop the second
// write).
func (e *Engine) applyEvent(ctx context.Context, w storage.ChunkWriter, ev decodedEvent, touches map[common.Address]*addressTouch) error {
	switch {
	case ev.stamp != nil:
		return e.applyStampEvent(w, ev, touches)
	case ev.incentive != nil:
		if err := w.UpsertStorageIncentivesEvent(ev.incentive); err != nil {
			return fmt.Errorf("upsert storage incentives event: %w", err)
		}
		return nil
	default:
		return errors.New("ingest: decoded event carries no payload")
	}
}

func (e *Engine) applyStampEvent(w storage.ChunkWriter, ev decodedEvent, touches map[common.Address]*addressTouch) error {
	event := ev.stamp
	if err := w.UpsertStampEvent(event); err != nil {
		return fmt.Errorf("upsert stamp event: %w", err)
	}

	switch event.EventType {
	case decoder.StampEventBatchCreated:
		if event.OwnerAddress == nil {
			return fmt.Errorf("batch created event %s missing owner address", event.BatchID.Hex())
		}
		if err := w.UpsertBatchCreated(storage.BatchRecord{
			BatchID:           event.BatchID,
			OwnerAddress:      *event.OwnerAddress,
			PayerAddress:      event.PayerAddress,
			Depth:             derefU8(event.Depth),
			BucketDepth:       derefU8(event.BucketDepth),
			ImmutableFlag:     derefBool(event.ImmutableFlag),
			NormalisedBalance: derefStr(event.NormalisedBalance),
			BlockNumber:       event.BlockNumber,
			CreatedAt:         event.BlockTimestamp,
			ContractFamily:    event.ContractFamily,
		}); err != nil {
			return fmt.Errorf("upsert batch created: %w", err)
		}
	case decoder.StampEventBatchTopUp:
		if err := w.ApplyBatchTopUp(event.BatchID, derefStr(event.NormalisedBalance)); err != nil {
			return fmt.Errorf("apply batch top-up: %w", err)
		}
	case decoder.StampEventBatchDepthIncrease:
		if err := w.ApplyBatchDepthIncrease(event.BatchID, derefU8(event.NewDepth), derefStr(event.NormalisedBalance)); err != nil {
			return fmt.Errorf("apply batch depth increase: %w", err)
		}
	}

	if !e.addressTracking.Enabled || ev.fromAddress == nil {
		return nil
	}

	if ev.txDetail != nil {
		if err := w.UpsertTxDetail(*ev.txDetail); err != nil {
			return fmt.Errorf("upsert tx detail: %w", err)
		}
	}

	from := *ev.fromAddress
	isDelegated := event.EventType == decoder.StampEventBatchCreated &&
		event.OwnerAddress != nil && *event.OwnerAddress != from

	touchAddress(touches, from, event.BlockNumber, event.BlockTimestamp, ev.fromIsContract, isDelegated, nil)

	if event.EventType != decoder.StampEventBatchCreated || event.OwnerAddress == nil {
		return nil
	}
	owner := *event.OwnerAddress
	touchAddress(touches, owner, event.BlockNumber, event.BlockTimestamp, false, false, event.TotalAmount)

	if err := w.LinkAddressStamp(owner, event.BatchID); err != nil {
		return fmt.Errorf("link address stamp: %w", err)
	}

	if isDelegated {
		if err := w.UpsertInteraction(storage.AddressInteraction{
			From:            from,
			To:              owner,
			TransactionHash: event.TransactionHash,
			Amount:          derefStr(event.TotalAmount),
			BlockNumber:     event.BlockNumber,
			BlockTimestamp:  event.BlockTimestamp,
			RelatedToStamp:  true,
			StampBatchID:    &event.BatchID,
		}); err != nil {
			return fmt.Errorf("upsert interaction: %w", err)
		}
		if err := w.LinkAddressFunded(from, owner); err != nil {
			return fmt.Errorf("link address funded: %w", err)
		}
	}
	return nil
}

// addressTouch accumulates every mutation a chunk's events apply to one
// address, so flushAddressTouches can read-modify-write it exactly once.
type addressTouch struct {
	firstBlock     uint64
	lastBlock      uint64
	firstSeen      time.Time
	lastSeen       time.Time
	txCount        uint64
	isContract     bool
	isFunder       bool
	purchases      uint64
	purchaseAmount string
}

func touchAddress(
	touches map[common.Address]*addressTouch,
	addr common.Address,
	blockNumber uint64,
	ts time.Time,
	isContract, isFunder bool,
	purchaseAmount *string,
) {
	t, ok := touches[addr]
	if !ok {
		t = &addressTouch{firstBlock: blockNumber, lastBlock: blockNumber, firstSeen: ts, lastSeen: ts}
		touches[addr] = t
	}
	if blockNumber < t.firstBlock {
		t.firstBlock = blockNumber
		t.firstSeen = ts
	}
	if blockNumber > t.lastBlock {
		t.lastBlock = blockNumber
		t.lastSeen = ts
	}
	t.txCount++
	t.isContract = t.isContract || isContract
	t.isFunder = t.isFunder || isFunder
	if purchaseAmount != nil {
		t.purchases++
		t.purchaseAmount = addDecimalStrings(t.purchaseAmount, *purchaseAmount)
	}
}

// flushAddressTouches applies every accumulated address mutation exactly
// once, reading each address's current record and writing back the merged
// result under the storage layer's version compare-and-set.
func (e *Engine) flushAddressTouches(ctx context.Context, w storage.ChunkWriter, touches map[common.Address]*addressTouch) error {
	for addr, t := range touches {
		existing, ok, err := e.store.GetAddress(ctx, addr)
		if err != nil {
			return fmt.Errorf("read address %s: %w", addr.Hex(), err)
		}

		record := storage.AddressRecord{
			Address:    addr,
			FirstSeen:  t.firstSeen,
			LastSeen:   t.lastSeen,
			FirstBlock: t.firstBlock,
			LastBlock:  t.lastBlock,
		}
		if ok {
			record = *existing
			if t.firstSeen.Before(record.FirstSeen) {
				record.FirstSeen = t.firstSeen
				record.FirstBlock = t.firstBlock
			}
			if t.lastSeen.After(record.LastSeen) {
				record.LastSeen = t.lastSeen
				record.LastBlock = t.lastBlock
			}
		}

		record.TransactionCount += t.txCount
		record.IsContract = record.IsContract || t.isContract
		record.IsFunder = record.IsFunder || t.isFunder
		if t.purchases > 0 {
			record.TotalStampsPurchased += t.purchases
			record.TotalAmountSpent = addDecimalStrings(record.TotalAmountSpent, t.purchaseAmount)
		}
		record.Classification = classifyAddress(record)

		if err := w.UpsertAddress(record); err != nil {
			return fmt.Errorf("upsert address %s: %w", addr.Hex(), err)
		}
	}
	return nil
}

func classifyAddress(r storage.AddressRecord) storage.AddressClassification {
	switch {
	case r.IsContract:
		return storage.ClassificationContract
	case r.IsFunder && r.TotalStampsPurchased > 0:
		return storage.ClassificationBoth
	case r.IsFunder:
		return storage.ClassificationFunder
	default:
		return storage.ClassificationBuyer
	}
}

func addDecimalStrings(a, b string) string {
	av, err := types.ParseBigUnsigned(a)
	if err != nil {
		av = types.BigUnsignedFromUint64(0)
	}
	bv, err := types.ParseBigUnsigned(b)
	if err != nil {
		bv = types.BigUnsignedFromUint64(0)
	}
	return types.NewBigUnsigned(new(big.Int).Add(av.Int(), bv.Int())).String()
}

// chunkHash derives the chunk-cache key for one (contract, range) pair.
func chunkHash(address types.Address, lo, hi types.BlockNumber) string {
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("%s:%d:%d", address, lo, hi))).Hex()
}

func toCommonAddress(a types.Address) common.Address {
	return common.HexToAddress(string(a))
}

func toTypesAddress(a common.Address) (types.Address, error) {
	return types.NewAddress(a.Hex())
}

func derefU8(v *uint8) uint8 {
	if v == nil {
		return 0
	}
	return *v
}

func derefBool(v *bool) bool {
	if v == nil {
		return false
	}
	return *v
}

func derefStr(v *string) string {
	if v == nil {
		return "0"
	}
	return *v
}
