// Package query implements the four read-only projections over persisted
// indexer state: summary, batch status, expiry analytics, address summary.
// No method mutates storage; every method is safe to call concurrently with
// an in-progress ingestion scan.
package query

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/swarmstats/indexer/internal/expiry"
	"github.com/swarmstats/indexer/internal/logger"
	"github.com/swarmstats/indexer/internal/metrics"
	"github.com/swarmstats/indexer/internal/registry"
	"github.com/swarmstats/indexer/internal/retry"
	"github.com/swarmstats/indexer/internal/storage"
	"github.com/swarmstats/indexer/pkg/chain"
	"github.com/swarmstats/indexer/pkg/config"
	"github.com/swarmstats/indexer/pkg/types"
)

// Engine answers projections against a storage.Queries surface. Batch-status
// and expiry-analytics calls fetch the current block from the chain client,
// and the current price unless the caller supplies one; live balances are
// fetched only on an explicit refresh.
type Engine struct {
	store storage.Queries
	chain chain.Client
	reg   *registry.Registry
	retry *retry.Policy
	log   *logger.Logger

	blockTimeSeconds float64
}

// New builds a query Engine.
func New(
	store storage.Queries,
	c chain.Client,
	reg *registry.Registry,
	retryCfg config.RetryConfig,
	blockTimeSeconds float64,
	log *logger.Logger,
) *Engine {
	if log == nil {
		log = logger.NewNopLogger()
	}
	policy := retry.New(retry.Config{
		MaxRetries:        retryCfg.MaxRetries,
		InitialDelay:      time.Duration(retryCfg.InitialDelayMs) * time.Millisecond,
		BackoffMultiplier: retryCfg.BackoffMultiplier,
		ExtendedRetryWait: time.Duration(retryCfg.ExtendedRetryWaitSeconds) * time.Second,
	}, retry.DefaultClassifier)

	return &Engine{
		store:            store,
		chain:            c,
		reg:              reg,
		retry:            policy,
		log:              log.WithComponent("query"),
		blockTimeSeconds: blockTimeSeconds,
	}
}

// Summary returns the top-level counters (§4.7 "Summary").
func (e *Engine) Summary(ctx context.Context) (storage.Summary, error) {
	return e.store.Summary(ctx)
}

// currentPrice resolves the active PriceOracle's current price, retried per
// the configured policy.
func (e *Engine) currentPrice(ctx context.Context) (*big.Int, error) {
	oracle, ok := e.reg.FindActive(types.FamilyPriceOracle)
	if !ok {
		return nil, fmt.Errorf("query: no active PriceOracle configured")
	}

	var price types.BigUnsigned
	err := e.retry.Execute(ctx, "current_price", func(ctx context.Context) error {
		p, err := e.chain.CurrentPrice(ctx, oracle.Address)
		if err != nil {
			return err
		}
		price = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query: fetch current price: %w", err)
	}
	return price.Int(), nil
}

// remainingBalance resolves batchID's live remaining balance from the
// active PostageStamp contract.
func (e *Engine) remainingBalance(ctx context.Context, batchID common.Hash) (string, error) {
	postage, ok := e.reg.FindActive(types.FamilyPostageStamp)
	if !ok {
		return "", fmt.Errorf("query: no active PostageStamp configured")
	}

	var balance types.BigUnsigned
	err := e.retry.Execute(ctx, "remaining_balance", func(ctx context.Context) error {
		b, err := e.chain.RemainingBalance(ctx, postage.Address, batchID)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("query: fetch remaining balance for %s: %w", batchID.Hex(), err)
	}
	return balance.String(), nil
}

// currentBlock resolves the chain tip, retried per the configured policy.
func (e *Engine) currentBlock(ctx context.Context) (types.BlockNumber, error) {
	var block types.BlockNumber
	err := e.retry.Execute(ctx, "block_number", func(ctx context.Context) error {
		b, err := e.chain.BlockNumber(ctx)
		if err != nil {
			return err
		}
		block = b
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("query: fetch current block: %w", err)
	}
	return block, nil
}

// BatchStatusEntry is one row of the batch-status projection (§4.7): a
// batch's TTL and expiry under a price, in addition to its identity fields.
type BatchStatusEntry struct {
	BatchID           common.Hash
	Depth             uint8
	Chunks            uint64
	NormalisedBalance string
	TTLBlocks         uint64
	TTLDays           float64
	ExpiryAt          time.Time
}

// BatchStatusSortBy selects the projection's sort column.
type BatchStatusSortBy string

const (
	SortByBatchID BatchStatusSortBy = "batch_id"
	SortByDepth   BatchStatusSortBy = "depth"
	SortByTTL     BatchStatusSortBy = "ttl"
	SortByExpiry  BatchStatusSortBy = "expiry"
)

// BatchStatusOptions tunes the batch-status projection.
type BatchStatusOptions struct {
	// SortBy selects the sort column; empty defaults to SortByBatchID.
	SortBy BatchStatusSortBy
	// Refresh, when true, fetches each batch's live remaining balance from
	// the chain instead of using the last-ingested value.
	Refresh bool
	// HideZeroBalance drops batches whose (possibly refreshed) balance is
	// zero from the result.
	HideZeroBalance bool
	// BasePrice overrides the live PriceOracle price when non-nil.
	BasePrice *big.Int
}

// BatchStatus computes the TTL/expiry projection for every known batch,
// grounded on original_source/commands/batch_status.rs's
// balance/price/depth → ttl_blocks/ttl_days/expiry_date derivation.
func (e *Engine) BatchStatus(ctx context.Context, opts BatchStatusOptions) ([]BatchStatusEntry, error) {
	candidates, err := e.store.ExpiryCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("query: list expiry candidates: %w", err)
	}

	price := opts.BasePrice
	if price == nil {
		price, err = e.currentPrice(ctx)
		if err != nil {
			return nil, err
		}
	}

	currentBlock, err := e.currentBlock(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	entries := make([]BatchStatusEntry, 0, len(candidates))
	for _, c := range candidates {
		balance := c.NormalisedBalance
		if opts.Refresh {
			refreshed, err := e.remainingBalance(ctx, c.BatchID)
			if err != nil {
				e.log.Warnw("refresh remaining balance failed, using last-ingested value", "batchId", c.BatchID.Hex(), "error", err)
			} else {
				balance = refreshed
			}
		}

		result, err := expiry.Compute(expiry.Batch{
			BatchID:           c.BatchID,
			Depth:             c.Depth,
			NormalisedBalance: balance,
			CurrentBlock:      currentBlock,
			CurrentTimestamp:  now,
		}, e.blockTimeSeconds, price, nil, expiry.DefaultOptions())
		if err != nil {
			metrics.ExpiryComputed("failed")
			e.log.Warnw("skipping batch with uncomputable ttl", "batchId", c.BatchID.Hex(), "error", err)
			continue
		}
		metrics.ExpiryComputed("ok")

		if opts.HideZeroBalance && result.TTLBlocks == 0 {
			continue
		}

		entries = append(entries, BatchStatusEntry{
			BatchID:           c.BatchID,
			Depth:             c.Depth,
			Chunks:            result.Chunks,
			NormalisedBalance: balance,
			TTLBlocks:         result.TTLBlocks,
			TTLDays:           result.TTLDays,
			ExpiryAt:          result.ExpiryAt,
		})
	}

	sortBatchStatus(entries, opts.SortBy)
	return entries, nil
}

func sortBatchStatus(entries []BatchStatusEntry, by BatchStatusSortBy) {
	switch by {
	case SortByDepth:
		sort.Slice(entries, func(i, j int) bool { return entries[i].Depth > entries[j].Depth })
	case SortByTTL:
		sort.Slice(entries, func(i, j int) bool { return entries[i].TTLBlocks > entries[j].TTLBlocks })
	case SortByExpiry:
		sort.Slice(entries, func(i, j int) bool { return entries[i].ExpiryAt.Before(entries[j].ExpiryAt) })
	default:
		sort.Slice(entries, func(i, j int) bool { return entries[i].BatchID.Hex() < entries[j].BatchID.Hex() })
	}
}

// ExpiryAnalyticsOptions tunes the expiry-analytics projection.
type ExpiryAnalyticsOptions struct {
	Granularity expiry.Granularity
	// PriceChange, when non-nil, runs the price-trajectory fixed-point
	// solver instead of a flat-price TTL for every candidate.
	PriceChange *expiry.PriceChange
	BasePrice   *big.Int
}

// ExpiryAnalytics buckets every known batch's projected expiry into
// periods, grounded on original_source/commands/expiry_analytics.rs's
// aggregate-then-bucket pipeline.
func (e *Engine) ExpiryAnalytics(ctx context.Context, opts ExpiryAnalyticsOptions) ([]expiry.Period, error) {
	granularity := opts.Granularity
	if !granularity.Valid() {
		granularity = expiry.GranularityDay
	}

	candidates, err := e.store.ExpiryCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("query: list expiry candidates: %w", err)
	}

	price := opts.BasePrice
	if price == nil {
		price, err = e.currentPrice(ctx)
		if err != nil {
			return nil, err
		}
	}

	currentBlock, err := e.currentBlock(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	results := make([]expiry.Result, 0, len(candidates))
	for _, c := range candidates {
		result, err := expiry.Compute(expiry.Batch{
			BatchID:           c.BatchID,
			Depth:             c.Depth,
			NormalisedBalance: c.NormalisedBalance,
			CurrentBlock:      currentBlock,
			CurrentTimestamp:  now,
		}, e.blockTimeSeconds, price, opts.PriceChange, expiry.DefaultOptions())
		if err != nil {
			metrics.ExpiryComputed("failed")
			e.log.Warnw("skipping batch in expiry analytics", "batchId", c.BatchID.Hex(), "error", err)
			continue
		}
		metrics.ExpiryComputed("ok")
		results = append(results, result)
	}

	return expiry.Aggregate(results, granularity), nil
}

// AddressRole is the role an address plays in the delegation model, per
// spec.md §4.7's "surfaces the delegation case (owner ≠ sender)".
type AddressRole string

const (
	RoleBuyer   AddressRole = "buyer"
	RoleFunder  AddressRole = "funder"
	RoleBoth    AddressRole = "both"
	RoleContract AddressRole = "contract"
)

// AddressSummaryEntry is the address-summary projection (§4.7).
type AddressSummaryEntry struct {
	Address              common.Address
	Role                 AddressRole
	TotalStampsPurchased uint64
	TotalAmountSpent     string
	TopFunders           []storage.FunderShare
	FundedAddresses      []common.Address
	FirstSeen            time.Time
	LastSeen             time.Time
	TransactionCount     uint64
	// Delegated reports whether this address took part in a delegated
	// purchase on either side: as funder (it has funded addresses) or as
	// funded owner (it has top funders).
	Delegated bool
}

// AddressSummary returns the address-summary projection for address.
func (e *Engine) AddressSummary(ctx context.Context, address common.Address) (*AddressSummaryEntry, error) {
	record, err := e.store.AddressSummary(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("query: address summary for %s: %w", address.Hex(), err)
	}
	if record == nil {
		return nil, nil
	}

	return &AddressSummaryEntry{
		Address:              record.Address,
		Role:                 AddressRole(record.Classification),
		TotalStampsPurchased: record.TotalStampsPurchased,
		TotalAmountSpent:     record.TotalAmountSpent,
		TopFunders:           record.TopFunders,
		FundedAddresses:      record.FundedAddresses,
		FirstSeen:            record.FirstSeen,
		LastSeen:             record.LastSeen,
		TransactionCount:     record.TransactionCount,
		Delegated:            len(record.FundedAddresses) > 0 || len(record.TopFunders) > 0,
	}, nil
}
