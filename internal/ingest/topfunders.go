package ingest

import (
	"context"
	"fmt"
	"sort"

	"github.com/swarmstats/indexer/pkg/types"
)

// RecomputeTopFunders recomputes the top_funders projection for every
// address with at least one recorded funding edge. It runs independently
// of any ingestion chunk transaction, since it aggregates across the
// address_interactions table rather than reacting to a single event.
// Safe to run concurrently with an in-progress Scan: address_interactions
// rows are append/update-only, and UpdateTopFunders retries its own
// version compare-and-set on conflict.
func (e *Engine) RecomputeTopFunders(ctx context.Context) (int, error) {
	funded, err := e.store.AllFundedAddresses(ctx)
	if err != nil {
		return 0, fmt.Errorf("list funded addresses: %w", err)
	}

	maxFunders := e.addressTracking.MaxFundersTracked
	if maxFunders <= 0 {
		maxFunders = 10
	}

	updated := 0
	for _, addr := range funded {
		if err := ctx.Err(); err != nil {
			return updated, err
		}

		shares, err := e.store.FundersOf(ctx, addr)
		if err != nil {
			return updated, fmt.Errorf("funders of %s: %w", addr.Hex(), err)
		}
		if len(shares) == 0 {
			continue
		}

		sort.Slice(shares, func(i, j int) bool {
			a, errA := types.ParseBigUnsigned(shares[i].Amount)
			b, errB := types.ParseBigUnsigned(shares[j].Amount)
			if errA != nil || errB != nil {
				return shares[i].Funder.Hex() < shares[j].Funder.Hex()
			}
			return a.Int().Cmp(b.Int()) > 0
		})
		if len(shares) > maxFunders {
			shares = shares[:maxFunders]
		}

		if err := e.store.UpdateTopFunders(ctx, addr, shares); err != nil {
			return updated, fmt.Errorf("update top funders for %s: %w", addr.Hex(), err)
		}
		updated++
	}

	e.log.Debugw("recomputed top funders", "addressesUpdated", updated)
	return updated, nil
}
