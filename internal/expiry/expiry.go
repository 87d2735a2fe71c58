// Package expiry computes batch time-to-live under a storage price, and
// under exponential price trajectories, using the integer-safe TTL formula
// and the price-trajectory fixed-point solver described for the ingested
// batch table.
package expiry

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/swarmstats/indexer/pkg/types"
)

// ChunkSizeBytes is the fixed payload size of one Swarm chunk, used to
// convert a chunk count into a storage-capacity byte count.
const ChunkSizeBytes = 4096

// ErrConvergenceFailed is returned when the price-trajectory fixed point
// does not settle within MaxIterations.
var ErrConvergenceFailed = errors.New("expiry: price trajectory did not converge")

// PriceChange describes an exponential price trajectory: percentageChange
// over days, expressed as a per-day multiplicative growth factor.
type PriceChange struct {
	PercentageChange float64
	Days             float64
}

// NewPriceChange validates and constructs a PriceChange.
func NewPriceChange(percentageChange, days float64) (PriceChange, error) {
	if days <= 0 {
		return PriceChange{}, fmt.Errorf("expiry: price change days must be positive, got %v", days)
	}
	return PriceChange{PercentageChange: percentageChange, Days: days}, nil
}

// DailyGrowthRate returns r = (1 + percentage/100)^(1/days).
func (c PriceChange) DailyGrowthRate() float64 {
	return math.Pow(1+c.PercentageChange/100, 1/c.Days)
}

// AveragePrice returns the time-average of an exponential price trajectory
// starting at currentPrice over a TTL of ttlDays days:
//
//	avg = currentPrice × (r^ttlDays - 1) / (ln(r) × ttlDays)
//
// which reduces to currentPrice when r ≈ 1 (no growth).
func (c PriceChange) AveragePrice(currentPrice *big.Int, ttlDays float64) *big.Int {
	if ttlDays <= 0 {
		return new(big.Int).Set(currentPrice)
	}

	r := c.DailyGrowthRate()
	if math.Abs(r-1) < 1e-10 {
		return new(big.Int).Set(currentPrice)
	}

	rToTTL := math.Pow(r, ttlDays)
	multiplier := (rToTTL - 1) / (math.Log(r) * ttlDays)
	// An overflowing trajectory yields Inf or NaN; cap it so big.Float stays finite.
	if math.IsNaN(multiplier) || math.IsInf(multiplier, 1) {
		multiplier = math.MaxFloat64
	}

	current := new(big.Float).SetInt(currentPrice)
	avg := new(big.Float).Mul(current, big.NewFloat(multiplier))
	rounded, _ := avg.Add(avg, big.NewFloat(0.5)).Int(nil)
	return rounded
}

// CalculateTTLBlocks returns floor(normalisedBalance / (pricePerChunkPerBlock
// × chunks)), where chunks = 2^depth. All arithmetic is big-integer; only
// the final division truncates.
func CalculateTTLBlocks(normalisedBalance string, depth uint8, pricePerChunkPerBlock *big.Int) (uint64, error) {
	balance, err := types.ParseBigUnsigned(normalisedBalance)
	if err != nil {
		return 0, fmt.Errorf("expiry: invalid normalised balance %q: %w", normalisedBalance, err)
	}
	if pricePerChunkPerBlock == nil || pricePerChunkPerBlock.Sign() <= 0 {
		return 0, errors.New("expiry: price per chunk per block must be positive")
	}

	chunks := new(big.Int).Lsh(big.NewInt(1), uint(depth))
	denominator := new(big.Int).Mul(pricePerChunkPerBlock, chunks)

	ttl := new(big.Int).Div(balance.Int(), denominator)
	if !ttl.IsUint64() {
		return 0, fmt.Errorf("expiry: ttl_blocks overflows uint64 for balance %s", normalisedBalance)
	}
	return ttl.Uint64(), nil
}

// BlocksToDays converts a block count to days given the chain's block time.
func BlocksToDays(blocks uint64, blockTimeSeconds float64) float64 {
	const secondsPerDay = 86400.0
	return float64(blocks) * blockTimeSeconds / secondsPerDay
}

// DaysToBlocks converts a day count to blocks given the chain's block time.
func DaysToBlocks(days, blockTimeSeconds float64) uint64 {
	const secondsPerDay = 86400.0
	return uint64(math.Round(days * secondsPerDay / blockTimeSeconds))
}

// Options tunes the price-trajectory fixed-point solver.
type Options struct {
	// MaxIterations bounds the solver before it reports ErrConvergenceFailed.
	MaxIterations int
	// Tolerance is the relative change in ttl_days below which the solver
	// considers the fixed point reached.
	Tolerance float64
	// SinglePass, when true, performs exactly one averaging pass (the
	// prototype's original one-shot estimate) instead of iterating to
	// convergence.
	SinglePass bool
}

// DefaultOptions returns the solver defaults: a handful of iterations, a
// tight relative tolerance, full iteration (not single-pass).
func DefaultOptions() Options {
	return Options{MaxIterations: 20, Tolerance: 1e-6}
}

func (o Options) applyDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 20
	}
	if o.Tolerance <= 0 {
		o.Tolerance = 1e-6
	}
	return o
}

// Result is one batch's computed expiry.
type Result struct {
	BatchID       common.Hash
	Chunks        uint64
	TTLBlocks     uint64
	TTLDays       float64
	ExpiryAtBlock types.BlockNumber
	ExpiryAt      time.Time
	EffectivePrice *big.Int
	Iterations    int
}

// Batch is the subset of a batch record the TTL calculation needs.
type Batch struct {
	BatchID           common.Hash
	Depth             uint8
	NormalisedBalance string
	// CurrentBlock and CurrentTimestamp anchor "now" for ExpiryAtBlock/ExpiryAt.
	CurrentBlock     types.BlockNumber
	CurrentTimestamp time.Time
}

// Compute derives a batch's TTL under basePrice, and — when change is
// non-nil — under the resulting price trajectory via the fixed-point solver
// (or a single averaging pass when opts.SinglePass is set).
func Compute(batch Batch, blockTimeSeconds float64, basePrice *big.Int, change *PriceChange, opts Options) (Result, error) {
	opts = opts.applyDefaults()

	chunks := uint64(1) << batch.Depth
	flatTTL, err := CalculateTTLBlocks(batch.NormalisedBalance, batch.Depth, basePrice)
	if err != nil {
		return Result{}, err
	}

	effectivePrice := basePrice
	ttlBlocks := flatTTL
	iterations := 0

	if change != nil {
		dPrev := BlocksToDays(flatTTL, blockTimeSeconds)
		maxIter := opts.MaxIterations
		if opts.SinglePass {
			maxIter = 1
		}

		for iterations = 1; iterations <= maxIter; iterations++ {
			avgPrice := change.AveragePrice(basePrice, dPrev)
			nextTTL, err := CalculateTTLBlocks(batch.NormalisedBalance, batch.Depth, avgPrice)
			if err != nil {
				return Result{}, err
			}
			dNext := BlocksToDays(nextTTL, blockTimeSeconds)

			effectivePrice = avgPrice
			ttlBlocks = nextTTL

			if opts.SinglePass {
				break
			}
			if dPrev != 0 && math.Abs(dNext-dPrev)/dPrev < opts.Tolerance {
				break
			}
			if iterations == maxIter {
				return Result{}, fmt.Errorf("%w: batch %s after %d iterations", ErrConvergenceFailed, batch.BatchID.Hex(), iterations)
			}
			dPrev = dNext
		}
	}

	ttlDays := BlocksToDays(ttlBlocks, blockTimeSeconds)
	return Result{
		BatchID:        batch.BatchID,
		Chunks:         chunks,
		TTLBlocks:      ttlBlocks,
		TTLDays:        ttlDays,
		ExpiryAtBlock:  batch.CurrentBlock + types.BlockNumber(ttlBlocks),
		ExpiryAt:       batch.CurrentTimestamp.Add(time.Duration(ttlBlocks) * time.Duration(blockTimeSeconds*float64(time.Second))),
		EffectivePrice: effectivePrice,
		Iterations:     iterations,
	}, nil
}
