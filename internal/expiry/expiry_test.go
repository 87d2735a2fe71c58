package expiry

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmstats/indexer/pkg/types"
)

func TestCalculateTTLBlocks(t *testing.T) {
	tests := []struct {
		name    string
		balance string
		depth   uint8
		price   int64
		want    uint64
		wantErr bool
	}{
		{
			name:    "already expired",
			balance: "10000000000",
			depth:   20,
			price:   24000,
			want:    0,
		},
		{
			name:    "large balance",
			balance: "10000000000000",
			depth:   20,
			price:   24000,
			want:    397,
		},
		{
			name:    "prototype sample",
			balance: "1000000000",
			depth:   20,
			price:   100,
			want:    9,
		},
		{
			name:    "zero price rejected",
			balance: "1000",
			depth:   1,
			price:   0,
			wantErr: true,
		},
		{
			name:    "invalid balance rejected",
			balance: "not-a-number",
			depth:   1,
			price:   1,
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CalculateTTLBlocks(tc.balance, tc.depth, big.NewInt(tc.price))
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBlocksToDaysAndBack(t *testing.T) {
	assert.InDelta(t, 1.0, BlocksToDays(17280, 5), 0.01)
	assert.InDelta(t, 10.0, BlocksToDays(172800, 5), 0.01)
	assert.Equal(t, uint64(17280), DaysToBlocks(1.0, 5))
	assert.Equal(t, uint64(172800), DaysToBlocks(10.0, 5))
}

func TestPriceChangeDailyGrowthRate(t *testing.T) {
	c, err := NewPriceChange(100, 1)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, c.DailyGrowthRate(), 1e-10)

	c, err = NewPriceChange(100, 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.4142135623730951, c.DailyGrowthRate(), 1e-10)
}

func TestPriceChangeRejectsNonPositiveDays(t *testing.T) {
	_, err := NewPriceChange(200, 0)
	require.Error(t, err)
}

func TestAveragePriceNoGrowth(t *testing.T) {
	c := PriceChange{PercentageChange: 0, Days: 10}
	avg := c.AveragePrice(big.NewInt(1000), 30)
	assert.Equal(t, big.NewInt(1000), avg)
}

func TestAveragePriceWithGrowth(t *testing.T) {
	c := PriceChange{PercentageChange: 100, Days: 10}
	avg := c.AveragePrice(big.NewInt(1000), 10)
	assert.Greater(t, avg.Int64(), int64(1000))
	assert.Less(t, avg.Int64(), int64(2000))
	assert.InDelta(t, 1442.0, float64(avg.Int64()), 50)
}

func TestComputeFlatPrice(t *testing.T) {
	batch := Batch{
		BatchID:           common.HexToHash("0x1"),
		Depth:             20,
		NormalisedBalance: "10000000000000",
		CurrentBlock:      1000,
		CurrentTimestamp:  time.Unix(0, 0).UTC(),
	}
	result, err := Compute(batch, 5, big.NewInt(24000), nil, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, uint64(397), result.TTLBlocks)
	assert.Equal(t, uint64(1)<<20, result.Chunks)
	assert.Equal(t, types.BlockNumber(1000+397), result.ExpiryAtBlock)
}

func TestComputeWithPriceTrajectoryConverges(t *testing.T) {
	change, err := NewPriceChange(200, 10)
	require.NoError(t, err)

	// A batch whose flat-price TTL is roughly 30 days.
	balance := new(big.Int).Mul(big.NewInt(24000*1_048_576*30), big.NewInt(17280))
	batch := Batch{
		BatchID:           common.HexToHash("0x2"),
		Depth:             20,
		NormalisedBalance: balance.String(),
		CurrentBlock:      0,
		CurrentTimestamp:  time.Unix(0, 0).UTC(),
	}

	result, err := Compute(batch, 5, big.NewInt(24000), &change, DefaultOptions())
	require.NoError(t, err)
	assert.InDelta(t, 16.5, result.TTLDays, 2.0)
	assert.Greater(t, result.Iterations, 0)
}

func TestComputeSinglePassMatchesOneIteration(t *testing.T) {
	change, err := NewPriceChange(200, 10)
	require.NoError(t, err)

	batch := Batch{
		BatchID:           common.HexToHash("0x3"),
		Depth:             20,
		NormalisedBalance: "10000000000000",
		CurrentBlock:      0,
		CurrentTimestamp:  time.Unix(0, 0).UTC(),
	}

	result, err := Compute(batch, 5, big.NewInt(24000), &change, Options{SinglePass: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Iterations)
}

func TestComputeReportsConvergenceFailure(t *testing.T) {
	change, err := NewPriceChange(1e9, 0.0001)
	require.NoError(t, err)

	batch := Batch{
		BatchID:           common.HexToHash("0x4"),
		Depth:             20,
		NormalisedBalance: "10000000000000000000",
		CurrentBlock:      0,
		CurrentTimestamp:  time.Unix(0, 0).UTC(),
	}

	_, err = Compute(batch, 5, big.NewInt(24000), &change, Options{MaxIterations: 1, Tolerance: 1e-12})
	require.Error(t, err)
}
