package ingest

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/swarmstats/indexer/internal/storage"
	"github.com/swarmstats/indexer/pkg/types"
)

func TestClassifyAddress(t *testing.T) {
	cases := []struct {
		name string
		rec  storageAddressRecordFixture
		want string
	}{
		{"contract wins over everything", storageAddressRecordFixture{isContract: true, isFunder: true, purchases: 3}, "contract"},
		{"funder and buyer is both", storageAddressRecordFixture{isFunder: true, purchases: 1}, "both"},
		{"funder only", storageAddressRecordFixture{isFunder: true}, "funder"},
		{"neither defaults to buyer", storageAddressRecordFixture{}, "buyer"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := classifyAddress(c.rec.toRecord())
			require.Equal(t, c.want, string(got))
		})
	}
}

// storageAddressRecordFixture keeps the classifyAddress test table above
// readable without spelling out storage.AddressRecord's full field list in
// each case.
type storageAddressRecordFixture struct {
	isContract bool
	isFunder   bool
	purchases  uint64
}

func (f storageAddressRecordFixture) toRecord() storage.AddressRecord {
	return storage.AddressRecord{
		IsContract:           f.isContract,
		IsFunder:             f.isFunder,
		TotalStampsPurchased: f.purchases,
	}
}

func TestAddDecimalStrings(t *testing.T) {
	require.Equal(t, "300", addDecimalStrings("100", "200"))
	require.Equal(t, "0", addDecimalStrings("0", "0"))
	require.Equal(t, "5", addDecimalStrings("", "5"), "unparseable left operand treated as zero")
	require.Equal(t, "5", addDecimalStrings("5", "not-a-number"), "unparseable right operand treated as zero")
}

func TestChunkHashIsDeterministicAndRangeSensitive(t *testing.T) {
	addr := types.Address("0x0000000000000000000000000000000000000a")
	a := chunkHash(addr, 100, 200)
	b := chunkHash(addr, 100, 200)
	require.Equal(t, a, b, "same inputs must hash identically")

	c := chunkHash(addr, 100, 201)
	require.NotEqual(t, a, c, "different range must hash differently")

	other := types.Address("0x0000000000000000000000000000000000000b")
	d := chunkHash(other, 100, 200)
	require.NotEqual(t, a, d, "different address must hash differently")
}

func TestTouchAddressAccumulatesAcrossEvents(t *testing.T) {
	touches := make(map[common.Address]*addressTouch)
	addr := common.HexToAddress("0x0000000000000000000000000000000000000a")
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	touchAddress(touches, addr, 100, t0, false, false, nil)
	touchAddress(touches, addr, 105, t1, false, true, strPtr("50"))

	got := touches[addr]
	require.Equal(t, uint64(100), got.firstBlock)
	require.Equal(t, uint64(105), got.lastBlock)
	require.Equal(t, t0, got.firstSeen)
	require.Equal(t, t1, got.lastSeen)
	require.Equal(t, uint64(2), got.txCount)
	require.True(t, got.isFunder)
	require.Equal(t, uint64(1), got.purchases)
	require.Equal(t, "50", got.purchaseAmount)
}

func TestTouchAddressEarlierBlockUpdatesFirstSeen(t *testing.T) {
	touches := make(map[common.Address]*addressTouch)
	addr := common.HexToAddress("0x0000000000000000000000000000000000000a")
	later := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	earlier := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	touchAddress(touches, addr, 200, later, false, false, nil)
	touchAddress(touches, addr, 100, earlier, false, false, nil)

	got := touches[addr]
	require.Equal(t, uint64(100), got.firstBlock)
	require.Equal(t, earlier, got.firstSeen)
	require.Equal(t, uint64(200), got.lastBlock)
	require.Equal(t, later, got.lastSeen)
}

func TestDerefHelpers(t *testing.T) {
	require.Equal(t, uint8(0), derefU8(nil))
	v := uint8(7)
	require.Equal(t, uint8(7), derefU8(&v))

	require.False(t, derefBool(nil))
	b := true
	require.True(t, derefBool(&b))

	require.Equal(t, "0", derefStr(nil))
	s := "42"
	require.Equal(t, "42", derefStr(&s))
}

func TestAddressConversionRoundTrips(t *testing.T) {
	addr := types.Address("0x0000000000000000000000000000000000000a")
	c := toCommonAddress(addr)
	back, err := toTypesAddress(c)
	require.NoError(t, err)
	require.Equal(t, addr, back)
}

func strPtr(s string) *string { return &s }
