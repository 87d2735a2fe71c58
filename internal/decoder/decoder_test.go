package decoder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/swarmstats/indexer/pkg/types"
)

func packValues(t *testing.T, args abi.Arguments, values ...interface{}) []byte {
	t.Helper()
	data, err := args.PackValues(values)
	require.NoError(t, err)
	return data
}

func TestDecodePostageStampBatchCreated(t *testing.T) {
	owner := common.HexToAddress("0x1111111111111111111111111111111111111a")
	batchID := common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222b")

	log := &gethtypes.Log{
		Topics: []common.Hash{postageBatchCreatedTopic, batchID},
		Data: packValues(t, postageBatchCreatedArgs,
			big.NewInt(1_000_000), big.NewInt(500_000), owner, uint8(20), uint8(16), true),
		BlockNumber: 31_400_000,
		TxHash:      common.HexToHash("0x01"),
		Index:       7,
	}

	out, err := decodePostageStampLog(log, "PostageStamp-v1", 0)
	require.NoError(t, err)

	event, ok := out.(*StampEvent)
	require.True(t, ok)
	require.Equal(t, StampEventBatchCreated, event.EventType)
	require.Equal(t, batchID, event.BatchID)
	require.Equal(t, owner, *event.OwnerAddress)
	require.Nil(t, event.PayerAddress)
	require.Equal(t, "1000000", *event.TotalAmount)
	require.Equal(t, uint8(20), *event.Depth)
	require.True(t, *event.ImmutableFlag)
}

func TestDecodeStampsRegistryBatchTopUpCarriesPayer(t *testing.T) {
	batchID := common.HexToHash("0x03")
	payer := common.HexToAddress("0x4444444444444444444444444444444444444d")

	log := &gethtypes.Log{
		Topics: []common.Hash{registryBatchTopUpTopic, batchID, common.BytesToHash(payer.Bytes())},
		Data:   packValues(t, postageBatchTopUpArgs, big.NewInt(200), big.NewInt(700)),
	}

	out, err := decodeStampsRegistryLog(log, "StampsRegistry-v1", 0)
	require.NoError(t, err)

	event := out.(*StampEvent)
	require.Equal(t, StampEventBatchTopUp, event.EventType)
	require.Equal(t, payer, *event.PayerAddress)
	require.Equal(t, "200", *event.TopupAmount)
}

func TestDecodePriceOracleAttachesRoundNumberOnly(t *testing.T) {
	log := &gethtypes.Log{
		Topics: []common.Hash{priceUpdateTopic},
		Data:   packValues(t, priceUpdateArgs, big.NewInt(1234)),
	}

	out, err := decodePriceOracleLog(log, "PriceOracle-v1", 41_105_200)
	require.NoError(t, err)

	event := out.(*StorageIncentivesEvent)
	require.Equal(t, "PriceUpdate", event.EventType)
	require.Equal(t, "1234", *event.Price)
	require.NotNil(t, event.RoundNumber)
	require.Equal(t, types.RoundNumber(types.BlockNumber(41_105_200)), *event.RoundNumber)
	require.Nil(t, event.Phase)
}

func TestDecodeStakeRegistryCarriesNeitherRoundNorPhase(t *testing.T) {
	owner := common.HexToAddress("0x5555555555555555555555555555555555555e")
	overlay := common.HexToHash("0x06")

	log := &gethtypes.Log{
		Topics: []common.Hash{stakeUpdatedTopic},
		Data: packValues(t, stakeUpdatedArgs,
			owner, overlay, big.NewInt(1000), big.NewInt(2000), big.NewInt(99)),
	}

	out, err := decodeStakeRegistryLog(log, "StakeRegistry-v1", 41_105_200)
	require.NoError(t, err)

	event := out.(*StorageIncentivesEvent)
	require.Equal(t, "StakeUpdated", event.EventType)
	require.Nil(t, event.RoundNumber)
	require.Nil(t, event.Phase)
	require.Equal(t, owner, *event.OwnerAddress)
	require.Equal(t, overlay, *event.Overlay)
}

func TestDecodeRedistributionWinnerSelectedFlattensTuple(t *testing.T) {
	overlay := [32]byte(common.HexToHash("0x07"))
	owner := common.HexToAddress("0x8888888888888888888888888888888888888f")
	hash := [32]byte(common.HexToHash("0x09"))

	data, err := winnerSelectedArgs.PackValues([]interface{}{
		winnerTuple{
			Overlay:      overlay,
			Owner:        owner,
			Depth:        18,
			Stake:        big.NewInt(5000),
			StakeDensity: big.NewInt(6000),
			Hash:         hash,
		},
	})
	require.NoError(t, err)

	log := &gethtypes.Log{
		Topics: []common.Hash{winnerSelectedTopic},
		Data:   data,
	}

	out, err := decodeRedistributionLog(log, "Redistribution-v0.9.4", 41_105_290)
	require.NoError(t, err)

	event := out.(*StorageIncentivesEvent)
	require.Equal(t, "WinnerSelected", event.EventType)
	require.Equal(t, types.PhaseClaim, *event.Phase)
	require.Equal(t, common.Hash(overlay), *event.WinnerOverlay)
	require.Equal(t, owner, *event.WinnerOwner)
	require.Equal(t, uint8(18), *event.WinnerDepth)
	require.Equal(t, "5000", *event.WinnerStake)
	require.Equal(t, common.Hash(hash), *event.WinnerHash)
}

func TestDecodeRejectsAddressMismatch(t *testing.T) {
	batchID := common.HexToHash("0x0a")
	owner := common.HexToAddress("0x1111111111111111111111111111111111111a")
	emitter := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	expected := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	log := &gethtypes.Log{
		Address: emitter,
		Topics:  []common.Hash{postageBatchCreatedTopic, batchID},
		Data: packValues(t, postageBatchCreatedArgs,
			big.NewInt(1), big.NewInt(1), owner, uint8(20), uint8(16), true),
	}

	_, err := Decode(types.FamilyPostageStamp, expected, log, "PostageStamp-v1", 0)
	require.Error(t, err)

	var mismatch *ErrAddressMismatch
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, emitter, mismatch.LogAddress)
	require.Equal(t, expected, mismatch.ExpectedAddress)
}

func TestDecodeAttachesContractFamilyAndAddressOnSuccess(t *testing.T) {
	batchID := common.HexToHash("0x0b")
	owner := common.HexToAddress("0x1111111111111111111111111111111111111a")
	emitter := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	log := &gethtypes.Log{
		Address: emitter,
		Topics:  []common.Hash{postageBatchCreatedTopic, batchID},
		Data: packValues(t, postageBatchCreatedArgs,
			big.NewInt(1), big.NewInt(1), owner, uint8(20), uint8(16), true),
	}

	out, err := Decode(types.FamilyPostageStamp, emitter, log, "PostageStamp-v1", 0)
	require.NoError(t, err)

	event := out.(*StampEvent)
	require.Equal(t, types.FamilyPostageStamp, event.ContractFamily)
	require.Equal(t, emitter, event.ContractAddress)
}

func TestDecodeUnknownTopicReturnsError(t *testing.T) {
	log := &gethtypes.Log{
		Topics: []common.Hash{common.HexToHash("0xdeadbeef")},
	}
	_, err := decodePriceOracleLog(log, "PriceOracle-v1", 0)
	require.Error(t, err)

	var unknown *ErrUnknownEvent
	require.ErrorAs(t, err, &unknown)
}
