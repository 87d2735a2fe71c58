package decoder

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/swarmstats/indexer/pkg/types"
)

// StorageIncentivesEvent is the wide, sparse row persisted for every
// PriceOracle, StakeRegistry and Redistribution event. RoundNumber and
// Phase are populated only for events where a redistribution round is
// meaningful: PriceOracle events carry RoundNumber but never Phase,
// StakeRegistry events carry neither, Redistribution events carry both.
type StorageIncentivesEvent struct {
	ID              *int64    `meddler:"id,pk"`
	BlockNumber     uint64    `meddler:"block_number"`
	BlockTimestamp  time.Time `meddler:"block_timestamp"`
	TransactionHash common.Hash `meddler:"transaction_hash,hash"`
	LogIndex        uint      `meddler:"log_index"`
	ContractSource  string    `meddler:"contract_source"`
	ContractFamily  types.ContractFamily `meddler:"contract_family"`
	ContractAddress common.Address       `meddler:"contract_address,address"`
	EventType       string    `meddler:"event_type"`

	RoundNumber *uint64      `meddler:"round_number"`
	Phase       *types.Phase `meddler:"phase"`

	OwnerAddress *common.Address `meddler:"owner_address,address"`
	Overlay      *common.Hash    `meddler:"overlay,hash"`

	Price           *string `meddler:"price"`
	CommittedStake  *string `meddler:"committed_stake"`
	PotentialStake  *string `meddler:"potential_stake"`
	Height          *uint64 `meddler:"height"`
	SlashAmount     *string `meddler:"slash_amount"`
	FreezeTime      *uint64 `meddler:"freeze_time"`
	WithdrawAmount  *string `meddler:"withdraw_amount"`

	Stake             *string     `meddler:"stake"`
	StakeDensity      *string     `meddler:"stake_density"`
	ReserveCommitment *common.Hash `meddler:"reserve_commitment,hash"`
	Depth             *uint8      `meddler:"depth"`

	Anchor    *common.Hash `meddler:"anchor,hash"`
	TruthHash *common.Hash `meddler:"truth_hash,hash"`
	TruthDepth *uint8      `meddler:"truth_depth"`

	WinnerOverlay      *common.Hash    `meddler:"winner_overlay,hash"`
	WinnerOwner        *common.Address `meddler:"winner_owner,address"`
	WinnerDepth        *uint8          `meddler:"winner_depth"`
	WinnerStake        *string         `meddler:"winner_stake"`
	WinnerStakeDensity *string         `meddler:"winner_stake_density"`
	WinnerHash         *common.Hash    `meddler:"winner_hash,hash"`

	CommitCount       *uint64      `meddler:"commit_count"`
	RevealCount       *uint64      `meddler:"reveal_count"`
	ChunkCount        *uint64      `meddler:"chunk_count"`
	RedundancyCount   *uint64      `meddler:"redundancy_count"`
	ChunkIndexInRC    *uint64      `meddler:"chunk_index_in_rc"`
	ChunkAddress      *common.Hash `meddler:"chunk_address,hash"`
}

func roundFields(block types.BlockNumber) (*uint64, *types.Phase) {
	n := types.RoundNumber(block)
	return &n, nil
}

func roundAndPhaseFields(block types.BlockNumber) (*uint64, *types.Phase) {
	n := types.RoundNumber(block)
	p := types.RoundPhase(block)
	return &n, &p
}

// --- PriceOracle ---

var (
	priceUpdateTopic              = topicSignature("PriceUpdate(uint256)")
	stampPriceUpdateFailedTopic   = topicSignature("StampPriceUpdateFailed(uint256)")
	priceUpdateArgs               = abi.Arguments{arg("price", "uint256")}
	stampPriceUpdateFailedArgs    = abi.Arguments{arg("attemptedPrice", "uint256")}
)

func decodePriceOracleLog(log *gethtypes.Log, source string, roundBlock types.BlockNumber) (interface{}, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("price oracle log has no topics")
	}
	round, _ := roundFields(roundBlock)
	base := &StorageIncentivesEvent{
		ContractSource:  source,
		BlockNumber:     log.BlockNumber,
		TransactionHash: log.TxHash,
		LogIndex:        log.Index,
		RoundNumber:     round,
	}

	switch log.Topics[0] {
	case priceUpdateTopic:
		fields, err := unpackNonIndexed(priceUpdateArgs, log.Data)
		if err != nil {
			return nil, fmt.Errorf("PriceUpdate: %w", err)
		}
		base.EventType = "PriceUpdate"
		base.Price = strPtr(bigToString(fields["price"]))
		return base, nil

	case stampPriceUpdateFailedTopic:
		fields, err := unpackNonIndexed(stampPriceUpdateFailedArgs, log.Data)
		if err != nil {
			return nil, fmt.Errorf("StampPriceUpdateFailed: %w", err)
		}
		base.EventType = "StampPriceUpdateFailed"
		base.Price = strPtr(bigToString(fields["attemptedPrice"]))
		return base, nil

	default:
		return nil, &ErrUnknownEvent{Topic: log.Topics[0]}
	}
}

// --- StakeRegistry ---

var (
	stakeUpdatedTopic    = topicSignature("StakeUpdated(address,bytes32,uint256,uint256,uint256)")
	stakeSlashedTopic    = topicSignature("StakeSlashed(address,bytes32,uint256)")
	stakeFrozenTopic     = topicSignature("StakeFrozen(address,bytes32,uint256)")
	overlayChangedTopic  = topicSignature("OverlayChanged(address,bytes32)")
	stakeWithdrawnTopic  = topicSignature("StakeWithdrawn(address,uint256)")

	stakeUpdatedArgs = abi.Arguments{
		arg("owner", "address"),
		arg("overlay", "bytes32"),
		arg("committedStake", "uint256"),
		arg("potentialStake", "uint256"),
		arg("height", "uint256"),
	}
	stakeSlashedArgs = abi.Arguments{
		arg("slashed", "address"),
		arg("overlay", "bytes32"),
		arg("amount", "uint256"),
	}
	stakeFrozenArgs = abi.Arguments{
		arg("frozen", "address"),
		arg("overlay", "bytes32"),
		arg("time", "uint256"),
	}
	overlayChangedArgs = abi.Arguments{
		arg("owner", "address"),
		arg("overlay", "bytes32"),
	}
	stakeWithdrawnArgs = abi.Arguments{
		arg("node", "address"),
		arg("amount", "uint256"),
	}
)

func decodeStakeRegistryLog(log *gethtypes.Log, source string, _ types.BlockNumber) (interface{}, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("stake registry log has no topics")
	}
	base := &StorageIncentivesEvent{
		ContractSource:  source,
		BlockNumber:     log.BlockNumber,
		TransactionHash: log.TxHash,
		LogIndex:        log.Index,
	}

	switch log.Topics[0] {
	case stakeUpdatedTopic:
		fields, err := unpackNonIndexed(stakeUpdatedArgs, log.Data)
		if err != nil {
			return nil, fmt.Errorf("StakeUpdated: %w", err)
		}
		base.EventType = "StakeUpdated"
		base.OwnerAddress = addrPtr(fields["owner"].(common.Address))
		overlay := common.Hash(fields["overlay"].([32]byte))
		base.Overlay = &overlay
		base.CommittedStake = strPtr(bigToString(fields["committedStake"]))
		base.PotentialStake = strPtr(bigToString(fields["potentialStake"]))
		base.Height = u64Ptr(mustUint64(fields["height"]))
		return base, nil

	case stakeSlashedTopic:
		fields, err := unpackNonIndexed(stakeSlashedArgs, log.Data)
		if err != nil {
			return nil, fmt.Errorf("StakeSlashed: %w", err)
		}
		base.EventType = "StakeSlashed"
		base.OwnerAddress = addrPtr(fields["slashed"].(common.Address))
		overlay := common.Hash(fields["overlay"].([32]byte))
		base.Overlay = &overlay
		base.SlashAmount = strPtr(bigToString(fields["amount"]))
		return base, nil

	case stakeFrozenTopic:
		fields, err := unpackNonIndexed(stakeFrozenArgs, log.Data)
		if err != nil {
			return nil, fmt.Errorf("StakeFrozen: %w", err)
		}
		base.EventType = "StakeFrozen"
		base.OwnerAddress = addrPtr(fields["frozen"].(common.Address))
		overlay := common.Hash(fields["overlay"].([32]byte))
		base.Overlay = &overlay
		base.FreezeTime = u64Ptr(mustUint64(fields["time"]))
		return base, nil

	case overlayChangedTopic:
		fields, err := unpackNonIndexed(overlayChangedArgs, log.Data)
		if err != nil {
			return nil, fmt.Errorf("OverlayChanged: %w", err)
		}
		base.EventType = "OverlayChanged"
		base.OwnerAddress = addrPtr(fields["owner"].(common.Address))
		overlay := common.Hash(fields["overlay"].([32]byte))
		base.Overlay = &overlay
		return base, nil

	case stakeWithdrawnTopic:
		fields, err := unpackNonIndexed(stakeWithdrawnArgs, log.Data)
		if err != nil {
			return nil, fmt.Errorf("StakeWithdrawn: %w", err)
		}
		base.EventType = "StakeWithdrawn"
		base.OwnerAddress = addrPtr(fields["node"].(common.Address))
		base.WithdrawAmount = strPtr(bigToString(fields["amount"]))
		return base, nil

	default:
		return nil, &ErrUnknownEvent{Topic: log.Topics[0]}
	}
}

// --- Redistribution ---

var (
	committedTopic      = topicSignature("Committed(bytes32,uint256)")
	revealedTopic        = topicSignature("Revealed(bytes32,uint256,uint256,bytes32,uint8)")
	winnerSelectedTopic  = topicSignature("WinnerSelected((bytes32,address,uint8,uint256,uint256,bytes32))")
	truthSelectedTopic   = topicSignature("TruthSelected(bytes32,uint8)")
	currentAnchorTopic   = topicSignature("CurrentRevealAnchor(bytes32)")
	countCommitsTopic    = topicSignature("CountCommits(uint256)")
	countRevealsTopic    = topicSignature("CountReveals(uint256)")
	chunkCountTopic      = topicSignature("ChunkCount(uint256)")
	priceAdjSkippedTopic = topicSignature("PriceAdjustmentSkipped(uint256)")
	withdrawFailedTopic  = topicSignature("WithdrawFailed(address)")
	inclusionProofTopic  = topicSignature("transformedChunkAddressFromInclusionProof(uint256,bytes32)")

	committedArgs     = abi.Arguments{arg("overlay", "bytes32"), arg("height", "uint256")}
	revealedArgs      = abi.Arguments{
		arg("overlay", "bytes32"), arg("stake", "uint256"), arg("stakeDensity", "uint256"),
		arg("reserveCommitment", "bytes32"), arg("depth", "uint8"),
	}
	winnerSelectedArgs = abi.Arguments{
		{Name: "winner", Type: mustTupleType([]abi.ArgumentMarshaling{
			{Name: "overlay", Type: "bytes32"},
			{Name: "owner", Type: "address"},
			{Name: "depth", Type: "uint8"},
			{Name: "stake", Type: "uint256"},
			{Name: "stakeDensity", Type: "uint256"},
			{Name: "hash", Type: "bytes32"},
		})},
	}
	truthSelectedArgs   = abi.Arguments{arg("hash", "bytes32"), arg("depth", "uint8")}
	currentAnchorArgs   = abi.Arguments{arg("anchor", "bytes32")}
	countCommitsArgs    = abi.Arguments{arg("_count", "uint256")}
	countRevealsArgs    = abi.Arguments{arg("_count", "uint256")}
	chunkCountArgs      = abi.Arguments{arg("validChunkCount", "uint256")}
	priceAdjSkippedArgs = abi.Arguments{arg("redundancyCount", "uint256")}
	inclusionProofArgs  = abi.Arguments{arg("indexInRC", "uint256"), arg("chunkAddress", "bytes32")}
)

// winnerTuple mirrors the (overlay, owner, depth, stake, stakeDensity,
// hash) tuple carried by WinnerSelected's Reveal argument. Field names and
// order must match the tuple's ArgumentMarshaling components exactly; the
// abi package unpacks into this shape by matching capitalised field names.
type winnerTuple struct {
	Overlay      [32]byte
	Owner        common.Address
	Depth        uint8
	Stake        *big.Int
	StakeDensity *big.Int
	Hash         [32]byte
}

func decodeRedistributionLog(log *gethtypes.Log, source string, roundBlock types.BlockNumber) (interface{}, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("redistribution log has no topics")
	}
	round, phase := roundAndPhaseFields(roundBlock)
	base := &StorageIncentivesEvent{
		ContractSource:  source,
		BlockNumber:     log.BlockNumber,
		TransactionHash: log.TxHash,
		LogIndex:        log.Index,
		RoundNumber:     round,
		Phase:           phase,
	}

	switch log.Topics[0] {
	case committedTopic:
		fields, err := unpackNonIndexed(committedArgs, log.Data)
		if err != nil {
			return nil, fmt.Errorf("Committed: %w", err)
		}
		base.EventType = "Committed"
		overlay := common.Hash(fields["overlay"].([32]byte))
		base.Overlay = &overlay
		base.Height = u64Ptr(mustUint64(fields["height"]))
		return base, nil

	case revealedTopic:
		fields, err := unpackNonIndexed(revealedArgs, log.Data)
		if err != nil {
			return nil, fmt.Errorf("Revealed: %w", err)
		}
		base.EventType = "Revealed"
		overlay := common.Hash(fields["overlay"].([32]byte))
		base.Overlay = &overlay
		base.Stake = strPtr(bigToString(fields["stake"]))
		base.StakeDensity = strPtr(bigToString(fields["stakeDensity"]))
		rc := common.Hash(fields["reserveCommitment"].([32]byte))
		base.ReserveCommitment = &rc
		base.Depth = u8Ptr(fields["depth"].(uint8))
		return base, nil

	case winnerSelectedTopic:
		values, err := winnerSelectedArgs.UnpackValues(log.Data)
		if err != nil {
			return nil, fmt.Errorf("WinnerSelected: %w", err)
		}
		if len(values) != 1 {
			return nil, fmt.Errorf("WinnerSelected: expected 1 tuple argument, got %d", len(values))
		}
		w := *abi.ConvertType(values[0], new(winnerTuple)).(*winnerTuple)
		base.EventType = "WinnerSelected"
		overlay := common.Hash(w.Overlay)
		hash := common.Hash(w.Hash)
		base.WinnerOverlay = &overlay
		base.WinnerOwner = addrPtr(w.Owner)
		base.WinnerDepth = u8Ptr(w.Depth)
		base.WinnerStake = strPtr(bigToString(w.Stake))
		base.WinnerStakeDensity = strPtr(bigToString(w.StakeDensity))
		base.WinnerHash = &hash
		return base, nil

	case truthSelectedTopic:
		fields, err := unpackNonIndexed(truthSelectedArgs, log.Data)
		if err != nil {
			return nil, fmt.Errorf("TruthSelected: %w", err)
		}
		base.EventType = "TruthSelected"
		hash := common.Hash(fields["hash"].([32]byte))
		base.TruthHash = &hash
		base.TruthDepth = u8Ptr(fields["depth"].(uint8))
		return base, nil

	case currentAnchorTopic:
		fields, err := unpackNonIndexed(currentAnchorArgs, log.Data)
		if err != nil {
			return nil, fmt.Errorf("CurrentRevealAnchor: %w", err)
		}
		base.EventType = "CurrentRevealAnchor"
		anchor := common.Hash(fields["anchor"].([32]byte))
		base.Anchor = &anchor
		return base, nil

	case countCommitsTopic:
		fields, err := unpackNonIndexed(countCommitsArgs, log.Data)
		if err != nil {
			return nil, fmt.Errorf("CountCommits: %w", err)
		}
		base.EventType = "CountCommits"
		base.CommitCount = u64Ptr(mustUint64(fields["_count"]))
		return base, nil

	case countRevealsTopic:
		fields, err := unpackNonIndexed(countRevealsArgs, log.Data)
		if err != nil {
			return nil, fmt.Errorf("CountReveals: %w", err)
		}
		base.EventType = "CountReveals"
		base.RevealCount = u64Ptr(mustUint64(fields["_count"]))
		return base, nil

	case chunkCountTopic:
		fields, err := unpackNonIndexed(chunkCountArgs, log.Data)
		if err != nil {
			return nil, fmt.Errorf("ChunkCount: %w", err)
		}
		base.EventType = "ChunkCount"
		base.ChunkCount = u64Ptr(mustUint64(fields["validChunkCount"]))
		return base, nil

	case priceAdjSkippedTopic:
		fields, err := unpackNonIndexed(priceAdjSkippedArgs, log.Data)
		if err != nil {
			return nil, fmt.Errorf("PriceAdjustmentSkipped: %w", err)
		}
		base.EventType = "PriceAdjustmentSkipped"
		base.RedundancyCount = u64Ptr(mustUint64(fields["redundancyCount"]))
		return base, nil

	case withdrawFailedTopic:
		if err := requireTopics(log, 2); err != nil {
			return nil, fmt.Errorf("WithdrawFailed: %w", err)
		}
		base.EventType = "WithdrawFailed"
		base.OwnerAddress = addrPtr(topicAddress(log, 1))
		return base, nil

	case inclusionProofTopic:
		fields, err := unpackNonIndexed(inclusionProofArgs, log.Data)
		if err != nil {
			return nil, fmt.Errorf("transformedChunkAddressFromInclusionProof: %w", err)
		}
		base.EventType = "transformedChunkAddressFromInclusionProof"
		base.ChunkIndexInRC = u64Ptr(mustUint64(fields["indexInRC"]))
		addr := common.Hash(fields["chunkAddress"].([32]byte))
		base.ChunkAddress = &addr
		return base, nil

	default:
		return nil, &ErrUnknownEvent{Topic: log.Topics[0]}
	}
}

func mustUint64(v interface{}) uint64 {
	if b, ok := v.(*big.Int); ok {
		return b.Uint64()
	}
	return 0
}
