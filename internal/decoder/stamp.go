package decoder

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/swarmstats/indexer/pkg/types"
)

// StampEventType enumerates the three batch lifecycle events shared by
// PostageStamp and StampsRegistry.
type StampEventType string

const (
	StampEventBatchCreated       StampEventType = "BatchCreated"
	StampEventBatchTopUp         StampEventType = "BatchTopUp"
	StampEventBatchDepthIncrease StampEventType = "BatchDepthIncrease"
)

// StampEvent is the wide, sparse row persisted for every PostageStamp and
// StampsRegistry event. Only the columns relevant to EventType are
// populated; the rest are left nil.
type StampEvent struct {
	ID              *int64               `meddler:"id,pk"`
	ContractSource  string               `meddler:"contract_source"`
	ContractFamily  types.ContractFamily `meddler:"contract_family"`
	ContractAddress common.Address       `meddler:"contract_address,address"`
	EventType       StampEventType       `meddler:"event_type"`
	BatchID         common.Hash    `meddler:"batch_id,hash"`
	BlockNumber     uint64         `meddler:"block_number"`
	BlockTimestamp  time.Time      `meddler:"block_timestamp"`
	TransactionHash common.Hash    `meddler:"transaction_hash,hash"`
	LogIndex        uint           `meddler:"log_index"`

	OwnerAddress *common.Address `meddler:"owner_address,address"`
	PayerAddress *common.Address `meddler:"payer_address,address"`
	FromAddress  *common.Address `meddler:"from_address,address"`

	TotalAmount       *string `meddler:"total_amount"`
	TopupAmount       *string `meddler:"topup_amount"`
	NormalisedBalance *string `meddler:"normalised_balance"`
	Depth             *uint8  `meddler:"depth"`
	BucketDepth       *uint8  `meddler:"bucket_depth"`
	NewDepth          *uint8  `meddler:"new_depth"`
	ImmutableFlag     *bool   `meddler:"immutable_flag"`
}

var (
	postageBatchCreatedTopic       = topicSignature("BatchCreated(bytes32,uint256,uint256,address,uint8,uint8,bool)")
	postageBatchTopUpTopic         = topicSignature("BatchTopUp(bytes32,uint256,uint256)")
	postageBatchDepthIncreaseTopic = topicSignature("BatchDepthIncrease(bytes32,uint8,uint256)")

	registryBatchCreatedTopic       = topicSignature("BatchCreated(bytes32,uint256,uint256,address,address,uint8,uint8,bool)")
	registryBatchTopUpTopic         = topicSignature("BatchTopUp(bytes32,uint256,uint256,address)")
	registryBatchDepthIncreaseTopic = topicSignature("BatchDepthIncrease(bytes32,uint8,uint256,address)")
)

var postageBatchCreatedArgs = abi.Arguments{
	arg("totalAmount", "uint256"),
	arg("normalisedBalance", "uint256"),
	arg("owner", "address"),
	arg("depth", "uint8"),
	arg("bucketDepth", "uint8"),
	arg("immutableFlag", "bool"),
}

var registryBatchCreatedArgs = abi.Arguments{
	arg("totalAmount", "uint256"),
	arg("normalisedBalance", "uint256"),
	arg("depth", "uint8"),
	arg("bucketDepth", "uint8"),
	arg("immutableFlag", "bool"),
}

var postageBatchTopUpArgs = abi.Arguments{
	arg("topupAmount", "uint256"),
	arg("normalisedBalance", "uint256"),
}

var postageBatchDepthIncreaseArgs = abi.Arguments{
	arg("newDepth", "uint8"),
	arg("normalisedBalance", "uint256"),
}

// decodePostageStampLog decodes a PostageStamp log. PostageStamp events
// never carry a payer; batchId is the sole indexed parameter.
func decodePostageStampLog(log *gethtypes.Log, source string, _ types.BlockNumber) (interface{}, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("stamp log has no topics")
	}
	switch log.Topics[0] {
	case postageBatchCreatedTopic:
		if err := requireTopics(log, 2); err != nil {
			return nil, fmt.Errorf("BatchCreated: %w", err)
		}
		fields, err := unpackNonIndexed(postageBatchCreatedArgs, log.Data)
		if err != nil {
			return nil, fmt.Errorf("BatchCreated: %w", err)
		}
		return &StampEvent{
			ContractSource:    source,
			EventType:         StampEventBatchCreated,
			BatchID:           topicHash(log, 1),
			BlockNumber:       log.BlockNumber,
			TransactionHash:   log.TxHash,
			LogIndex:          log.Index,
			OwnerAddress:      addrPtr(fields["owner"].(common.Address)),
			TotalAmount:       strPtr(bigToString(fields["totalAmount"])),
			NormalisedBalance: strPtr(bigToString(fields["normalisedBalance"])),
			Depth:             u8Ptr(fields["depth"].(uint8)),
			BucketDepth:       u8Ptr(fields["bucketDepth"].(uint8)),
			ImmutableFlag:     boolPtr(fields["immutableFlag"].(bool)),
		}, nil

	case postageBatchTopUpTopic:
		if err := requireTopics(log, 2); err != nil {
			return nil, fmt.Errorf("BatchTopUp: %w", err)
		}
		fields, err := unpackNonIndexed(postageBatchTopUpArgs, log.Data)
		if err != nil {
			return nil, fmt.Errorf("BatchTopUp: %w", err)
		}
		return &StampEvent{
			ContractSource:    source,
			EventType:         StampEventBatchTopUp,
			BatchID:           topicHash(log, 1),
			BlockNumber:       log.BlockNumber,
			TransactionHash:   log.TxHash,
			LogIndex:          log.Index,
			TopupAmount:       strPtr(bigToString(fields["topupAmount"])),
			NormalisedBalance: strPtr(bigToString(fields["normalisedBalance"])),
		}, nil

	case postageBatchDepthIncreaseTopic:
		if err := requireTopics(log, 2); err != nil {
			return nil, fmt.Errorf("BatchDepthIncrease: %w", err)
		}
		fields, err := unpackNonIndexed(postageBatchDepthIncreaseArgs, log.Data)
		if err != nil {
			return nil, fmt.Errorf("BatchDepthIncrease: %w", err)
		}
		return &StampEvent{
			ContractSource:    source,
			EventType:         StampEventBatchDepthIncrease,
			BatchID:           topicHash(log, 1),
			BlockNumber:       log.BlockNumber,
			TransactionHash:   log.TxHash,
			LogIndex:          log.Index,
			NewDepth:          u8Ptr(fields["newDepth"].(uint8)),
			NormalisedBalance: strPtr(bigToString(fields["normalisedBalance"])),
		}, nil

	default:
		return nil, &ErrUnknownEvent{Topic: log.Topics[0]}
	}
}

// decodeStampsRegistryLog decodes a StampsRegistry log. Structurally
// identical to PostageStamp but every event additionally indexes a payer
// address, and BatchCreated indexes owner instead of leaving it in Data.
func decodeStampsRegistryLog(log *gethtypes.Log, source string, _ types.BlockNumber) (interface{}, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("stamp log has no topics")
	}
	switch log.Topics[0] {
	case registryBatchCreatedTopic:
		if err := requireTopics(log, 4); err != nil {
			return nil, fmt.Errorf("BatchCreated: %w", err)
		}
		fields, err := unpackNonIndexed(registryBatchCreatedArgs, log.Data)
		if err != nil {
			return nil, fmt.Errorf("BatchCreated: %w", err)
		}
		return &StampEvent{
			ContractSource:    source,
			EventType:         StampEventBatchCreated,
			BatchID:           topicHash(log, 1),
			BlockNumber:       log.BlockNumber,
			TransactionHash:   log.TxHash,
			LogIndex:          log.Index,
			OwnerAddress:      addrPtr(topicAddress(log, 2)),
			PayerAddress:      addrPtr(topicAddress(log, 3)),
			TotalAmount:       strPtr(bigToString(fields["totalAmount"])),
			NormalisedBalance: strPtr(bigToString(fields["normalisedBalance"])),
			Depth:             u8Ptr(fields["depth"].(uint8)),
			BucketDepth:       u8Ptr(fields["bucketDepth"].(uint8)),
			ImmutableFlag:     boolPtr(fields["immutableFlag"].(bool)),
		}, nil

	case registryBatchTopUpTopic:
		if err := requireTopics(log, 3); err != nil {
			return nil, fmt.Errorf("BatchTopUp: %w", err)
		}
		fields, err := unpackNonIndexed(postageBatchTopUpArgs, log.Data)
		if err != nil {
			return nil, fmt.Errorf("BatchTopUp: %w", err)
		}
		return &StampEvent{
			ContractSource:    source,
			EventType:         StampEventBatchTopUp,
			BatchID:           topicHash(log, 1),
			BlockNumber:       log.BlockNumber,
			TransactionHash:   log.TxHash,
			LogIndex:          log.Index,
			PayerAddress:      addrPtr(topicAddress(log, 2)),
			TopupAmount:       strPtr(bigToString(fields["topupAmount"])),
			NormalisedBalance: strPtr(bigToString(fields["normalisedBalance"])),
		}, nil

	case registryBatchDepthIncreaseTopic:
		if err := requireTopics(log, 3); err != nil {
			return nil, fmt.Errorf("BatchDepthIncrease: %w", err)
		}
		fields, err := unpackNonIndexed(postageBatchDepthIncreaseArgs, log.Data)
		if err != nil {
			return nil, fmt.Errorf("BatchDepthIncrease: %w", err)
		}
		return &StampEvent{
			ContractSource:    source,
			EventType:         StampEventBatchDepthIncrease,
			BatchID:           topicHash(log, 1),
			BlockNumber:       log.BlockNumber,
			TransactionHash:   log.TxHash,
			LogIndex:          log.Index,
			PayerAddress:      addrPtr(topicAddress(log, 2)),
			NewDepth:          u8Ptr(fields["newDepth"].(uint8)),
			NormalisedBalance: strPtr(bigToString(fields["normalisedBalance"])),
		}, nil

	default:
		return nil, &ErrUnknownEvent{Topic: log.Topics[0]}
	}
}

func boolPtr(b bool) *bool { return &b }
