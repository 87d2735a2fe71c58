package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/swarmstats/indexer/pkg/types"
)

// dbBatch is the meddler-mapped row shape for the batches table, used for
// reads; writes go through hand-written upsert SQL in sqlite_store.go.
type dbBatch struct {
	BatchID           common.Hash          `meddler:"batch_id,hash"`
	OwnerAddress      common.Address       `meddler:"owner_address,address"`
	PayerAddress      *common.Address      `meddler:"payer_address,address"`
	Depth             uint8                `meddler:"depth"`
	BucketDepth       uint8                `meddler:"bucket_depth"`
	ImmutableFlag     bool                 `meddler:"immutable_flag"`
	NormalisedBalance string               `meddler:"normalised_balance"`
	BlockNumber       uint64               `meddler:"block_number"`
	CreatedAt         time.Time            `meddler:"created_at"`
	ContractFamily    types.ContractFamily `meddler:"contract_family"`
}

func (r *dbBatch) toStatus() *BatchStatus {
	return &BatchStatus{
		BatchID:           r.BatchID,
		OwnerAddress:      r.OwnerAddress,
		PayerAddress:      r.PayerAddress,
		Depth:             r.Depth,
		BucketDepth:       r.BucketDepth,
		ImmutableFlag:     r.ImmutableFlag,
		NormalisedBalance: r.NormalisedBalance,
		BlockNumber:       r.BlockNumber,
		CreatedAt:         r.CreatedAt,
	}
}

func (r *dbBatch) toCandidate() ExpiryCandidate {
	return ExpiryCandidate{
		BatchID:           r.BatchID,
		Depth:             r.Depth,
		BucketDepth:       r.BucketDepth,
		ImmutableFlag:     r.ImmutableFlag,
		NormalisedBalance: r.NormalisedBalance,
		BlockNumber:       r.BlockNumber,
	}
}

type batchRow struct {
	BatchID           string
	OwnerAddress      string
	PayerAddress      *string
	Depth             uint8
	BucketDepth       uint8
	ImmutableFlag     bool
	NormalisedBalance string
	BlockNumber       uint64
	CreatedAt         time.Time
	ContractFamily    types.ContractFamily
}

func batchRecordToDB(b BatchRecord) batchRow {
	return batchRow{
		BatchID:           b.BatchID.Hex(),
		OwnerAddress:      b.OwnerAddress.Hex(),
		PayerAddress:      nullableAddress(b.PayerAddress),
		Depth:             b.Depth,
		BucketDepth:       b.BucketDepth,
		ImmutableFlag:     b.ImmutableFlag,
		NormalisedBalance: b.NormalisedBalance,
		BlockNumber:       b.BlockNumber,
		CreatedAt:         b.CreatedAt,
		ContractFamily:    b.ContractFamily,
	}
}

// dbAddress is the meddler-mapped row shape for the addresses table.
// Stamp-ID membership and funded-address edges live in their own join
// tables (address_stamps, address_funded) and are not populated by
// toDomain; the ingestion engine's side channel (§4.8) maintains those
// separately from the scalar fields here.
type dbAddress struct {
	Address              common.Address `meddler:"address,address"`
	TotalStampsPurchased uint64         `meddler:"total_stamps_purchased"`
	TotalAmountSpent     string         `meddler:"total_amount_spent"`
	TopFunders           string         `meddler:"top_funders"`
	IsFunder             bool           `meddler:"is_funder"`
	IsContract           bool           `meddler:"is_contract"`
	Classification       string         `meddler:"classification"`
	Label                *string        `meddler:"label"`
	Notes                *string        `meddler:"notes"`
	FirstSeen            time.Time      `meddler:"first_seen"`
	LastSeen             time.Time      `meddler:"last_seen"`
	FirstBlock           uint64         `meddler:"first_block"`
	LastBlock            uint64         `meddler:"last_block"`
	TransactionCount     uint64         `meddler:"transaction_count"`
	Version              uint64         `meddler:"version"`
}

func (r *dbAddress) toDomain() (*AddressRecord, error) {
	var topFunders []FunderShare
	if r.TopFunders != "" {
		if err := json.Unmarshal([]byte(r.TopFunders), &topFunders); err != nil {
			return nil, fmt.Errorf("unmarshal top_funders for %s: %w", r.Address.Hex(), err)
		}
	}
	return &AddressRecord{
		Address:              r.Address,
		TotalStampsPurchased: r.TotalStampsPurchased,
		TotalAmountSpent:     r.TotalAmountSpent,
		TopFunders:           topFunders,
		IsFunder:             r.IsFunder,
		IsContract:           r.IsContract,
		Classification:       AddressClassification(r.Classification),
		Label:                r.Label,
		Notes:                r.Notes,
		FirstSeen:            r.FirstSeen,
		LastSeen:             r.LastSeen,
		FirstBlock:           r.FirstBlock,
		LastBlock:            r.LastBlock,
		TransactionCount:     r.TransactionCount,
		Version:              r.Version,
	}, nil
}

type addressRow struct {
	Address               string
	TotalStampsPurchased  uint64
	TotalAmountSpent      string
	TopFunders            string
	IsFunder              bool
	IsContract            bool
	Classification        string
	Label                 *string
	Notes                 *string
	FirstSeen             time.Time
	LastSeen              time.Time
	FirstBlock            uint64
	LastBlock             uint64
	TransactionCount      uint64
	Version               uint64
}

func addressRecordToDB(a AddressRecord) (addressRow, error) {
	topFunders := a.TopFunders
	if topFunders == nil {
		topFunders = []FunderShare{}
	}
	encoded, err := json.Marshal(topFunders)
	if err != nil {
		return addressRow{}, fmt.Errorf("marshal top_funders for %s: %w", a.Address.Hex(), err)
	}
	return addressRow{
		Address:              a.Address.Hex(),
		TotalStampsPurchased: a.TotalStampsPurchased,
		TotalAmountSpent:     a.TotalAmountSpent,
		TopFunders:           string(encoded),
		IsFunder:             a.IsFunder,
		IsContract:           a.IsContract,
		Classification:       string(a.Classification),
		Label:                a.Label,
		Notes:                a.Notes,
		FirstSeen:            a.FirstSeen,
		LastSeen:             a.LastSeen,
		FirstBlock:           a.FirstBlock,
		LastBlock:            a.LastBlock,
		TransactionCount:     a.TransactionCount,
		Version:              a.Version + 1,
	}, nil
}

// dbTxDetail is the meddler-mapped row shape for transaction_details.
type dbTxDetail struct {
	TransactionHash    common.Hash     `meddler:"transaction_hash,hash"`
	From               common.Address  `meddler:"from_address,address"`
	To                 *common.Address `meddler:"to_address,address"`
	Value              string          `meddler:"value"`
	GasPrice           *string         `meddler:"gas_price"`
	GasUsed            *int64          `meddler:"gas_used"`
	BlockNumber        uint64          `meddler:"block_number"`
	BlockTimestamp     time.Time       `meddler:"block_timestamp"`
	InputData          *string         `meddler:"input_data"`
	IsContractCreation bool            `meddler:"is_contract_creation"`
	FetchedAt          time.Time       `meddler:"fetched_at"`
}

func (r *dbTxDetail) toDomain() *TxDetail {
	var gasUsed *uint64
	if r.GasUsed != nil {
		v := uint64(*r.GasUsed)
		gasUsed = &v
	}
	return &TxDetail{
		TransactionHash:    r.TransactionHash,
		From:               r.From,
		To:                 r.To,
		Value:              r.Value,
		GasPrice:           r.GasPrice,
		GasUsed:            gasUsed,
		BlockNumber:        r.BlockNumber,
		BlockTimestamp:     r.BlockTimestamp,
		InputData:          r.InputData,
		IsContractCreation: r.IsContractCreation,
		FetchedAt:          r.FetchedAt,
	}
}

func txDetailToDB(d TxDetail) *dbTxDetail {
	var gasUsed *int64
	if d.GasUsed != nil {
		v := int64(*d.GasUsed)
		gasUsed = &v
	}
	return &dbTxDetail{
		TransactionHash:    d.TransactionHash,
		From:               d.From,
		To:                 d.To,
		Value:              d.Value,
		GasPrice:           d.GasPrice,
		GasUsed:            gasUsed,
		BlockNumber:        d.BlockNumber,
		BlockTimestamp:     d.BlockTimestamp,
		InputData:          d.InputData,
		IsContractCreation: d.IsContractCreation,
		FetchedAt:          d.FetchedAt,
	}
}
