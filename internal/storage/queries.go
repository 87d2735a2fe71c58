package storage

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Summary is the top-level projection consumed by the `summary` CLI
// command: counts and the current sync cursor.
type Summary struct {
	TotalBatches       uint64
	TotalAddresses     uint64
	TotalStampEvents   uint64
	TotalIncentiveRows uint64
	LastSyncedBlock    uint64
}

// BatchStatus is the per-batch projection consumed by `batch-status`.
type BatchStatus struct {
	BatchID           common.Hash
	OwnerAddress      common.Address
	PayerAddress      *common.Address
	Depth             uint8
	BucketDepth       uint8
	ImmutableFlag     bool
	NormalisedBalance string
	BlockNumber       uint64
	CreatedAt         time.Time
}

// ExpiryCandidate is one batch as seen by the expiry engine: the subset
// of BatchRecord fields needed to compute a TTL.
type ExpiryCandidate struct {
	BatchID           common.Hash
	Depth             uint8
	BucketDepth       uint8
	ImmutableFlag     bool
	NormalisedBalance string
	BlockNumber       uint64
}

// AddressSummary is the projection consumed by `address-summary`.
type AddressSummary struct {
	Address              common.Address
	Classification        AddressClassification
	TotalStampsPurchased uint64
	TotalAmountSpent     string
	TopFunders           []FunderShare
	FundedAddresses      []common.Address
	FirstSeen            time.Time
	LastSeen             time.Time
	TransactionCount     uint64
}

// Queries is the read-only projection surface (§4.7): summary,
// batch-status, expiry-analytics inputs, address-summary.
type Queries interface {
	Summary(ctx context.Context) (Summary, error)
	BatchStatus(ctx context.Context, batchID common.Hash) (*BatchStatus, error)
	ExpiryCandidates(ctx context.Context) ([]ExpiryCandidate, error)
	AddressSummary(ctx context.Context, address common.Address) (*AddressSummary, error)
}
