// Package storage defines the back-end-agnostic command vocabulary the
// ingestion engine, expiry engine and query surface use to persist and
// read indexer state, and selects between the two concrete back-ends
// (embedded sqlite, networked postgres) by connection-string shape.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/swarmstats/indexer/internal/decoder"
	"github.com/swarmstats/indexer/internal/logger"
	pkgconfig "github.com/swarmstats/indexer/pkg/config"
	"github.com/swarmstats/indexer/pkg/types"
)

// BatchRecord is materialised from a BatchCreated event and mutated by
// subsequent TopUp and DepthIncrease events.
type BatchRecord struct {
	BatchID           common.Hash
	OwnerAddress      common.Address
	PayerAddress      *common.Address
	Depth             uint8
	BucketDepth       uint8
	ImmutableFlag     bool
	NormalisedBalance string
	BlockNumber       uint64
	CreatedAt         time.Time
	ContractFamily    types.ContractFamily
}

// AddressClassification enumerates the roles an address can play.
type AddressClassification string

const (
	ClassificationBuyer    AddressClassification = "buyer"
	ClassificationFunder   AddressClassification = "funder"
	ClassificationBoth     AddressClassification = "both"
	ClassificationContract AddressClassification = "contract"
)

// AddressRecord aggregates everything known about one address.
type AddressRecord struct {
	Address               common.Address
	StampIDs              []string
	TotalStampsPurchased  uint64
	TotalAmountSpent      string
	TopFunders            []FunderShare
	IsFunder              bool
	FundedAddresses       []common.Address
	FirstSeen             time.Time
	LastSeen              time.Time
	FirstBlock            uint64
	LastBlock             uint64
	TransactionCount      uint64
	Classification        AddressClassification
	IsContract            bool
	Label                 *string
	Notes                 *string
	Version               uint64
}

// FunderShare is one entry of an address's top_funders projection.
type FunderShare struct {
	Funder common.Address `json:"funder"`
	Amount string         `json:"amount"`
}

// AddressInteraction records one value transfer observed between two
// addresses, optionally tied to a postage-stamp batch.
type AddressInteraction struct {
	From            common.Address
	To              common.Address
	TransactionHash common.Hash
	Amount          string
	BlockNumber     uint64
	BlockTimestamp  time.Time
	RelatedToStamp  bool
	StampBatchID    *common.Hash
}

// TxDetail is the cached subset of a transaction's on-chain fields, keyed
// by hash so repeated ingestion never re-fetches it.
type TxDetail struct {
	TransactionHash    common.Hash
	From               common.Address
	To                 *common.Address
	Value              string
	GasPrice           *string
	GasUsed            *uint64
	BlockNumber        uint64
	BlockTimestamp     time.Time
	InputData          *string
	IsContractCreation bool
	FetchedAt          time.Time
}

// ChunkCacheEntry records one previously processed (contract, range) pair.
type ChunkCacheEntry struct {
	ChunkHash       string
	ContractAddress common.Address
	FromBlock       uint64
	ToBlock         uint64
	ProcessedAt     time.Time
	EventCount      int
}

// ErrBatchNotFound is returned when a TopUp/DepthIncrease event arrives
// before its BatchCreated counterpart has been persisted.
type ErrBatchNotFound struct {
	BatchID common.Hash
}

func (e *ErrBatchNotFound) Error() string {
	return fmt.Sprintf("batch %s not found: mutation event seen before its creator", e.BatchID.Hex())
}

// ErrAddressVersionConflict is returned by UpsertAddress when the record's
// version no longer matches the persisted row: something else (typically
// UpdateTopFunders's own compare-and-set) wrote a newer version between the
// caller's read and this write. The whole chunk transaction must roll back
// and be retried from a fresh read, since the in-memory record this call
// tried to write is now stale.
type ErrAddressVersionConflict struct {
	Address common.Address
}

func (e *ErrAddressVersionConflict) Error() string {
	return fmt.Sprintf("address %s: version conflict: record was modified concurrently", e.Address.Hex())
}

// Store is the full command vocabulary a back-end must implement. Every
// method that mutates persisted state is idempotent under the uniqueness
// keys described in the data model.
type Store interface {
	// Close releases underlying connections.
	Close() error

	// WithinChunk runs fn inside one transaction: the chunk's events, batch
	// mutations, address/interaction upserts and chunk-cache row commit
	// atomically, or none of them do.
	WithinChunk(ctx context.Context, fn func(ChunkWriter) error) error

	// ChunkProcessed reports whether chunkHash is already recorded.
	ChunkProcessed(ctx context.Context, chunkHash string) (bool, error)

	// SetKV upserts a scalar key-value row with a monotonic write timestamp.
	SetKV(ctx context.Context, key, value string) error
	// GetKV returns the current value of key, or ok=false if unset.
	GetKV(ctx context.Context, key string) (value string, ok bool, err error)

	// GetTxDetail returns a cached transaction detail row, if present.
	GetTxDetail(ctx context.Context, txHash common.Hash) (*TxDetail, bool, error)
	// GetAddress returns a cached address record, if present.
	GetAddress(ctx context.Context, address common.Address) (*AddressRecord, bool, error)
	// AllFundedAddresses returns every address with at least one recorded
	// incoming address_funded edge, for the periodic top-funders job.
	AllFundedAddresses(ctx context.Context) ([]common.Address, error)
	// FundersOf returns every funder address and the cumulative amount it
	// has sent to funded, across all recorded interactions tied to a
	// stamp purchase.
	FundersOf(ctx context.Context, funded common.Address) ([]FunderShare, error)
	// UpdateTopFunders overwrites funded's top_funders projection outside
	// of any chunk transaction, under the same version compare-and-set
	// UpsertAddress uses.
	UpdateTopFunders(ctx context.Context, funded common.Address, topFunders []FunderShare) error

	// Query projections (§4.7), implemented by each back-end's own SQL.
	Queries
}

// ChunkWriter is the write surface available inside one chunk transaction.
type ChunkWriter interface {
	UpsertStampEvent(event *decoder.StampEvent) error
	UpsertStorageIncentivesEvent(event *decoder.StorageIncentivesEvent) error

	UpsertBatchCreated(batch BatchRecord) error
	ApplyBatchTopUp(batchID common.Hash, normalisedBalance string) error
	ApplyBatchDepthIncrease(batchID common.Hash, newDepth uint8, normalisedBalance string) error

	UpsertAddress(record AddressRecord) error
	UpsertInteraction(interaction AddressInteraction) error
	UpsertTxDetail(detail TxDetail) error

	// LinkAddressStamp records that address owns or purchased batchID.
	LinkAddressStamp(address common.Address, batchID common.Hash) error
	// LinkAddressFunded records a funder -> funded-address edge.
	LinkAddressFunded(funder, funded common.Address) error

	RecordChunk(entry ChunkCacheEntry) error
	SetKV(key, value string) error
}

// Open selects and opens the back-end addressed by cfg.ConnectionString:
// a "postgres://" or "postgresql://" URL selects the networked engine,
// anything else the embedded sqlite engine. maintCfg is only consulted by
// the sqlite engine; the postgres engine manages its own storage.
func Open(ctx context.Context, cfg pkgconfig.DatabaseConfig, maintCfg *pkgconfig.MaintenanceConfig, log *logger.Logger) (Store, error) {
	if pkgconfig.IsPostgres(cfg.ConnectionString) {
		return openPostgres(ctx, cfg)
	}
	return openSQLite(ctx, cfg, maintCfg, log)
}
