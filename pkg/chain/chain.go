// Package chain declares the indexer's sole transport dependency: the
// seven read operations it needs from an Ethereum-compatible JSON-RPC
// node. internal/chainrpc supplies the concrete go-ethereum-backed
// implementation; tests may supply an in-memory fake.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/swarmstats/indexer/pkg/types"
)

// Finality selects which chain tip a caller wants: the highest-numbered
// block a node treats as final and will not revert ("finalized"), a shallower but still
// reorg-resistant tip ("safe"), or the node's current head ("latest").
type Finality string

const (
	FinalityFinalized Finality = "finalized"
	FinalitySafe      Finality = "safe"
	FinalityLatest    Finality = "latest"
)

// Valid reports whether f is one of the three recognised tags.
func (f Finality) Valid() bool {
	switch f {
	case FinalityFinalized, FinalitySafe, FinalityLatest:
		return true
	default:
		return false
	}
}

// TransactionDetail is the subset of a transaction's fields the indexer
// needs for address-attribution and gas analytics.
type TransactionDetail struct {
	From       common.Address
	To         *common.Address // nil for contract-creation transactions
	Value      *big.Int
	GasPrice   *big.Int
	Input      []byte
	IsCreation bool
}

// Client is the transport surface the ingestion, expiry and query engines
// are built against. Every method takes a context and is expected to be
// wrapped by internal/retry at the call site, not internally.
type Client interface {
	// BlockNumber returns the current chain tip.
	BlockNumber(ctx context.Context) (types.BlockNumber, error)

	// FinalizedBlockNumber returns the block number of the tag identified
	// by finality. Used by the follow loop when configured for
	// "finalized"/"safe" tip-following instead of a fixed safety depth
	// behind "latest".
	FinalizedBlockNumber(ctx context.Context, finality Finality) (types.BlockNumber, error)

	// BlockTimestamp returns block's timestamp, seconds since the Unix
	// epoch. Safe to cache indefinitely once returned, since a block's
	// timestamp never changes after it is mined (reorgs replace the whole
	// block, not just its timestamp).
	BlockTimestamp(ctx context.Context, block types.BlockNumber) (int64, error)

	// Logs returns every log emitted by address in the inclusive block
	// range [from, to]. Callers are responsible for keeping the range
	// narrow enough that the node does not reject the request; Logs
	// itself does not chunk.
	Logs(ctx context.Context, address types.Address, from, to types.BlockNumber) ([]gethtypes.Log, error)

	// Transaction returns transaction detail for hash.
	Transaction(ctx context.Context, hash common.Hash) (TransactionDetail, error)

	// Code returns the bytecode deployed at address as of the latest
	// block; an empty slice means address is an externally-owned account.
	Code(ctx context.Context, address types.Address) ([]byte, error)

	// CurrentPrice calls the active PriceOracle's current-price view.
	CurrentPrice(ctx context.Context, priceOracleAddress types.Address) (types.BigUnsigned, error)

	// RemainingBalance calls the active PostageStamp's remaining-balance
	// view for batchID.
	RemainingBalance(ctx context.Context, postageStampAddress types.Address, batchID common.Hash) (types.BigUnsigned, error)
}
