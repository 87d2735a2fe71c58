// Package chainrpc implements pkg/chain.Client against a go-ethereum
// JSON-RPC endpoint, grounded on the teacher's internal/rpc.Client: one
// ethclient.Client for the typed calls (FilterLogs, HeaderByNumber,
// TransactionByHash, CallContract for contract view calls) plus the
// underlying rpc.Client for raw eth_getBlockByNumber calls (block-tag
// lookups and batched timestamp fetches).
package chainrpc

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/swarmstats/indexer/pkg/chain"
	"github.com/swarmstats/indexer/pkg/types"
)

var _ chain.Client = (*Client)(nil)

// Client wraps an Ethereum JSON-RPC connection.
type Client struct {
	eth *ethclient.Client
	rpc *rpc.Client
}

// New dials endpoint and returns a connected Client.
func New(ctx context.Context, endpoint string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return &Client{eth: ethclient.NewClient(rpcClient), rpc: rpcClient}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.eth.Close()
}

// BlockNumber returns the current chain tip.
func (c *Client) BlockNumber(ctx context.Context) (types.BlockNumber, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	return types.BlockNumber(n), nil
}

// FinalizedBlockNumber returns the block number of the "finalized", "safe"
// or "latest" tag, grounded on the same raw eth_getBlockByNumber call
// BatchBlockTimestamps already issues, just with a tag argument instead of
// a block number.
func (c *Client) FinalizedBlockNumber(ctx context.Context, finality chain.Finality) (types.BlockNumber, error) {
	if !finality.Valid() {
		return 0, fmt.Errorf("finalized block number: invalid finality %q", finality)
	}
	var header gethtypes.Header
	if err := c.rpc.CallContext(ctx, &header, "eth_getBlockByNumber", string(finality), false); err != nil {
		return 0, fmt.Errorf("finalized block number (%s): %w", finality, err)
	}
	return types.BlockNumber(header.Number.Uint64()), nil
}

// BlockTimestamp returns block's timestamp.
func (c *Client) BlockTimestamp(ctx context.Context, block types.BlockNumber) (int64, error) {
	header, err := c.eth.HeaderByNumber(ctx, big.NewInt(int64(block)))
	if err != nil {
		return 0, fmt.Errorf("header for block %s: %w", block, err)
	}
	return int64(header.Time), nil
}

// Logs returns every log emitted by address in the inclusive range
// [from, to].
func (c *Client) Logs(ctx context.Context, address types.Address, from, to types.BlockNumber) ([]gethtypes.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(int64(from)),
		ToBlock:   big.NewInt(int64(to)),
		Addresses: []common.Address{common.HexToAddress(address.String())},
	}
	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("logs for %s [%s,%s]: %w", address, from, to, err)
	}
	return logs, nil
}

// Transaction returns transaction detail for hash.
func (c *Client) Transaction(ctx context.Context, hash common.Hash) (chain.TransactionDetail, error) {
	tx, _, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return chain.TransactionDetail{}, fmt.Errorf("transaction %s: %w", hash, err)
	}

	// Recovering the sender from the signature avoids a second RPC round
	// trip (TransactionSender requires the transaction's containing block
	// hash, which we do not otherwise need).
	signer := gethtypes.LatestSignerForChainID(tx.ChainId())
	from, err := gethtypes.Sender(signer, tx)
	if err != nil {
		return chain.TransactionDetail{}, fmt.Errorf("recover sender for %s: %w", hash, err)
	}

	detail := chain.TransactionDetail{
		From:       from,
		To:         tx.To(),
		Value:      tx.Value(),
		GasPrice:   tx.GasPrice(),
		Input:      tx.Data(),
		IsCreation: tx.To() == nil,
	}
	return detail, nil
}

// Code returns the bytecode deployed at address.
func (c *Client) Code(ctx context.Context, address types.Address) ([]byte, error) {
	code, err := c.eth.CodeAt(ctx, common.HexToAddress(address.String()), nil)
	if err != nil {
		return nil, fmt.Errorf("code at %s: %w", address, err)
	}
	return code, nil
}

var (
	currentPriceArgs     = abi.Arguments{}
	currentPriceReturns  = abi.Arguments{{Type: mustUint256()}}
	remainingBalanceArgs = abi.Arguments{{Type: mustBytes32()}}
	remainingBalanceRets = abi.Arguments{{Type: mustUint256()}}

	currentPriceSelector     = methodSelector("currentPrice()")
	remainingBalanceSelector = methodSelector("remainingBalance(bytes32)")
)

func mustUint256() abi.Type {
	t, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

func mustBytes32() abi.Type {
	t, err := abi.NewType("bytes32", "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

func methodSelector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// CurrentPrice calls the active PriceOracle's currentPrice() view.
func (c *Client) CurrentPrice(ctx context.Context, priceOracleAddress types.Address) (types.BigUnsigned, error) {
	packed, err := currentPriceArgs.Pack()
	if err != nil {
		return types.BigUnsigned{}, fmt.Errorf("pack currentPrice call: %w", err)
	}
	result, err := c.call(ctx, priceOracleAddress, callData(currentPriceSelector, packed))
	if err != nil {
		return types.BigUnsigned{}, fmt.Errorf("call currentPrice on %s: %w", priceOracleAddress, err)
	}
	values, err := currentPriceReturns.UnpackValues(result)
	if err != nil {
		return types.BigUnsigned{}, fmt.Errorf("unpack currentPrice result: %w", err)
	}
	return types.NewBigUnsigned(values[0].(*big.Int)), nil
}

// RemainingBalance calls the active PostageStamp's remainingBalance(bytes32) view.
func (c *Client) RemainingBalance(ctx context.Context, postageStampAddress types.Address, batchID common.Hash) (types.BigUnsigned, error) {
	packed, err := remainingBalanceArgs.Pack(batchID)
	if err != nil {
		return types.BigUnsigned{}, fmt.Errorf("pack remainingBalance call: %w", err)
	}
	result, err := c.call(ctx, postageStampAddress, callData(remainingBalanceSelector, packed))
	if err != nil {
		return types.BigUnsigned{}, fmt.Errorf("call remainingBalance on %s for batch %s: %w", postageStampAddress, batchID, err)
	}
	values, err := remainingBalanceRets.UnpackValues(result)
	if err != nil {
		return types.BigUnsigned{}, fmt.Errorf("unpack remainingBalance result: %w", err)
	}
	return types.NewBigUnsigned(values[0].(*big.Int)), nil
}

func callData(selector, packedArgs []byte) []byte {
	data := make([]byte, 0, len(selector)+len(packedArgs))
	data = append(data, selector...)
	data = append(data, packedArgs...)
	return data
}

func (c *Client) call(ctx context.Context, address types.Address, data []byte) ([]byte, error) {
	to := common.HexToAddress(address.String())
	msg := ethereum.CallMsg{To: &to, Data: data}
	return c.eth.CallContract(ctx, msg, nil)
}

// BatchBlockTimestamps fetches several block timestamps in one JSON-RPC
// batch call, used by the ingestion engine to amortise header lookups
// across a chunk instead of issuing one round trip per log.
func (c *Client) BatchBlockTimestamps(ctx context.Context, blocks []types.BlockNumber) (map[types.BlockNumber]int64, error) {
	const maxBatch = 100
	out := make(map[types.BlockNumber]int64, len(blocks))

	for start := 0; start < len(blocks); start += maxBatch {
		end := start + maxBatch
		if end > len(blocks) {
			end = len(blocks)
		}
		chunk := blocks[start:end]

		batch := make([]rpc.BatchElem, len(chunk))
		results := make([]*gethtypes.Header, len(chunk))
		for i, block := range chunk {
			batch[i] = rpc.BatchElem{
				Method: "eth_getBlockByNumber",
				Args:   []any{toBlockNumArg(uint64(block)), false},
				Result: &results[i],
			}
		}

		if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
			return nil, fmt.Errorf("batch block headers: %w", err)
		}
		for i, elem := range batch {
			if elem.Error != nil {
				return nil, fmt.Errorf("batch block header for %s: %w", chunk[i], elem.Error)
			}
			out[chunk[i]] = int64(results[i].Time)
		}
	}
	return out, nil
}

func toBlockNumArg(blockNum uint64) string {
	return fmt.Sprintf("0x%x", blockNum)
}
