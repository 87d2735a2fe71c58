package chainrpc_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmstats/indexer/internal/chainrpc"
	"github.com/swarmstats/indexer/pkg/chain"
	"github.com/swarmstats/indexer/pkg/types"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params []json.RawMessage
}

type rpcResponse struct {
	ID      json.RawMessage `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result"`
}

// newMockNode starts a JSON-RPC server that answers eth_blockNumber and
// eth_getBlockByNumber with fixed values, enough to exercise BlockNumber
// and FinalizedBlockNumber without a live node.
func newMockNode(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := rpcResponse{ID: req.ID, JSONRPC: "2.0"}
		switch req.Method {
		case "eth_blockNumber":
			resp.Result = "0x2733760" // 41_105_248
		case "eth_getBlockByNumber":
			zeroHash := "0x" + strings.Repeat("00", 32)
			resp.Result = map[string]interface{}{
				"number":           "0x2733760",
				"hash":             zeroHash,
				"parentHash":       zeroHash,
				"sha3Uncles":       zeroHash,
				"stateRoot":        zeroHash,
				"transactionsRoot": zeroHash,
				"receiptsRoot":     zeroHash,
				"mixHash":          zeroHash,
				"timestamp":        "0x5f5e100",
				"gasLimit":         "0x1c9c380",
				"gasUsed":          "0x0",
				"difficulty":       "0x0",
				"miner":            "0x" + strings.Repeat("00", 20),
				"extraData":        "0x",
				"nonce":            "0x0000000000000000",
				"logsBloom":        "0x" + strings.Repeat("00", 256),
			}
		default:
			http.Error(w, "unsupported method "+req.Method, http.StatusNotImplemented)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestBlockNumber(t *testing.T) {
	server := newMockNode(t)
	defer server.Close()

	client, err := chainrpc.New(context.Background(), server.URL)
	require.NoError(t, err)
	defer client.Close()

	block, err := client.BlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.BlockNumber(41_105_248), block)
}

func TestFinalizedBlockNumber(t *testing.T) {
	server := newMockNode(t)
	defer server.Close()

	client, err := chainrpc.New(context.Background(), server.URL)
	require.NoError(t, err)
	defer client.Close()

	block, err := client.FinalizedBlockNumber(context.Background(), chain.FinalityFinalized)
	require.NoError(t, err)
	require.Equal(t, types.BlockNumber(41_105_248), block)

	_, err = client.FinalizedBlockNumber(context.Background(), chain.Finality("bogus"))
	require.Error(t, err)
}
