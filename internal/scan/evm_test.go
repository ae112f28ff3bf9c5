package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/stretchr/testify/require"
)

const (
	testSender = "0x1111111111111111111111111111111111111111"
	testHash1  = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testHash2  = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	testParent = "0xcccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
)

// rpcServer answers eth_blockNumber and eth_getBlockByNumber from a fixed block.
func rpcServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	block := map[string]any{
		"number":     "0x10",
		"hash":       testHash1,
		"parentHash": testParent,
		"timestamp":  "0x677bc5c0",
		"transactions": []map[string]any{
			{
				"hash":     testHash1,
				"from":     testSender,
				"to":       domain.UniswapV2Router,
				"value":    "0x14d1120d7b160000",
				"gas":      "0x5208",
				"gasPrice": "0x4a817c800",
				"input":    "0x7ff36ab50000000000000000000000000000000000000000000000000000000000000001",
			},
			{
				"hash":     testHash2,
				"from":     testSender,
				"to":       nil,
				"value":    "0x0",
				"gas":      "0x5208",
				"gasPrice": "0x4a817c800",
				"input":    "0x",
			},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "eth_blockNumber":
			resp["result"] = "0x12"
		case "eth_getBlockByNumber":
			switch req.Params[0] {
			case "0x10":
				resp["result"] = block
			case "0x63":
				resp["error"] = map[string]any{"code": -32602, "message": "invalid argument"}
			default:
				resp["result"] = nil
			}
		default:
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testProvider(url string) *EVMProvider {
	cfg := domain.DefaultConfig()
	cfg.Chain.RPCURL = url
	return NewEVMProvider(cfg.Chain, cfg.Contracts)
}

func TestEVMProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("LatestBlock", func(t *testing.T) {
		p := testProvider(rpcServer(t, nil).URL)
		head, err := p.LatestBlock(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(0x12), head)
	})

	t.Run("FetchBlockAndTransactions", func(t *testing.T) {
		var calls atomic.Int32
		p := testProvider(rpcServer(t, &calls).URL)

		blk, err := p.FetchBlock(ctx, 16)
		require.NoError(t, err)
		require.Equal(t, uint64(16), blk.Number)
		require.Equal(t, testParent, blk.ParentHash)
		require.Equal(t, time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC), blk.Timestamp)

		recs, err := p.FetchTransactions(ctx, blk)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		require.Equal(t, int32(1), calls.Load(), "transactions must come from the cached block")

		swap := recs[0]
		require.Equal(t, testHash1, swap.Hash)
		require.Equal(t, testSender, swap.From)
		require.Equal(t, domain.UniswapV2Router, swap.To)
		require.InDelta(t, 1.5, swap.Value, 1e-12)
		require.InDelta(t, 0.00042, swap.Fee, 1e-12)
		require.InDelta(t, 20, swap.GasPriceGwei, 1e-9)
		require.Equal(t, uint64(21000), swap.Gas)
		require.Equal(t, "0x7ff36ab5", swap.Method)
		require.Equal(t, 36, swap.InputSize)
		require.Equal(t, domain.TagDEX, swap.Tag)
		require.Equal(t, uint64(16), swap.BlockNumber)

		create := recs[1]
		require.Empty(t, create.To)
		require.Empty(t, create.Method)
		require.Zero(t, create.Value)
		require.Equal(t, domain.TagNone, create.Tag)
	})

	t.Run("FetchTransactionsWithoutCachedBlock", func(t *testing.T) {
		p := testProvider(rpcServer(t, nil).URL)
		recs, err := p.FetchTransactions(ctx, domain.Block{Number: 16})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		require.Empty(t, p.blocks, "a refetched block must not stay cached")
	})

	t.Run("ConcurrentRefetchOfSameBlock", func(t *testing.T) {
		p := testProvider(rpcServer(t, nil).URL)

		var wg sync.WaitGroup
		errs := make(chan error, 32)
		for range 16 {
			wg.Add(2)
			go func() {
				defer wg.Done()
				recs, err := p.FetchTransactions(ctx, domain.Block{Number: 16})
				if err == nil && len(recs) != 2 {
					err = fmt.Errorf("got %d records", len(recs))
				}
				errs <- err
			}()
			go func() {
				defer wg.Done()
				_, err := p.FetchBlock(ctx, 16)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}
	})

	t.Run("BlockNotFound", func(t *testing.T) {
		p := testProvider(rpcServer(t, nil).URL)
		_, err := p.FetchBlock(ctx, 17)
		require.ErrorIs(t, err, ErrBlockNotFound)
	})

	t.Run("RPCError", func(t *testing.T) {
		p := testProvider(rpcServer(t, nil).URL)
		_, err := p.FetchBlock(ctx, 0x63)

		var rpcErr *RPCError
		require.True(t, errors.As(err, &rpcErr))
		require.Equal(t, -32602, rpcErr.Code)
		require.Equal(t, Fatal, classifyRPC(err))
	})

	t.Run("HTTPError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := testProvider(srv.URL).LatestBlock(ctx)
		require.Error(t, err)
		require.Equal(t, Retryable, classifyRPC(err))
	})
}
