package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/shopspring/decimal"
)

// maxCachedBlocks bounds the blocks kept between FetchBlock and FetchTransactions.
const maxCachedBlocks = 256

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

type rpcBlock struct {
	Number       hexutil.Uint64   `json:"number"`
	Hash         common.Hash      `json:"hash"`
	ParentHash   common.Hash      `json:"parentHash"`
	Timestamp    hexutil.Uint64   `json:"timestamp"`
	Transactions []rpcTransaction `json:"transactions"`
}

type rpcTransaction struct {
	Hash     common.Hash     `json:"hash"`
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to"`
	Value    *hexutil.Big    `json:"value"`
	Gas      hexutil.Uint64  `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Input    hexutil.Bytes   `json:"input"`
}

// EVMProvider reads blocks over Ethereum JSON-RPC.
type EVMProvider struct {
	url       string
	client    *http.Client
	contracts domain.ContractsConfig
	nextID    atomic.Uint64

	mu     sync.Mutex
	blocks map[uint64]*rpcBlock
}

// NewEVMProvider creates a provider for the endpoint in cfg. Records sent to
// contracts in the known sets are tagged.
func NewEVMProvider(cfg domain.ChainConfig, contracts domain.ContractsConfig) *EVMProvider {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &EVMProvider{
		url:       cfg.RPCURL,
		client:    &http.Client{Timeout: timeout},
		contracts: contracts,
		blocks:    make(map[uint64]*rpcBlock),
	}
}

// LatestBlock returns the current head number.
func (p *EVMProvider) LatestBlock(ctx context.Context) (uint64, error) {
	var head hexutil.Uint64
	if err := p.call(ctx, "eth_blockNumber", &head); err != nil {
		return 0, err
	}
	return uint64(head), nil
}

// FetchBlock returns the header of block number. The full transaction list is
// kept until FetchTransactions asks for it.
func (p *EVMProvider) FetchBlock(ctx context.Context, number uint64) (domain.Block, error) {
	blk, err := p.fetchBlock(ctx, number)
	if err != nil {
		return domain.Block{}, err
	}

	p.mu.Lock()
	if len(p.blocks) >= maxCachedBlocks {
		clear(p.blocks)
	}
	p.blocks[number] = blk
	p.mu.Unlock()

	return blk.header(), nil
}

func (p *EVMProvider) fetchBlock(ctx context.Context, number uint64) (*rpcBlock, error) {
	var blk *rpcBlock
	if err := p.call(ctx, "eth_getBlockByNumber", &blk, hexutil.EncodeUint64(number), true); err != nil {
		return nil, err
	}
	if blk == nil {
		return nil, fmt.Errorf("%w: %d", ErrBlockNotFound, number)
	}
	return blk, nil
}

// FetchTransactions converts the transactions of block to records. A block
// evicted from the cache since FetchBlock is fetched again.
func (p *EVMProvider) FetchTransactions(ctx context.Context, block domain.Block) ([]domain.TransactionRecord, error) {
	p.mu.Lock()
	blk, ok := p.blocks[block.Number]
	delete(p.blocks, block.Number)
	p.mu.Unlock()

	if !ok || blk == nil {
		var err error
		if blk, err = p.fetchBlock(ctx, block.Number); err != nil {
			return nil, err
		}
	}

	ts := time.Unix(int64(blk.Timestamp), 0).UTC()
	recs := make([]domain.TransactionRecord, 0, len(blk.Transactions))
	for _, tx := range blk.Transactions {
		recs = append(recs, p.record(tx, uint64(blk.Number), ts))
	}
	return recs, nil
}

func (p *EVMProvider) record(tx rpcTransaction, number uint64, ts time.Time) domain.TransactionRecord {
	rec := domain.TransactionRecord{
		Hash:        tx.Hash.Hex(),
		From:        strings.ToLower(tx.From.Hex()),
		Value:       weiTo(tx.Value, 18),
		Gas:         uint64(tx.Gas),
		Timestamp:   ts,
		BlockNumber: number,
		InputSize:   len(tx.Input),
	}
	if tx.To != nil {
		rec.To = strings.ToLower(tx.To.Hex())
	}

	gasPrice := big.NewInt(0)
	if tx.GasPrice != nil {
		gasPrice = tx.GasPrice.ToInt()
	}
	rec.GasPriceGwei = decimal.NewFromBigInt(gasPrice, -9).InexactFloat64()
	fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(uint64(tx.Gas)))
	rec.Fee = decimal.NewFromBigInt(fee, -18).InexactFloat64()

	if len(tx.Input) >= 4 {
		rec.Method = hexutil.Encode(tx.Input[:4])
	}

	switch {
	case p.contracts.DEX.Contains(rec.To):
		rec.Tag = domain.TagDEX
	case p.contracts.NFT.Contains(rec.To):
		rec.Tag = domain.TagNFT
	}
	return rec
}

// weiTo converts an integer amount to a float with the given decimals.
func weiTo(v *hexutil.Big, decimals int32) float64 {
	if v == nil {
		return 0
	}
	return decimal.NewFromBigInt(v.ToInt(), -decimals).InexactFloat64()
}

func (b *rpcBlock) header() domain.Block {
	return domain.Block{
		Number:     uint64(b.Number),
		Hash:       b.Hash.Hex(),
		ParentHash: b.ParentHash.Hex(),
		Timestamp:  time.Unix(int64(b.Timestamp), 0).UTC(),
	}
}

func (p *EVMProvider) call(ctx context.Context, method string, out any, params ...any) error {
	start := time.Now()
	err := p.do(ctx, method, out, params)
	metrics.RPCLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RPCCallsTotal.WithLabelValues(method, status).Inc()
	return err
}

func (p *EVMProvider) do(ctx context.Context, method string, out any, params []any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      p.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: status=%d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: %w", method, rpcResp.Error)
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}
