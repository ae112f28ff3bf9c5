// Package scan feeds the transaction store from a chain provider.
//
// A Provider exposes three capabilities: the latest block number, a block
// header by number, and the transactions of a block as records. The Scanner
// walks a block range or follows the head, appends new records in block order
// and publishes checkpoints on the event bus.
package scan

import (
	"context"
	"errors"

	"github.com/opensource-finance/heron/internal/domain"
)

// ErrBlockNotFound is returned when the provider has no block at the height.
var ErrBlockNotFound = errors.New("block not found")

// Provider is the chain capability the scanner needs.
type Provider interface {
	LatestBlock(ctx context.Context) (uint64, error)
	FetchBlock(ctx context.Context, number uint64) (domain.Block, error)
	FetchTransactions(ctx context.Context, block domain.Block) ([]domain.TransactionRecord, error)
}
