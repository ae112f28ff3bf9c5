package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Store is the part of the transaction store the scanner writes to.
type Store interface {
	domain.RecordWriter
	Len() int
}

// Progress summarizes a scan.
type Progress struct {
	From       uint64 `json:"from"`
	To         uint64 `json:"to"`
	Blocks     int    `json:"blocks"`
	Appended   int    `json:"appended"`
	Duplicates int    `json:"duplicates"`
	Rejected   int    `json:"rejected"`
}

// Scanner drives a Provider into the store.
type Scanner struct {
	provider Provider
	store    Store
	bus      domain.EventBus
	cfg      domain.ChainConfig
	policy   RetryPolicy
	logger   *slog.Logger

	sinceCheckpoint uint64
}

// Option customizes a Scanner.
type Option func(*Scanner)

// WithBus publishes checkpoints on b.
func WithBus(b domain.EventBus) Option {
	return func(s *Scanner) { s.bus = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// NewScanner creates a scanner. Zero batch settings in cfg fall back to one
// block at a time with a checkpoint after every batch.
func NewScanner(p Provider, st Store, cfg domain.ChainConfig, opts ...Option) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.CheckpointEvery == 0 {
		cfg.CheckpointEvery = uint64(cfg.Concurrency)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 12 * time.Second
	}

	s := &Scanner{
		provider: p,
		store:    st,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.policy = PolicyFrom(cfg.Retry)
	s.policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		s.logger.Warn("provider call failed, retrying",
			"attempt", attempt,
			"wait_ms", wait.Milliseconds(),
			"error", err,
		)
	}
	return s
}

// Run scans the configured range. With Follow set and no EndBlock it keeps
// tracking the confirmed head until ctx ends, then returns nil.
func (s *Scanner) Run(ctx context.Context) (Progress, error) {
	head, err := s.safeHead(ctx)
	if err != nil {
		return Progress{}, err
	}

	from, to := s.bounds(head)
	total, err := s.ScanRange(ctx, from, to)
	if err != nil || !s.cfg.Follow || s.cfg.EndBlock != 0 {
		return total, err
	}

	next := to + 1
	if from > to {
		next = from
	}
	s.logger.Info("following chain head",
		"chain", s.cfg.Name,
		"next_block", next,
		"poll_interval", s.cfg.PollInterval,
	)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return total, nil
		case <-ticker.C:
		}

		head, err := s.safeHead(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return total, nil
			}
			s.logger.Error("failed to read chain head", "error", err)
			continue
		}
		if head < next {
			continue
		}

		p, err := s.ScanRange(ctx, next, head)
		total.merge(p)
		if err != nil {
			if ctx.Err() != nil {
				return total, nil
			}
			return total, err
		}
		next = head + 1
	}
}

// bounds resolves the initial range against the confirmed head.
func (s *Scanner) bounds(head uint64) (from, to uint64) {
	to = s.cfg.EndBlock
	if to == 0 || to > head {
		to = head
	}
	from = s.cfg.StartBlock
	if from == 0 {
		lookback := max(s.cfg.Lookback, 1)
		if to+1 > lookback {
			from = to + 1 - lookback
		}
	}
	return from, to
}

// safeHead is the latest block minus the configured confirmations.
func (s *Scanner) safeHead(ctx context.Context) (uint64, error) {
	var head uint64
	err := Retry(ctx, s.policy, func(ctx context.Context) error {
		var err error
		head, err = s.provider.LatestBlock(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read latest block: %w", err)
	}
	if head < s.cfg.Confirmations {
		return 0, nil
	}
	return head - s.cfg.Confirmations, nil
}

// ScanRange scans [from, to]. Blocks are fetched Concurrency at a time and
// appended in block order, so store order follows chain order.
func (s *Scanner) ScanRange(ctx context.Context, from, to uint64) (Progress, error) {
	p := Progress{From: from, To: to}
	if from > to {
		return p, nil
	}

	start := time.Now()
	s.logger.Info("scanning blocks",
		"chain", s.cfg.Name,
		"from", from,
		"to", to,
	)

	batch := uint64(s.cfg.Concurrency)
	for lo := from; lo <= to; lo += batch {
		hi := min(lo+batch-1, to)

		recs, err := s.fetchBatch(ctx, lo, hi)
		if err != nil {
			return p, err
		}
		for _, blockRecs := range recs {
			s.appendAll(blockRecs, &p)
		}

		n := hi - lo + 1
		p.Blocks += int(n)
		metrics.BlocksScanned.WithLabelValues(s.cfg.Name).Add(float64(n))
		metrics.ScanHead.WithLabelValues(s.cfg.Name).Set(float64(hi))

		s.sinceCheckpoint += n
		if s.sinceCheckpoint >= s.cfg.CheckpointEvery || hi == to {
			s.checkpoint(ctx, hi, p.Appended)
		}

		if hi == to {
			break
		}
	}

	s.logger.Info("scan complete",
		"chain", s.cfg.Name,
		"blocks", p.Blocks,
		"appended", p.Appended,
		"duplicates", p.Duplicates,
		"rejected", p.Rejected,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return p, nil
}

func (s *Scanner) fetchBatch(ctx context.Context, lo, hi uint64) ([][]domain.TransactionRecord, error) {
	out := make([][]domain.TransactionRecord, hi-lo+1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for n := lo; n <= hi; n++ {
		g.Go(func() error {
			recs, err := s.fetchBlock(gctx, n)
			if err != nil {
				return fmt.Errorf("block %d: %w", n, err)
			}
			out[n-lo] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Scanner) fetchBlock(ctx context.Context, n uint64) ([]domain.TransactionRecord, error) {
	var recs []domain.TransactionRecord
	err := Retry(ctx, s.policy, func(ctx context.Context) error {
		blk, err := s.provider.FetchBlock(ctx, n)
		if err != nil {
			return err
		}
		recs, err = s.provider.FetchTransactions(ctx, blk)
		return err
	})
	return recs, err
}

// appendAll adds records not yet stored. Integrity rejects are logged and skipped.
func (s *Scanner) appendAll(recs []domain.TransactionRecord, p *Progress) {
	for _, rec := range recs {
		if s.store.Contains(rec.Hash) {
			p.Duplicates++
			continue
		}
		err := s.store.Append(rec)
		if err == nil {
			p.Appended++
			continue
		}

		var integrity *domain.DataIntegrityError
		if !errors.As(err, &integrity) {
			s.logger.Error("append failed", "tx_hash", rec.Hash, "error", err)
			p.Rejected++
			continue
		}
		if errors.Is(err, domain.ErrDuplicateRecord) {
			p.Duplicates++
			continue
		}
		p.Rejected++
		s.logger.Warn("record rejected",
			"tx_hash", rec.Hash,
			"block", rec.BlockNumber,
			"error", err,
		)
	}
}

func (s *Scanner) checkpoint(ctx context.Context, block uint64, appended int) {
	s.sinceCheckpoint = 0
	if s.bus == nil {
		return
	}
	cp := domain.Checkpoint{
		Chain:     s.cfg.Name,
		Block:     block,
		Records:   appended,
		StoreSize: s.store.Len(),
	}
	if err := bus.PublishJSON(ctx, s.bus, domain.TopicScanCheckpoint, cp); err != nil {
		s.logger.Error("failed to publish checkpoint",
			"block", block,
			"error", err,
		)
	}
}

func (p *Progress) merge(o Progress) {
	if p.Blocks == 0 {
		p.From = o.From
	}
	p.To = o.To
	p.Blocks += o.Blocks
	p.Appended += o.Appended
	p.Duplicates += o.Duplicates
	p.Rejected += o.Rejected
}
