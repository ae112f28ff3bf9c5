// Package pattern implements the business pattern detector suite.
package pattern

import (
	"context"
	"iter"

	"github.com/opensource-finance/heron/internal/detect"
	"github.com/opensource-finance/heron/internal/domain"
)

// Suite holds validated thresholds, the known contract sets and the eight
// business pattern detectors.
type Suite struct {
	cfg       domain.PatternConfig
	contracts domain.ContractsConfig
	workers   int

	detectors []detect.Detector[domain.BusinessPattern]
}

// Option customizes a Suite.
type Option func(*Suite)

// WithWorkers bounds how many detectors run at once.
func WithWorkers(n int) Option {
	return func(s *Suite) { s.workers = n }
}

// NewSuite validates cfg and builds the suite.
func NewSuite(cfg domain.PatternConfig, contracts domain.ContractsConfig, opts ...Option) (*Suite, error) {
	s := &Suite{cfg: cfg, contracts: contracts}
	for _, opt := range opts {
		opt(s)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	s.detectors = []detect.Detector[domain.BusinessPattern]{
		detect.NewFunc("regular_payment", s.regularPayments),
		detect.NewFunc("batch_payment", s.batchPayments),
		detect.NewFunc("dex_trading", s.dexTrading),
		detect.NewFunc("nft_activity", s.nftActivity),
		detect.NewFunc("liquidity_provision", s.liquidityProvision),
		detect.NewFunc("whale", s.whales),
		detect.NewFunc("active_trader", s.activeTraders),
		detect.NewFunc("arbitrage", s.arbitrage),
	}
	return s, nil
}

func validate(c domain.PatternConfig) error {
	switch {
	case c.RegularPayment.Tolerance <= 0 || c.RegularPayment.Tolerance > 100:
		return domain.Misconfigured("pattern.regular_payment.tolerance", "must be within (0, 100], got %g", c.RegularPayment.Tolerance)
	case c.RegularPayment.MinOccurrences < 2:
		return domain.Misconfigured("pattern.regular_payment.min_occurrences", "must be at least 2, got %d", c.RegularPayment.MinOccurrences)
	case c.BatchPayment.Window <= 0:
		return domain.Misconfigured("pattern.batch_payment.window", "must be positive, got %s", c.BatchPayment.Window)
	case c.BatchPayment.MinReceivers < 2:
		return domain.Misconfigured("pattern.batch_payment.min_receivers", "must be at least 2, got %d", c.BatchPayment.MinReceivers)
	case c.Whale.SingleValue <= 0:
		return domain.Misconfigured("pattern.whale.single_value", "must be positive, got %g", c.Whale.SingleValue)
	case c.Whale.CumulativeValue < c.Whale.SingleValue:
		return domain.Misconfigured("pattern.whale.cumulative_value", "must not be below single_value %g", c.Whale.SingleValue)
	case c.ActiveTrader.MinTrades < 1:
		return domain.Misconfigured("pattern.active_trader.min_trades", "must be positive, got %d", c.ActiveTrader.MinTrades)
	case c.Arbitrage.Window <= 0:
		return domain.Misconfigured("pattern.arbitrage.window", "must be positive, got %s", c.Arbitrage.Window)
	case c.Arbitrage.MinContracts < 2:
		return domain.Misconfigured("pattern.arbitrage.min_contracts", "must be at least 2, got %d", c.Arbitrage.MinContracts)
	}
	return nil
}

// Detectors returns the detectors in suite order.
func (s *Suite) Detectors() []detect.Detector[domain.BusinessPattern] {
	return s.detectors
}

// Run executes one detection pass. A cancelled pass returns no findings.
func (s *Suite) Run(ctx context.Context, r domain.RecordReader) ([]domain.BusinessPattern, error) {
	return detect.Run(ctx, r, s.detectors, s.workers)
}

// isDEX reports whether rec targets a known DEX contract.
func (s *Suite) isDEX(rec *domain.TransactionRecord) bool {
	return rec.Tag == domain.TagDEX || s.contracts.DEX.Contains(rec.To)
}

func findingKey(p domain.BusinessPattern) (uint64, string) {
	d := p.Details()
	if first := d.First(); first != nil {
		return first.Seq, d.Address
	}
	return 0, d.Address
}

func perAddress(ctx context.Context, r domain.RecordReader, role domain.Role, fn func(addr string, recs []*domain.TransactionRecord) []domain.BusinessPattern) iter.Seq[domain.BusinessPattern] {
	return detect.PerAddress(ctx, r, role, findingKey, fn)
}

func perRecord(ctx context.Context, r domain.RecordReader, fn func(rec *domain.TransactionRecord) (domain.BusinessPattern, bool)) iter.Seq[domain.BusinessPattern] {
	return detect.PerRecord(ctx, r, fn)
}
