// Package anomaly implements the anomaly detector suite.
package anomaly

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/opensource-finance/heron/internal/detect"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/rules"
)

// BlacklistSource supplies the sanctioned address set for one pass.
type BlacklistSource interface {
	Blacklist(ctx context.Context) domain.AddressSet
}

// StaticBlacklist is a fixed sanctioned set.
type StaticBlacklist domain.AddressSet

func (s StaticBlacklist) Blacklist(context.Context) domain.AddressSet {
	return domain.AddressSet(s)
}

// Suite holds validated thresholds and the eight anomaly detectors.
type Suite struct {
	cfg       domain.AnomalyConfig
	blacklist BlacklistSource
	workers   int

	location      *time.Location
	timePredicate *rules.Predicate

	detectors []detect.Detector[domain.Anomaly]
}

// Option customizes a Suite.
type Option func(*Suite)

// WithBlacklist sets the sanctions source. Without it the blacklist is empty.
func WithBlacklist(src BlacklistSource) Option {
	return func(s *Suite) {
		if src != nil {
			s.blacklist = src
		}
	}
}

// WithWorkers bounds how many detectors run at once.
func WithWorkers(n int) Option {
	return func(s *Suite) { s.workers = n }
}

// NewSuite validates cfg and builds the suite.
// Invalid thresholds yield a *domain.ConfigurationError naming the parameter.
func NewSuite(cfg domain.AnomalyConfig, opts ...Option) (*Suite, error) {
	s := &Suite{
		cfg:       cfg,
		blacklist: StaticBlacklist(nil),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.validate(); err != nil {
		return nil, err
	}

	s.detectors = []detect.Detector[domain.Anomaly]{
		detect.NewFunc("large_transaction", s.largeTransactions),
		detect.NewFunc("high_frequency", s.highFrequency),
		detect.NewFunc("structuring", s.structuring),
		detect.NewFunc("burst_activity", s.burstActivity),
		detect.NewFunc("high_fee", s.highFees),
		detect.NewFunc("unusual_operation", s.unusualOperations),
		detect.NewFunc("unusual_time", s.unusualTimes),
		detect.NewFunc("blacklisted_address", s.blacklisted),
	}
	return s, nil
}

func (s *Suite) validate() error {
	c := s.cfg

	if err := rules.ValidateBand("anomaly.large_value", c.LargeValue); err != nil {
		return err
	}
	if c.LargeValue.Hard <= 0 {
		return domain.Misconfigured("anomaly.large_value.hard", "must be positive")
	}
	if err := rules.ValidateBand("anomaly.fee.absolute", c.Fee.Absolute); err != nil {
		return err
	}
	if err := rules.ValidateBand("anomaly.fee.relative", c.Fee.Relative); err != nil {
		return err
	}

	if c.Frequency.Window <= 0 {
		return domain.Misconfigured("anomaly.frequency.window", "must be positive, got %s", c.Frequency.Window)
	}
	if c.Frequency.Count <= 0 {
		return domain.Misconfigured("anomaly.frequency.count", "must be positive, got %d", c.Frequency.Count)
	}
	if c.Frequency.StrongCount < c.Frequency.Count {
		return domain.Misconfigured("anomaly.frequency.strong_count", "must not be below count %d, got %d", c.Frequency.Count, c.Frequency.StrongCount)
	}

	if c.Burst.Interval <= 0 {
		return domain.Misconfigured("anomaly.burst.interval", "must be positive, got %s", c.Burst.Interval)
	}
	if c.Burst.Interval > c.Frequency.Window {
		return domain.Misconfigured("anomaly.burst.interval", "must not exceed frequency window %s", c.Frequency.Window)
	}
	if c.Burst.Count < 2 {
		return domain.Misconfigured("anomaly.burst.count", "must be at least 2, got %d", c.Burst.Count)
	}
	if c.Burst.StrongCount < c.Burst.Count {
		return domain.Misconfigured("anomaly.burst.strong_count", "must not be below count %d, got %d", c.Burst.Count, c.Burst.StrongCount)
	}

	if c.Structuring.Window <= 0 {
		return domain.Misconfigured("anomaly.structuring.window", "must be positive, got %s", c.Structuring.Window)
	}
	if c.Structuring.SumThreshold < c.LargeValue.Hard {
		return domain.Misconfigured("anomaly.structuring.sum_threshold", "must not be below large_value.hard %g", c.LargeValue.Hard)
	}

	if c.Operation.MinHistory < 0 {
		return domain.Misconfigured("anomaly.operation.min_history", "must not be negative")
	}

	return s.validateUnusualTime()
}

func (s *Suite) validateUnusualTime() error {
	c := s.cfg.UnusualTime

	name := c.Location
	if name == "" {
		name = "UTC"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return domain.Misconfigured("anomaly.unusual_time.location", "%v", err)
	}
	s.location = loc

	if c.Expression != "" {
		engine, err := rules.NewEngine()
		if err != nil {
			return fmt.Errorf("anomaly suite: %w", err)
		}
		p, err := engine.Compile(c.Expression)
		if err != nil {
			return domain.Misconfigured("anomaly.unusual_time.expression", "%v", err)
		}
		s.timePredicate = p
		return nil
	}

	for i, r := range c.Ranges {
		param := fmt.Sprintf("anomaly.unusual_time.ranges[%d]", i)
		if r.StartHour < 0 || r.StartHour > 23 {
			return domain.Misconfigured(param+".start_hour", "must be within 0..23, got %d", r.StartHour)
		}
		if r.EndHour < 0 || r.EndHour > 24 {
			return domain.Misconfigured(param+".end_hour", "must be within 0..24, got %d", r.EndHour)
		}
		if r.StartHour == r.EndHour {
			return domain.Misconfigured(param, "empty range %d..%d", r.StartHour, r.EndHour)
		}
		for _, d := range r.Days {
			if d < time.Sunday || d > time.Saturday {
				return domain.Misconfigured(param+".days", "invalid weekday %d", d)
			}
		}
	}
	return nil
}

// Detectors returns the detectors in suite order.
func (s *Suite) Detectors() []detect.Detector[domain.Anomaly] {
	return s.detectors
}

// Run executes one detection pass. A cancelled pass returns no findings.
func (s *Suite) Run(ctx context.Context, r domain.RecordReader) ([]domain.Anomaly, error) {
	return detect.Run(ctx, r, s.detectors, s.workers)
}

func findingKey(a domain.Anomaly) (uint64, string) {
	d := a.Details()
	if first := d.First(); first != nil {
		return first.Seq, d.Address
	}
	return 0, d.Address
}

func perSender(ctx context.Context, r domain.RecordReader, fn func(addr string, recs []*domain.TransactionRecord) []domain.Anomaly) iter.Seq[domain.Anomaly] {
	return detect.PerAddress(ctx, r, domain.RoleSender, findingKey, fn)
}

func perRecord(ctx context.Context, r domain.RecordReader, fn func(rec *domain.TransactionRecord) (domain.Anomaly, bool)) iter.Seq[domain.Anomaly] {
	return detect.PerRecord(ctx, r, fn)
}
