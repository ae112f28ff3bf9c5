// Package analysis coordinates detection passes.
// A pass runs both detector suites over the store, builds a report and hands
// it to the configured exporters.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/heron/internal/anomaly"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/pattern"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ErrPassAborted is returned when a pass is cancelled before completing.
var ErrPassAborted = errors.New("detection pass aborted")

const (
	suiteAnomaly = "anomaly"
	suitePattern = "pattern"
)

var tracer = otel.Tracer("heron-analysis")

// Analyzer runs detection passes. Passes are serialized.
type Analyzer struct {
	store     domain.RecordReader
	anomalies *anomaly.Suite
	patterns  *pattern.Suite
	exporters []domain.Exporter
	setupErrs map[string]string
	logger    *slog.Logger

	passMu sync.Mutex

	mu     sync.RWMutex
	latest *domain.PassReport
}

// Option customizes an Analyzer.
type Option func(*Analyzer)

// WithExporters adds exporters that receive every completed report.
func WithExporters(exporters ...domain.Exporter) Option {
	return func(a *Analyzer) { a.exporters = append(a.exporters, exporters...) }
}

// WithLogger sets the logger. slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// New creates an Analyzer over the given suites. A nil suite is skipped.
func New(r domain.RecordReader, anomalies *anomaly.Suite, patterns *pattern.Suite, opts ...Option) *Analyzer {
	a := &Analyzer{
		store:     r,
		anomalies: anomalies,
		patterns:  patterns,
		setupErrs: make(map[string]string),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Build constructs both suites from cfg. A suite with invalid thresholds is
// left out and its error is reported in every pass; Build fails only when
// neither suite can be built.
func Build(r domain.RecordReader, cfg *domain.Config, blacklist anomaly.BlacklistSource, opts ...Option) (*Analyzer, error) {
	workers := cfg.Detection.Workers

	anomalies, aErr := anomaly.NewSuite(cfg.Detection.Anomaly,
		anomaly.WithBlacklist(blacklist),
		anomaly.WithWorkers(workers),
	)
	patterns, pErr := pattern.NewSuite(cfg.Detection.Pattern, cfg.Contracts,
		pattern.WithWorkers(workers),
	)
	if aErr != nil && pErr != nil {
		return nil, errors.Join(aErr, pErr)
	}

	a := New(r, anomalies, patterns, opts...)
	if aErr != nil {
		a.setupErrs[suiteAnomaly] = aErr.Error()
		a.logger.Warn("anomaly suite disabled", "error", aErr)
	}
	if pErr != nil {
		a.setupErrs[suitePattern] = pErr.Error()
		a.logger.Warn("pattern suite disabled", "error", pErr)
	}
	return a, nil
}

// RunPass runs both suites over the current store contents. A cancelled pass
// returns an error wrapping ErrPassAborted and is neither kept nor exported.
func (a *Analyzer) RunPass(ctx context.Context) (*domain.PassReport, error) {
	a.passMu.Lock()
	defer a.passMu.Unlock()

	report := &domain.PassReport{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
		StoreSize: a.store.Len(),
	}
	if len(a.setupErrs) > 0 {
		report.Errors = maps.Clone(a.setupErrs)
	}

	ctx, span := tracer.Start(ctx, "detection pass",
		trace.WithAttributes(
			attribute.String("pass.id", report.ID),
			attribute.Int("store.size", report.StoreSize),
		),
	)
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	if a.anomalies != nil {
		g.Go(func() error {
			start := time.Now()
			found, err := a.anomalies.Run(gctx, a.store)
			metrics.SuiteDuration.WithLabelValues(suiteAnomaly).Observe(time.Since(start).Seconds())
			if err != nil {
				return err
			}
			report.Anomalies = found
			return nil
		})
	}
	if a.patterns != nil {
		g.Go(func() error {
			start := time.Now()
			found, err := a.patterns.Run(gctx, a.store)
			metrics.SuiteDuration.WithLabelValues(suitePattern).Observe(time.Since(start).Seconds())
			if err != nil {
				return err
			}
			report.Patterns = found
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		metrics.PassesTotal.WithLabelValues("aborted").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "aborted")
		a.logger.Warn("detection pass aborted", "pass_id", report.ID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrPassAborted, err)
	}

	report.FinishedAt = time.Now().UTC()
	a.record(report)
	span.SetAttributes(
		attribute.Int("anomalies", len(report.Anomalies)),
		attribute.Int("patterns", len(report.Patterns)),
	)

	a.logger.Info("detection pass completed",
		"pass_id", report.ID,
		"store_size", report.StoreSize,
		"anomalies", len(report.Anomalies),
		"patterns", len(report.Patterns),
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)

	a.mu.Lock()
	a.latest = report
	a.mu.Unlock()

	a.export(ctx, report)
	return report, nil
}

func (a *Analyzer) record(report *domain.PassReport) {
	metrics.PassesTotal.WithLabelValues("completed").Inc()
	for _, f := range report.Anomalies {
		metrics.FindingsTotal.WithLabelValues(suiteAnomaly, string(f.Kind()), f.Details().Severity.String()).Inc()
	}
	for _, f := range report.Patterns {
		metrics.FindingsTotal.WithLabelValues(suitePattern, string(f.Kind()), "").Inc()
	}
}

// export hands the report to every exporter. A failing exporter does not
// stop the others.
func (a *Analyzer) export(ctx context.Context, report *domain.PassReport) {
	for _, e := range a.exporters {
		if err := e.Export(ctx, report); err != nil {
			metrics.ExportErrors.WithLabelValues(e.Name()).Inc()
			a.logger.Error("export failed",
				"exporter", e.Name(),
				"pass_id", report.ID,
				"error", err,
			)
		}
	}
}

// Latest returns the most recent completed report, or nil.
func (a *Analyzer) Latest() *domain.PassReport {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}

// SuiteErrors returns the configuration errors of disabled suites.
func (a *Analyzer) SuiteErrors() map[string]string {
	return maps.Clone(a.setupErrs)
}
