// Package export delivers completed pass reports to CSV files, the report
// repository, the event bus and Kafka.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/opensource-finance/heron/internal/domain"
)

// Multi fans a report out to several exporters. Every exporter runs even when
// an earlier one fails.
type Multi struct {
	exporters []domain.Exporter
}

// NewMulti creates a fan-out exporter. Nil exporters are skipped.
func NewMulti(exporters ...domain.Exporter) *Multi {
	m := &Multi{}
	for _, e := range exporters {
		if e != nil {
			m.exporters = append(m.exporters, e)
		}
	}
	return m
}

// Name lists the wrapped exporters.
func (m *Multi) Name() string {
	names := make([]string, len(m.exporters))
	for i, e := range m.exporters {
		names[i] = e.Name()
	}
	return "multi(" + strings.Join(names, ",") + ")"
}

// Len returns the number of wrapped exporters.
func (m *Multi) Len() int {
	return len(m.exporters)
}

// Export runs every exporter and joins their errors.
func (m *Multi) Export(ctx context.Context, report *domain.PassReport) error {
	var errs []error
	for _, e := range m.exporters {
		if err := e.Export(ctx, report); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes exporters that hold resources.
func (m *Multi) Close() error {
	var errs []error
	for _, e := range m.exporters {
		if c, ok := e.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the exporters enabled in cfg. repo and bus may be nil,
// in which case the exporters that need them are skipped.
func FromConfig(cfg domain.ExportConfig, repo domain.Repository, b domain.EventBus) (*Multi, error) {
	var exporters []domain.Exporter
	if cfg.CSVDir != "" {
		exporters = append(exporters, NewCSVExporter(cfg.CSVDir))
	}
	if cfg.Repository && repo != nil {
		exporters = append(exporters, NewRepositoryExporter(repo))
	}
	if cfg.Bus && b != nil {
		exporters = append(exporters, NewBusExporter(b))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		k, err := NewKafkaExporter(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		exporters = append(exporters, k)
	}
	return NewMulti(exporters...), nil
}

// RepositoryExporter saves reports through domain.Repository.
type RepositoryExporter struct {
	repo domain.Repository
}

// NewRepositoryExporter creates a repository exporter.
func NewRepositoryExporter(repo domain.Repository) *RepositoryExporter {
	return &RepositoryExporter{repo: repo}
}

func (e *RepositoryExporter) Name() string { return "repository" }

func (e *RepositoryExporter) Export(ctx context.Context, report *domain.PassReport) error {
	return e.repo.SavePass(ctx, report)
}
