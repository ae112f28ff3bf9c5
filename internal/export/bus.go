package export

import (
	"context"
	"fmt"

	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/domain"
)

// BusExporter publishes each finding on its family topic, then the pass
// summary on heron.pass.completed.
type BusExporter struct {
	bus domain.EventBus
}

// NewBusExporter creates a bus exporter.
func NewBusExporter(b domain.EventBus) *BusExporter {
	return &BusExporter{bus: b}
}

func (e *BusExporter) Name() string { return "bus" }

func (e *BusExporter) Export(ctx context.Context, report *domain.PassReport) error {
	for _, a := range report.Anomalies {
		payload, err := domain.MarshalAnomaly(a)
		if err != nil {
			return err
		}
		if err := e.bus.Publish(ctx, domain.TopicAnomaly, payload); err != nil {
			return fmt.Errorf("failed to publish anomaly: %w", err)
		}
	}
	for _, p := range report.Patterns {
		payload, err := domain.MarshalPattern(p)
		if err != nil {
			return err
		}
		if err := e.bus.Publish(ctx, domain.TopicPattern, payload); err != nil {
			return fmt.Errorf("failed to publish pattern: %w", err)
		}
	}
	return bus.PublishJSON(ctx, e.bus, domain.TopicPassCompleted, report.Summary())
}
