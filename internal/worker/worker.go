// Package worker schedules detection passes from scan checkpoints and an
// optional interval ticker.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/heron/internal/analysis"
	"github.com/opensource-finance/heron/internal/domain"
)

// PassRunner runs one detection pass. *analysis.Analyzer satisfies it.
type PassRunner interface {
	RunPass(ctx context.Context) (*domain.PassReport, error)
}

// Worker triggers passes on checkpoints and ticks. Triggers that arrive while
// a pass is running collapse into a single follow-up pass.
type Worker struct {
	bus    domain.EventBus
	runner PassRunner
	logger *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	running       bool

	pending chan struct{}
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	completed atomic.Int64
	failed    atomic.Int64
	lastBlock atomic.Uint64
}

// Config holds worker configuration.
type Config struct {
	// Interval runs a pass periodically. Zero disables the ticker.
	Interval time.Duration
}

// NewWorker creates a worker. bus may be nil when only the ticker is used.
func NewWorker(bus domain.EventBus, runner PassRunner, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		bus:     bus,
		runner:  runner,
		logger:  logger,
		pending: make(chan struct{}, 1),
	}
}

// Start subscribes to scan checkpoints and starts the pass loop.
func (w *Worker) Start(ctx context.Context, cfg Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("worker already started")
	}
	if w.bus == nil && cfg.Interval <= 0 {
		return errors.New("worker needs an event bus or a pass interval")
	}

	ctx, cancel := context.WithCancel(ctx)

	if w.bus != nil {
		sub, err := w.bus.Subscribe(ctx, domain.TopicScanCheckpoint, w.handleCheckpoint)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicScanCheckpoint, err)
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go w.loop(ctx, cfg.Interval)

	w.logger.Info("worker started",
		"topic", domain.TopicScanCheckpoint,
		"interval", cfg.Interval,
	)
	return nil
}

// handleCheckpoint queues a pass for the checkpoint.
func (w *Worker) handleCheckpoint(ctx context.Context, msg *domain.Message) error {
	var cp domain.Checkpoint
	if err := json.Unmarshal(msg.Payload, &cp); err != nil {
		w.logger.Error("failed to parse checkpoint",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	w.lastBlock.Store(cp.Block)
	w.logger.Debug("checkpoint received",
		"chain", cp.Chain,
		"block", cp.Block,
		"records", cp.Records,
		"store_size", cp.StoreSize,
	)
	w.Trigger()
	return nil
}

// Trigger queues a pass. It never blocks.
func (w *Worker) Trigger() {
	select {
	case w.pending <- struct{}{}:
	default:
	}
}

func (w *Worker) loop(ctx context.Context, interval time.Duration) {
	defer w.wg.Done()

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			w.runPass(ctx, "interval")
		case <-w.pending:
			w.runPass(ctx, "checkpoint")
		}
	}
}

func (w *Worker) runPass(ctx context.Context, trigger string) {
	start := time.Now()
	report, err := w.runner.RunPass(ctx)
	if err != nil {
		w.failed.Add(1)
		if errors.Is(err, analysis.ErrPassAborted) && ctx.Err() != nil {
			w.logger.Info("pass cancelled by shutdown", "trigger", trigger)
			return
		}
		w.logger.Error("pass failed",
			"trigger", trigger,
			"error", err,
		)
		return
	}

	w.completed.Add(1)
	w.logger.Debug("pass finished",
		"trigger", trigger,
		"pass_id", report.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop unsubscribes, cancels any running pass and waits for the loop to exit.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()

	w.logger.Info("worker stopped",
		"passes_completed", w.completed.Load(),
		"passes_failed", w.failed.Load(),
	)
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	Running           bool     `json:"running"`
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	PassesCompleted   int64    `json:"passesCompleted"`
	PassesFailed      int64    `json:"passesFailed"`
	LastCheckpoint    uint64   `json:"lastCheckpoint"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		Running:           w.running,
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		PassesCompleted:   w.completed.Load(),
		PassesFailed:      w.failed.Load(),
		LastCheckpoint:    w.lastBlock.Load(),
	}
}
