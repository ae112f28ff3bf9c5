package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/heron/internal/api"
	"github.com/opensource-finance/heron/internal/worker"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan the chain, run detection passes and serve the API until interrupted",
	RunE:  runService,
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		slog.Error("failed to initialize heron", "error", err)
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := worker.NewWorker(a.bus, a.analyzer, slog.Default().With("component", "worker"))
	if err := w.Start(ctx, worker.Config{Interval: cfg.Detection.PassInterval}); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	var srv *api.Server
	if cfg.Server.Enabled {
		srv = api.NewServer(cfg.Server, api.Deps{
			Store:    a.store,
			Analyzer: a.analyzer,
			Repo:     a.repo,
			Cache:    a.cache,
			Bus:      a.bus,
			Worker:   w,
			Version:  Version,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.blacklist.Run(gctx)
	})
	g.Go(func() error {
		progress, err := a.scanner.Run(gctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("scan failed: %w", err)
		}
		slog.Info("scan finished",
			"from", progress.From,
			"to", progress.To,
			"blocks", progress.Blocks,
			"appended", progress.Appended,
		)
		return nil
	})
	if srv != nil {
		g.Go(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		slog.Info("heron is ready", "host", cfg.Server.Host, "port", cfg.Server.Port)
	}

	<-gctx.Done()
	slog.Info("shutting down...")

	// A finished fixed-range scan does not cancel gctx; only a signal or a failure does.
	err = g.Wait()
	if stopErr := w.Stop(); stopErr != nil {
		slog.Error("failed to stop worker", "error", stopErr)
	}
	if err != nil {
		slog.Error("heron stopped with error", "error", err)
		return err
	}
	slog.Info("heron shutdown complete")
	return nil
}
