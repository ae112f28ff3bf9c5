package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/heron/internal/analysis"
	"github.com/opensource-finance/heron/internal/blacklist"
	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/export"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/scan"
	"github.com/opensource-finance/heron/internal/store"
)

// app holds the components shared by every command.
type app struct {
	cfg       *domain.Config
	store     *store.Store
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	exporters *export.Multi
	blacklist *blacklist.Source
	analyzer  *analysis.Analyzer
	scanner   *scan.Scanner
}

func newApp(cfg *domain.Config) (*app, error) {
	a := &app{cfg: cfg, store: store.New()}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	var err error
	if cfg.Export.Repository {
		a.repo, err = repository.New(cfg.Repository)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize repository: %w", err)
		}
		slog.Info("repository initialized", "driver", cfg.Repository.Driver)
	}

	a.cache, err = cache.New(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	a.bus, err = bus.New(cfg.EventBus)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	a.exporters, err = export.FromConfig(cfg.Export, a.repo, a.bus)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize exporters: %w", err)
	}
	slog.Info("exporters initialized", "exporters", a.exporters.Name())

	a.blacklist = blacklist.New(cfg.Blacklist,
		blacklist.WithCache(a.cache),
		blacklist.WithLogger(slog.Default().With("component", "blacklist")),
	)

	a.analyzer, err = analysis.Build(a.store, cfg, a.blacklist,
		analysis.WithExporters(a.exporters),
		analysis.WithLogger(slog.Default().With("component", "analysis")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize detectors: %w", err)
	}

	provider := scan.NewEVMProvider(cfg.Chain, cfg.Contracts)
	a.scanner = scan.NewScanner(provider, a.store, cfg.Chain,
		scan.WithBus(a.bus),
		scan.WithLogger(slog.Default().With("component", "scan", "chain", cfg.Chain.Name)),
	)

	ok = true
	return a, nil
}

// close releases resources in reverse order of creation.
func (a *app) close() error {
	var errs []error
	if a.exporters != nil {
		errs = append(errs, a.exporters.Close())
	}
	if a.bus != nil {
		errs = append(errs, a.bus.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.repo != nil {
		errs = append(errs, a.repo.Close())
	}
	return errors.Join(errs...)
}
