package main

import (
	"context"

	"github.com/pokerjest/animeSourceHub/internal/aggregator"
	"github.com/pokerjest/animeSourceHub/internal/cache"
	"github.com/pokerjest/animeSourceHub/internal/config"
	"github.com/pokerjest/animeSourceHub/internal/db"
	"github.com/pokerjest/animeSourceHub/internal/event"
	"github.com/pokerjest/animeSourceHub/internal/logging"
	"github.com/pokerjest/animeSourceHub/internal/probe"
	"github.com/pokerjest/animeSourceHub/internal/provider"
	"github.com/pokerjest/animeSourceHub/internal/service"
	"github.com/pokerjest/animeSourceHub/internal/store"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg   *config.Config
	bus   *event.InMemoryBus
	store *store.Store
	agg   *aggregator.Aggregator
	cache *cache.Cache
	svc   *service.SourceService
}

func newApp(cfg *config.Config) *app {
	log := logging.For("main")

	db.InitDB(cfg.Database.Path)
	st := store.New(db.DB)
	bus := event.NewInMemoryBus()

	prober := probe.New(probe.Options{
		Concurrency:   cfg.Probe.Concurrency,
		RatePerSecond: cfg.Probe.RatePerSecond,
		Timeout:       cfg.Probe.Timeout,
	})
	adapters := provider.Build(cfg, st)
	agg := aggregator.New(adapters, prober, st, bus, aggregator.Options{
		Timeout:         cfg.Aggregator.Timeout,
		ProviderOrder:   cfg.Aggregator.ProviderOrder,
		FailHard:        cfg.Aggregator.FailHard,
		TTL:             cfg.Cache.TTL,
		AvailabilityTTL: cfg.Cache.AvailabilityTTL,
	})

	// 恢复上次运行的健康状态
	if list, err := st.LoadHealth(context.Background()); err != nil {
		log.Warnf("loading provider health failed: %v", err)
	} else {
		agg.Health().Seed(list)
	}

	var backend cache.Backend = cache.NewMemory()
	if cfg.Cache.Backend == "sqlite" {
		backend = cache.NewSQLite(db.DB)
	}
	c := cache.New(backend, bus)

	svc := service.NewSourceService(agg, agg.Health(), c, st, bus, service.Options{
		DefaultLimit:     cfg.Aggregator.DefaultLimit,
		BatchConcurrency: cfg.Batch.Concurrency,
	})

	log.WithField("providers", agg.Providers()).Infof("wired %d provider adapters, %s cache", len(adapters), cfg.Cache.Backend)
	return &app{cfg: cfg, bus: bus, store: st, agg: agg, cache: c, svc: svc}
}

// cleanup adapts the service for the scheduler.
func (a *app) cleanup(ctx context.Context, days int) (int, error) {
	report, err := a.svc.Cleanup(ctx, days)
	return report.Removed + int(report.OverridesRemoved), err
}
