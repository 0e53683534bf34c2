// Package scheduler runs background maintenance: purging stale cache entries
// and overrides, and persisting provider health so it survives restarts.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/pokerjest/animeSourceHub/internal/logging"
	"github.com/pokerjest/animeSourceHub/internal/model"
	"github.com/sirupsen/logrus"
)

// CleanupFunc purges data older than a number of days and reports how much went.
type CleanupFunc func(ctx context.Context, days int) (removed int, err error)

// HealthSource lists the current provider health.
type HealthSource interface {
	All() []model.ProviderHealth
}

// HealthSink persists provider health.
type HealthSink interface {
	SaveHealth(ctx context.Context, list []model.ProviderHealth) error
}

type Manager struct {
	interval    time.Duration
	cleanupDays int
	cleaner     CleanupFunc
	health      HealthSource
	sink        HealthSink
	log         *logrus.Entry

	ticker *time.Ticker
	quit   chan struct{}
	wg     sync.WaitGroup
}

func NewManager(interval time.Duration, cleanupDays int, cleaner CleanupFunc, health HealthSource, sink HealthSink) *Manager {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	if cleanupDays < 1 {
		cleanupDays = 7
	}
	return &Manager{
		interval:    interval,
		cleanupDays: cleanupDays,
		cleaner:     cleaner,
		health:      health,
		sink:        sink,
		log:         logging.For("scheduler"),
		quit:        make(chan struct{}),
	}
}

func (m *Manager) Start() {
	m.ticker = time.NewTicker(m.interval)
	m.log.WithField("interval", m.interval).Info("scheduler started")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.ticker.C:
				m.RunOnce(context.Background())
			case <-m.quit:
				m.ticker.Stop()
				return
			}
		}
	}()
}

// Stop ends the loop and flushes health one last time.
func (m *Manager) Stop() {
	close(m.quit)
	m.wg.Wait()
	m.persistHealth(context.Background())
	m.log.Info("scheduler stopped")
}

func (m *Manager) RunOnce(ctx context.Context) {
	if m.cleaner != nil {
		removed, err := m.cleaner(ctx, m.cleanupDays)
		if err != nil {
			m.log.Warnf("cleanup failed: %v", err)
		} else if removed > 0 {
			m.log.WithField("removed", removed).Info("stale entries purged")
		}
	}
	m.persistHealth(ctx)
}

func (m *Manager) persistHealth(ctx context.Context) {
	if m.health == nil || m.sink == nil {
		return
	}
	if err := m.sink.SaveHealth(ctx, m.health.All()); err != nil {
		m.log.Warnf("persisting provider health failed: %v", err)
	}
}
