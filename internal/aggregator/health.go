package aggregator

import (
	"sort"
	"sync"
	"time"

	"github.com/pokerjest/animeSourceHub/internal/model"
	"github.com/pokerjest/animeSourceHub/internal/provider"
)

// Health keeps a rolling view of each provider's recent behaviour.
type Health struct {
	mu    sync.RWMutex
	state map[model.Provider]*model.ProviderHealth
	now   func() time.Time
}

func NewHealth() *Health {
	return &Health{
		state: make(map[model.Provider]*model.ProviderHealth),
		now:   time.Now,
	}
}

func (h *Health) entry(p model.Provider) *model.ProviderHealth {
	e, ok := h.state[p]
	if !ok {
		e = &model.ProviderHealth{Provider: string(p)}
		h.state[p] = e
	}
	return e
}

func (h *Health) RecordSuccess(p model.Provider, latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	e := h.entry(p)
	e.LastSuccess = &now
	e.ConsecutiveFailures = 0
	e.TotalSuccesses++
	e.Degraded = false
	e.LastLatencyMs = latency.Milliseconds()
	e.UpdatedAt = now
}

func (h *Health) RecordFailure(p model.Provider, err error, latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	e := h.entry(p)
	e.LastFailure = &now
	e.ConsecutiveFailures++
	e.TotalFailures++
	e.Degraded = true
	e.LastErrorKind = string(provider.KindOf(err))
	if err != nil {
		e.LastError = err.Error()
	}
	e.LastLatencyMs = latency.Milliseconds()
	e.UpdatedAt = now
}

// Seed restores persisted counters, e.g. after a restart.
func (h *Health) Seed(list []model.ProviderHealth) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ph := range list {
		cp := ph
		h.state[model.Provider(ph.Provider)] = &cp
	}
}

// Snapshot returns copies for the given providers, in the given order;
// providers never seen yet get a zero entry.
func (h *Health) Snapshot(providers []model.Provider) []model.ProviderHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]model.ProviderHealth, 0, len(providers))
	for _, p := range providers {
		if e, ok := h.state[p]; ok {
			out = append(out, *e)
			continue
		}
		out = append(out, model.ProviderHealth{Provider: string(p)})
	}
	return out
}

// All returns every tracked entry sorted by provider name.
func (h *Health) All() []model.ProviderHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]model.ProviderHealth, 0, len(h.state))
	for _, e := range h.state {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
