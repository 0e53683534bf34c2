package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pokerjest/animeSourceHub/internal/model"
)

// Memory keeps results in a map; the lock is held only for map access.
type Memory struct {
	mu      sync.RWMutex
	entries map[Key]*model.AggregatedResult
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[Key]*model.AggregatedResult)}
}

func (m *Memory) Get(_ context.Context, key Key) (*model.AggregatedResult, bool, error) {
	m.mu.RLock()
	res, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return res.Clone(), true, nil
}

func (m *Memory) Set(_ context.Context, key Key, res *model.AggregatedResult) error {
	cp := res.Clone()
	m.mu.Lock()
	m.entries[key] = cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Keys(_ context.Context) ([]Key, error) {
	m.mu.RLock()
	keys := make([]Key, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sortKeys(keys)
	return keys, nil
}

func (m *Memory) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, res := range m.entries {
		if res.FetchedAt.Before(cutoff) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].AnimeID != keys[j].AnimeID {
			return keys[i].AnimeID < keys[j].AnimeID
		}
		return keys[i].Episode < keys[j].Episode
	})
}
