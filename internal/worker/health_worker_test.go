package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pokerjest/animeSourceHub/internal/event"
	"github.com/pokerjest/animeSourceHub/internal/model"
	"github.com/stretchr/testify/assert"
)

type fixedHealth []model.ProviderHealth

func (h fixedHealth) All() []model.ProviderHealth { return h }

type countingSink struct {
	mu    sync.Mutex
	saves int
}

func (s *countingSink) SaveHealth(context.Context, []model.ProviderHealth) error {
	s.mu.Lock()
	s.saves++
	s.mu.Unlock()
	return nil
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func TestHealthWorkerPersistsOnDegrade(t *testing.T) {
	bus := event.NewInMemoryBus()
	sink := &countingSink{}
	stop := StartHealthWorker(bus, fixedHealth{{Provider: "jikan", Degraded: true}}, sink)

	bus.Publish(event.EventProviderDegraded, map[string]interface{}{"provider": model.ProviderJikan})
	assert.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)

	// other topics are ignored
	bus.Publish(event.EventAggregationComplete, map[string]interface{}{})

	stop()
	bus.Publish(event.EventProviderDegraded, map[string]interface{}{"provider": model.ProviderJikan})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sink.count())
}
