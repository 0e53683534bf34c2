package worker

import (
	"context"
	"time"

	"github.com/pokerjest/animeSourceHub/internal/event"
	"github.com/pokerjest/animeSourceHub/internal/logging"
	"github.com/pokerjest/animeSourceHub/internal/model"
)

// HealthSource lists the current provider health.
type HealthSource interface {
	All() []model.ProviderHealth
}

// HealthSink persists provider health.
type HealthSink interface {
	SaveHealth(ctx context.Context, list []model.ProviderHealth) error
}

// StartHealthWorker 在数据源降级时立即落盘健康状态, 不必等下一次定时任务.
// Returns a stop func that unsubscribes.
func StartHealthWorker(bus event.Bus, health HealthSource, sink HealthSink) func() {
	log := logging.For("worker")

	id := bus.Subscribe(event.EventProviderDegraded, func(e event.Event) {
		data, ok := e.Payload.(map[string]interface{})
		if !ok {
			return
		}
		p, _ := data["provider"].(model.Provider)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sink.SaveHealth(ctx, health.All()); err != nil {
			log.Warnf("Worker: failed to persist health after %s degraded: %v", p, err)
			return
		}
		log.WithField("provider", p).Debug("Worker: provider health persisted")
	})

	return func() {
		bus.Unsubscribe(event.EventProviderDegraded, id)
	}
}
