package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	got := make(chan Event, 1)

	id := bus.Subscribe(EventBatchProgress, func(e Event) { got <- e })
	require.NotEmpty(t, id)

	bus.Publish(EventBatchProgress, map[string]int{"current": 1})
	select {
	case e := <-got:
		assert.Equal(t, EventBatchProgress, e.Type)
		assert.Equal(t, map[string]int{"current": 1}, e.Payload)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	bus.Unsubscribe(EventBatchProgress, id)
	bus.Publish(EventBatchProgress, nil)
	select {
	case <-got:
		t.Fatal("delivered after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInMemoryBus_TopicsAreIsolated(t *testing.T) {
	bus := NewInMemoryBus()
	got := make(chan Event, 1)
	bus.Subscribe(EventProviderDegraded, func(e Event) { got <- e })

	bus.Publish(EventAggregationComplete, "x")
	select {
	case <-got:
		t.Fatal("wrong topic delivered")
	case <-time.After(50 * time.Millisecond):
	}
}
