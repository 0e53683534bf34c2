package event

import (
	"sync"

	"github.com/google/uuid"
)

// EventType 定义事件类型
type EventType string

const (
	EventAggregationComplete EventType = "aggregation_complete"
	EventProviderDegraded    EventType = "provider_degraded"
	EventCacheInvalidated    EventType = "cache_invalidated"
	EventBatchProgress       EventType = "batch_progress"
)

// AllTypes is what the SSE endpoint subscribes to.
var AllTypes = []EventType{
	EventAggregationComplete,
	EventProviderDegraded,
	EventCacheInvalidated,
	EventBatchProgress,
}

// Event 代表一个系统事件
type Event struct {
	Type    EventType
	Payload interface{}
}

// Handler 处理事件的函数签名
type Handler func(event Event)

// Bus 事件总线接口
type Bus interface {
	Subscribe(topic EventType, handler Handler) string // 返回 Subscription ID
	Unsubscribe(topic EventType, subID string)
	Publish(topic EventType, payload interface{})
}

// HandlerWrapper 包装 Handler 以便识别
type HandlerWrapper struct {
	ID      string
	Handler Handler
}

// InMemoryBus 简单的内存事件总线实现
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]HandlerWrapper
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[EventType][]HandlerWrapper),
	}
}

func (b *InMemoryBus) Subscribe(topic EventType, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	wrapper := HandlerWrapper{ID: id, Handler: handler}
	b.handlers[topic] = append(b.handlers[topic], wrapper)
	return id
}

func (b *InMemoryBus) Unsubscribe(topic EventType, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wrappers := b.handlers[topic]
	for i, w := range wrappers {
		if w.ID == subID {
			// copy so concurrent Publish snapshots stay intact
			next := make([]HandlerWrapper, 0, len(wrappers)-1)
			next = append(next, wrappers[:i]...)
			next = append(next, wrappers[i+1:]...)
			b.handlers[topic] = next
			break
		}
	}
}

func (b *InMemoryBus) Publish(topic EventType, payload interface{}) {
	b.mu.RLock()
	wrappers := b.handlers[topic]
	b.mu.RUnlock()

	// 异步执行所有 Handler，避免阻塞发布者
	evt := Event{Type: topic, Payload: payload}
	for _, w := range wrappers {
		go w.Handler(evt)
	}
}

// Nop discards everything; used where no bus is wired.
type Nop struct{}

func (Nop) Subscribe(EventType, Handler) string { return "" }
func (Nop) Unsubscribe(EventType, string)       {}
func (Nop) Publish(EventType, interface{})      {}
