package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventName enumerates session lifecycle events.
type EventName string

const (
	EventReady              EventName = "auth.ready"
	EventInitError          EventName = "auth.init.error"
	EventAuthSuccess        EventName = "auth.success"
	EventAuthError          EventName = "auth.error"
	EventAuthRefreshSuccess EventName = "auth.refresh.success"
	EventAuthRefreshError   EventName = "auth.refresh.error"
	EventAuthLogout         EventName = "auth.logout"
	EventTokenExpired       EventName = "auth.token.expired"
)

// Event is delivered to every handler registered for Name.
type Event struct {
	Name      EventName
	Timestamp time.Time
	Data      map[string]any
}

// TimestampMillis returns the event time as epoch milliseconds.
func (e Event) TimestampMillis() int64 {
	return e.Timestamp.UnixMilli()
}

// EventHandler consumes events. Returned errors and panics are logged and do
// not stop delivery to the remaining handlers.
type EventHandler func(ctx context.Context, event Event) error

type subscription struct {
	id      uuid.UUID
	handler EventHandler
}

// EventBus is a multi-listener publish/subscribe keyed by event name.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventName][]subscription
	logger   Logger
	metrics  Metrics
	now      func() time.Time
}

// NewEventBus returns an empty bus.
func NewEventBus(logger Logger, metrics Metrics, now func() time.Time) *EventBus {
	if now == nil {
		now = time.Now
	}
	return &EventBus{
		handlers: map[EventName][]subscription{},
		logger:   normalizeLogger(logger),
		metrics:  normalizeMetrics(metrics),
		now:      now,
	}
}

// On registers handler for name and returns a function that removes it.
func (b *EventBus) On(name EventName, handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}

	sub := subscription{id: uuid.New(), handler: handler}

	b.mu.Lock()
	b.handlers[name] = append(b.handlers[name], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.off(name, sub.id)
		})
	}
}

func (b *EventBus) off(name EventName, id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[name]
	for i, s := range subs {
		if s.id == id {
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			b.handlers[name] = next
			break
		}
	}
	if len(b.handlers[name]) == 0 {
		delete(b.handlers, name)
	}
}

// Emit delivers an event synchronously, in registration order.
func (b *EventBus) Emit(ctx context.Context, name EventName, data map[string]any) Event {
	event := Event{
		Name:      name,
		Timestamp: b.now(),
		Data:      data,
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[name]...)
	b.mu.RUnlock()

	b.metrics.EventEmitted(name)

	for _, s := range subs {
		if err := b.deliver(ctx, s.handler, event); err != nil {
			b.metrics.HandlerFailed(name)
			b.logger.Error("session event handler for %s failed: %v", name, err)
		}
	}

	return event
}

// Listeners returns how many handlers are registered for name.
func (b *EventBus) Listeners(name EventName) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

func (b *EventBus) deliver(ctx context.Context, handler EventHandler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, event)
}
