// Package eventbus is the in-process status/event bus: best-effort
// delivery with handler panics never escaping to the publisher. Delivery
// is not synchronous with Publish: Publish only queues the event, and a
// dispatch goroutine runs the handlers after Publish has returned.
package eventbus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one published occurrence.
type Event interface {
	Type() string
	Timestamp() time.Time
	Payload() any
}

// BaseEvent is the default Event implementation; event kinds below embed
// or construct it via NewEvent rather than defining their own Type/Payload.
type BaseEvent struct {
	EventType      string
	EventTimestamp time.Time
	EventPayload   any
}

func (e *BaseEvent) Type() string         { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTimestamp }
func (e *BaseEvent) Payload() any         { return e.EventPayload }

// NewEvent constructs a BaseEvent stamped with the current time.
func NewEvent(eventType string, payload any) *BaseEvent {
	return &BaseEvent{
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   payload,
	}
}

// Handler receives dispatched events. A handler that needs to do I/O must
// hand off asynchronously — the dispatcher does not wait for it
// beyond the synchronous call itself.
type Handler func(ctx context.Context, event Event)

// Bus is the publish/subscribe contract the rest of the gateway programs
// against.
type Bus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType string, handler Handler)
	Unsubscribe(eventType string, handler Handler)
	Close()
}

// InMemoryBus is a single-process Bus backed by a buffered channel and one
// dispatch goroutine. Publish never blocks the caller beyond pushing onto
// the channel; a full buffer drops the event rather than stalling the
// publisher, since every event kind here is a notification, not a durable
// log (the durable record is always the store row that triggered it).
type InMemoryBus struct {
	mu        sync.RWMutex
	handlers  map[string][]Handler
	eventChan chan eventWrapper
	closed    bool
	logger    *zap.Logger
	wg        sync.WaitGroup
}

type eventWrapper struct {
	ctx   context.Context
	event Event
}

// NewInMemoryBus starts the dispatch goroutine and returns the bus.
func NewInMemoryBus(logger *zap.Logger, bufferSize int) *InMemoryBus {
	bus := &InMemoryBus{
		handlers:  make(map[string][]Handler),
		eventChan: make(chan eventWrapper, bufferSize),
		logger:    logger,
	}
	bus.wg.Add(1)
	go bus.dispatch()
	return bus
}

func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	b.mu.RUnlock()

	select {
	case b.eventChan <- eventWrapper{ctx: ctx, event: event}:
		b.logger.Debug("event published", zap.String("type", event.Type()))
	default:
		b.logger.Warn("event buffer full, dropping event", zap.String("type", event.Type()))
	}
}

func (b *InMemoryBus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Unsubscribe removes the most recently registered handler for eventType.
// Go func values aren't comparable, so exact-handler removal isn't
// possible; last-registered-first is the practical default for the
// gateway's callers, which subscribe once per (eventType, owner) pair at
// startup and only unsubscribe on shutdown.
func (b *InMemoryBus) Unsubscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.handlers[eventType]
	if len(handlers) == 0 {
		return
	}
	b.handlers[eventType] = handlers[:len(handlers)-1]
	if len(b.handlers[eventType]) == 0 {
		delete(b.handlers, eventType)
	}
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	b.closed = true
	close(b.eventChan)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("event bus closed")
}

func (b *InMemoryBus) dispatch() {
	defer b.wg.Done()
	for wrapper := range b.eventChan {
		b.dispatchEvent(wrapper.ctx, wrapper.event)
	}
}

func (b *InMemoryBus) dispatchEvent(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Type()])+len(b.handlers["*"]))
	handlers = append(handlers, b.handlers[event.Type()]...)
	handlers = append(handlers, b.handlers["*"]...)
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						zap.String("event_type", event.Type()),
						zap.Any("panic", r),
					)
				}
			}()
			h(ctx, event)
		}(handler)
	}
	wg.Wait()
}

// Event kinds.
const (
	EventLifecycle          = "lifecycle" // provider loaded/reloaded/unloaded/failed
	EventSettingsChanged    = "settings-changed"
	EventCredentialsUpdated = "credentials-updated"
	EventCredentialsInvalid = "credentials-invalid"
	EventSessionSwept       = "session-swept"
)

// LifecycleAction distinguishes the sub-kind of an EventLifecycle payload.
type LifecycleAction string

const (
	LifecycleLoaded   LifecycleAction = "loaded"
	LifecycleReloaded LifecycleAction = "reloaded"
	LifecycleUnloaded LifecycleAction = "unloaded"
	LifecycleFailed   LifecycleAction = "failed"
)

// LifecyclePayload is the EventLifecycle payload.
type LifecyclePayload struct {
	ProviderID string
	Action     LifecycleAction
	Err        string // populated only when Action == LifecycleFailed
}

// SettingsChangedPayload is the EventSettingsChanged payload.
type SettingsChangedPayload struct {
	Key             string
	Value           string
	RequiresRestart bool
}

// CredentialsPayload backs both EventCredentialsUpdated and
// EventCredentialsInvalid.
type CredentialsPayload struct {
	Backend string
	Reason  string // populated for EventCredentialsInvalid
}

// SessionSweptPayload is the EventSessionSwept payload.
type SessionSweptPayload struct {
	Count int64
}
