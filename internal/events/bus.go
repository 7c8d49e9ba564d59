// internal/events/bus.go
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrBusClosed   = errors.New("event bus is shutting down")
	ErrChannelFull = errors.New("event channel full")
)

// DefaultDeliveryAttempts bounds retries of an asynchronous handler.
const DefaultDeliveryAttempts = 3

// Bus is an in-memory event bus. Publish queues events for asynchronous
// delivery; PublishSync delivers in the caller's goroutine.
type Bus struct {
	mu         sync.RWMutex
	handlers   map[EventType]map[string]Handler
	logger     *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	eventChan  chan Event
	bufferSize int
	attempts   uint
	retryDelay time.Duration

	inflight  atomic.Int64
	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// BusOption customizes a Bus.
type BusOption func(*Bus)

// WithDeliveryAttempts sets how many times an asynchronous handler is tried.
func WithDeliveryAttempts(n uint) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.attempts = n
		}
	}
}

// WithRetryDelay sets the initial backoff between delivery attempts.
func WithRetryDelay(d time.Duration) BusOption {
	return func(b *Bus) {
		if d > 0 {
			b.retryDelay = d
		}
	}
}

// NewBus creates a new event bus.
func NewBus(logger *zap.Logger, bufferSize int, opts ...BusOption) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	bus := &Bus{
		handlers:   make(map[EventType]map[string]Handler),
		logger:     logger.Named("event_bus"),
		ctx:        ctx,
		cancel:     cancel,
		eventChan:  make(chan Event, bufferSize),
		bufferSize: bufferSize,
		attempts:   DefaultDeliveryAttempts,
		retryDelay: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(bus)
	}

	bus.wg.Add(1)
	go bus.processEvents()

	return bus
}

// Subscribe registers a handler for a specific event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]Handler)
	}
	b.handlers[eventType][id] = handler

	b.logger.Debug("Handler subscribed",
		zap.String("event_type", string(eventType)),
		zap.String("subscription_id", id))

	return &subscription{id: id, eventBus: b, typ: eventType}
}

// SubscribeFunc is a convenience method for subscribing with a function.
func (b *Bus) SubscribeFunc(eventType EventType, fn func(context.Context, Event) error) Subscription {
	return b.Subscribe(eventType, HandlerFunc(fn))
}

// SubscribeAll registers one handler for every given event type.
func (b *Bus) SubscribeAll(handler Handler, eventTypes ...EventType) []Subscription {
	subs := make([]Subscription, 0, len(eventTypes))
	for _, t := range eventTypes {
		subs = append(subs, b.Subscribe(t, handler))
	}
	return subs
}

// Publish queues an event for asynchronous delivery. A full queue drops the
// event; delivery is a side channel and never blocks the publisher.
func (b *Bus) Publish(event Event) error {
	select {
	case <-b.ctx.Done():
		return ErrBusClosed
	default:
	}

	b.inflight.Add(1)
	select {
	case b.eventChan <- event:
		b.published.Add(1)
		return nil
	default:
		b.inflight.Add(-1)
		b.dropped.Add(1)
		b.logger.Warn("Event channel full, dropping event",
			zap.String("event_type", string(event.Type())),
			zap.String("event_id", event.ID()))
		return ErrChannelFull
	}
}

// PublishSync delivers an event to all registered handlers in the calling
// goroutine, once per handler.
func (b *Bus) PublishSync(ctx context.Context, event Event) error {
	var errs []error
	for id, handler := range b.snapshot(event.Type()) {
		if err := handler.Handle(ctx, event); err != nil {
			b.logger.Error("Handler error",
				zap.String("event_type", string(event.Type())),
				zap.String("handler_id", id),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("handlers failed: %w", errors.Join(errs...))
	}
	return nil
}

func (b *Bus) snapshot(t EventType) map[string]Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	handlers := b.handlers[t]
	out := make(map[string]Handler, len(handlers))
	for id, h := range handlers {
		out[id] = h
	}
	return out
}

// deliver runs every handler for the event with bounded exponential backoff.
func (b *Bus) deliver(ctx context.Context, event Event) {
	for id, handler := range b.snapshot(event.Type()) {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = b.retryDelay
		policy.MaxInterval = b.retryDelay * 10

		notify := func(err error, d time.Duration) {
			b.logger.Debug("Retrying event handler",
				zap.String("event_type", string(event.Type())),
				zap.String("handler_id", id),
				zap.Duration("backoff", d),
				zap.Error(err))
		}

		h := handler
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, h.Handle(ctx, event)
		},
			backoff.WithBackOff(policy),
			backoff.WithMaxTries(b.attempts),
			backoff.WithNotify(notify))
		if err != nil {
			b.failed.Add(1)
			b.logger.Error("Failed to deliver event",
				zap.String("event_type", string(event.Type())),
				zap.String("event_id", event.ID()),
				zap.String("handler_id", id),
				zap.Error(err))
		}
	}
}

// processEvents is the main event processing loop. Events are delivered in
// publish order.
func (b *Bus) processEvents() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			// Drain remaining events with a single attempt each
			for {
				select {
				case event := <-b.eventChan:
					_ = b.PublishSync(context.Background(), event)
					b.inflight.Add(-1)
				default:
					return
				}
			}
		case event := <-b.eventChan:
			b.deliver(b.ctx, event)
			b.inflight.Add(-1)
		}
	}
}

// unsubscribe removes a handler subscription.
func (b *Bus) unsubscribe(id string, eventType EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handlers, ok := b.handlers[eventType]; ok {
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(b.handlers, eventType)
		}
	}

	b.logger.Debug("Handler unsubscribed",
		zap.String("event_type", string(eventType)),
		zap.String("subscription_id", id))
}

// Flush blocks until every queued event has been delivered or ctx expires.
func (b *Bus) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for b.inflight.Load() > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Shutdown stops the bus after draining queued events.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.logger.Info("Shutting down event bus")

	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("Event bus shutdown complete")
		return nil
	case <-ctx.Done():
		b.logger.Warn("Event bus shutdown timeout")
		return ctx.Err()
	}
}

// Stats describes the bus.
type Stats struct {
	BufferSize      int
	PendingEvents   int
	Published       uint64
	Dropped         uint64
	FailedDelivery  uint64
	HandlersPerType map[EventType]int
}

// Stats returns statistics about the event bus.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	counts := make(map[EventType]int, len(b.handlers))
	for t, handlers := range b.handlers {
		counts[t] = len(handlers)
	}
	return Stats{
		BufferSize:      b.bufferSize,
		PendingEvents:   len(b.eventChan),
		Published:       b.published.Load(),
		Dropped:         b.dropped.Load(),
		FailedDelivery:  b.failed.Load(),
		HandlersPerType: counts,
	}
}
