package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"appointdesk/internal/model"
)

// Appointment lifecycle event types.
const (
	AppointmentCreated   = "appointment.created"
	AppointmentApproved  = "appointment.approved"
	AppointmentCancelled = "appointment.cancelled"
)

// Event represents a lightweight domain event.
type Event struct {
	Type        string
	Appointment model.Appointment
	Actor       string
	CreatedAt   time.Time
}

// EventHandler reacts to an event.
type EventHandler func(ctx context.Context, event Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	async       bool
	wg          sync.WaitGroup
	onError     func(Event, error)
}

// Option configures an EventBus.
type Option func(*EventBus)

// WithAsync dispatches every Publish on its own goroutine. Wait blocks until they finish.
func WithAsync() Option {
	return func(b *EventBus) { b.async = true }
}

// WithErrorHandler is called for every handler error.
func WithErrorHandler(fn func(Event, error)) Option {
	return func(b *EventBus) { b.onError = fn }
}

// NewEventBus constructs an empty bus.
func NewEventBus(opts ...Option) *EventBus {
	b := &EventBus{subscribers: make(map[string][]EventHandler)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers a handler for every appointment event type.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	for _, t := range []string{AppointmentCreated, AppointmentApproved, AppointmentCancelled} {
		b.Subscribe(t, handler)
	}
}

// Publish notifies subscribers of the event type. Handler errors are reported
// to the error handler and never stop the remaining handlers.
func (b *EventBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	if !b.async {
		b.dispatch(ctx, event, handlers)
		return
	}

	// Detach from the request so handlers outlive it.
	ctx = context.WithoutCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.dispatch(ctx, event, handlers)
	}()
}

func (b *EventBus) dispatch(ctx context.Context, event Event, handlers []EventHandler) {
	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 && b.onError != nil {
		b.onError(event, errors.Join(errs...))
	}
}

// Wait blocks until asynchronously dispatched events are handled.
func (b *EventBus) Wait() {
	b.wg.Wait()
}
