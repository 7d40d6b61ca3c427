package domain

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/pkg/logger"
)

// EventHandler processes a pipeline event.
type EventHandler func(ctx context.Context, event *Event) error

// EventPublisher is what pipeline components depend on to emit events.
type EventPublisher interface {
	Dispatch(ctx context.Context, event *Event) error
}

// EventDispatcher routes events to registered handlers. Delivery is best
// effort: a failing handler is logged and the rest still run.
type EventDispatcher struct {
	handlers map[EventType][]EventHandler
	all      []EventHandler
	mu       sync.RWMutex
}

// NewEventDispatcher creates a new EventDispatcher.
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Register registers a handler for a specific event type.
func (d *EventDispatcher) Register(eventType EventType, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// RegisterAll registers a handler that receives every event, e.g. a broker
// publisher.
func (d *EventDispatcher) RegisterAll(handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.all = append(d.all, handler)
}

// Dispatch calls the type-specific handlers then the catch-all handlers,
// sequentially. The first handler error is returned after all have run.
func (d *EventDispatcher) Dispatch(ctx context.Context, event *Event) error {
	if d == nil || event == nil {
		return nil
	}

	d.mu.RLock()
	handlers := make([]EventHandler, 0, len(d.handlers[event.EventType])+len(d.all))
	handlers = append(handlers, d.handlers[event.EventType]...)
	handlers = append(handlers, d.all...)
	d.mu.RUnlock()

	if len(handlers) == 0 {
		logger.Debug("No handlers registered for event type",
			zap.String("event_type", string(event.EventType)),
			zap.String("event_id", event.EventID),
		)
		return nil
	}

	var firstErr error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			logger.Error("Event handler failed",
				zap.String("event_type", string(event.EventType)),
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("handler for %s failed: %w", event.EventType, err)
			}
		}
	}

	return firstErr
}
