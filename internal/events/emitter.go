package events

import (
	"context"
	"log/slog"
	"sync"

	"go.uber.org/multierr"
)

// InMemoryEventEmitter is a simple implementation of the EventEmitter interface
// that stores registered handlers in memory and dispatches events to them.
type InMemoryEventEmitter struct {
	handlers map[string][]EventHandler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewInMemoryEventEmitter creates a new instance of InMemoryEventEmitter.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryEventEmitter{
		handlers: make(map[string][]EventHandler),
		logger:   logger.With("component", "in_memory_event_emitter"),
	}
}

// RegisterHandler subscribes handler to the given event types. With no types
// the handler receives every event.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler, eventTypes ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(eventTypes) == 0 {
		eventTypes = []string{""}
	}
	for _, t := range eventTypes {
		e.handlers[t] = append(e.handlers[t], handler)
	}
	e.logger.Debug("registered new event handler", "event_types", eventTypes)
}

// EmitEvent publishes the given event to all matching handlers.
// Every handler runs even when an earlier one fails; the returned error
// combines all handler failures.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *JobEvent) error {
	e.mu.RLock()
	handlers := make([]EventHandler, 0, len(e.handlers[event.Type])+len(e.handlers[""]))
	handlers = append(handlers, e.handlers[event.Type]...)
	handlers = append(handlers, e.handlers[""]...)
	e.mu.RUnlock()

	if len(handlers) == 0 {
		e.logger.Debug("no handlers registered for event",
			"event_id", event.ID,
			"event_type", event.Type)
		return nil
	}

	var errs error
	for i, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			e.logger.Error("handler failed to process event",
				"error", err,
				"handler_index", i,
				"event_id", event.ID,
				"event_type", event.Type)
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
