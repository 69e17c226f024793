package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry dispatches host events to the guard and audit handlers.
type Registry struct {
	handlers map[string][]*Registration // eventKey -> handlers, by priority
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewRegistry creates a new hook registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[string][]*Registration),
		logger:   logger.With("component", "hooks"),
	}
}

// Register adds a handler for an event key and returns its registration ID.
func (r *Registry) Register(eventKey string, handler Handler, opts ...RegisterOption) string {
	reg := &Registration{
		ID:       uuid.New().String(),
		EventKey: eventKey,
		Handler:  handler,
		Priority: PriorityNormal,
	}

	for _, opt := range opts {
		opt(reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[eventKey] = append(r.handlers[eventKey], reg)

	sort.SliceStable(r.handlers[eventKey], func(i, j int) bool {
		return r.handlers[eventKey][i].Priority < r.handlers[eventKey][j].Priority
	})

	r.logger.Debug("registered hook",
		"id", reg.ID,
		"event_key", eventKey,
		"name", reg.Name,
		"priority", reg.Priority)

	return reg.ID
}

// RegisterOption configures a registration.
type RegisterOption func(*Registration)

// WithPriority sets the handler priority.
func WithPriority(p Priority) RegisterOption {
	return func(r *Registration) {
		r.Priority = p
	}
}

// WithName sets the handler name for debugging.
func WithName(name string) RegisterOption {
	return func(r *Registration) {
		r.Name = name
	}
}

// WithSource sets the handler source.
func WithSource(source string) RegisterOption {
	return func(r *Registration) {
		r.Source = source
	}
}

// On registers a handler for every event of eventType.
func (r *Registry) On(eventType EventType, handler Handler, opts ...RegisterOption) string {
	return r.Register(string(eventType), handler, opts...)
}

// handlersFor merges the handlers for the event type and for type:action,
// ordered by priority.
func (r *Registry) handlersFor(event *Event) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regs := append([]*Registration(nil), r.handlers[string(event.Type)]...)
	if event.Action != "" {
		regs = append(regs, r.handlers[string(event.Type)+":"+event.Action]...)
	}
	sort.SliceStable(regs, func(i, j int) bool { return regs[i].Priority < regs[j].Priority })
	return regs
}

// Trigger runs every matching handler in priority order. A failing or
// panicking handler is logged and does not stop the rest; the first error
// is returned.
func (r *Registry) Trigger(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}

	var firstErr error
	for _, reg := range r.handlersFor(event) {
		if err := call(ctx, reg, event); err != nil {
			r.logger.Warn("hook handler failed",
				"event", event.Type,
				"action", event.Action,
				"session_key", event.SessionKey,
				"handler", reg.Name,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func call(ctx context.Context, reg *Registration, event *Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook %s panicked: %v", reg.Name, p)
		}
	}()
	return reg.Handler(ctx, event)
}

// Describe returns the handler names per event key in call order, for
// startup logs. Unnamed handlers appear as their registration ID.
func (r *Registry) Describe() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.handlers))
	for key, regs := range r.handlers {
		names := make([]string, 0, len(regs))
		for _, reg := range regs {
			name := reg.Name
			if name == "" {
				name = reg.ID
			}
			names = append(names, name)
		}
		out[key] = names
	}
	return out
}
