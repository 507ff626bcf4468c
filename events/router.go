// Package events forwards host events into the script context.
//
// Scripts register interest in a named event with a handler snippet. When a
// Source reports that event, the Router renders the handler invocation and
// posts it to the session's script channel owner, which injects it from the
// channel's owning goroutine.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/shaharia-lab/scriptbridge/observability"
)

// ErrClosed is returned once the router has been closed.
var ErrClosed = errors.New("event router closed")

// Poster hands code to the goroutine that owns the script channel.
type Poster interface {
	Post(code string) error
}

// Router maps event names to script handlers. The last registration for a
// name wins.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]string
	closed   bool

	poster    Poster
	limiter   *rate.Limiter
	ctx       context.Context
	cancel    context.CancelFunc
	logger    observability.Logger
	sessionID string
}

// RouterOption is a function that modifies a Router
type RouterOption func(*Router)

// UseLogger sets the logger
func UseLogger(logger observability.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// UseRateLimit throttles deliveries to limit events per second with the given burst.
// A limit of zero or less disables throttling.
func UseRateLimit(limit float64, burst int) RouterOption {
	return func(r *Router) {
		if limit <= 0 {
			r.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
}

// UseSessionID tags log lines with the owning session
func UseSessionID(id string) RouterOption {
	return func(r *Router) {
		r.sessionID = id
	}
}

// NewRouter creates a Router that injects handler invocations through poster.
func NewRouter(poster Poster, opts ...RouterOption) *Router {
	r := &Router{
		handlers: make(map[string]string),
		poster:   poster,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = observability.OrNull(r.logger).WithFields(map[string]interface{}{
		observability.SessionIDLogField: r.sessionID,
	})
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// Register sets handler as the script code run for name, replacing any
// previous handler.
func (r *Router) Register(name, handler string) error {
	if name == "" {
		return fmt.Errorf("event name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if _, exists := r.handlers[name]; exists {
		r.logger.WithFields(map[string]interface{}{observability.EventLogField: name}).Debug("Replacing event handler")
	}
	r.handlers[name] = handler
	return nil
}

// UnregisterAll removes every handler.
func (r *Router) UnregisterAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string]string)
}

// Handler returns the handler registered for name.
func (r *Router) Handler(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Deliver runs the handler registered for name with payload. Events nobody
// registered for are ignored. Deliveries from one goroutine reach the script
// in the order they were made.
func (r *Router) Deliver(name string, payload json.RawMessage) error {
	r.mu.RLock()
	_, ok := r.handlers[name]
	closed := r.closed
	r.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if !ok {
		return nil
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(r.ctx); err != nil {
			return ErrClosed
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	handler, ok := r.handlers[name]
	if !ok {
		return nil
	}

	code, err := RenderInvocation(name, handler, payload)
	if err != nil {
		return err
	}
	if err := r.poster.Post(code); err != nil {
		return fmt.Errorf("failed to post event %s: %w", name, err)
	}
	return nil
}

// OnEvent implements Observer.
func (r *Router) OnEvent(name string, payload json.RawMessage) {
	if err := r.Deliver(name, payload); err != nil {
		r.logger.WithFields(map[string]interface{}{observability.EventLogField: name}).
			WithErr(err).Debug("Dropped event delivery")
	}
}

// Close stops all deliveries. Deliveries waiting on the rate limit are abandoned.
func (r *Router) Close() {
	r.cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.handlers = make(map[string]string)
}

// RenderInvocation builds the script code that runs handler with eventName
// and eventData bound to name and payload.
func RenderInvocation(name, handler string, payload json.RawMessage) (string, error) {
	quotedName, err := json.Marshal(name)
	if err != nil {
		return "", fmt.Errorf("failed to encode event name: %w", err)
	}
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	} else if !json.Valid(payload) {
		return "", fmt.Errorf("event %s payload is not valid JSON", name)
	}
	return fmt.Sprintf("(function(eventName, eventData){ %s\n}).call(this, %s, %s);", handler, quotedName, payload), nil
}
