// Package router fans unique authentication events out to consumers.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/turnstile/internal/metrics"
	"github.com/jpalmerr/turnstile/internal/model"
)

// Consumer receives every event published to a [Router].
//
// Consume is called synchronously from poller goroutines, possibly
// concurrently for events of different terminals, so implementations must
// be safe for concurrent use and should bound their own I/O.
type Consumer interface {
	Name() string
	Consume(ctx context.Context, ev model.AuthenticationEvent) error
}

// DeliveryError reports a consumer that failed to handle an event.
type DeliveryError struct {
	Consumer string
	Identity model.Identity
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("consumer %s: deliver %s: %v", e.Consumer, e.Identity, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Router dispatches each published event to all registered consumers in
// registration order. A failing or panicking consumer is logged and does
// not prevent delivery to the consumers after it.
type Router struct {
	mu        sync.RWMutex
	consumers []Consumer
	logger    *slog.Logger
	onError   func(*DeliveryError)
}

// Option configures a [Router].
type Option func(*Router)

// WithErrorHandler sets a callback invoked for every failed delivery, after
// the failure has been logged.
func WithErrorHandler(f func(*DeliveryError)) Option {
	return func(r *Router) { r.onError = f }
}

// New creates an empty [Router].
func New(logger *slog.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register appends c to the dispatch order. Nil consumers are ignored.
func (r *Router) Register(c Consumer) {
	if c == nil {
		return
	}
	r.mu.Lock()
	r.consumers = append(r.consumers, c)
	r.mu.Unlock()
}

// Len returns the number of registered consumers.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.consumers)
}

// Publish delivers ev to every consumer and returns the number of failed
// deliveries.
func (r *Router) Publish(ctx context.Context, ev model.AuthenticationEvent) int {
	r.mu.RLock()
	consumers := r.consumers
	r.mu.RUnlock()

	failed := 0
	for _, c := range consumers {
		start := time.Now()
		err := r.deliverSafe(ctx, c, ev)
		metrics.ConsumerDuration.WithLabelValues(c.Name()).Observe(time.Since(start).Seconds())
		if err == nil {
			continue
		}

		failed++
		derr := &DeliveryError{Consumer: c.Name(), Identity: ev.Identity, Err: err}
		metrics.ConsumerFailures.WithLabelValues(c.Name()).Inc()
		r.logger.Warn("event delivery failed",
			"consumer", c.Name(),
			"identity", ev.Identity,
			"terminal", ev.TerminalID,
			"error", err.Error(),
		)
		if r.onError != nil {
			r.onError(derr)
		}
	}
	return failed
}

// deliverSafe calls the consumer with panic recovery. A panic is logged
// with a correlation id and its stack, and returned as an error.
func (r *Router) deliverSafe(ctx context.Context, c Consumer, ev model.AuthenticationEvent) (err error) {
	defer func() {
		if p := recover(); p != nil {
			correlationID := uuid.NewString()
			r.logger.Error("consumer panic",
				"correlation_id", correlationID,
				"consumer", c.Name(),
				"panic", fmt.Sprintf("%v", p),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("consumer panic (correlation_id: %s)", correlationID)
		}
	}()
	return c.Consume(ctx, ev)
}
