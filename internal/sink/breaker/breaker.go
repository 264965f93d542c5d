// Package breaker guards a consumer with a circuit breaker.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/jpalmerr/turnstile/internal/metrics"
	"github.com/jpalmerr/turnstile/internal/model"
	"github.com/jpalmerr/turnstile/internal/router"
)

// Defaults for [Settings].
const (
	DefaultFailureThreshold = 5
	DefaultOpenTimeout      = 30 * time.Second
	DefaultMaxRequests      = 1
)

// ErrOpen is returned while the breaker rejects deliveries.
var ErrOpen = errors.New("circuit breaker open")

// Settings tune a breaker. Zero values take the defaults.
type Settings struct {
	// FailureThreshold is the number of consecutive failures that open the
	// breaker.
	FailureThreshold uint32

	// OpenTimeout is how long the breaker stays open before letting a
	// probe delivery through.
	OpenTimeout time.Duration

	// MaxRequests is the number of probe deliveries allowed half-open.
	MaxRequests uint32
}

// Consumer is a [router.Consumer] protected by a circuit breaker.
type Consumer struct {
	inner router.Consumer
	cb    *gobreaker.CircuitBreaker[struct{}]
}

// Wrap returns inner guarded by a breaker named after it.
func Wrap(inner router.Consumer, s Settings, logger *slog.Logger) *Consumer {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = DefaultFailureThreshold
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = DefaultOpenTimeout
	}
	if s.MaxRequests == 0 {
		s.MaxRequests = DefaultMaxRequests
	}
	if logger == nil {
		logger = slog.Default()
	}

	name := inner.Name()
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
			logger.Warn("sink circuit breaker state change",
				"consumer", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	return &Consumer{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

// Name returns the wrapped consumer's name.
func (c *Consumer) Name() string {
	return c.inner.Name()
}

// Consume delivers ev through the breaker. While open it returns an error
// wrapping [ErrOpen] without calling the wrapped consumer.
func (c *Consumer) Consume(ctx context.Context, ev model.AuthenticationEvent) error {
	_, err := c.cb.Execute(func() (struct{}, error) {
		return struct{}{}, c.inner.Consume(ctx, ev)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrOpen, err)
	}
	return err
}

// State returns the breaker state ("closed", "half-open" or "open").
func (c *Consumer) State() string {
	return c.cb.State().String()
}
