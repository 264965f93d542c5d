package turnstile

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// tsConfig holds mutable state during Turnstile construction.
type tsConfig struct {
	title           string
	terminals       []Terminal
	consumers       []Consumer
	statusCallbacks []func(TerminalStatus)
	logger          *slog.Logger
	port            int
	dashboard       bool
	shutdownGrace   time.Duration
	dedupCapacity   int
	dedupFloor      int
	resetThreshold  int
	watchdog        time.Duration
	gatedInterval   time.Duration
	minErrorDelay   time.Duration
	maxErrorDelay   time.Duration
	historySize     int
}

// Option configures a [Turnstile] instance during construction.
//
// Options return an error if validation fails.
type Option func(*tsConfig) error

// WithTerminal adds a single [Terminal] to poll.
//
// Can be called multiple times. At least one terminal must be configured
// for [New] to succeed, and terminal ids must be unique.
func WithTerminal(t Terminal) Option {
	return func(cfg *tsConfig) error {
		cfg.terminals = append(cfg.terminals, t)
		return nil
	}
}

// WithTerminals adds several terminals at once.
func WithTerminals(terminals ...Terminal) Option {
	return func(cfg *tsConfig) error {
		cfg.terminals = append(cfg.terminals, terminals...)
		return nil
	}
}

// WithConsumer registers a [Consumer] for unique events.
//
// Consumers are called in registration order, synchronously from the
// poller goroutine of the terminal that reported the event. A slow
// consumer delays that terminal's polling, so consumers doing network I/O
// should bound it with a timeout.
//
// Example:
//
//	ts, err := turnstile.New(
//	    turnstile.WithTerminal(lobby),
//	    turnstile.WithConsumer(turnstile.ConsumerFunc("audit",
//	        func(ctx context.Context, ev turnstile.AuthenticationEvent) error {
//	            return audit.Record(ctx, ev.EmployeeID, ev.Timestamp)
//	        })),
//	)
//
// Returns an error if c is nil.
func WithConsumer(c Consumer) Option {
	return func(cfg *tsConfig) error {
		if c == nil {
			return errors.New("consumer cannot be nil")
		}
		cfg.consumers = append(cfg.consumers, c)
		return nil
	}
}

// WithStatusCallback registers a function called with a [TerminalStatus]
// after every poll cycle of every terminal.
//
// Callbacks run on the poller goroutine and must not block. Panics are
// recovered and logged. Nil callbacks are silently ignored.
func WithStatusCallback(cb func(TerminalStatus)) Option {
	return func(cfg *tsConfig) error {
		if cb == nil {
			return nil
		}
		cfg.statusCallbacks = append(cfg.statusCallbacks, cb)
		return nil
	}
}

// WithLogger sets a custom [slog.Logger]. Defaults to [slog.Default].
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *tsConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithPort sets the HTTP port of the status dashboard. Defaults to 8080.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *tsConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithTitle sets the dashboard title. Defaults to "Turnstile".
func WithTitle(title string) Option {
	return func(cfg *tsConfig) error {
		cfg.title = title
		return nil
	}
}

// WithoutDashboard disables the status server. Events still reach every
// consumer.
func WithoutDashboard() Option {
	return func(cfg *tsConfig) error {
		cfg.dashboard = false
		return nil
	}
}

// WithShutdownGrace bounds how long [Turnstile.Start] waits for pollers to
// stop after its context is cancelled. Pollers still running afterwards
// are abandoned and logged. Defaults to 10 seconds.
func WithShutdownGrace(d time.Duration) Option {
	return func(cfg *tsConfig) error {
		if d <= 0 {
			return errors.New("shutdown grace must be positive")
		}
		cfg.shutdownGrace = d
		return nil
	}
}

// WithDedupCapacity sets the per-terminal deduplication bounds. When more
// than capacity identities are recorded, the oldest are discarded until
// floor remain. Defaults to 1000 and 500.
//
// Returns an error unless 0 < floor < capacity.
func WithDedupCapacity(capacity, floor int) Option {
	return func(cfg *tsConfig) error {
		if floor <= 0 || floor >= capacity {
			return fmt.Errorf("dedup floor must be positive and below capacity, got capacity=%d floor=%d", capacity, floor)
		}
		cfg.dedupCapacity = capacity
		cfg.dedupFloor = floor
		return nil
	}
}

// WithResetThreshold sets how many consecutive failed cycles abandon the
// current search window. Defaults to 5.
func WithResetThreshold(n int) Option {
	return func(cfg *tsConfig) error {
		if n < 1 {
			return errors.New("reset threshold must be at least 1")
		}
		cfg.resetThreshold = n
		return nil
	}
}

// WithWatchdogCeiling sets the longest a terminal may go without a
// successful cycle before its window is reset. Time outside the schedule
// window does not count. Defaults to 10 minutes.
func WithWatchdogCeiling(d time.Duration) Option {
	return func(cfg *tsConfig) error {
		if d <= 0 {
			return errors.New("watchdog ceiling must be positive")
		}
		cfg.watchdog = d
		return nil
	}
}

// WithGatedInterval sets how often a terminal outside its schedule window
// is re-checked. Defaults to 60 seconds.
func WithGatedInterval(d time.Duration) Option {
	return func(cfg *tsConfig) error {
		if d <= 0 {
			return errors.New("gated interval must be positive")
		}
		cfg.gatedInterval = d
		return nil
	}
}

// WithErrorBackoff sets the retry delay range after failed cycles. The
// delay grows with consecutive errors from min towards max. Defaults to
// 2 and 10 seconds.
func WithErrorBackoff(min, max time.Duration) Option {
	return func(cfg *tsConfig) error {
		if min <= 0 || max < min {
			return fmt.Errorf("error backoff requires 0 < min <= max, got min=%v max=%v", min, max)
		}
		cfg.minErrorDelay = min
		cfg.maxErrorDelay = max
		return nil
	}
}

// WithHistorySize sets how many recent events the dashboard keeps.
// Defaults to 200.
func WithHistorySize(n int) Option {
	return func(cfg *tsConfig) error {
		if n < 1 {
			return errors.New("history size must be at least 1")
		}
		cfg.historySize = n
		return nil
	}
}
