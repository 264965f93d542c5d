package turnstile

import (
	"errors"
	"fmt"
	"time"

	"github.com/jpalmerr/turnstile/internal/schedule"
	"github.com/jpalmerr/turnstile/internal/terminal"
)

// terminalConfig holds mutable state during terminal construction.
type terminalConfig struct {
	username          string
	password          string
	schedule          *schedule.Window
	requestTimeout    time.Duration
	pollInterval      time.Duration
	pageSize          int
	maxEventsPerCycle int
	lookback          time.Duration
	major             int
	minor             int
}

// TerminalOption configures a [Terminal] during construction.
//
// Options return a [*ConfigurationError] naming the rejected field;
// [NewTerminal] fills in the terminal id.
type TerminalOption func(*terminalConfig) error

func invalid(field string, format string, args ...any) error {
	return &ConfigurationError{Field: field, Err: fmt.Errorf(format, args...)}
}

// WithCredentials sets the digest-auth user and password.
func WithCredentials(username, password string) TerminalOption {
	return func(cfg *terminalConfig) error {
		if username == "" {
			return invalid("credentials", "username cannot be empty")
		}
		cfg.username = username
		cfg.password = password
		return nil
	}
}

// WithSchedule restricts polling to the daily window [from, to], both
// inclusive, in zero-padded 24h "HH:MM" local time.
//
// Windows that cross midnight (from after to) are rejected; configure two
// terminals or poll around the clock instead.
func WithSchedule(from, to string) TerminalOption {
	return func(cfg *terminalConfig) error {
		w, err := schedule.Parse(from, to)
		if err != nil {
			return &ConfigurationError{Field: "schedule", Err: err}
		}
		cfg.schedule = &w
		return nil
	}
}

// WithRequestTimeout bounds each search request. Defaults to 15 seconds.
//
// Returns an error if d is not positive or exceeds 30 seconds.
func WithRequestTimeout(d time.Duration) TerminalOption {
	return func(cfg *terminalConfig) error {
		if d <= 0 {
			return invalid("timeout", "timeout must be positive, got %v", d)
		}
		if d > terminal.MaxTimeout {
			return invalid("timeout", "timeout must not exceed %v, got %v", terminal.MaxTimeout, d)
		}
		cfg.requestTimeout = d
		return nil
	}
}

// WithPollInterval sets the delay between successful poll cycles.
// Defaults to 2 seconds.
func WithPollInterval(d time.Duration) TerminalOption {
	return func(cfg *terminalConfig) error {
		if d <= 0 {
			return invalid("poll_interval", "poll interval must be positive, got %v", d)
		}
		cfg.pollInterval = d
		return nil
	}
}

// WithPageSize sets the maximum number of records requested per page.
// Defaults to 30.
func WithPageSize(n int) TerminalOption {
	return func(cfg *terminalConfig) error {
		if n < 1 {
			return invalid("page_size", "page size must be at least 1, got %d", n)
		}
		cfg.pageSize = n
		return nil
	}
}

// WithMaxEventsPerCycle caps the records examined in one cycle. Anything
// beyond the cap is picked up by the next cycle. Defaults to 300.
func WithMaxEventsPerCycle(n int) TerminalOption {
	return func(cfg *terminalConfig) error {
		if n < 1 {
			return invalid("max_events", "max events per cycle must be at least 1, got %d", n)
		}
		cfg.maxEventsPerCycle = n
		return nil
	}
}

// WithLookback sets how far before startup the first search window begins.
// Defaults to one minute.
func WithLookback(d time.Duration) TerminalOption {
	return func(cfg *terminalConfig) error {
		if d <= 0 {
			return invalid("lookback", "lookback must be positive, got %v", d)
		}
		cfg.lookback = d
		return nil
	}
}

// WithEventCodes selects the vendor event codes to search for. Minor 0
// matches every minor code of major.
func WithEventCodes(major, minor int) TerminalOption {
	return func(cfg *terminalConfig) error {
		if major < 1 {
			return invalid("major", "major code must be positive, got %d", major)
		}
		if minor < 0 {
			return &ConfigurationError{Field: "minor", Err: errors.New("minor code cannot be negative")}
		}
		cfg.major = major
		cfg.minor = minor
		return nil
	}
}
