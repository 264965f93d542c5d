// Package logsink writes each event to a structured log.
package logsink

import (
	"context"
	"log/slog"

	"github.com/jpalmerr/turnstile/internal/model"
)

// Sink logs events at a fixed level.
type Sink struct {
	logger *slog.Logger
	level  slog.Level
}

// New creates a [Sink]. A nil logger uses slog.Default().
func New(logger *slog.Logger, level slog.Level) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{logger: logger, level: level}
}

func (s *Sink) Name() string { return "log" }

func (s *Sink) Consume(ctx context.Context, ev model.AuthenticationEvent) error {
	s.logger.Log(ctx, s.level, "authentication event",
		"identity", ev.Identity,
		"terminal", ev.TerminalID,
		"employee", ev.EmployeeID,
		"name", ev.EmployeeName,
		"method", ev.AuthMethod,
		"time", ev.RawTime,
	)
	return nil
}
