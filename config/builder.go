package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jpalmerr/turnstile"
	"github.com/jpalmerr/turnstile/internal/sink/breaker"
	"github.com/jpalmerr/turnstile/internal/sink/logsink"
	"github.com/jpalmerr/turnstile/internal/sink/natsbus"
	"github.com/jpalmerr/turnstile/internal/sink/postgres"
	"github.com/jpalmerr/turnstile/internal/sink/printer"
	"github.com/jpalmerr/turnstile/internal/sink/webhook"
)

// BuildTerminals converts parsed configuration into SDK Terminal values.
//
// Every terminal is built even when an earlier one fails. The returned
// slice holds the valid terminals in file order; the error joins one
// [*turnstile.ConfigurationError] per invalid terminal, so callers may
// choose to run with a partial fleet.
func BuildTerminals(cfg *Config) ([]turnstile.Terminal, error) {
	terminals := make([]turnstile.Terminal, 0, len(cfg.Terminals))
	var errs []error

	for _, tc := range cfg.Terminals {
		t, err := buildTerminal(tc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		terminals = append(terminals, t)
	}

	return terminals, errors.Join(errs...)
}

// buildTerminal converts a single TerminalConfig to an SDK Terminal.
func buildTerminal(tc TerminalConfig) (turnstile.Terminal, error) {
	var opts []turnstile.TerminalOption

	if tc.Username != "" {
		opts = append(opts, turnstile.WithCredentials(tc.Username, tc.Password))
	}
	if tc.Schedule != nil {
		opts = append(opts, turnstile.WithSchedule(tc.Schedule.From, tc.Schedule.To))
	}
	if tc.Timeout != 0 {
		opts = append(opts, turnstile.WithRequestTimeout(tc.Timeout.Duration()))
	}
	if tc.PollInterval != 0 {
		opts = append(opts, turnstile.WithPollInterval(tc.PollInterval.Duration()))
	}
	if tc.PageSize != 0 {
		opts = append(opts, turnstile.WithPageSize(tc.PageSize))
	}
	if tc.MaxEvents != 0 {
		opts = append(opts, turnstile.WithMaxEventsPerCycle(tc.MaxEvents))
	}
	if tc.Lookback != 0 {
		opts = append(opts, turnstile.WithLookback(tc.Lookback.Duration()))
	}
	if tc.Major != 0 || tc.Minor != 0 {
		major := tc.Major
		if major == 0 {
			major = turnstile.DefaultMajorCode
		}
		opts = append(opts, turnstile.WithEventCodes(major, tc.Minor))
	}

	return turnstile.NewTerminal(tc.ID, tc.Host, opts...)
}

// BuildOptions converts the coordinator-wide settings into SDK options.
// Terminals and consumers are added by the caller.
func BuildOptions(cfg *Config) []turnstile.Option {
	opts := []turnstile.Option{
		turnstile.WithPort(cfg.Port),
	}
	if cfg.Title != "" {
		opts = append(opts, turnstile.WithTitle(cfg.Title))
	}
	if !cfg.DashboardEnabled() {
		opts = append(opts, turnstile.WithoutDashboard())
	}
	if cfg.ShutdownGrace != 0 {
		opts = append(opts, turnstile.WithShutdownGrace(cfg.ShutdownGrace.Duration()))
	}
	if cfg.GatedInterval != 0 {
		opts = append(opts, turnstile.WithGatedInterval(cfg.GatedInterval.Duration()))
	}
	if cfg.HistorySize != 0 {
		opts = append(opts, turnstile.WithHistorySize(cfg.HistorySize))
	}
	if cfg.Dedup.Capacity != 0 {
		opts = append(opts, turnstile.WithDedupCapacity(cfg.Dedup.Capacity, cfg.Dedup.Floor))
	}
	if cfg.Failure.ResetThreshold != 0 {
		opts = append(opts, turnstile.WithResetThreshold(cfg.Failure.ResetThreshold))
	}
	if cfg.Failure.Watchdog != 0 {
		opts = append(opts, turnstile.WithWatchdogCeiling(cfg.Failure.Watchdog.Duration()))
	}
	if cfg.Failure.MinDelay != 0 || cfg.Failure.MaxDelay != 0 {
		lo, hi := cfg.Failure.MinDelay.Duration(), cfg.Failure.MaxDelay.Duration()
		if lo == 0 {
			lo = hi
		}
		if hi < lo {
			hi = lo
		}
		opts = append(opts, turnstile.WithErrorBackoff(lo, hi))
	}
	return opts
}

// BuildConsumers opens every configured sink and returns them as SDK
// consumers, in the fixed order log, printer, postgres, webhook, nats.
//
// Network sinks are wrapped in a circuit breaker, then restricted to their
// configured terminals. The returned close function releases every opened
// sink; it is non-nil even when an error is returned. On error, sinks
// opened so far have already been closed.
func BuildConsumers(ctx context.Context, cfg *Config, logger *slog.Logger) ([]turnstile.Consumer, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		consumers []turnstile.Consumer
		closers   []io.Closer
	)
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				errs = append(errs, err)
			}
		}
		closers = nil
		return errors.Join(errs...)
	}
	fail := func(err error) ([]turnstile.Consumer, func() error, error) {
		_ = closeAll()
		return nil, closeAll, err
	}

	s := cfg.Sinks

	if s.Log != nil && s.Log.Enabled {
		sink := logsink.New(logger, ParseLevel(s.Log.Level))
		consumers = append(consumers, turnstile.ForTerminals(sink, s.Log.Terminals...))
	}

	if s.Printer != nil {
		p, err := openPrinter(s.Printer)
		if err != nil {
			return fail(fmt.Errorf("sinks.printer: %w", err))
		}
		closers = append(closers, p)
		consumers = append(consumers, guard(p, s.Printer.SinkCommon, logger))
	}

	if s.Postgres != nil {
		pg, err := openPostgres(ctx, s.Postgres)
		if err != nil {
			return fail(fmt.Errorf("sinks.postgres: %w", err))
		}
		closers = append(closers, pg)
		consumers = append(consumers, guard(pg, s.Postgres.SinkCommon, logger))
	}

	if s.Webhook != nil {
		wh := webhook.New(s.Webhook.URL,
			webhook.WithHeaders(s.Webhook.Headers),
			webhook.WithTimeout(s.Webhook.Timeout.Duration()),
			webhook.WithName(s.Webhook.Name),
		)
		closers = append(closers, wh)
		consumers = append(consumers, guard(wh, s.Webhook.SinkCommon, logger))
	}

	if s.NATS != nil {
		nb, err := natsbus.Connect(s.NATS.URL, s.NATS.SubjectPrefix, logger)
		if err != nil {
			return fail(fmt.Errorf("sinks.nats: %w", err))
		}
		closers = append(closers, nb)
		consumers = append(consumers, guard(nb, s.NATS.SinkCommon, logger))
	}

	return consumers, closeAll, nil
}

// guard wraps a network sink in a circuit breaker and applies its terminal
// filter.
func guard(c turnstile.Consumer, common SinkCommon, logger *slog.Logger) turnstile.Consumer {
	wrapped := breaker.Wrap(c, breaker.Settings{
		FailureThreshold: common.Breaker.FailureThreshold,
		OpenTimeout:      common.Breaker.OpenTimeout.Duration(),
	}, logger)
	return turnstile.ForTerminals(wrapped, common.Terminals...)
}

func openPrinter(pc *PrinterSinkConfig) (*printer.Printer, error) {
	timeout := pc.Timeout.Duration()
	if timeout == 0 {
		timeout = printer.DefaultTimeout
	}
	var t printer.Transport
	if pc.Device != "" {
		t = printer.NewSerialTransport(pc.Device, pc.Baud, timeout)
	} else {
		t = printer.NewTCPTransport(pc.Address, timeout)
	}

	p, err := printer.New(printer.Config{
		Title:    pc.Title,
		CodePage: pc.CodePage,
		Template: pc.Template,
	}, t)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	return p, nil
}

func openPostgres(ctx context.Context, pc *PostgresSinkConfig) (*postgres.Sink, error) {
	pg, err := postgres.Open(ctx, postgres.Config{
		DSN:      pc.DSN,
		Table:    pc.Table,
		MaxConns: pc.MaxConns,
		Timeout:  pc.Timeout.Duration(),
	})
	if err != nil {
		return nil, err
	}
	if pc.EnsureSchema {
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
	}
	return pg, nil
}
