package turnstile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/jpalmerr/turnstile/dashboard"
	"github.com/jpalmerr/turnstile/internal/poller"
	"github.com/jpalmerr/turnstile/internal/router"
	"github.com/jpalmerr/turnstile/internal/server"
	"github.com/jpalmerr/turnstile/internal/store"
	"github.com/jpalmerr/turnstile/internal/terminal"
)

const (
	defaultPort          = 8080
	defaultShutdownGrace = 10 * time.Second
)

// Turnstile polls a fleet of access-control terminals and forwards every
// unique authentication event to the registered consumers.
//
// Each terminal is owned by one poller running under a supervisor. All
// pollers publish into one shared router, so consumers see the events of
// every terminal. Event identities are terminal-qualified and never
// collide across terminals.
//
// The typical lifecycle is:
//
//	ts, err := turnstile.New(
//	    turnstile.WithTerminals(lobby, warehouse),
//	    turnstile.WithConsumer(receipts),
//	)
//	if err != nil {
//	    slog.Error("failed to create turnstile", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	ts.Start(ctx) // blocks until context cancelled
type Turnstile struct {
	title           string
	terminals       []Terminal
	consumers       []Consumer
	statusCallbacks []func(TerminalStatus)
	logger          *slog.Logger
	port            int
	dashboard       bool
	shutdownGrace   time.Duration
	historySize     int
	pollerDefaults  poller.Config
}

// New creates a [Turnstile] with the given options.
//
// At least one terminal must be configured via [WithTerminal] or
// [WithTerminals], and terminal ids must be unique. Other options have
// sensible defaults:
//   - Port: 8080, dashboard enabled
//   - Shutdown grace: 10 seconds
//   - Deduplication: 1000 identities per terminal, pruned to 500
//   - Window reset after 5 consecutive failures or 10 minutes without success
func New(opts ...Option) (*Turnstile, error) {
	cfg := &tsConfig{
		port:          defaultPort,
		dashboard:     true,
		shutdownGrace: defaultShutdownGrace,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if len(cfg.terminals) == 0 {
		return nil, errors.New("at least one terminal is required")
	}

	seen := make(map[string]bool, len(cfg.terminals))
	for _, t := range cfg.terminals {
		if t.id == "" {
			return nil, &ConfigurationError{Field: "id", Err: errors.New("terminal was not created with NewTerminal")}
		}
		if seen[t.id] {
			return nil, &ConfigurationError{Terminal: t.id, Field: "id", Err: errors.New("duplicate terminal id")}
		}
		seen[t.id] = true
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Turnstile{
		title:           cfg.title,
		terminals:       cfg.terminals,
		consumers:       cfg.consumers,
		statusCallbacks: cfg.statusCallbacks,
		logger:          logger,
		port:            cfg.port,
		dashboard:       cfg.dashboard,
		shutdownGrace:   cfg.shutdownGrace,
		historySize:     cfg.historySize,
		pollerDefaults: poller.Config{
			GatedInterval:   cfg.gatedInterval,
			ResetThreshold:  cfg.resetThreshold,
			WatchdogCeiling: cfg.watchdog,
			MinErrorDelay:   cfg.minErrorDelay,
			MaxErrorDelay:   cfg.maxErrorDelay,
			DedupCapacity:   cfg.dedupCapacity,
			DedupFloor:      cfg.dedupFloor,
		},
	}, nil
}

// Start polls every terminal and, unless disabled, serves the status
// dashboard.
//
// Start blocks until ctx is cancelled. Pollers are then stopped
// cooperatively; any poller still running after the shutdown grace period
// is abandoned and logged.
//
// Returns nil on graceful shutdown. Returns an error if a poller cannot be
// built or the HTTP server fails to start.
func (ts *Turnstile) Start(ctx context.Context) error {
	ts.logger.Info("turnstile starting",
		"terminal_count", len(ts.terminals),
		"consumer_count", len(ts.consumers),
	)

	if ctx.Err() != nil {
		return nil
	}

	var st *store.MemoryStore
	r := router.New(ts.logger)
	if ts.dashboard {
		st = store.NewMemoryStore(ts.historySize)
		r.Register(store.NewDisplay(st))
	}
	for _, c := range ts.consumers {
		r.Register(c)
	}

	handler := &sutureslog.Handler{Logger: ts.logger}
	sup := suture.New("turnstile", suture.Spec{
		EventHook: handler.MustHook(),
		Timeout:   ts.shutdownGrace,
	})

	clients := make([]*terminal.Client, 0, len(ts.terminals))
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	for _, t := range ts.terminals {
		client := terminal.NewClient(t.clientConfig())
		clients = append(clients, client)

		p, err := poller.New(ts.pollerConfig(t), client, r, ts.logger,
			poller.WithStatusFunc(ts.statusFunc(t, st)),
		)
		if err != nil {
			return fmt.Errorf("terminal %s: %w", t.id, err)
		}
		if st != nil {
			st.UpdateStatus(toStoreStatus(t, p.Status()))
		}
		sup.Add(p)

		ts.logger.Info("terminal configured",
			"terminal", t.id,
			"address", t.Address(),
			"schedule", t.Schedule(),
		)
	}

	if ts.dashboard {
		httpServer := server.NewServer(st, ts.port, dashboard.Assets, ts.title, ts.logger)
		if err := httpServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		ts.logger.Info("dashboard available", "url", fmt.Sprintf("http://localhost:%d", ts.port))
	}

	errCh := sup.ServeBackground(ctx)
	if err := <-errCh; err != nil && ctx.Err() == nil {
		ts.logger.Error("supervisor stopped unexpectedly", "error", err)
	}

	unstopped, _ := sup.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		ts.logger.Warn("pollers failed to stop within grace period",
			"count", len(unstopped),
			"grace", ts.shutdownGrace,
		)
		for _, svc := range unstopped {
			ts.logger.Warn("poller abandoned", "service", svc.Name)
		}
	}

	ts.logger.Info("turnstile stopped")
	return nil
}

// pollerConfig merges the coordinator-wide settings with t's own.
func (ts *Turnstile) pollerConfig(t Terminal) poller.Config {
	cfg := ts.pollerDefaults
	cfg.TerminalID = t.id
	cfg.Schedule = t.schedule
	cfg.PollInterval = t.pollInterval
	cfg.PageSize = t.pageSize
	cfg.MaxEventsPerCycle = t.maxEventsPerCycle
	cfg.Lookback = t.lookback
	return cfg
}

// statusFunc returns the per-tick hook of t's poller: the store is updated
// first, then callbacks fire.
func (ts *Turnstile) statusFunc(t Terminal, st *store.MemoryStore) func(poller.Status) {
	return func(s poller.Status) {
		if st != nil {
			st.UpdateStatus(toStoreStatus(t, s))
		}
		if len(ts.statusCallbacks) == 0 {
			return
		}
		public := toPublicStatus(s)
		for _, cb := range ts.statusCallbacks {
			invokeCallbackSafe(cb, public, ts.logger)
		}
	}
}

// Terminals returns a copy of the configured terminals.
func (ts *Turnstile) Terminals() []Terminal {
	cp := make([]Terminal, len(ts.terminals))
	copy(cp, ts.terminals)
	return cp
}

// Port returns the configured HTTP port for the dashboard server.
func (ts *Turnstile) Port() int {
	return ts.port
}

// ShutdownGrace returns how long Start waits for pollers to stop.
func (ts *Turnstile) ShutdownGrace() time.Duration {
	return ts.shutdownGrace
}

// toStoreStatus converts a poller snapshot to its JSON storage form.
func toStoreStatus(t Terminal, s poller.Status) store.TerminalStatus {
	out := store.TerminalStatus{
		ID:                s.TerminalID,
		Host:              t.Address(),
		Schedule:          t.Schedule(),
		State:             string(s.State),
		ConsecutiveErrors: s.ConsecutiveErrors,
		WindowStart:       s.WindowStart,
		EventsPublished:   s.EventsPublished,
		DuplicatesSkipped: s.DuplicatesSkipped,
		WindowResets:      s.WindowResets,
		UpdatedAt:         s.UpdatedAt,
	}
	if !s.LastSuccessAt.IsZero() {
		at := s.LastSuccessAt
		out.LastSuccessAt = &at
	}
	if s.LastError != nil {
		msg := s.LastError.Error()
		at := s.LastErrorAt
		out.LastError = &msg
		out.LastErrorAt = &at
	}
	return out
}

func toPublicStatus(s poller.Status) TerminalStatus {
	return TerminalStatus{
		TerminalID:        s.TerminalID,
		State:             PollerState(s.State),
		ConsecutiveErrors: s.ConsecutiveErrors,
		LastSuccessAt:     s.LastSuccessAt,
		LastError:         s.LastError,
		LastErrorAt:       s.LastErrorAt,
		WindowStart:       s.WindowStart,
		EventsPublished:   s.EventsPublished,
		DuplicatesSkipped: s.DuplicatesSkipped,
		WindowResets:      s.WindowResets,
		UpdatedAt:         s.UpdatedAt,
	}
}

// invokeCallbackSafe calls a status callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(TerminalStatus), status TerminalStatus, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("status callback panicked",
				"panic", r,
				"terminal", status.TerminalID,
			)
		}
	}()
	cb(status)
}
