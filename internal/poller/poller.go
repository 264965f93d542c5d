package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/turnstile/internal/dedup"
	"github.com/jpalmerr/turnstile/internal/metrics"
	"github.com/jpalmerr/turnstile/internal/model"
	"github.com/jpalmerr/turnstile/internal/schedule"
	"github.com/jpalmerr/turnstile/internal/terminal"
)

// Polling defaults.
const (
	DefaultPollInterval      = 2 * time.Second
	DefaultGatedInterval     = 60 * time.Second
	DefaultPageSize          = 30
	DefaultMaxEventsPerCycle = 300
	DefaultOverlap           = 5 * time.Second
	DefaultLookback          = time.Minute
)

// State is the phase a poller is in.
type State string

const (
	StateIdle        State = "idle"
	StateGated       State = "gated"
	StatePolling     State = "polling"
	StateBackoff     State = "backoff"
	StateWindowReset State = "window_reset"
)

// Window reset reasons, used as log attributes and metric labels.
const (
	ResetReasonErrors   = "errors"
	ResetReasonWatchdog = "watchdog"
)

// Fetcher retrieves one page of raw event records from a terminal.
// [terminal.Client] is the production implementation.
type Fetcher interface {
	FetchPage(ctx context.Context, w terminal.Window, cursor, pageSize int) (terminal.Page, error)
}

// Publisher receives every event that survives deduplication.
// It returns the number of consumers that failed to handle the event.
type Publisher interface {
	Publish(ctx context.Context, ev model.AuthenticationEvent) int
}

// Config holds the polling parameters for one terminal. Zero values take
// the package defaults.
type Config struct {
	TerminalID string

	// Schedule restricts polling to a daily time window. Nil polls always.
	Schedule *schedule.Window

	PollInterval  time.Duration
	GatedInterval time.Duration

	PageSize          int
	MaxEventsPerCycle int

	ResetThreshold  int
	WatchdogCeiling time.Duration
	MinErrorDelay   time.Duration
	MaxErrorDelay   time.Duration

	DedupCapacity int
	DedupFloor    int

	// Overlap is how far behind "now" the next window starts after a
	// drained cycle, to pick up events the terminal records late.
	Overlap time.Duration

	// Lookback sets the first window start relative to startup.
	Lookback time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.GatedInterval <= 0 {
		c.GatedInterval = DefaultGatedInterval
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.MaxEventsPerCycle <= 0 {
		c.MaxEventsPerCycle = DefaultMaxEventsPerCycle
	}
	if c.DedupCapacity <= 0 {
		c.DedupCapacity = dedup.DefaultCapacity
	}
	if c.DedupFloor <= 0 {
		c.DedupFloor = dedup.DefaultFloor
	}
	if c.Overlap <= 0 {
		c.Overlap = DefaultOverlap
	}
	if c.Lookback <= 0 {
		c.Lookback = DefaultLookback
	}
	return c
}

// Status is a point-in-time snapshot of a poller, published after every
// tick.
type Status struct {
	TerminalID        string
	State             State
	ConsecutiveErrors int
	LastSuccessAt     time.Time
	LastError         error
	LastErrorAt       time.Time
	WindowStart       time.Time
	EventsPublished   uint64
	DuplicatesSkipped uint64
	WindowResets      uint64
	UpdatedAt         time.Time
}

// Option configures a [Poller].
type Option func(*Poller)

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// WithStatusFunc sets a callback invoked with a [Status] after every tick.
// The callback runs on the poller goroutine and must not block.
func WithStatusFunc(f func(Status)) Option {
	return func(p *Poller) { p.onStatus = f }
}

// Poller repeatedly queries one terminal for new events over a moving time
// window and publishes each previously unseen event exactly once.
//
// Each tick runs one cycle of the state machine:
//
//	idle -> gated                      (schedule inactive, no request)
//	idle -> polling -> idle            (success)
//	idle -> polling -> backoff         (failure)
//	backoff -> window_reset -> idle    (threshold reached or watchdog expired)
//
// A Poller is driven by a single goroutine through [Poller.Serve] (or
// [Poller.Tick] in tests). [Poller.Status] may be called concurrently.
type Poller struct {
	cfg       Config
	fetcher   Fetcher
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
	onStatus  func(Status)

	dedup    *dedup.Store
	failures *FailureManager

	windowStart time.Time
	state       State

	mu     sync.RWMutex
	status Status
}

// New creates a [Poller] for the terminal described by cfg.
func New(cfg Config, fetcher Fetcher, publisher Publisher, logger *slog.Logger, opts ...Option) (*Poller, error) {
	if cfg.TerminalID == "" {
		return nil, errors.New("poller: terminal id is required")
	}
	if fetcher == nil || publisher == nil {
		return nil, errors.New("poller: fetcher and publisher are required")
	}
	cfg = cfg.withDefaults()

	store, err := dedup.New(cfg.DedupCapacity, cfg.DedupFloor)
	if err != nil {
		return nil, fmt.Errorf("poller %s: %w", cfg.TerminalID, err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	p := &Poller{
		cfg:       cfg,
		fetcher:   fetcher,
		publisher: publisher,
		logger:    logger.With("terminal", cfg.TerminalID),
		now:       time.Now,
		dedup:     store,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(p)
	}

	start := p.now()
	p.failures = NewFailureManager(cfg.ResetThreshold, cfg.WatchdogCeiling, cfg.MinErrorDelay, cfg.MaxErrorDelay, start)
	p.windowStart = start.Add(-cfg.Lookback)
	p.status = Status{
		TerminalID:  cfg.TerminalID,
		State:       StateIdle,
		WindowStart: p.windowStart,
		UpdatedAt:   start,
	}
	return p, nil
}

// String implements fmt.Stringer; suture uses it to name the service.
func (p *Poller) String() string {
	return "poller/" + p.cfg.TerminalID
}

// TerminalID returns the id of the polled terminal.
func (p *Poller) TerminalID() string {
	return p.cfg.TerminalID
}

// Status returns the latest snapshot.
func (p *Poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Serve runs the polling loop until ctx is cancelled. It implements
// suture.Service.
func (p *Poller) Serve(ctx context.Context) error {
	p.logger.Info("poller started", "window_start", p.windowStart)
	defer p.logger.Info("poller stopped")

	for {
		delay := p.Tick(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tick runs one cycle and returns how long to wait before the next one.
func (p *Poller) Tick(ctx context.Context) time.Duration {
	now := p.now()

	if p.failures.WatchdogExpired(now) {
		p.logger.Warn("no successful poll within watchdog ceiling, resetting window",
			"last_success", p.failures.LastSuccessAt(),
			"ceiling", p.cfg.WatchdogCeiling,
		)
		p.resetWindow(now, ResetReasonWatchdog)
	}

	if !schedule.IsActive(p.cfg.Schedule, now) {
		// Nothing outside the schedule is wanted, so the window follows the
		// clock and the watchdog does not count gated time.
		p.state = StateGated
		p.windowStart = now
		p.failures.Rearm(now)
		p.publishStatus(now, nil)
		return p.cfg.GatedInterval
	}

	p.state = StatePolling
	start := time.Now()
	err := p.pollCycle(ctx, now)
	metrics.PollDuration.WithLabelValues(p.cfg.TerminalID).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			// shutdown, not a terminal failure
			return 0
		}
		return p.handleFailure(now, err)
	}

	p.failures.RecordSuccess(now)
	p.state = StateIdle
	metrics.ConsecutiveErrors.WithLabelValues(p.cfg.TerminalID).Set(0)
	metrics.LastSuccess.WithLabelValues(p.cfg.TerminalID).Set(float64(now.Unix()))
	p.publishStatus(now, nil)
	return p.cfg.PollInterval
}

// pollCycle paginates through [windowStart, now) and publishes unseen
// events. Events published before a mid-cycle error stay recorded, so a
// retry of the same window does not forward them again.
func (p *Poller) pollCycle(ctx context.Context, now time.Time) error {
	w := terminal.Window{
		Start:    p.windowStart,
		End:      now,
		SearchID: uuid.NewString(),
	}

	var (
		cursor    int
		processed int
		lastEvent time.Time
		capped    bool
	)

	for {
		size := min(p.cfg.PageSize, p.cfg.MaxEventsPerCycle-processed)
		page, err := p.fetcher.FetchPage(ctx, w, cursor, size)
		if err != nil {
			return err
		}

		for _, rec := range page.Records {
			processed++
			if ts := p.handleRecord(ctx, rec); !ts.IsZero() {
				lastEvent = ts
			}
		}

		if page.Next == nil {
			break
		}
		if processed >= p.cfg.MaxEventsPerCycle {
			capped = true
			break
		}
		cursor = *page.Next
	}

	p.advanceWindow(now, lastEvent, capped)
	return nil
}

// handleRecord filters and publishes one record. It returns the parsed
// event time, or zero when the record was skipped or had no usable time.
func (p *Poller) handleRecord(ctx context.Context, rec model.RawRecord) time.Time {
	if rec.EmployeeNo == "" {
		// door and alarm events carry no employee
		return time.Time{}
	}

	ev := model.NewEvent(p.cfg.TerminalID, rec)
	if p.dedup.Seen(ev.Identity) {
		metrics.DuplicatesSkipped.WithLabelValues(p.cfg.TerminalID).Inc()
		p.mu.Lock()
		p.status.DuplicatesSkipped++
		p.mu.Unlock()
		return ev.Timestamp
	}
	p.dedup.Record(ev.Identity)

	p.logger.Debug("publishing event", "identity", ev.Identity, "method", ev.AuthMethod)
	p.publisher.Publish(ctx, ev)
	metrics.EventsPublished.WithLabelValues(p.cfg.TerminalID).Inc()
	p.mu.Lock()
	p.status.EventsPublished++
	p.mu.Unlock()
	return ev.Timestamp
}

// advanceWindow moves the window start after a successful cycle. A drained
// cycle restarts slightly behind now; a capped cycle resumes from the last
// event it saw, leaving the rest of the backlog for the next cycle.
func (p *Poller) advanceWindow(now, lastEvent time.Time, capped bool) {
	next := now.Add(-p.cfg.Overlap)
	if capped {
		next = lastEvent
		if !lastEvent.After(p.windowStart) {
			// a full page of events sharing one timestamp would otherwise pin the window
			next = p.windowStart.Add(time.Second)
		}
		if next.After(now) {
			// device clock ahead of ours; never query an inverted range
			next = now.Add(-p.cfg.Overlap)
		}
	}
	if next.After(p.windowStart) {
		p.windowStart = next
	}
}

func (p *Poller) handleFailure(now time.Time, err error) time.Duration {
	kind := errorKind(err)
	metrics.PollErrors.WithLabelValues(p.cfg.TerminalID, kind).Inc()

	reset := p.failures.RecordFailure()
	delay := p.failures.NextDelay()

	attrs := []any{
		"error", err.Error(),
		"kind", kind,
		"consecutive_errors", p.failures.ConsecutiveErrors(),
		"retry_in", delay,
	}
	if kind == "auth" {
		p.logger.Error("terminal rejected credentials", attrs...)
	} else {
		p.logger.Warn("poll failed", attrs...)
	}

	if reset {
		p.resetWindow(now, ResetReasonErrors)
	} else {
		p.state = StateBackoff
	}
	metrics.ConsecutiveErrors.WithLabelValues(p.cfg.TerminalID).Set(float64(p.failures.ConsecutiveErrors()))
	p.publishStatus(now, err)
	if reset {
		p.state = StateIdle
	}
	return delay
}

// resetWindow abandons the unacknowledged backlog: the window restarts at
// now, the error count clears and the watchdog is re-armed.
func (p *Poller) resetWindow(now time.Time, reason string) {
	p.logger.Warn("poll window reset",
		"reason", reason,
		"abandoned_from", p.windowStart,
	)
	p.state = StateWindowReset
	p.windowStart = now
	p.failures.Rearm(now)
	metrics.WindowResets.WithLabelValues(p.cfg.TerminalID, reason).Inc()
	p.mu.Lock()
	p.status.WindowResets++
	p.mu.Unlock()
}

func (p *Poller) publishStatus(now time.Time, err error) {
	p.mu.Lock()
	p.status.State = p.state
	p.status.ConsecutiveErrors = p.failures.ConsecutiveErrors()
	p.status.WindowStart = p.windowStart
	p.status.UpdatedAt = now
	if p.state == StateIdle && err == nil {
		p.status.LastSuccessAt = now
	}
	if err != nil {
		p.status.LastError = err
		p.status.LastErrorAt = now
	}
	snapshot := p.status
	p.mu.Unlock()

	if p.onStatus != nil {
		p.onStatus(snapshot)
	}
}

// errorKind maps a fetch error to a metric label.
func errorKind(err error) string {
	switch {
	case errors.Is(err, terminal.ErrAuthFailed):
		return "auth"
	case errors.Is(err, terminal.ErrUnreachable):
		return "unreachable"
	case errors.Is(err, terminal.ErrProtocol):
		return "protocol"
	default:
		return "other"
	}
}

// WindowStart returns the start of the next poll window. Not safe for
// concurrent use with Serve.
func (p *Poller) WindowStart() time.Time {
	return p.windowStart
}

// ConsecutiveErrors returns the current run of failed cycles. Not safe for
// concurrent use with Serve.
func (p *Poller) ConsecutiveErrors() int {
	return p.failures.ConsecutiveErrors()
}
