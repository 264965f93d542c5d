package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jpalmerr/turnstile/internal/metrics"
	"github.com/jpalmerr/turnstile/internal/model"
	"github.com/jpalmerr/turnstile/internal/schedule"
	"github.com/jpalmerr/turnstile/internal/terminal"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fetchCall struct {
	window terminal.Window
	cursor int
	size   int
}

// fakeFetcher serves pages out of a fixed record list, or fails with err.
type fakeFetcher struct {
	mu      sync.Mutex
	records []model.RawRecord
	err     error
	// failCursor, when positive, fails only requests at that cursor
	failCursor int
	calls      []fetchCall
}

func (f *fakeFetcher) FetchPage(_ context.Context, w terminal.Window, cursor, size int) (terminal.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{window: w, cursor: cursor, size: size})

	if f.err != nil && (f.failCursor == 0 || f.failCursor == cursor) {
		return terminal.Page{}, f.err
	}
	if cursor >= len(f.records) {
		return terminal.Page{}, nil
	}
	end := min(cursor+size, len(f.records))
	page := terminal.Page{Records: f.records[cursor:end], TotalHint: len(f.records)}
	if len(page.Records) == size {
		next := end
		page.Next = &next
	}
	return page, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) lastCall() fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

// collector records published identities in order.
type collector struct {
	mu  sync.Mutex
	ids []model.Identity
}

func (c *collector) Publish(_ context.Context, ev model.AuthenticationEvent) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, ev.Identity)
	return 0
}

func (c *collector) identities() []model.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Identity(nil), c.ids...)
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)}
}

func newTestPoller(t *testing.T, cfg Config, f Fetcher, pub Publisher, clock *fakeClock, opts ...Option) *Poller {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	p, err := New(cfg, f, pub, testLogger(), opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func assertIdentities(t *testing.T, got []model.Identity, want ...model.Identity) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("published %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("published[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPoller_PublishesEachIdentityOnce(t *testing.T) {
	f := &fakeFetcher{records: []model.RawRecord{
		{EmployeeNo: "E1", Time: "T1000"},
		{EmployeeNo: "E2", Time: "T1005"},
		{EmployeeNo: "E1", Time: "T1000"}, // duplicated within the page
	}}
	pub := &collector{}
	clock := newClock()
	p := newTestPoller(t, Config{TerminalID: "T1-once"}, f, pub, clock)

	p.Tick(context.Background())
	clock.Advance(2 * time.Second)
	p.Tick(context.Background()) // same records again

	assertIdentities(t, pub.identities(), "T1-once:E1:T1000", "T1-once:E2:T1005")

	if got := p.Status().DuplicatesSkipped; got != 4 {
		t.Errorf("Status().DuplicatesSkipped = %d, want 4", got)
	}
	if got := testutil.ToFloat64(metrics.EventsPublished.WithLabelValues("T1-once")); got != 2 {
		t.Errorf("events published metric = %v, want 2", got)
	}
}

func TestPoller_ScenarioT1(t *testing.T) {
	f := &fakeFetcher{records: []model.RawRecord{
		{EmployeeNo: "E1", Time: "T1000"},
		{EmployeeNo: "E2", Time: "T1005"},
	}}
	pub := &collector{}
	p := newTestPoller(t, Config{TerminalID: "T1"}, f, pub, newClock())

	p.Tick(context.Background())

	assertIdentities(t, pub.identities(), "T1:E1:T1000", "T1:E2:T1005")
}

func TestPoller_IdentitiesAreTerminalQualified(t *testing.T) {
	records := []model.RawRecord{{EmployeeNo: "E1", Time: "T1000"}}
	pub := &collector{}
	clock := newClock()

	a := newTestPoller(t, Config{TerminalID: "A"}, &fakeFetcher{records: records}, pub, clock)
	b := newTestPoller(t, Config{TerminalID: "B"}, &fakeFetcher{records: records}, pub, clock)

	a.Tick(context.Background())
	b.Tick(context.Background())

	assertIdentities(t, pub.identities(), "A:E1:T1000", "B:E1:T1000")
}

func TestPoller_SkipsRecordsWithoutEmployee(t *testing.T) {
	f := &fakeFetcher{records: []model.RawRecord{
		{Time: "T0999", Major: 2, Minor: 1024}, // door event
		{EmployeeNo: "E1", Time: "T1000"},
	}}
	pub := &collector{}
	p := newTestPoller(t, Config{TerminalID: "T-door"}, f, pub, newClock())

	p.Tick(context.Background())

	assertIdentities(t, pub.identities(), "T-door:E1:T1000")
}

func TestPoller_PaginatesUntilShortPage(t *testing.T) {
	f := &fakeFetcher{records: numberedRecords(70, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))}
	pub := &collector{}
	p := newTestPoller(t, Config{TerminalID: "T-pages", PageSize: 30}, f, pub, newClock())

	p.Tick(context.Background())

	if got := f.callCount(); got != 3 {
		t.Errorf("fetch calls = %d, want 3", got)
	}
	if got := len(pub.identities()); got != 70 {
		t.Errorf("published %d events, want 70", got)
	}
	for i, c := range f.calls {
		if c.cursor != i*30 {
			t.Errorf("call %d cursor = %d, want %d", i, c.cursor, i*30)
		}
	}
}

func TestPoller_SearchIDStableWithinCycle(t *testing.T) {
	f := &fakeFetcher{records: numberedRecords(45, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))}
	clock := newClock()
	p := newTestPoller(t, Config{TerminalID: "T-search", PageSize: 30}, f, &collector{}, clock)

	p.Tick(context.Background())
	clock.Advance(2 * time.Second)
	p.Tick(context.Background())

	first, second := f.calls[0].window.SearchID, f.calls[1].window.SearchID
	if first == "" || first != second {
		t.Errorf("search ids within a cycle = %q, %q, want equal and non-empty", first, second)
	}
	if next := f.calls[2].window.SearchID; next == first {
		t.Errorf("search id reused across cycles: %q", next)
	}
}

func TestPoller_CapBoundsCycle(t *testing.T) {
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	f := &fakeFetcher{records: numberedRecords(1000, base)}
	pub := &collector{}
	p := newTestPoller(t, Config{
		TerminalID:        "T-cap",
		PageSize:          30,
		MaxEventsPerCycle: 100,
		Lookback:          2 * time.Hour,
	}, f, pub, newClock())

	p.Tick(context.Background())

	if got := len(pub.identities()); got != 100 {
		t.Errorf("published %d events, want 100", got)
	}
	wantSizes := []int{30, 30, 30, 10}
	if len(f.calls) != len(wantSizes) {
		t.Fatalf("fetch calls = %d, want %d", len(f.calls), len(wantSizes))
	}
	for i, want := range wantSizes {
		if f.calls[i].size != want {
			t.Errorf("call %d size = %d, want %d", i, f.calls[i].size, want)
		}
	}

	// the next window resumes from the last processed event
	want := base.Add(99 * time.Second)
	if got := p.WindowStart(); !got.Equal(want) {
		t.Errorf("WindowStart() = %v, want %v", got, want)
	}
}

func TestPoller_CappedCycleNeverPassesNow(t *testing.T) {
	clock := newClock()
	// device clock two hours ahead of the host
	f := &fakeFetcher{records: numberedRecords(1000, clock.Now().Add(2*time.Hour))}
	p := newTestPoller(t, Config{
		TerminalID:        "T-skew",
		PageSize:          30,
		MaxEventsPerCycle: 100,
	}, f, &collector{}, clock)

	p.Tick(context.Background())

	if got := p.WindowStart(); got.After(clock.Now()) {
		t.Fatalf("WindowStart() = %v is after now %v", got, clock.Now())
	}

	for range 3 {
		clock.Advance(10 * time.Minute)
		p.Tick(context.Background())
		if w := f.lastCall().window; w.Start.After(w.End) {
			t.Errorf("window [%v, %v) is inverted", w.Start, w.End)
		}
	}
}

func TestPoller_DrainedCycleAdvancesWindow(t *testing.T) {
	clock := newClock()
	p := newTestPoller(t, Config{TerminalID: "T-drain", Lookback: time.Hour}, &fakeFetcher{}, &collector{}, clock)

	if want := clock.Now().Add(-time.Hour); !p.WindowStart().Equal(want) {
		t.Fatalf("initial WindowStart() = %v, want %v", p.WindowStart(), want)
	}

	if d := p.Tick(context.Background()); d != DefaultPollInterval {
		t.Errorf("Tick() delay = %v, want %v", d, DefaultPollInterval)
	}

	want := clock.Now().Add(-DefaultOverlap)
	if got := p.WindowStart(); !got.Equal(want) {
		t.Errorf("WindowStart() = %v, want %v", got, want)
	}
	if st := p.Status(); st.State != StateIdle || !st.LastSuccessAt.Equal(clock.Now()) {
		t.Errorf("Status() = %+v, want idle with last success at now", st)
	}
}

func TestPoller_MidCycleErrorDoesNotRepublish(t *testing.T) {
	f := &fakeFetcher{
		records:    numberedRecords(45, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)),
		err:        fmt.Errorf("page 2: %w", terminal.ErrUnreachable),
		failCursor: 30,
	}
	pub := &collector{}
	clock := newClock()
	p := newTestPoller(t, Config{TerminalID: "T-mid", PageSize: 30}, f, pub, clock)

	start := p.WindowStart()
	p.Tick(context.Background())
	if got := len(pub.identities()); got != 30 {
		t.Fatalf("published %d events before failure, want 30", got)
	}
	if !p.WindowStart().Equal(start) {
		t.Error("WindowStart() moved after a failed cycle")
	}

	f.mu.Lock()
	f.err = nil
	f.mu.Unlock()
	clock.Advance(3 * time.Second)
	p.Tick(context.Background())

	if got := len(pub.identities()); got != 45 {
		t.Errorf("published %d events after retry, want 45", got)
	}
}

func TestPoller_ResetAfterThreshold(t *testing.T) {
	f := &fakeFetcher{err: fmt.Errorf("dial: %w", terminal.ErrUnreachable)}
	clock := newClock()
	p := newTestPoller(t, Config{TerminalID: "T-reset", ResetThreshold: 5}, f, &collector{}, clock)

	resets := func() float64 {
		return testutil.ToFloat64(metrics.WindowResets.WithLabelValues("T-reset", ResetReasonErrors))
	}
	start := p.WindowStart()

	for i := 1; i <= 4; i++ {
		clock.Advance(5 * time.Second)
		d := p.Tick(context.Background())
		if d < DefaultMinErrorDelay || d > DefaultMaxErrorDelay {
			t.Errorf("Tick() #%d delay = %v, want within error bounds", i, d)
		}
		if got := p.ConsecutiveErrors(); got != i {
			t.Errorf("ConsecutiveErrors() after %d failures = %d", i, got)
		}
		if !p.WindowStart().Equal(start) {
			t.Errorf("WindowStart() moved after %d failures", i)
		}
		if st := p.Status(); st.State != StateBackoff {
			t.Errorf("Status().State = %q, want %q", st.State, StateBackoff)
		}
	}

	clock.Advance(5 * time.Second)
	p.Tick(context.Background())
	if got := p.ConsecutiveErrors(); got != 0 {
		t.Errorf("ConsecutiveErrors() after reset = %d, want 0", got)
	}
	if got := p.WindowStart(); !got.Equal(clock.Now()) {
		t.Errorf("WindowStart() after reset = %v, want %v", got, clock.Now())
	}
	if got := resets(); got != 1 {
		t.Errorf("window resets = %v, want 1", got)
	}

	clock.Advance(5 * time.Second)
	p.Tick(context.Background())
	if got := resets(); got != 1 {
		t.Errorf("window resets after 6th failure = %v, want 1", got)
	}
	if got := p.ConsecutiveErrors(); got != 1 {
		t.Errorf("ConsecutiveErrors() after 6th failure = %d, want 1", got)
	}
	if got := p.Status().WindowResets; got != 1 {
		t.Errorf("Status().WindowResets = %d, want 1", got)
	}
}

func TestPoller_AuthFailureIsRetried(t *testing.T) {
	f := &fakeFetcher{err: fmt.Errorf("status 401: %w", terminal.ErrAuthFailed)}
	p := newTestPoller(t, Config{TerminalID: "T-auth"}, f, &collector{}, newClock())

	p.Tick(context.Background())
	p.Tick(context.Background())

	if got := f.callCount(); got != 2 {
		t.Errorf("fetch calls = %d, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.PollErrors.WithLabelValues("T-auth", "auth")); got != 2 {
		t.Errorf("auth errors metric = %v, want 2", got)
	}
	st := p.Status()
	if st.LastError == nil || st.ConsecutiveErrors != 2 {
		t.Errorf("Status() = %+v, want last error and 2 consecutive errors", st)
	}
}

func TestPoller_WatchdogResetsWindow(t *testing.T) {
	f := &fakeFetcher{err: terminal.ErrProtocol}
	clock := newClock()
	p := newTestPoller(t, Config{
		TerminalID:      "T-watchdog",
		ResetThreshold:  1000,
		WatchdogCeiling: 10 * time.Minute,
	}, f, &collector{}, clock)

	p.Tick(context.Background())
	clock.Advance(10*time.Minute + time.Second)
	p.Tick(context.Background())

	if got := testutil.ToFloat64(metrics.WindowResets.WithLabelValues("T-watchdog", ResetReasonWatchdog)); got != 1 {
		t.Errorf("watchdog resets = %v, want 1", got)
	}
	if got := p.WindowStart(); !got.Equal(clock.Now()) {
		t.Errorf("WindowStart() = %v, want %v", got, clock.Now())
	}
	// the reset cleared the count before this tick's failure was recorded
	if got := p.ConsecutiveErrors(); got != 1 {
		t.Errorf("ConsecutiveErrors() = %d, want 1", got)
	}
}

func TestPoller_GatedOutsideSchedule(t *testing.T) {
	w, err := schedule.Parse("09:00", "11:00")
	if err != nil {
		t.Fatalf("schedule.Parse() error = %v", err)
	}
	f := &fakeFetcher{}
	clock := &fakeClock{now: time.Date(2024, 5, 1, 8, 59, 0, 0, time.UTC)}
	p := newTestPoller(t, Config{TerminalID: "T-gated", Schedule: &w}, f, &collector{}, clock)

	if d := p.Tick(context.Background()); d != DefaultGatedInterval {
		t.Errorf("Tick() delay = %v, want %v", d, DefaultGatedInterval)
	}
	if got := f.callCount(); got != 0 {
		t.Errorf("fetch calls while gated = %d, want 0", got)
	}
	if st := p.Status(); st.State != StateGated {
		t.Errorf("Status().State = %q, want %q", st.State, StateGated)
	}
	gatedAt := clock.Now()

	clock.Set(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	p.Tick(context.Background())
	if got := f.callCount(); got != 1 {
		t.Fatalf("fetch calls inside schedule = %d, want 1", got)
	}
	if got := f.lastCall().window.Start; !got.Equal(gatedAt) {
		t.Errorf("first window start = %v, want %v (no replay of gated time)", got, gatedAt)
	}
}

func TestPoller_GatingDoesNotTripWatchdog(t *testing.T) {
	w, _ := schedule.Parse("09:00", "11:00")
	clock := &fakeClock{now: time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)}
	p := newTestPoller(t, Config{TerminalID: "T-gated-watchdog", Schedule: &w}, &fakeFetcher{}, &collector{}, clock)

	for clock.Now().Hour() < 9 {
		p.Tick(context.Background())
		clock.Advance(time.Minute)
	}
	p.Tick(context.Background())

	if got := testutil.ToFloat64(metrics.WindowResets.WithLabelValues("T-gated-watchdog", ResetReasonWatchdog)); got != 0 {
		t.Errorf("watchdog resets after gated period = %v, want 0", got)
	}
}

func TestPoller_StatusFunc(t *testing.T) {
	var got []Status
	p := newTestPoller(t, Config{TerminalID: "T-status"}, &fakeFetcher{}, &collector{}, newClock(),
		WithStatusFunc(func(s Status) { got = append(got, s) }))

	p.Tick(context.Background())

	if len(got) != 1 {
		t.Fatalf("status callbacks = %d, want 1", len(got))
	}
	if got[0].TerminalID != "T-status" || got[0].State != StateIdle {
		t.Errorf("status = %+v", got[0])
	}
}

func TestPoller_ServeStopsOnCancel(t *testing.T) {
	p, err := New(Config{TerminalID: "T-serve"}, &fakeFetcher{}, &collector{}, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		f    Fetcher
		pub  Publisher
	}{
		{"missing terminal id", Config{}, &fakeFetcher{}, &collector{}},
		{"missing fetcher", Config{TerminalID: "x"}, nil, &collector{}},
		{"missing publisher", Config{TerminalID: "x"}, &fakeFetcher{}, nil},
		{"floor not below capacity", Config{TerminalID: "x", DedupCapacity: 10, DedupFloor: 10}, &fakeFetcher{}, &collector{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, tt.f, tt.pub, testLogger()); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestPoller_String(t *testing.T) {
	p, _ := New(Config{TerminalID: "lobby"}, &fakeFetcher{}, &collector{}, testLogger())
	if got := p.String(); got != "poller/lobby" {
		t.Errorf("String() = %q, want %q", got, "poller/lobby")
	}
}

// numberedRecords returns n records one second apart starting at base,
// formatted the way terminals report local time.
func numberedRecords(n int, base time.Time) []model.RawRecord {
	out := make([]model.RawRecord, n)
	for i := range out {
		out[i] = model.RawRecord{
			EmployeeNo: fmt.Sprintf("E%d", i),
			Time:       base.Add(time.Duration(i) * time.Second).Format(time.RFC3339),
			Minor:      75,
		}
	}
	return out
}
