package turnstile

import "time"

// PollerState is the phase a terminal's poller was in when a
// [TerminalStatus] was taken.
type PollerState string

const (
	// StateIdle means the last cycle succeeded and the poller is waiting
	// for the next one.
	StateIdle PollerState = "idle"

	// StateGated means the terminal is outside its schedule window. No
	// request was made.
	StateGated PollerState = "gated"

	StatePolling PollerState = "polling"

	// StateBackoff means the last cycle failed and the poller is waiting
	// an error-scaled delay before retrying.
	StateBackoff PollerState = "backoff"

	// StateWindowReset means repeated failures or the watchdog restarted
	// the search window at the current time.
	StateWindowReset PollerState = "window_reset"
)

// String returns the string representation of the state.
func (s PollerState) String() string {
	return string(s)
}

// TerminalStatus is a snapshot of one terminal's poller, delivered to
// [WithStatusCallback] after every poll cycle.
type TerminalStatus struct {
	TerminalID string
	State      PollerState

	// ConsecutiveErrors counts failed cycles since the last success or
	// window reset.
	ConsecutiveErrors int

	// LastSuccessAt is zero until the first successful cycle.
	LastSuccessAt time.Time

	// LastError is the most recent failure, nil until one occurs. Test it
	// with errors.Is against [ErrTerminalUnreachable] and its siblings.
	LastError   error
	LastErrorAt time.Time

	// WindowStart is where the next search window begins.
	WindowStart time.Time

	EventsPublished   uint64
	DuplicatesSkipped uint64
	WindowResets      uint64
	UpdatedAt         time.Time
}
