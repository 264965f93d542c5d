package store

import (
	"time"

	"github.com/jpalmerr/turnstile/internal/model"
)

// TerminalStatus represents the current state of a terminal's poller.
//
// TerminalStatus is the storage representation of poller status, shaped for
// JSON serialization (used by the REST API and SSE).
type TerminalStatus struct {
	// ID is the terminal identifier.
	ID string `json:"id"`

	// Host is the terminal address.
	Host string `json:"host"`

	// Schedule is the daily polling window, empty when always active.
	Schedule string `json:"schedule,omitempty"`

	// State is the poller phase ("idle", "gated", "polling", "backoff", "window_reset").
	State string `json:"state"`

	ConsecutiveErrors int `json:"consecutive_errors"`

	// LastSuccessAt is nil until the first successful cycle.
	LastSuccessAt *time.Time `json:"last_success_at"`

	// LastError is the message of the most recent failure, if any.
	LastError   *string    `json:"last_error"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`

	WindowStart       time.Time `json:"window_start"`
	EventsPublished   uint64    `json:"events_published"`
	DuplicatesSkipped uint64    `json:"duplicates_skipped"`
	WindowResets      uint64    `json:"window_resets"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// UpdateKind identifies what an [Update] carries.
type UpdateKind string

const (
	KindStatus UpdateKind = "status"
	KindEvent  UpdateKind = "event"
)

// Update is a change notification delivered to subscribers. Exactly one of
// Terminal or Event is set, according to Kind.
type Update struct {
	Kind     UpdateKind                 `json:"kind"`
	Terminal *TerminalStatus            `json:"terminal,omitempty"`
	Event    *model.AuthenticationEvent `json:"event,omitempty"`
}

// Store defines the interface for storing and subscribing to terminal
// status and event updates.
//
// Store implementations must be safe for concurrent access.
type Store interface {
	// UpdateStatus stores a terminal status and notifies all subscribers.
	// Statuses are keyed by ID, so later updates replace earlier ones.
	UpdateStatus(status TerminalStatus)

	// Statuses returns all stored statuses ordered by terminal ID.
	Statuses() []TerminalStatus

	// AddEvent appends an event to the history and notifies all subscribers.
	AddEvent(ev model.AuthenticationEvent)

	// RecentEvents returns up to limit events, newest first. A non-positive
	// limit returns the whole history.
	RecentEvents(limit int) []model.AuthenticationEvent

	// Subscribe returns a channel that receives updates.
	// The returned channel has a buffer; slow consumers may miss updates.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan Update

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan Update)
}
