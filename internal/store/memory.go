package store

import (
	"sort"
	"sync"

	"github.com/jpalmerr/turnstile/internal/model"
)

// DefaultHistorySize is the number of events a [MemoryStore] keeps.
const DefaultHistorySize = 200

// MemoryStore is an in-memory implementation of [Store].
//
// Statuses are keyed by terminal ID. Events are kept in a fixed-size ring,
// so the oldest event is dropped once the history is full.
//
// Subscribers receive updates via buffered channels (buffer size 100). Updates
// are sent non-blocking; if a subscriber's buffer is full, the update is dropped
// for that subscriber to prevent blocking the entire system.
type MemoryStore struct {
	mu       sync.RWMutex
	statuses map[string]TerminalStatus
	events   []model.AuthenticationEvent
	next     int
	full     bool

	subscribers map[chan Update]struct{}
	subMu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory [Store] keeping historySize
// events. A non-positive size uses [DefaultHistorySize].
func NewMemoryStore(historySize int) *MemoryStore {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &MemoryStore{
		statuses:    make(map[string]TerminalStatus),
		events:      make([]model.AuthenticationEvent, historySize),
		subscribers: make(map[chan Update]struct{}),
	}
}

// UpdateStatus stores a [TerminalStatus] and notifies all subscribers.
func (m *MemoryStore) UpdateStatus(status TerminalStatus) {
	m.mu.Lock()
	m.statuses[status.ID] = status
	m.mu.Unlock()

	m.notifySubscribers(Update{Kind: KindStatus, Terminal: &status})
}

// Statuses returns a snapshot of all stored statuses, ordered by ID.
func (m *MemoryStore) Statuses() []TerminalStatus {
	m.mu.RLock()
	results := make([]TerminalStatus, 0, len(m.statuses))
	for _, status := range m.statuses {
		results = append(results, status)
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

// AddEvent records ev in the history and notifies all subscribers.
func (m *MemoryStore) AddEvent(ev model.AuthenticationEvent) {
	m.mu.Lock()
	m.events[m.next] = ev
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	m.mu.Unlock()

	m.notifySubscribers(Update{Kind: KindEvent, Event: &ev})
}

// RecentEvents returns up to limit events, newest first.
func (m *MemoryStore) RecentEvents(limit int) []model.AuthenticationEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.next
	if m.full {
		n = len(m.events)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]model.AuthenticationEvent, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.events)) % len(m.events)
		out = append(out, m.events[idx])
	}
	return out
}

// Subscribe creates a new subscription and returns a channel for receiving updates.
//
// The returned channel has a buffer of 100 messages. If the buffer fills
// (slow consumer), new updates are dropped for this subscriber.
//
// Caller must call [MemoryStore.Unsubscribe] when done to prevent resource leaks.
func (m *MemoryStore) Subscribe() <-chan Update {
	ch := make(chan Update, 100)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
//
// Safe to call multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan Update) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	// find and delete the channel (need to convert to the right type)
	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notifySubscribers sends the update to all active subscribers without
// blocking; a full subscriber buffer drops the message for that subscriber.
func (m *MemoryStore) notifySubscribers(u Update) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- u:
		default:
			// subscriber is slow, drop the message
		}
	}
}
