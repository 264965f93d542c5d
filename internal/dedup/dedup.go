// Package dedup tracks which event identities a poller has already forwarded.
package dedup

import (
	"errors"

	"github.com/jpalmerr/turnstile/internal/model"
)

const (
	DefaultCapacity = 1000
	DefaultFloor    = 500
)

// Store is a bounded, insertion-ordered set of identities.
//
// When more than capacity identities are held, the store drops the oldest
// until only floor remain. Seen does not refresh recency, so this is a FIFO
// approximation of LRU. Store is owned by a single poller and is not safe
// for concurrent use.
type Store struct {
	capacity int
	floor    int
	order    []model.Identity
	members  map[model.Identity]struct{}
}

// New creates a Store. floor must be positive and less than capacity.
func New(capacity, floor int) (*Store, error) {
	if capacity <= 0 {
		return nil, errors.New("dedup capacity must be positive")
	}
	if floor <= 0 || floor >= capacity {
		return nil, errors.New("dedup floor must be positive and less than capacity")
	}
	return &Store{
		capacity: capacity,
		floor:    floor,
		order:    make([]model.Identity, 0, capacity+1),
		members:  make(map[model.Identity]struct{}, capacity+1),
	}, nil
}

// Seen reports whether id has been recorded and not yet pruned.
func (s *Store) Seen(id model.Identity) bool {
	_, ok := s.members[id]
	return ok
}

// Record adds id. Recording an identity already present is a no-op.
func (s *Store) Record(id model.Identity) {
	if _, ok := s.members[id]; ok {
		return
	}
	s.members[id] = struct{}{}
	s.order = append(s.order, id)

	if len(s.order) > s.capacity {
		s.prune()
	}
}

// Len returns the number of identities held.
func (s *Store) Len() int {
	return len(s.order)
}

// prune keeps the floor most recently inserted identities.
func (s *Store) prune() {
	drop := len(s.order) - s.floor
	for _, id := range s.order[:drop] {
		delete(s.members, id)
	}
	// copy into a fresh backing array so dropped entries can be collected
	kept := make([]model.Identity, s.floor, s.capacity+1)
	copy(kept, s.order[drop:])
	s.order = kept
}
