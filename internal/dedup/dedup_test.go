package dedup

import (
	"fmt"
	"testing"

	"github.com/jpalmerr/turnstile/internal/model"
)

func id(i int) model.Identity {
	return model.Identity(fmt.Sprintf("T1:E%d:T%d", i, i))
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name            string
		capacity, floor int
	}{
		{"zero capacity", 0, 0},
		{"zero floor", 10, 0},
		{"floor equals capacity", 10, 10},
		{"floor above capacity", 10, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.capacity, tt.floor); err == nil {
				t.Errorf("New(%d, %d) expected error", tt.capacity, tt.floor)
			}
		})
	}
}

func TestStore_SeenAndRecord(t *testing.T) {
	s, err := New(DefaultCapacity, DefaultFloor)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if s.Seen(id(1)) {
		t.Error("Seen() = true before Record")
	}
	s.Record(id(1))
	if !s.Seen(id(1)) {
		t.Error("Seen() = false after Record")
	}

	// recording twice must not grow the store
	s.Record(id(1))
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestStore_PruneRetainsMostRecent(t *testing.T) {
	const capacity, floor = 1000, 500

	s, err := New(capacity, floor)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i <= capacity; i++ {
		s.Record(id(i))
	}

	if s.Len() > capacity {
		t.Fatalf("Len() = %d, want <= %d", s.Len(), capacity)
	}
	if s.Len() != floor {
		t.Errorf("Len() = %d, want %d", s.Len(), floor)
	}

	// the floor most recently inserted identities survive
	for i := capacity + 1 - floor; i <= capacity; i++ {
		if !s.Seen(id(i)) {
			t.Errorf("Seen(%d) = false, want true (recent)", i)
		}
	}
	// everything older is gone
	for i := 0; i < capacity+1-floor; i++ {
		if s.Seen(id(i)) {
			t.Errorf("Seen(%d) = true, want false (pruned)", i)
		}
	}
}

func TestStore_SeenDoesNotRefreshRecency(t *testing.T) {
	s, err := New(4, 2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 4; i++ {
		s.Record(id(i))
	}
	// touching the oldest entry must not protect it
	_ = s.Seen(id(0))
	s.Record(id(4))

	if s.Seen(id(0)) {
		t.Error("id(0) survived pruning after Seen; membership checks must not refresh recency")
	}
	if !s.Seen(id(3)) || !s.Seen(id(4)) {
		t.Error("most recent identities should survive pruning")
	}
}

func TestStore_BoundedUnderLoad(t *testing.T) {
	s, err := New(100, 50)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 10_000; i++ {
		s.Record(id(i))
		if s.Len() > 100 {
			t.Fatalf("Len() = %d after %d inserts, want <= 100", s.Len(), i+1)
		}
	}
}
