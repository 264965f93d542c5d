package store

import (
	"context"

	"github.com/jpalmerr/turnstile/internal/model"
)

// Display is an event consumer that records every event in a [Store] for
// the dashboard's recent-event feed.
type Display struct {
	store Store
}

// NewDisplay returns a [Display] writing to st.
func NewDisplay(st Store) *Display {
	return &Display{store: st}
}

func (d *Display) Name() string { return "display" }

func (d *Display) Consume(_ context.Context, ev model.AuthenticationEvent) error {
	d.store.AddEvent(ev)
	return nil
}
