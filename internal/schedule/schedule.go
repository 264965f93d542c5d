// Package schedule decides whether a terminal may be polled at a given time.
package schedule

import (
	"errors"
	"fmt"
	"time"
)

const clockLayout = "15:04"

// ErrCrossesMidnight is returned by [Parse] for windows whose start is after their end.
var ErrCrossesMidnight = errors.New("schedule window crosses midnight")

// Window is an inclusive time-of-day range in zero-padded 24h "HH:MM" form.
type Window struct {
	From string
	To   string
}

// String returns the window as "HH:MM-HH:MM".
func (w Window) String() string {
	return w.From + "-" + w.To
}

// Parse validates from and to and returns the window.
//
// Both bounds must be zero-padded "HH:MM". Windows crossing midnight
// (from > to) are rejected with [ErrCrossesMidnight].
func Parse(from, to string) (Window, error) {
	if err := validateClock(from); err != nil {
		return Window{}, fmt.Errorf("from: %w", err)
	}
	if err := validateClock(to); err != nil {
		return Window{}, fmt.Errorf("to: %w", err)
	}
	if from > to {
		return Window{}, fmt.Errorf("%w: %s-%s", ErrCrossesMidnight, from, to)
	}
	return Window{From: from, To: to}, nil
}

// validateClock checks s is exactly "HH:MM" with valid hour and minute.
// time.Parse alone accepts "9:00" for layout "15:04", which would break
// lexical comparison.
func validateClock(s string) error {
	if len(s) != len(clockLayout) {
		return fmt.Errorf("invalid time %q (expected zero-padded HH:MM)", s)
	}
	if _, err := time.Parse(clockLayout, s); err != nil {
		return fmt.Errorf("invalid time %q (expected zero-padded HH:MM)", s)
	}
	return nil
}

// IsActive reports whether polling is permitted at now.
//
// A nil window always permits polling. Otherwise now is formatted as
// "HH:MM" in its own location and compared with inclusive bounds.
func IsActive(w *Window, now time.Time) bool {
	if w == nil {
		return true
	}
	hm := now.Format(clockLayout)
	return w.From <= hm && hm <= w.To
}
