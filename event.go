package turnstile

import (
	"context"

	"github.com/jpalmerr/turnstile/internal/model"
	"github.com/jpalmerr/turnstile/internal/router"
)

// AuthenticationEvent is a logically unique punch reported by a terminal.
// Every event with a given Identity is delivered to consumers at most once
// per process.
type AuthenticationEvent = model.AuthenticationEvent

// Identity is "terminal:employee:device-time". Equal employee and time
// pairs on different terminals are distinct identities.
type Identity = model.Identity

// AuthMethod is how an employee authenticated.
type AuthMethod = model.AuthMethod

const (
	AuthCard        = model.AuthCard
	AuthFingerprint = model.AuthFingerprint
	AuthFace        = model.AuthFace
	AuthUnknown     = model.AuthUnknown
)

// Consumer receives every unique event. See [WithConsumer].
//
// Consume may be called concurrently for events of different terminals.
// A returned error is logged and counted; it does not affect other
// consumers or the poller that produced the event.
type Consumer = router.Consumer

// ConsumerFunc adapts a function to a [Consumer] named name.
func ConsumerFunc(name string, f func(ctx context.Context, ev AuthenticationEvent) error) Consumer {
	return router.Func(name, f)
}

// ForTerminals restricts c to events from the given terminal ids.
func ForTerminals(c Consumer, terminalIDs ...string) Consumer {
	return router.ForTerminals(c, terminalIDs...)
}
