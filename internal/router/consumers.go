package router

import (
	"context"

	"github.com/jpalmerr/turnstile/internal/model"
)

// Func adapts a function to a [Consumer].
func Func(name string, f func(ctx context.Context, ev model.AuthenticationEvent) error) Consumer {
	return funcConsumer{name: name, f: f}
}

type funcConsumer struct {
	name string
	f    func(ctx context.Context, ev model.AuthenticationEvent) error
}

func (c funcConsumer) Name() string { return c.name }

func (c funcConsumer) Consume(ctx context.Context, ev model.AuthenticationEvent) error {
	return c.f(ctx, ev)
}

// ForTerminals restricts c to events from the given terminals. With no ids
// c is returned unchanged.
//
// This selects per-terminal behavior, such as printing receipts for one
// kiosk while another checks out carts, without separate routers.
func ForTerminals(c Consumer, terminalIDs ...string) Consumer {
	if len(terminalIDs) == 0 {
		return c
	}
	allowed := make(map[string]struct{}, len(terminalIDs))
	for _, id := range terminalIDs {
		allowed[id] = struct{}{}
	}
	return terminalFilter{inner: c, allowed: allowed}
}

type terminalFilter struct {
	inner   Consumer
	allowed map[string]struct{}
}

func (f terminalFilter) Name() string { return f.inner.Name() }

func (f terminalFilter) Consume(ctx context.Context, ev model.AuthenticationEvent) error {
	if _, ok := f.allowed[ev.TerminalID]; !ok {
		return nil
	}
	return f.inner.Consume(ctx, ev)
}
