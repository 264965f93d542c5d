package main

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jpalmerr/turnstile/internal/terminal/terminaltest"
)

// StartMockTerminal runs a simulated terminal on addr that records a punch
// by a random employee every 3-10 seconds. It returns once addr is bound.
func StartMockTerminal(ctx context.Context, addr string) error {
	sim := terminaltest.NewSimulator()
	srv := &http.Server{Addr: addr, Handler: sim, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = srv.Close()
				return
			case <-time.After(time.Duration(3+rand.IntN(8)) * time.Second):
				p := terminaltest.RandomPunch(time.Now())
				sim.Add(p)
				slog.Info("mock punch", "terminal", addr, "employee", p.EmployeeNo, "minor", p.Minor)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}
