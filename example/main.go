package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/turnstile"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// two simulated terminals (see mock_server.go)
	for _, addr := range []string{"localhost:9901", "localhost:9902"} {
		if err := StartMockTerminal(ctx, addr); err != nil {
			slog.Error("failed to start mock terminal", "addr", addr, "error", err)
			os.Exit(1)
		}
	}

	lobby, err := turnstile.NewTerminal("lobby", "localhost:9901",
		turnstile.WithPollInterval(2*time.Second),
	)
	if err != nil {
		slog.Error("failed to create terminal", "error", err)
		os.Exit(1)
	}
	warehouse, err := turnstile.NewTerminal("warehouse", "localhost:9902",
		turnstile.WithSchedule("06:00", "22:00"),
	)
	if err != nil {
		slog.Error("failed to create terminal", "error", err)
		os.Exit(1)
	}

	ticket := turnstile.ConsumerFunc("stdout", func(_ context.Context, ev turnstile.AuthenticationEvent) error {
		fmt.Printf("  %-10s %-16s %-12s %s\n", ev.TerminalID, ev.EmployeeName, ev.AuthMethod, ev.Timestamp.Format(time.TimeOnly))
		return nil
	})

	ts, err := turnstile.New(
		turnstile.WithTerminals(lobby, warehouse),
		turnstile.WithConsumer(ticket),
		turnstile.WithTitle("Turnstile Demo"),
		turnstile.WithPort(8080),
	)
	if err != nil {
		slog.Error("failed to create turnstile", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  Turnstile Demo")
	fmt.Println()
	fmt.Println("  Open http://localhost:8080 in your browser")
	fmt.Println("  Terminals: lobby (always), warehouse (06:00-22:00)")
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	if err := ts.Start(ctx); err != nil {
		slog.Error("turnstile error", "error", err)
		os.Exit(1)
	}
}
