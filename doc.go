// Package turnstile ingests authentication events (card, fingerprint and
// face punches) from a fleet of networked access-control terminals and
// forwards each logically unique event, exactly once, to pluggable
// consumers.
//
// # Quick Start
//
//	lobby, _ := turnstile.NewTerminal("lobby", "192.168.1.64",
//	    turnstile.WithCredentials("admin", os.Getenv("LOBBY_PASSWORD")),
//	    turnstile.WithSchedule("07:00", "19:00"),
//	)
//	ts, _ := turnstile.New(
//	    turnstile.WithTerminal(lobby),
//	    turnstile.WithConsumer(turnstile.ConsumerFunc("stdout",
//	        func(_ context.Context, ev turnstile.AuthenticationEvent) error {
//	            fmt.Println(ev.Identity, ev.EmployeeName, ev.AuthMethod)
//	            return nil
//	        })),
//	)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	ts.Start(ctx) // blocks until context is cancelled
//
// # Polling
//
// Every terminal gets its own poller. Each cycle queries the terminal's
// event-search API for the window between the last acknowledged point and
// now, page by page, until a short or empty page or the per-cycle cap.
// Events are identified by "terminal:employee:device-time"; a bounded
// per-terminal history drops identities that were already forwarded.
//
// Failures never stop a poller. Consecutive errors stretch the retry delay;
// after five of them, or when no cycle has succeeded for ten minutes, the
// poller gives up on the backlog and restarts its window at the current
// time. Terminals with a schedule are not contacted outside their daily
// window.
//
// # Consumers
//
// Consumers are called synchronously, in registration order, from the
// poller goroutine that found the event. A consumer that fails or panics
// is logged and counted; the others still receive the event.
// [ForTerminals] limits a consumer to some terminals.
//
// # Architecture
//
// Turnstile consists of several internal packages (under internal/):
//
//   - internal/terminal: Digest-authenticated client for the event-search API
//   - internal/schedule: Daily polling windows
//   - internal/dedup: Bounded identity history
//   - internal/poller: Per-terminal polling state machine and failure handling
//   - internal/router: Consumer fan-out with failure isolation
//   - internal/sink: Receipt printer, PostgreSQL, webhook, NATS and log consumers
//   - internal/store: In-memory status and event history with pub/sub
//   - internal/server: Status API, Server-Sent Events and Prometheus metrics
//   - dashboard: Embedded web UI assets
//
// The internal packages are not part of the public API and may change
// without notice.
package turnstile
