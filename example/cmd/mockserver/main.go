// Standalone simulated terminal for testing the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver -addr :9901
//
// Then in another terminal:
//
//	go run ./cmd/turnstile serve -c example/config.yaml
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"time"

	"github.com/jpalmerr/turnstile/internal/terminal/terminaltest"
)

func main() {
	addr := flag.String("addr", ":9901", "listen address")
	every := flag.Duration("every", 5*time.Second, "average time between punches")
	flag.Parse()
	if *every <= 0 {
		*every = 5 * time.Second
	}

	fmt.Printf("Simulated terminal listening on %s\n", *addr)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	sim := terminaltest.NewSimulator()
	go func() {
		for {
			jitter := time.Duration(rand.Int64N(int64(*every)))
			time.Sleep(*every/2 + jitter)
			p := terminaltest.RandomPunch(time.Now())
			sim.Add(p)
			slog.Info("punch", "employee", p.EmployeeNo, "name", p.Name, "minor", p.Minor)
		}
	}()

	srv := &http.Server{Addr: *addr, Handler: sim, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
