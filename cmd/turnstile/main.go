// Package main is the entry point for the turnstile CLI.
//
// Turnstile can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	turnstile serve -c config.yaml    # Start polling terminals
//	turnstile validate -c config.yaml # Validate configuration
//	turnstile version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "turnstile",
	Short: "Authentication event ingestion for access-control terminals",
	Long: `Turnstile polls access-control terminals for authentication events
(card, fingerprint and face punches) and delivers each event exactly once
to the configured sinks.

Quick start:
  1. Create a config file (turnstile.yaml)
  2. Run: turnstile serve -c turnstile.yaml
  3. Open http://localhost:8080 to watch terminals and recent events

Example config:
  port: 8080
  terminals:
    - id: lobby
      host: 192.168.1.64
      username: admin
      password: ${LOBBY_PASSWORD}
      schedule: {from: "07:00", to: "19:00"}
  sinks:
    log:
      enabled: true`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this turnstile binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("turnstile %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
