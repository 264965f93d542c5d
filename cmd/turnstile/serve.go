package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/turnstile"
	"github.com/jpalmerr/turnstile/config"
)

// shutdownSlack is added to the configured grace period before the CLI
// stops waiting for Start to return.
const shutdownSlack = 5 * time.Second

// newLogger creates a JSON logger for CLI use.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// serveCmd starts polling every configured terminal.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start polling terminals",
	Long: `Start the turnstile ingestion service.

The service will:
  - Load configuration from the specified YAML file
  - Open every configured sink
  - Poll each terminal within its schedule and deliver new events
  - Serve the status dashboard on the configured port

Terminals with invalid settings abort startup unless --allow-partial is
given, in which case they are logged and skipped.

The service runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  turnstile serve -c config.yaml
  turnstile serve --config /etc/turnstile/config.yaml --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	serveCmd.Flags().String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	serveCmd.Flags().Bool("allow-partial", false, "skip invalid terminals instead of refusing to start")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Level()
	if s, _ := cmd.Flags().GetString("log-level"); s != "" {
		level = config.ParseLevel(s)
	}
	logger := newLogger(level)

	logger.Info("config loaded",
		"terminals", len(cfg.Terminals),
		"port", cfg.Port,
	)

	terminals, err := config.BuildTerminals(cfg)
	if err != nil {
		allowPartial, _ := cmd.Flags().GetBool("allow-partial")
		if !allowPartial {
			return fmt.Errorf("failed to build terminals: %w", err)
		}
		for _, terr := range unjoin(err) {
			logger.Error("skipping terminal", "error", terr)
		}
	}
	if len(terminals) == 0 {
		return fmt.Errorf("no valid terminals configured")
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumers, closeSinks, err := config.BuildConsumers(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open sinks: %w", err)
	}
	defer func() {
		if err := closeSinks(); err != nil {
			logger.Warn("failed to close sinks", "error", err)
		}
	}()

	opts := append(config.BuildOptions(cfg),
		turnstile.WithTerminals(terminals...),
		turnstile.WithLogger(logger),
	)
	for _, c := range consumers {
		opts = append(opts, turnstile.WithConsumer(c))
	}

	ts, err := turnstile.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create turnstile: %w", err)
	}

	// start - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- ts.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		timeout := ts.ShutdownGrace() + shutdownSlack
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(timeout):
			logger.Warn("shutdown timed out",
				"timeout", timeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}

// unjoin splits an errors.Join result into its parts.
func unjoin(err error) []error {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		return joined.Unwrap()
	}
	return []error{err}
}
