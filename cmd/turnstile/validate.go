package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/turnstile/config"
)

// validateCmd validates a config file without starting the service.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a turnstile configuration file without starting the service.

This command parses the YAML, expands environment variables, validates
all fields and builds every terminal, so schedule and host errors are
reported too. Sinks are not opened. It's useful for CI/CD pipelines or
pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  turnstile validate -c config.yaml
  turnstile validate --config /etc/turnstile/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	terminals, err := config.BuildTerminals(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	dashboard := "disabled"
	if cfg.DashboardEnabled() {
		dashboard = "enabled"
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Port:      %d\n", cfg.Port)
	fmt.Printf("  Dashboard: %s\n", dashboard)
	fmt.Printf("  Terminals: %d\n", len(terminals))
	for _, t := range terminals {
		window := "always"
		if t.HasSchedule() {
			window = t.Schedule()
		}
		fmt.Printf("    %-12s %-28s %s\n", t.ID(), t.Address(), window)
	}
	fmt.Printf("  Sinks:     %s\n", sinkSummary(cfg.Sinks))

	return nil
}

// sinkSummary lists the configured sinks in delivery order.
func sinkSummary(s config.SinksConfig) string {
	var names []string
	if s.Log != nil && s.Log.Enabled {
		names = append(names, "log")
	}
	if s.Printer != nil {
		names = append(names, "printer")
	}
	if s.Postgres != nil {
		names = append(names, "postgres")
	}
	if s.Webhook != nil {
		names = append(names, "webhook")
	}
	if s.NATS != nil {
		names = append(names, "nats")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
