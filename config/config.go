// Package config provides YAML configuration parsing for turnstile.
//
// This package enables running turnstile as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 8080
//	log_level: info
//
//	terminals:
//	  - id: lobby
//	    host: 192.168.1.64
//	    username: admin
//	    password: ${LOBBY_PASSWORD}
//	    schedule: {from: "07:00", to: "19:00"}
//
//	sinks:
//	  log:
//	    enabled: true
//	  printer:
//	    address: 192.168.1.90:9100
//	    terminals: [lobby]
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultPort = 8080

// Config is the root configuration structure.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Title is the dashboard title. Defaults to "Turnstile" if not set.
	Title string `yaml:"title"`

	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port" validate:"min=1,max=65535"`

	// Dashboard enables the status server. Defaults to true.
	Dashboard *bool `yaml:"dashboard"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// ShutdownGrace bounds how long pollers get to stop. Defaults to 10s.
	ShutdownGrace Duration `yaml:"shutdown_grace" validate:"gte=0"`

	// GatedInterval is how often terminals outside their schedule are
	// re-checked. Defaults to 60s.
	GatedInterval Duration `yaml:"gated_interval" validate:"gte=0"`

	// HistorySize is the number of recent events kept for the dashboard.
	HistorySize int `yaml:"history_size" validate:"gte=0"`

	Dedup     DedupConfig      `yaml:"dedup"`
	Failure   FailureConfig    `yaml:"failure"`
	Terminals []TerminalConfig `yaml:"terminals" validate:"dive"`
	Sinks     SinksConfig      `yaml:"sinks"`
}

// DedupConfig bounds the per-terminal identity history.
type DedupConfig struct {
	Capacity int `yaml:"capacity" validate:"gte=0"`
	Floor    int `yaml:"floor" validate:"gte=0"`
}

// FailureConfig tunes how pollers react to failing terminals.
type FailureConfig struct {
	// ResetThreshold is the number of consecutive failures that abandon
	// the current search window. Defaults to 5.
	ResetThreshold int `yaml:"reset_threshold" validate:"gte=0"`

	// Watchdog is the longest a terminal may go without a successful poll
	// before its window is reset. Defaults to 10m.
	Watchdog Duration `yaml:"watchdog" validate:"gte=0"`

	// MinDelay and MaxDelay bound the retry delay after failures.
	MinDelay Duration `yaml:"min_delay" validate:"gte=0"`
	MaxDelay Duration `yaml:"max_delay" validate:"gte=0"`
}

// TerminalConfig defines one access-control terminal.
type TerminalConfig struct {
	// ID prefixes every event identity; it must be unique.
	ID string `yaml:"id" validate:"required"`

	// Host is "host", "host:port" or an http(s) URL.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	Host string `yaml:"host" validate:"required"`

	Username string `yaml:"username"`

	// Password supports environment variable substitution.
	Password string `yaml:"password"`

	// Schedule restricts polling to a daily window. Omit to poll always.
	Schedule *ScheduleConfig `yaml:"schedule"`

	// Timeout bounds each request. Defaults to 15s, at most 30s.
	Timeout Duration `yaml:"timeout" validate:"gte=0"`

	PollInterval Duration `yaml:"poll_interval" validate:"gte=0"`
	PageSize     int      `yaml:"page_size" validate:"gte=0"`
	MaxEvents    int      `yaml:"max_events" validate:"gte=0"`
	Lookback     Duration `yaml:"lookback" validate:"gte=0"`

	// Major and Minor select the vendor event codes. Defaults to 5 and 0.
	Major int `yaml:"major" validate:"gte=0"`
	Minor int `yaml:"minor" validate:"gte=0"`
}

// ScheduleConfig is a daily window in zero-padded 24h "HH:MM".
type ScheduleConfig struct {
	From string `yaml:"from" validate:"required"`
	To   string `yaml:"to" validate:"required"`
}

// SinksConfig selects the consumers events are forwarded to. Every sink
// is optional.
type SinksConfig struct {
	Log      *LogSinkConfig      `yaml:"log"`
	Printer  *PrinterSinkConfig  `yaml:"printer"`
	Postgres *PostgresSinkConfig `yaml:"postgres"`
	Webhook  *WebhookSinkConfig  `yaml:"webhook"`
	NATS     *NATSSinkConfig     `yaml:"nats"`
}

// SinkCommon holds the settings shared by every sink.
type SinkCommon struct {
	// Terminals limits the sink to events of these terminal ids. Empty
	// means all terminals.
	Terminals []string `yaml:"terminals"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker wrapped around a network sink.
type BreakerConfig struct {
	FailureThreshold uint32   `yaml:"failure_threshold"`
	OpenTimeout      Duration `yaml:"open_timeout" validate:"gte=0"`
}

// LogSinkConfig writes every event to the process log.
type LogSinkConfig struct {
	Enabled bool `yaml:"enabled"`

	// Level is the slog level events are logged at. Defaults to info.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`

	SinkCommon `yaml:",inline"`
}

// PrinterSinkConfig prints a receipt for every event, over TCP (raw port
// 9100) or a serial device.
type PrinterSinkConfig struct {
	Address  string   `yaml:"address" validate:"required_without=Device,excluded_with=Device"`
	Device   string   `yaml:"device"`
	Baud     int      `yaml:"baud" validate:"gte=0"`
	CodePage string   `yaml:"code_page"`
	Title    string   `yaml:"title"`
	Template string   `yaml:"template"`
	Timeout  Duration `yaml:"timeout" validate:"gte=0"`

	SinkCommon `yaml:",inline"`
}

// PostgresSinkConfig stores every event as a row.
type PostgresSinkConfig struct {
	// DSN supports environment variable substitution.
	DSN          string   `yaml:"dsn" validate:"required"`
	Table        string   `yaml:"table"`
	MaxConns     int32    `yaml:"max_conns" validate:"gte=0"`
	Timeout      Duration `yaml:"timeout" validate:"gte=0"`
	EnsureSchema bool     `yaml:"ensure_schema"`

	SinkCommon `yaml:",inline"`
}

// WebhookSinkConfig POSTs every event as JSON.
type WebhookSinkConfig struct {
	// Name labels the sink in logs, breaker state and metrics. Default:
	// "webhook".
	Name string `yaml:"name"`

	// URL supports environment variable substitution.
	URL string `yaml:"url" validate:"required,url"`

	// Headers values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`
	Timeout Duration          `yaml:"timeout" validate:"gte=0"`

	SinkCommon `yaml:",inline"`
}

// NATSSinkConfig publishes every event to "<subject_prefix>.<terminal>".
type NATSSinkConfig struct {
	// URL supports environment variable substitution.
	URL           string `yaml:"url" validate:"required"`
	SubjectPrefix string `yaml:"subject_prefix"`

	SinkCommon `yaml:",inline"`
}

// DashboardEnabled reports whether the status server should run.
func (c *Config) DashboardEnabled() bool {
	return c.Dashboard == nil || *c.Dashboard
}

// Level returns the parsed log level.
func (c *Config) Level() slog.Level {
	return ParseLevel(c.LogLevel)
}

// ParseLevel maps a level name to a slog.Level. Unknown names are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in terminal hosts and passwords,
// sink DSNs, URLs and header values. Port defaults to 8080.
//
// Parse checks the file as a whole. Per-terminal settings that only the
// terminal constructor can judge, such as schedule format, are reported by
// [BuildTerminals].
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}

	if err := cfg.expand(); err != nil {
		return nil, err
	}
	if err := validateStruct(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expand substitutes environment variables in the fields that support it.
func (c *Config) expand() error {
	for i := range c.Terminals {
		t := &c.Terminals[i]
		var err error
		if t.Host, err = expandEnvVars(t.Host); err != nil {
			return fmt.Errorf("terminals[%d] (%s): host: %w", i, t.ID, err)
		}
		if t.Password, err = expandEnvVars(t.Password); err != nil {
			return fmt.Errorf("terminals[%d] (%s): password: %w", i, t.ID, err)
		}
	}

	s := &c.Sinks
	if s.Postgres != nil {
		dsn, err := expandEnvVars(s.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("sinks.postgres: dsn: %w", err)
		}
		s.Postgres.DSN = dsn
	}
	if s.Webhook != nil {
		u, err := expandEnvVars(s.Webhook.URL)
		if err != nil {
			return fmt.Errorf("sinks.webhook: url: %w", err)
		}
		s.Webhook.URL = u
		for k, v := range s.Webhook.Headers {
			expanded, err := expandEnvVars(v)
			if err != nil {
				return fmt.Errorf("sinks.webhook: headers[%s]: %w", k, err)
			}
			s.Webhook.Headers[k] = expanded
		}
	}
	if s.NATS != nil {
		u, err := expandEnvVars(s.NATS.URL)
		if err != nil {
			return fmt.Errorf("sinks.nats: url: %w", err)
		}
		s.NATS.URL = u
	}
	if s.Printer != nil {
		addr, err := expandEnvVars(s.Printer.Address)
		if err != nil {
			return fmt.Errorf("sinks.printer: address: %w", err)
		}
		s.Printer.Address = addr
	}
	return nil
}

// validate runs the cross-field checks the struct tags cannot express.
func (c *Config) validate() error {
	if len(c.Terminals) == 0 {
		return errors.New("at least one terminal must be defined")
	}

	if c.Dedup.Capacity != 0 || c.Dedup.Floor != 0 {
		if c.Dedup.Floor <= 0 || c.Dedup.Floor >= c.Dedup.Capacity {
			return fmt.Errorf("dedup: floor must be positive and below capacity, got capacity=%d floor=%d",
				c.Dedup.Capacity, c.Dedup.Floor)
		}
	}

	if c.Failure.MaxDelay != 0 && c.Failure.MaxDelay < c.Failure.MinDelay {
		return fmt.Errorf("failure: max_delay %s is below min_delay %s",
			c.Failure.MaxDelay.Duration(), c.Failure.MinDelay.Duration())
	}

	ids := make(map[string]int, len(c.Terminals))
	for i, t := range c.Terminals {
		if prev, dup := ids[t.ID]; dup {
			return fmt.Errorf("terminals[%d] (%s): duplicate id (also terminals[%d])", i, t.ID, prev)
		}
		ids[t.ID] = i
	}

	for name, common := range c.Sinks.commons() {
		for _, id := range common.Terminals {
			if _, ok := ids[id]; !ok {
				return fmt.Errorf("sinks.%s: unknown terminal %q", name, id)
			}
		}
	}

	if w := c.Sinks.Webhook; w != nil {
		u, err := url.Parse(w.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("sinks.webhook: url scheme must be http or https, got %q", w.URL)
		}
	}

	return nil
}

// commons returns the shared settings of every configured sink, keyed by
// sink name.
func (s *SinksConfig) commons() map[string]SinkCommon {
	out := make(map[string]SinkCommon)
	if s.Log != nil {
		out["log"] = s.Log.SinkCommon
	}
	if s.Printer != nil {
		out["printer"] = s.Printer.SinkCommon
	}
	if s.Postgres != nil {
		out["postgres"] = s.Postgres.SinkCommon
	}
	if s.Webhook != nil {
		out["webhook"] = s.Webhook.SinkCommon
	}
	if s.NATS != nil {
		out["nats"] = s.NATS.SinkCommon
	}
	return out
}
