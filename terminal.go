package turnstile

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jpalmerr/turnstile/internal/schedule"
	"github.com/jpalmerr/turnstile/internal/terminal"
)

// Event code defaults: major 5 is the access-control event class, minor 0
// matches every authentication method within it.
const (
	DefaultMajorCode = 5
	DefaultMinorCode = 0
)

// Terminal describes one access-control terminal to poll.
//
// Terminal is immutable after creation via [NewTerminal]. It is injected
// into the poller that owns it; no terminal state is shared between
// pollers.
type Terminal struct {
	id                string
	scheme            string
	host              string
	port              int
	username          string
	password          string
	schedule          *schedule.Window
	requestTimeout    time.Duration
	pollInterval      time.Duration
	pageSize          int
	maxEventsPerCycle int
	lookback          time.Duration
	major             int
	minor             int
}

// ID returns the terminal identifier. It prefixes every event identity.
func (t Terminal) ID() string { return t.id }

// Scheme returns "http" or "https".
func (t Terminal) Scheme() string { return t.scheme }

// Host returns the terminal host name or IP address, without port.
func (t Terminal) Host() string { return t.host }

// Port returns the terminal port. Zero means the scheme default.
func (t Terminal) Port() int { return t.port }

// Address returns scheme://host[:port].
func (t Terminal) Address() string {
	host := t.host
	if t.port != 0 {
		host = net.JoinHostPort(t.host, strconv.Itoa(t.port))
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return t.scheme + "://" + host
}

// Username returns the digest-auth user.
func (t Terminal) Username() string { return t.username }

// HasSchedule reports whether polling is restricted to a daily window.
func (t Terminal) HasSchedule() bool { return t.schedule != nil }

// Schedule returns the polling window as "HH:MM-HH:MM", or "" when the
// terminal is polled around the clock.
func (t Terminal) Schedule() string {
	if t.schedule == nil {
		return ""
	}
	return t.schedule.String()
}

// RequestTimeout returns the bound applied to each search request.
func (t Terminal) RequestTimeout() time.Duration { return t.requestTimeout }

// PollInterval returns the delay between successful cycles. Zero means the
// poller default.
func (t Terminal) PollInterval() time.Duration { return t.pollInterval }

// PageSize returns the maximum records requested per page. Zero means the
// poller default.
func (t Terminal) PageSize() int { return t.pageSize }

// MaxEventsPerCycle returns the per-cycle safety cap. Zero means the
// poller default.
func (t Terminal) MaxEventsPerCycle() int { return t.maxEventsPerCycle }

// Lookback returns how far before startup the first window begins. Zero
// means the poller default.
func (t Terminal) Lookback() time.Duration { return t.lookback }

// EventCodes returns the vendor major and minor codes searched for.
func (t Terminal) EventCodes() (major, minor int) { return t.major, t.minor }

// clientConfig builds the search client configuration. Credentials leave
// the Terminal only through here.
func (t Terminal) clientConfig() terminal.Config {
	return terminal.Config{
		BaseURL:  t.Address(),
		Username: t.username,
		Password: t.password,
		Timeout:  t.requestTimeout,
		Major:    t.major,
		Minor:    t.minor,
	}
}

// NewTerminal creates a [Terminal] with the given id and host.
//
// host is "host", "host:port" or a URL such as "https://10.0.0.7:8443".
// Hosts without a scheme are reached over http.
//
// Returns a [*ConfigurationError] if the id or host is invalid, or if an
// option rejects its value.
//
// Example:
//
//	t, err := turnstile.NewTerminal("lobby", "192.168.1.64",
//	    turnstile.WithCredentials("admin", os.Getenv("LOBBY_PASSWORD")),
//	    turnstile.WithSchedule("07:00", "19:00"),
//	)
func NewTerminal(id, host string, opts ...TerminalOption) (Terminal, error) {
	if strings.TrimSpace(id) == "" {
		return Terminal{}, &ConfigurationError{Field: "id", Err: errors.New("terminal id cannot be empty")}
	}
	if strings.ContainsAny(id, ": \t") {
		return Terminal{}, &ConfigurationError{Terminal: id, Field: "id", Err: errors.New("terminal id cannot contain ':' or whitespace")}
	}

	scheme, hostname, port, err := parseHost(host)
	if err != nil {
		return Terminal{}, &ConfigurationError{Terminal: id, Field: "host", Err: err}
	}

	cfg := &terminalConfig{
		requestTimeout: terminal.DefaultTimeout,
		major:          DefaultMajorCode,
		minor:          DefaultMinorCode,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			var cerr *ConfigurationError
			if errors.As(err, &cerr) {
				cerr.Terminal = id
				return Terminal{}, cerr
			}
			return Terminal{}, &ConfigurationError{Terminal: id, Field: "option", Err: err}
		}
	}

	return Terminal{
		id:                id,
		scheme:            scheme,
		host:              hostname,
		port:              port,
		username:          cfg.username,
		password:          cfg.password,
		schedule:          cfg.schedule,
		requestTimeout:    cfg.requestTimeout,
		pollInterval:      cfg.pollInterval,
		pageSize:          cfg.pageSize,
		maxEventsPerCycle: cfg.maxEventsPerCycle,
		lookback:          cfg.lookback,
		major:             cfg.major,
		minor:             cfg.minor,
	}, nil
}

// parseHost splits a terminal address into scheme, host and port.
func parseHost(raw string) (scheme, host string, port int, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", 0, errors.New("host cannot be empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid host: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", 0, fmt.Errorf("unsupported scheme %q (expected http or https)", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", "", 0, fmt.Errorf("host %q has no host name", raw)
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", 0, fmt.Errorf("host %q must not include a path", raw)
	}

	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("port must be between 1 and 65535, got %q", p)
		}
	}
	return u.Scheme, u.Hostname(), port, nil
}
