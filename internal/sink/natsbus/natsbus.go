// Package natsbus forwards authentication events to NATS subjects.
package natsbus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/jpalmerr/turnstile/internal/model"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "turnstile.events"

// publisher is the subset of *nats.Conn the sink uses.
type publisher interface {
	Publish(subject string, data []byte) error
}

// Sink publishes each event as JSON to "<prefix>.<terminal id>".
type Sink struct {
	conn   publisher
	nc     *natsgo.Conn
	prefix string
}

// Connect dials url and returns a [Sink]. The connection retries and
// reconnects in the background; events published while disconnected are
// buffered by the client.
func Connect(url, prefix string, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := natsgo.Connect(url,
		natsgo.Name("turnstile"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err.Error())
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", url, err)
	}

	s := newSink(nc, prefix)
	s.nc = nc
	return s, nil
}

func newSink(conn publisher, prefix string) *Sink {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Sink{conn: conn, prefix: prefix}
}

func (s *Sink) Name() string { return "nats" }

// Subject returns the subject events from terminalID are published to.
func (s *Sink) Subject(terminalID string) string {
	return s.prefix + "." + subjectToken(terminalID)
}

// Consume publishes ev.
func (s *Sink) Consume(_ context.Context, ev model.AuthenticationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("nats: marshal: %w", err)
	}
	if err := s.conn.Publish(s.Subject(ev.TerminalID), data); err != nil {
		return fmt.Errorf("nats: publish %s: %w", ev.Identity, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (s *Sink) Close() error {
	if s.nc == nil {
		return nil
	}
	return s.nc.Drain()
}

// subjectToken makes id safe to use as a single subject token.
func subjectToken(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, id)
}
