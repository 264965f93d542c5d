// Package postgres persists authentication events to PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jpalmerr/turnstile/internal/model"
)

const (
	DefaultTable    = "authentication_events"
	DefaultMaxConns = 4
	DefaultTimeout  = 5 * time.Second
)

// execer is the subset of *pgxpool.Pool the sink uses.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Config describes the database connection.
type Config struct {
	DSN string

	// Table defaults to [DefaultTable].
	Table string

	// MaxConns bounds the pool independently of the number of terminals.
	MaxConns int32

	// Timeout bounds each insert.
	Timeout time.Duration
}

// Sink inserts one row per event. Inserts are idempotent on the event
// identity, so a redelivered event never creates a second row.
type Sink struct {
	db      execer
	pool    *pgxpool.Pool
	table   string
	timeout time.Duration
	insert  string
}

// Open connects a bounded pool and returns a [Sink] using it.
func Open(ctx context.Context, cfg Config) (*Sink, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = DefaultMaxConns
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to initialize pool: %w", err)
	}

	s := newSink(pool, cfg)
	s.pool = pool
	return s, nil
}

func newSink(db execer, cfg Config) *Sink {
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	quoted := pgx.Identifier{table}.Sanitize()
	return &Sink{
		db:      db,
		table:   quoted,
		timeout: timeout,
		insert: `INSERT INTO ` + quoted + ` (
			identity, terminal_id, employee_id, employee_name, event_time, raw_time,
			auth_method, attendance_status, attendance_label, picture_ref, major, minor
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (identity) DO NOTHING`,
	}
}

func (s *Sink) Name() string { return "postgres" }

// EnsureSchema creates the events table if it does not exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
		identity          TEXT PRIMARY KEY,
		terminal_id       TEXT NOT NULL,
		employee_id       TEXT NOT NULL,
		employee_name     TEXT NOT NULL DEFAULT '',
		event_time        TIMESTAMPTZ,
		raw_time          TEXT NOT NULL,
		auth_method       TEXT NOT NULL,
		attendance_status TEXT NOT NULL DEFAULT '',
		attendance_label  TEXT NOT NULL DEFAULT '',
		picture_ref       TEXT NOT NULL DEFAULT '',
		major             INTEGER NOT NULL DEFAULT 0,
		minor             INTEGER NOT NULL DEFAULT 0,
		received_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

// Consume inserts ev.
func (s *Sink) Consume(ctx context.Context, ev model.AuthenticationEvent) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var eventTime *time.Time
	if !ev.Timestamp.IsZero() {
		eventTime = &ev.Timestamp
	}
	_, err := s.db.Exec(ctx, s.insert,
		string(ev.Identity), ev.TerminalID, ev.EmployeeID, ev.EmployeeName,
		eventTime, ev.RawTime, string(ev.AuthMethod), ev.AttendanceStatus, ev.AttendanceLabel, ev.PictureRef,
		ev.Major, ev.Minor,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert %s: %w", ev.Identity, err)
	}
	return nil
}

// Close closes the pool, if the sink owns one.
func (s *Sink) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
