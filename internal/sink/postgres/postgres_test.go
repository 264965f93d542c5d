package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jpalmerr/turnstile/internal/model"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	calls []execCall
	err   error
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if _, ok := ctx.Deadline(); !ok && strings.HasPrefix(strings.TrimSpace(sql), "INSERT") {
		return pgconn.CommandTag{}, errors.New("insert without deadline")
	}
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestSink_ConsumeInsertsIdempotently(t *testing.T) {
	db := &fakeDB{}
	s := newSink(db, Config{})

	ev := model.NewEvent("lobby", model.RawRecord{EmployeeNo: "E1", Name: "Ada", Time: "2024-05-01T09:00:00", Minor: 1})
	if err := s.Consume(context.Background(), ev); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	if len(db.calls) != 1 {
		t.Fatalf("exec calls = %d, want 1", len(db.calls))
	}
	call := db.calls[0]
	if !strings.Contains(call.sql, "ON CONFLICT (identity) DO NOTHING") {
		t.Errorf("insert is not idempotent: %s", call.sql)
	}
	if !strings.Contains(call.sql, `"authentication_events"`) {
		t.Errorf("insert does not target the quoted default table: %s", call.sql)
	}
	if got := call.args[0]; got != "lobby:E1:2024-05-01T09:00:00" {
		t.Errorf("identity arg = %v", got)
	}
	if ts, ok := call.args[4].(*time.Time); !ok || ts == nil {
		t.Errorf("event_time arg = %v, want parsed time", call.args[4])
	}
	if got := call.args[6]; got != "card" {
		t.Errorf("auth_method arg = %v, want card", got)
	}
}

func TestSink_AttendanceStatusAndLabelStoredSeparately(t *testing.T) {
	db := &fakeDB{}
	s := newSink(db, Config{})

	ev := model.NewEvent("lobby", model.RawRecord{
		EmployeeNo:       "E1",
		Time:             "2024-05-01T09:00:00",
		AttendanceStatus: "checkIn",
		Label:            "Morning",
	})
	if err := s.Consume(context.Background(), ev); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	call := db.calls[0]
	if !strings.Contains(call.sql, "attendance_status, attendance_label") {
		t.Errorf("insert lacks attendance columns: %s", call.sql)
	}
	if got := call.args[7]; got != "checkIn" {
		t.Errorf("attendance_status arg = %v, want checkIn", got)
	}
	if got := call.args[8]; got != "Morning" {
		t.Errorf("attendance_label arg = %v, want Morning", got)
	}
}

func TestSink_UnparsedTimeStoredAsNull(t *testing.T) {
	db := &fakeDB{}
	s := newSink(db, Config{})

	_ = s.Consume(context.Background(), model.NewEvent("T1", model.RawRecord{EmployeeNo: "E1", Time: "T1000"}))

	if ts := db.calls[0].args[4].(*time.Time); ts != nil {
		t.Errorf("event_time = %v, want nil", ts)
	}
}

func TestSink_ConsumeError(t *testing.T) {
	dbErr := errors.New("connection reset")
	s := newSink(&fakeDB{err: dbErr}, Config{})

	err := s.Consume(context.Background(), model.AuthenticationEvent{Identity: "a:b:c"})
	if !errors.Is(err, dbErr) {
		t.Errorf("Consume() error = %v, want wrapping %v", err, dbErr)
	}
}

func TestSink_EnsureSchema(t *testing.T) {
	db := &fakeDB{}
	s := newSink(db, Config{Table: "punches"})

	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	sql := db.calls[0].sql
	if !strings.Contains(sql, `CREATE TABLE IF NOT EXISTS "punches"`) {
		t.Errorf("unexpected DDL: %s", sql)
	}
	if !strings.Contains(sql, "attendance_label  TEXT") {
		t.Error("schema lacks attendance_label column")
	}
	if !strings.Contains(sql, "identity          TEXT PRIMARY KEY") {
		t.Error("identity must be the primary key for idempotent inserts")
	}
}

func TestOpen_BadDSN(t *testing.T) {
	if _, err := Open(context.Background(), Config{DSN: "postgres://%zz"}); err == nil {
		t.Error("Open() error = nil, want parse error")
	}
}

func TestSink_CloseWithoutPool(t *testing.T) {
	s := newSink(&fakeDB{}, Config{})
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
