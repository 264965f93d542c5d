package printer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jpalmerr/turnstile/internal/model"
)

// memTransport records every job written to it.
type memTransport struct {
	mu     sync.Mutex
	jobs   [][]byte
	err    error
	closed bool
}

func (m *memTransport) Write(_ context.Context, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.jobs = append(m.jobs, append([]byte(nil), p...))
	return nil
}

func (m *memTransport) Close() error {
	m.closed = true
	return nil
}

func testEvent() model.AuthenticationEvent {
	return model.NewEvent("lobby", model.RawRecord{
		EmployeeNo: "E42",
		Name:       "José",
		Time:       "2024-05-01T09:15:00",
		Minor:      38,
		Label:      "Check In",
	})
}

func TestPrinter_RenderFraming(t *testing.T) {
	p, err := New(Config{Title: "KIOSK"}, &memTransport{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	job, err := p.Render(TicketFor("KIOSK", testEvent()))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	if !bytes.HasPrefix(job, cmdInit) {
		t.Errorf("job does not start with ESC @: % x", job[:4])
	}
	if !bytes.HasSuffix(job, cmdCut) {
		t.Errorf("job does not end with cut command: % x", job[len(job)-4:])
	}

	text := string(job)
	for _, want := range []string{"KIOSK", "ID:       E42", "Terminal: lobby", "Method:   fingerprint", "Status:   Check In", "2024-05-01 09:15:00"} {
		if !strings.Contains(text, want) {
			t.Errorf("ticket missing %q:\n%s", want, text)
		}
	}
}

func TestPrinter_CodePageEncoding(t *testing.T) {
	p, err := New(Config{CodePage: "cp850"}, &memTransport{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	job, err := p.Render(Ticket{EmployeeName: "José"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	// é is 0x82 in code page 850
	if !bytes.Contains(job, []byte{'J', 'o', 's', 0x82}) {
		t.Errorf("name not encoded in cp850: % x", job)
	}
	if bytes.Contains(job, []byte("é")) {
		t.Error("job still contains UTF-8 bytes")
	}
}

func TestPrinter_UnsupportedRunesReplaced(t *testing.T) {
	p, _ := New(Config{}, &memTransport{})
	if _, err := p.Render(Ticket{EmployeeName: "李雷"}); err != nil {
		t.Errorf("Render() error = %v, want unsupported runes replaced", err)
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		tr   Transport
		want error
	}{
		{"missing transport", Config{}, nil, nil},
		{"unknown code page", Config{CodePage: "ebcdic"}, &memTransport{}, ErrUnknownCodePage},
		{"bad template", Config{Template: "{{.Nope"}, &memTransport{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.tr)
			if err == nil {
				t.Fatal("New() error = nil, want error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("New() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPrinter_ConsumeWritesJob(t *testing.T) {
	tr := &memTransport{}
	p, _ := New(Config{Name: "front-desk"}, tr)

	if err := p.Consume(context.Background(), testEvent()); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if len(tr.jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(tr.jobs))
	}
	if p.Name() != "front-desk" {
		t.Errorf("Name() = %q, want front-desk", p.Name())
	}

	tr.err = errors.New("paper out")
	if err := p.Consume(context.Background(), testEvent()); err == nil {
		t.Error("Consume() error = nil, want transport error")
	}

	_ = p.Close()
	if !tr.closed {
		t.Error("Close() did not close the transport")
	}
}

func TestTCPTransport_Write(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	tr := NewTCPTransport(ln.Addr().String(), time.Second)
	if err := tr.Write(context.Background(), []byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	select {
	case got := <-received:
		if string(got) != "hello" {
			t.Errorf("printer received %q, want %q", got, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("printer received nothing")
	}
}

func TestTCPTransport_Unreachable(t *testing.T) {
	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	addr := ln.Addr().String()
	ln.Close()

	tr := NewTCPTransport(addr, 200*time.Millisecond)
	if err := tr.Write(context.Background(), []byte("x")); err == nil {
		t.Error("Write() error = nil, want dial error")
	}
}

func TestSerialTransport_OpenFailure(t *testing.T) {
	tr := NewSerialTransport("/dev/does-not-exist-turnstile", 0, time.Second)
	if err := tr.Write(context.Background(), []byte("x")); err == nil {
		t.Error("Write() error = nil, want open error")
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Close() on never-opened port error = %v", err)
	}
}

// stuckPort blocks every write until it is closed.
type stuckPort struct {
	closed chan struct{}
	once   sync.Once
}

func (p *stuckPort) Write(b []byte) (int, error) {
	<-p.closed
	return 0, io.ErrClosedPipe
}

func (p *stuckPort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func TestSerialTransport_WedgedWriteTimesOut(t *testing.T) {
	var opens int
	var port *stuckPort
	tr := newSerialTransport("/dev/ttyS9", 50*time.Millisecond, func() (io.WriteCloser, error) {
		opens++
		port = &stuckPort{closed: make(chan struct{})}
		return port, nil
	})

	start := time.Now()
	err := tr.Write(context.Background(), []byte("x"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Write() error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Write() took %v, want bounded by timeout", elapsed)
	}

	select {
	case <-port.closed:
	default:
		t.Error("wedged port was not closed")
	}

	// the next ticket reopens the port
	_ = tr.Write(context.Background(), []byte("y"))
	if opens != 2 {
		t.Errorf("opens = %d, want 2", opens)
	}
}
