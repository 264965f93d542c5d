package printer

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Transport carries rendered bytes to a printer.
type Transport interface {
	Write(ctx context.Context, p []byte) error
	Close() error
}

// tcpTransport opens a short-lived raw socket per ticket (port 9100 style).
type tcpTransport struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
}

// NewTCPTransport returns a [Transport] for a network printer at addr.
func NewTCPTransport(addr string, timeout time.Duration) Transport {
	return &tcpTransport{addr: addr, timeout: timeout}
}

func (t *tcpTransport) Write(ctx context.Context, p []byte) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	conn, err := t.dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("printer: dial %s: %w", t.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write(p); err != nil {
		return fmt.Errorf("printer: write %s: %w", t.addr, err)
	}
	return nil
}

func (t *tcpTransport) Close() error { return nil }

// serialTransport keeps a serial port open across tickets and reopens it
// after a failed write. A write that outlives its timeout closes the port
// to release the blocked writer.
type serialTransport struct {
	device  string
	timeout time.Duration
	open    func() (io.WriteCloser, error)

	mu   sync.Mutex
	port io.WriteCloser
}

// NewSerialTransport returns a [Transport] for a printer on a serial device.
// The port is opened lazily on the first write. Each write is bounded by
// timeout.
func NewSerialTransport(device string, baudRate int, timeout time.Duration) Transport {
	if baudRate <= 0 {
		baudRate = 9600
	}
	return newSerialTransport(device, timeout, func() (io.WriteCloser, error) {
		return serial.Open(device, &serial.Mode{
			BaudRate: baudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
	})
}

func newSerialTransport(device string, timeout time.Duration, open func() (io.WriteCloser, error)) *serialTransport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &serialTransport{device: device, timeout: timeout, open: open}
}

func (t *serialTransport) Write(ctx context.Context, p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		port, err := t.open()
		if err != nil {
			return fmt.Errorf("printer: open %s: %w", t.device, err)
		}
		t.port = port
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	port := t.port
	done := make(chan error, 1)
	go func() {
		_, err := port.Write(p)
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		port.Close()
		t.port = nil
		return fmt.Errorf("printer: write %s: %w", t.device, err)
	}
	return nil
}

func (t *serialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}
