// Package printer prints a receipt ticket for each authentication event on
// an ESC/POS thermal printer.
package printer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/jpalmerr/turnstile/internal/model"
)

// ESC/POS framing.
var (
	cmdInit = []byte{0x1b, 0x40}             // ESC @
	cmdFeed = []byte{0x1b, 0x64, 0x04}       // ESC d 4
	cmdCut  = []byte{0x1d, 0x56, 0x42, 0x00} // GS V B 0, feed and partial cut
)

const (
	DefaultTimeout  = 5 * time.Second
	DefaultCodePage = "cp437"
	DefaultTitle    = "ATTENDANCE"
)

// DefaultTemplate renders a [Ticket].
const DefaultTemplate = `{{.Title}}
--------------------------------
Name:     {{.EmployeeName}}
ID:       {{.EmployeeID}}
Time:     {{.Time}}
Terminal: {{.TerminalID}}
Method:   {{.Method}}
{{- if .Status}}
Status:   {{.Status}}
{{- end}}
`

// ErrUnknownCodePage is returned for code page names that are not supported.
var ErrUnknownCodePage = errors.New("unknown code page")

var codePages = map[string]*charmap.Charmap{
	"cp437":       charmap.CodePage437,
	"cp850":       charmap.CodePage850,
	"cp852":       charmap.CodePage852,
	"cp858":       charmap.CodePage858,
	"cp866":       charmap.CodePage866,
	"windows1250": charmap.Windows1250,
	"windows1251": charmap.Windows1251,
	"windows1252": charmap.Windows1252,
}

// Ticket is the data a receipt template is rendered with.
type Ticket struct {
	Title        string
	EmployeeID   string
	EmployeeName string
	TerminalID   string
	Time         string
	Method       string
	Status       string
}

// TicketFor builds the ticket for ev.
func TicketFor(title string, ev model.AuthenticationEvent) Ticket {
	ts := ev.RawTime
	if !ev.Timestamp.IsZero() {
		ts = ev.Timestamp.Format("2006-01-02 15:04:05")
	}
	status := ev.AttendanceLabel
	if status == "" {
		status = ev.AttendanceStatus
	}
	return Ticket{
		Title:        title,
		EmployeeID:   ev.EmployeeID,
		EmployeeName: ev.EmployeeName,
		TerminalID:   ev.TerminalID,
		Time:         ts,
		Method:       string(ev.AuthMethod),
		Status:       status,
	}
}

// Config describes a receipt printer.
type Config struct {
	// Name identifies the printer in logs and metrics.
	Name string

	Title    string
	CodePage string

	// Template overrides [DefaultTemplate].
	Template string
}

// Printer renders tickets and writes them to a [Transport]. Tickets are
// printed one at a time; concurrent callers wait for the printer.
type Printer struct {
	name      string
	title     string
	tmpl      *template.Template
	charmap   *charmap.Charmap
	transport Transport

	mu sync.Mutex
}

// New creates a [Printer] writing to t.
func New(cfg Config, t Transport) (*Printer, error) {
	if t == nil {
		return nil, errors.New("printer: transport is required")
	}
	if cfg.Name == "" {
		cfg.Name = "printer"
	}
	if cfg.Title == "" {
		cfg.Title = DefaultTitle
	}
	if cfg.CodePage == "" {
		cfg.CodePage = DefaultCodePage
	}
	if cfg.Template == "" {
		cfg.Template = DefaultTemplate
	}

	cm, ok := codePages[strings.ToLower(cfg.CodePage)]
	if !ok {
		return nil, fmt.Errorf("printer %s: %w: %q", cfg.Name, ErrUnknownCodePage, cfg.CodePage)
	}

	tmpl, err := template.New(cfg.Name).Parse(cfg.Template)
	if err != nil {
		return nil, fmt.Errorf("printer %s: parse template: %w", cfg.Name, err)
	}

	return &Printer{
		name:      cfg.Name,
		title:     cfg.Title,
		tmpl:      tmpl,
		charmap:   cm,
		transport: t,
	}, nil
}

func (p *Printer) Name() string { return p.name }

// Consume prints the ticket for ev.
func (p *Printer) Consume(ctx context.Context, ev model.AuthenticationEvent) error {
	return p.Print(ctx, TicketFor(p.title, ev))
}

// Print renders and prints one ticket.
func (p *Printer) Print(ctx context.Context, t Ticket) error {
	job, err := p.Render(t)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transport.Write(ctx, job)
}

// Render returns the framed, code-page encoded bytes for t.
func (p *Printer) Render(t Ticket) ([]byte, error) {
	var text bytes.Buffer
	if err := p.tmpl.Execute(&text, t); err != nil {
		return nil, fmt.Errorf("printer %s: render: %w", p.name, err)
	}

	// encoders carry state, so each render gets its own
	body, err := encoding.ReplaceUnsupported(p.charmap.NewEncoder()).Bytes(text.Bytes())
	if err != nil {
		return nil, fmt.Errorf("printer %s: encode: %w", p.name, err)
	}

	job := make([]byte, 0, len(cmdInit)+len(body)+len(cmdFeed)+len(cmdCut))
	job = append(job, cmdInit...)
	job = append(job, body...)
	job = append(job, cmdFeed...)
	job = append(job, cmdCut...)
	return job, nil
}

// Close releases the transport.
func (p *Printer) Close() error {
	return p.transport.Close()
}
