package server

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jpalmerr/turnstile/internal/store"
)

const (
	// sseWriteTimeout bounds one SSE write so a stalled client cannot pin
	// its handler goroutine. Must not exceed shutdownTimeout.
	sseWriteTimeout = 5 * time.Second

	// sseKeepAlive is how often an idle stream gets a comment line, so
	// proxies do not drop quiet connections.
	sseKeepAlive = 15 * time.Second

	shutdownTimeout = 5 * time.Second

	defaultTitle      = "Turnstile"
	titlePlaceholder  = "{{.Title}}"
	defaultEventLimit = 50
)

// Server exposes terminal status and the recent-event feed over HTTP:
//
//   - GET /              embedded dashboard
//   - GET /api/terminals poller status of every terminal
//   - GET /api/events    recent events, newest first (?limit=N)
//   - GET /api/sse       live status and event updates
//   - GET /metrics       Prometheus exposition
type Server struct {
	store  store.Store
	port   int
	assets fs.FS
	title  string
	logger *slog.Logger
}

// NewServer creates a [Server] reading from st. assets may be nil, in which
// case "/" is not served. The server does not listen until [Server.Start].
func NewServer(st store.Store, port int, assets fs.FS, title string, logger *slog.Logger) *Server {
	if title == "" {
		title = defaultTitle
	}
	return &Server{
		store:  st,
		port:   port,
		assets: assets,
		title:  title,
		logger: logger,
	}
}

// Handler returns the request multiplexer without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/terminals", getOnly(s.handleTerminals))
	mux.HandleFunc("/api/events", getOnly(s.handleEvents))
	mux.HandleFunc("/api/sse", s.handleSSE)
	mux.Handle("/metrics", promhttp.Handler())
	if s.assets != nil {
		mux.HandleFunc("/", s.handleDashboard)
	}
	return mux
}

// Start binds the port and serves in the background until ctx is
// cancelled. A bind failure is returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	// request contexts derive from ctx, so open SSE streams end on shutdown
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	})

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("status server listening", "addr", ln.Addr().String())
	return nil
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// handleDashboard serves the dashboard page with the title substituted.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	var page []byte
	if s.assets != nil {
		page, _ = fs.ReadFile(s.assets, "assets/index.html")
	}
	if page == nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	rendered := strings.ReplaceAll(string(page), titlePlaceholder, html.EscapeString(s.title))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := io.WriteString(w, rendered); err != nil {
		s.logger.Error("failed to write dashboard response", "error", err)
	}
}

func (s *Server) handleTerminals(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.store.Statuses())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	s.writeJSON(w, s.store.RecentEvents(limit))
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// handleSSE streams every store update. A new client first receives the
// current status of each terminal.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")

	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	stream := newSSEStream(w, s.logger)

	for _, status := range s.store.Statuses() {
		if err := stream.send(store.Update{Kind: store.KindStatus, Terminal: &status}); err != nil {
			return
		}
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case update, ok := <-ch:
			if !ok {
				return
			}
			if err := stream.send(update); err != nil {
				return
			}
		case <-keepAlive.C:
			if err := stream.write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
		case <-r.Context().Done():
			// fires on client disconnect and on server shutdown
			return
		}
	}
}

// sseStream writes server-sent events with a per-write deadline.
type sseStream struct {
	w         http.ResponseWriter
	rc        *http.ResponseController
	logger    *slog.Logger
	deadlines bool
}

func newSSEStream(w http.ResponseWriter, logger *slog.Logger) *sseStream {
	return &sseStream{
		w:         w,
		rc:        http.NewResponseController(w),
		logger:    logger,
		deadlines: true,
	}
}

// send writes v as one "data:" event. Values that fail to encode are
// skipped.
func (s *sseStream) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("failed to encode sse update", "error", err)
		return nil
	}
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	return s.write(frame)
}

func (s *sseStream) write(frame []byte) error {
	if s.deadlines {
		if err := s.rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
			// httptest recorders and some wrappers cannot set deadlines
			s.logger.Debug("sse write deadlines not supported", "error", err)
			s.deadlines = false
		}
	}
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	return s.rc.Flush()
}
