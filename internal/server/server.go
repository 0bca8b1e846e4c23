// Package server exposes the conversation engine over HTTP: a websocket
// endpoint streaming audio in and prompts/results out, a read-side analytics
// endpoint, Prometheus metrics, and health probes.
//
// The websocket protocol is deliberately thin. Binary frames are raw PCM
// chunks for the connection's open session; text frames are JSON commands
// ("open", "end_utterance", "cancel", "status") and JSON events ("opened",
// "prompt", "result", "status", "error"). All conversation decisions live in
// the conversation package; the server only routes frames.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/pitchside-ai/pitchside/internal/analytics"
	"github.com/pitchside-ai/pitchside/internal/conversation"
	"github.com/pitchside-ai/pitchside/internal/observe"
	"github.com/pitchside-ai/pitchside/internal/store"
)

// writeTimeout bounds a single websocket frame write so one stuck client
// cannot wedge a session actor emitting a prompt.
const writeTimeout = 10 * time.Second

// shutdownTimeout bounds graceful HTTP shutdown and manager drain.
const shutdownTimeout = 15 * time.Second

// Checker is a named readiness probe evaluated by /readyz.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps holds the server's collaborators. Engine.Emitter is overwritten: the
// server is the transport and routes prompts and results to the owning
// websocket connection itself.
type Deps struct {
	// Engine configures the conversation manager the server fronts.
	Engine conversation.Deps

	// Store serves the analytics read side.
	Store store.Store

	// Metrics instruments HTTP handlers. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Checkers are evaluated by /readyz. Optional.
	Checkers []Checker
}

// Server routes websocket frames between clients and the conversation
// manager and serves the ancillary HTTP surface.
type Server struct {
	manager  *conversation.Manager
	agg      *analytics.Aggregator
	metrics  *observe.Metrics
	checkers []Checker

	mu      sync.RWMutex
	clients map[string]*client // session id -> owning connection
}

// New wires a Server and its conversation manager. The manager's emitter is
// the server itself.
func New(deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("server: Store is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}

	s := &Server{
		metrics:  deps.Metrics,
		checkers: deps.Checkers,
		clients:  make(map[string]*client),
	}

	deps.Engine.Emitter = s
	if deps.Engine.Archiver == nil {
		deps.Engine.Archiver = deps.Store
	}
	manager, err := conversation.NewManager(deps.Engine)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	s.manager = manager

	agg, err := analytics.New(deps.Store, deps.Engine.Schemas)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	s.agg = agg

	return s, nil
}

// Manager returns the conversation manager the server fronts.
func (s *Server) Manager() *conversation.Manager {
	return s.manager
}

// Handler returns the full HTTP handler, instrumented with the observe
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/conversations", s.handleWS)
	mux.HandleFunc("GET /v1/analytics", s.handleAnalytics)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	return observe.Middleware(s.metrics)(mux)
}

// Run serves on addr until ctx is cancelled, then drains connections and
// sessions. TLS is enabled when certFile and keyFile are both non-empty.
func (s *Server) Run(ctx context.Context, addr, certFile, keyFile string) error {
	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		var err error
		if certFile != "" && keyFile != "" {
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown", "err", err)
		}
		return s.manager.Close(shutdownCtx)
	})

	return g.Wait()
}

// ── Emitter ──────────────────────────────────────────────────────────────────

// EmitPrompt implements conversation.Emitter.
func (s *Server) EmitPrompt(sessionID, text string) {
	s.send(sessionID, event{Type: evtPrompt, SessionID: sessionID, Text: text})
}

// EmitResult implements conversation.Emitter. The session is terminal after
// a result, so its routing entry is dropped.
func (s *Server) EmitResult(sessionID string, res conversation.Result) {
	s.send(sessionID, event{Type: evtResult, SessionID: sessionID, Result: &res})

	s.mu.Lock()
	c := s.clients[sessionID]
	delete(s.clients, sessionID)
	s.mu.Unlock()

	if c != nil {
		c.detach(sessionID)
	}
}

// send routes one event to the connection owning sessionID. Events for
// sessions whose connection is already gone are dropped; the terminal record
// is archived regardless.
func (s *Server) send(sessionID string, evt event) {
	s.mu.RLock()
	c := s.clients[sessionID]
	s.mu.RUnlock()

	if c == nil {
		slog.Debug("no connection for session, dropping event",
			"session_id", sessionID, "type", evt.Type)
		return
	}
	c.writeEvent(evt)
}

// register binds a session to the connection that opened it.
func (s *Server) register(sessionID string, c *client) {
	s.mu.Lock()
	s.clients[sessionID] = c
	s.mu.Unlock()
}

// unregister removes a session's routing entry if c still owns it.
func (s *Server) unregister(sessionID string, c *client) {
	s.mu.Lock()
	if s.clients[sessionID] == c {
		delete(s.clients, sessionID)
	}
	s.mu.Unlock()
}

// ── HTTP handlers ────────────────────────────────────────────────────────────

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}

	c := &client{srv: s, conn: conn}
	c.serve(r.Context())
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		http.Error(w, `{"error":"user_id is required"}`, http.StatusBadRequest)
		return
	}

	var window store.Window
	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			http.Error(w, `{"error":"from must be RFC 3339"}`, http.StatusBadRequest)
			return
		}
		window.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			http.Error(w, `{"error":"to must be RFC 3339"}`, http.StatusBadRequest)
			return
		}
		window.To = t
	}

	stats, err := s.agg.Aggregate(r.Context(), userID, window)
	if err != nil {
		slog.Error("analytics aggregation failed", "user_id", userID, "err", err)
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		slog.Warn("analytics response write failed", "err", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.checkers))
	status := http.StatusOK

	for _, c := range s.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks[c.Name] = "ok"
		}
	}

	body := map[string]any{"status": "ok", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "fail"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response write failed", "err", err)
	}
}
