// Package bridge exposes the agent runtime over HTTP: POST /run starts one
// agent run (serialized — a concurrent request waits for the prior run to
// finish), GET /events streams the snapshot and event buses over
// Server-Sent Events (replaying the snapshot history, then the event
// history, then both live), and GET /health reports liveness.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentcore/internal/agentcontext"
	"github.com/nextlevelbuilder/agentcore/internal/bus"
	"github.com/nextlevelbuilder/agentcore/internal/fsm"
	"github.com/nextlevelbuilder/agentcore/internal/ratelimit"
	"github.com/nextlevelbuilder/agentcore/pkg/protocol"
)

// MachineFactory builds a fresh AgentMachine (and its backing AgentContext)
// for one /run request.
type MachineFactory func(rootTask agentcontext.TaskNode) (*fsm.AgentMachine, *agentcontext.AgentContext)

// Server is the HTTP/SSE bridge in front of the agent runtime.
type Server struct {
	host        string
	port        int
	eventBus    *bus.EventBus
	snapshotBus *bus.SnapshotBus
	newMachine  MachineFactory
	limiter     *ratelimit.Limiter
	logger      *slog.Logger

	runMu      sync.Mutex // serializes /run: a second request blocks until the first finishes
	httpServer *http.Server
	mux        *http.ServeMux
}

// Option configures a Server constructed with New.
type Option func(*Server)

// WithLogger overrides the logger used for internal diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRateLimiter attaches a limiter guarding POST /run.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// New constructs a Server. snapshotBus must be the same SnapshotBus every
// AgentMachine built by newMachine publishes into, so GET /events can
// replay and stream the snapshot history alongside the bus history.
func New(host string, port int, eventBus *bus.EventBus, snapshotBus *bus.SnapshotBus, newMachine MachineFactory, opts ...Option) *Server {
	s := &Server{
		host:        host,
		port:        port,
		eventBus:    eventBus,
		snapshotBus: snapshotBus,
		newMachine:  newMachine,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/events", s.withCORS(s.handleEvents))
	mux.HandleFunc("/run", s.withCORS(s.handleRun))
	s.mux = mux
	return mux
}

// Start begins listening, blocking until ctx is cancelled or the server
// fails. A graceful shutdown is attempted when ctx is done.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	s.logger.Info("bridge starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("bridge server: %w", err)
	}
	return nil
}

// withCORS allows any origin: the debug bridge is meant to be reachable
// from a local inspector UI served off a different port, and carries no
// session cookies to protect.
func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "content-type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

// handleEvents streams both buses over SSE, per spec.md §4.6: the full
// snapshot history, then the full bus-event history, then both live. Each
// frame is "event: <name>\ndata: <json>\n\n".
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	liveSnapshots, unsubscribeSnapshots := s.snapshotBus.Subscribe()
	defer unsubscribeSnapshots()
	liveEvents, unsubscribeEvents := s.eventBus.Subscribe()
	defer unsubscribeEvents()

	for _, snap := range s.snapshotBus.History() {
		if !writeFrame(w, protocol.FrameSnapshot, snap) {
			return
		}
	}
	for _, e := range s.eventBus.History() {
		if !writeFrame(w, protocol.FrameBusEvent, e) {
			return
		}
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-liveSnapshots:
			if !ok {
				return
			}
			if !writeFrame(w, protocol.FrameSnapshot, snap) {
				return
			}
			flusher.Flush()
		case e, ok := <-liveEvents:
			if !ok {
				return
			}
			if !writeFrame(w, protocol.FrameBusEvent, e) {
				return
			}
			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, frameName string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return true // skip an unmarshalable frame, don't kill the stream
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frameName, data); err != nil {
		return false
	}
	return true
}

// runRequest is the POST /run body.
type runRequest struct {
	RootTask agentcontext.TaskNode `json:"rootTask"`
}

// handleRun starts one agent run and waits for it to finish, returning the
// terminal AgentRunResult. Runs are serialized: a request that arrives
// while another run is in flight blocks until that run finishes, then
// starts (spec.md §4.6, §5 — runs are never rejected for this reason).
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.limiter != nil && !s.limiter.AllowKey(clientKey(r)) {
		writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.RootTask.TaskID == "" {
		req.RootTask.TaskID = uuid.NewString()
	}
	if req.RootTask.Status == "" {
		req.RootTask.Status = agentcontext.TaskPending
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	machine, _ := s.newMachine(req.RootTask)
	result := machine.Run(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.logger.Warn("bridge: encode run result failed", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, message)
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// StartTestServer creates a listener on :0 (random port) and returns the
// actual address and a start function. Used by integration tests.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	mux := s.BuildMux()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: mux}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}

	return addr, start
}
