package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/config"
)

// ToolRegistrar lets C9 register its tools on the server this package
// builds, without transport importing tools (tools imports transport's
// Server type instead, avoiding an import cycle).
type ToolRegistrar func(server *mcpsdk.Server)

// Server is the C8 MCP surface: an mcpsdk.Server plus the session lifecycle
// and per-call timeout spec.md §4.8 requires on top of it, grounded on
// kagent's MCPHandler (same wrap-the-SDK-server, wrap-the-handler shape).
type Server struct {
	impl        *mcpsdk.Implementation
	server      *mcpsdk.Server
	httpHandler *mcpsdk.StreamableHTTPHandler
	sessions    *Manager
	cfg         *config.Transport
	log         logr.Logger
}

// New builds a Server. register is called once with the underlying
// mcpsdk.Server so the caller (normally cmd/hivemindd wiring C9's tool set)
// can call mcpsdk.AddTool against it.
func New(name, version string, cfg *config.Transport, register ToolRegistrar, log logr.Logger) *Server {
	impl := &mcpsdk.Implementation{Name: name, Version: version}
	server := mcpsdk.NewServer(impl, nil)
	if register != nil {
		register(server)
	}

	s := &Server{
		impl:     impl,
		server:   server,
		cfg:      cfg,
		sessions: NewManager(idleThresholdOf(cfg), sessionTimeoutOf(cfg), recoveryHorizonOf(cfg), log),
		log:      log,
	}
	s.httpHandler = mcpsdk.NewStreamableHTTPHandler(
		func(*http.Request) *mcpsdk.Server { return server },
		nil,
	)
	return s
}

func idleThresholdOf(cfg *config.Transport) time.Duration {
	if cfg != nil {
		return cfg.IdleThresholdS
	}
	return 0
}

func sessionTimeoutOf(cfg *config.Transport) time.Duration {
	if cfg != nil {
		return cfg.SessionTimeoutS
	}
	return 0
}

func recoveryHorizonOf(cfg *config.Transport) time.Duration {
	if cfg != nil {
		return cfg.RecoveryHorizonS
	}
	return 0
}

func perCallTimeout(cfg *config.Transport) time.Duration {
	if cfg != nil && cfg.PerCallTimeoutS > 0 {
		return cfg.PerCallTimeoutS
	}
	return 60 * time.Second
}

// sessionHeader is the MCP wire header the go-sdk's StreamableHTTPHandler
// assigns and echoes for every session; this package observes it rather
// than generating it, since the SDK owns the protocol handshake.
const sessionHeader = "Mcp-Session-Id"

// ServeHTTP tracks the session named by the Mcp-Session-Id header through
// this node's own state machine (spec.md §4.8) around every call, then
// bounds the call itself by per_call_timeout before delegating to the
// go-sdk's StreamableHTTPHandler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionHeader)
	if id != "" {
		if _, err := s.sessions.Touch(id); err != nil {
			s.sessions.Open(id)
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), perCallTimeout(s.cfg))
	defer cancel()

	ww := newCapturingResponseWriter(w)
	s.httpHandler.ServeHTTP(ww, r.WithContext(ctx))

	if id == "" {
		if newID := ww.Header().Get(sessionHeader); newID != "" {
			s.sessions.Open(newID)
		}
	}
}

// StartSweep begins the background session-lifecycle sweep (spec.md §4.8).
func (s *Server) StartSweep(cronSpec string) error {
	return s.sessions.StartSweep(cronSpec)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.sessions.Stop()
	return nil
}

// Sessions exposes the session manager for introspection (e.g. a
// sync_status-style tool reporting live session counts).
func (s *Server) Sessions() *Manager { return s.sessions }

// MCPServer exposes the underlying mcpsdk.Server for registrars that need
// to add tools after construction.
func (s *Server) MCPServer() *mcpsdk.Server { return s.server }

type capturingResponseWriter struct {
	http.ResponseWriter
	status int
}

func newCapturingResponseWriter(w http.ResponseWriter) *capturingResponseWriter {
	return &capturingResponseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *capturingResponseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
