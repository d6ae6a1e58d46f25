// Package api exposes the relay over HTTP and WebSocket: account and
// device management, pairing, command endpoints, message history, and
// the live device sockets.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/simbridge-dev/simbridge-go/pkg/config"
	"github.com/simbridge-dev/simbridge-go/pkg/identity"
	"github.com/simbridge-dev/simbridge-go/pkg/pairing"
	"github.com/simbridge-dev/simbridge-go/pkg/relay"
	"github.com/simbridge-dev/simbridge-go/pkg/session"
	"github.com/simbridge-dev/simbridge-go/pkg/store"
	"github.com/simbridge-dev/simbridge-go/pkg/tracelog"
)

// ServerName identifies the relay in the /status document.
const ServerName = "simbridge-relay"

// Deps are the collaborating services the API surface drives.
type Deps struct {
	Store    *store.Store
	Identity *identity.Service
	Pairing  *pairing.Service
	Engine   *relay.Engine
	Registry *session.Registry
	Trace    tracelog.Logger
	Logger   *slog.Logger
}

// Server is the HTTP front of the relay.
type Server struct {
	cfg     config.Config
	version string

	store    *store.Store
	identity *identity.Service
	pairing  *pairing.Service
	engine   *relay.Engine
	registry *session.Registry
	trace    tracelog.Logger
	logger   *slog.Logger

	mux      *http.ServeMux
	server   *http.Server
	upgrader websocket.Upgrader
	started  time.Time
}

// NewServer wires the API surface. The trace logger may be nil to
// disable tracing.
func NewServer(cfg config.Config, version string, deps Deps) *Server {
	trace := deps.Trace
	if trace == nil {
		trace = tracelog.NoopLogger{}
	}

	s := &Server{
		cfg:      cfg,
		version:  version,
		store:    deps.Store,
		identity: deps.Identity,
		pairing:  deps.Pairing,
		engine:   deps.Engine,
		registry: deps.Registry,
		trace:    trace,
		logger:   deps.Logger,
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			// Companion apps connect from arbitrary origins; the token
			// is the access control, not the Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		started: time.Now(),
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: s.mux,
	}

	return s
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /auth/google", s.handleGoogleLogin)

	s.mux.HandleFunc("POST /devices", s.handleCreateDevice)
	s.mux.HandleFunc("GET /devices", s.handleListDevices)

	s.mux.HandleFunc("POST /pair", s.handleIssueCode)
	s.mux.HandleFunc("POST /pair/confirm", s.handleConfirmCode)

	s.mux.HandleFunc("POST /sms", s.handleSendSMS)
	s.mux.HandleFunc("POST /call", s.handleMakeCall)
	s.mux.HandleFunc("GET /sims", s.handleGetSIMs)
	s.mux.HandleFunc("GET /history", s.handleHistory)

	s.mux.HandleFunc("GET /ws/host/{device_id}", s.handleHostSocket)
	s.mux.HandleFunc("GET /ws/client/{device_id}", s.handleClientSocket)

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)
}

// Handler returns the route table, for tests that mount the server on
// their own listener.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe blocks serving requests until Shutdown is called or
// the listener fails.
func (s *Server) ListenAndServe() error {
	if s.logger != nil {
		s.logger.Info("listening", "addr", s.cfg.ListenAddr)
	}
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the listener, then closes every live device socket.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)

	for _, id := range s.registry.OnlineIDs() {
		if sess := s.registry.Lookup(id); sess != nil {
			sess.Close(websocket.CloseGoingAway, "Server shutting down")
		}
	}

	return err
}

// authenticate resolves the bearer token on a plain HTTP request.
func (s *Server) authenticate(r *http.Request) (int64, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return 0, identity.ErrTokenInvalid
	}
	return s.identity.VerifyToken(token)
}

// handleHealth answers liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus reports a small status document.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":           ServerName,
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"sessions":       s.registry.Len(),
	})
}
