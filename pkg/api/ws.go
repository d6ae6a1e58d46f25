package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/simbridge-dev/simbridge-go/pkg/session"
	"github.com/simbridge-dev/simbridge-go/pkg/store"
	"github.com/simbridge-dev/simbridge-go/pkg/tracelog"
	"github.com/simbridge-dev/simbridge-go/pkg/wire"
)

func (s *Server) handleHostSocket(w http.ResponseWriter, r *http.Request) {
	s.handleSocket(w, r, store.RoleHost)
}

func (s *Server) handleClientSocket(w http.ResponseWriter, r *http.Request) {
	s.handleSocket(w, r, store.RoleClient)
}

// handleSocket authenticates, upgrades and runs one device socket to
// completion.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request, role store.DeviceRole) {
	deviceID, err := strconv.ParseInt(r.PathValue("device_id"), 10, 64)
	if err != nil || deviceID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	// Browsers cannot set headers on the upgrade request, so the token
	// rides in the query string here.
	userID, err := s.identity.VerifyToken(r.URL.Query().Get("token"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if _, err := s.store.OwnedDevice(r.Context(), deviceID, userID, role); err != nil {
		writeError(w, http.StatusForbidden, "Device not found or not yours")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	sess := session.New(conn, deviceID, role)
	s.runSession(r, sess)
}

// runSession binds the session, greets, drains, heartbeats and reads
// frames until the socket dies, then tears everything down in order.
func (s *Server) runSession(r *http.Request, sess *session.Session) {
	ctx := r.Context()

	evicted := s.registry.Bind(sess.DeviceID, sess)
	if evicted != nil {
		// The predecessor's read loop observes the close and unwinds;
		// its UnbindIf cannot touch this session's entry.
		evicted.Close(websocket.ClosePolicyViolation, "Replaced by new connection")
		s.traceSession(evicted, "evicted: replaced by new connection")
	}
	s.traceSession(sess, "bound")

	if err := s.store.TouchLastSeen(ctx, sess.DeviceID, time.Now()); err != nil && s.logger != nil {
		s.logger.Error("failed to update last_seen", "device_id", sess.DeviceID, "err", err)
	}

	if s.logger != nil {
		s.logger.Info("session opened",
			"device_id", sess.DeviceID, "role", string(sess.Role), "session_id", sess.ID)
	}

	greetErr := sess.SendJSON(wire.NewConnected(sess.DeviceID))

	if greetErr == nil && sess.Role == store.RoleHost {
		if _, err := s.engine.DrainPending(ctx, sess); err != nil && s.logger != nil {
			s.logger.Error("pending drain failed", "device_id", sess.DeviceID, "err", err)
		}
	}

	heartbeat := session.NewHeartbeat(session.DefaultPingInterval, func() error {
		return sess.SendJSON(wire.NewPing())
	})
	heartbeat.Start()

	if greetErr == nil {
		s.readLoop(r, sess)
	}

	// Teardown order matters: the registry entry goes first so new
	// lookups miss this session, the heartbeat stops before peers are
	// notified.
	s.registry.UnbindIf(sess.DeviceID, sess)
	heartbeat.Stop()
	s.traceSession(sess, "closed")

	// The request context is ending with this handler; cleanup needs
	// its own deadline.
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.store.TouchLastSeen(cleanupCtx, sess.DeviceID, time.Now()); err != nil && s.logger != nil {
		s.logger.Error("failed to update last_seen", "device_id", sess.DeviceID, "err", err)
	}
	s.engine.NotifyOffline(cleanupCtx, sess.DeviceID, sess.Role)

	sess.Close(websocket.CloseNormalClosure, "")

	if s.logger != nil {
		s.logger.Info("session closed",
			"device_id", sess.DeviceID, "role", string(sess.Role), "session_id", sess.ID)
	}
}

// readLoop dispatches inbound frames until the socket errors out.
func (s *Server) readLoop(r *http.Request, sess *session.Session) {
	for {
		data, err := sess.ReadMessage()
		if err != nil {
			return
		}
		if err := s.engine.HandleFrame(r.Context(), sess, data); err != nil {
			// Even the error reply failed; the socket is gone.
			return
		}
	}
}

func (s *Server) traceSession(sess *session.Session, detail string) {
	s.trace.Log(tracelog.Event{
		Timestamp:    time.Now(),
		ConnectionID: sess.ID,
		DeviceID:     sess.DeviceID,
		Category:     tracelog.CategorySession,
		Detail:       detail,
	})
}
