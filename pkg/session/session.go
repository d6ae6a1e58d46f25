package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/simbridge-dev/simbridge-go/pkg/store"
)

// Session constants.
const (
	// DefaultWriteTimeout bounds each outbound frame write.
	DefaultWriteTimeout = 5 * time.Second

	// closeGracePeriod bounds the close-frame write during teardown.
	closeGracePeriod = time.Second
)

// Conn is the subset of *websocket.Conn a session needs. Tests substitute
// in-memory implementations.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// Session is one live socket bound to a device. Each session carries a
// fresh id so a replaced session can be told apart from its successor.
type Session struct {
	ID       string
	DeviceID int64
	Role     store.DeviceRole
	BoundAt  time.Time

	conn      Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// New wraps conn as the live session for a device.
func New(conn Conn, deviceID int64, role store.DeviceRole) *Session {
	return &Session{
		ID:       uuid.NewString(),
		DeviceID: deviceID,
		Role:     role,
		BoundAt:  time.Now(),
		conn:     conn,
	}
}

// SendJSON marshals v and writes it as a single text frame.
func (s *Session) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	return s.SendText(data)
}

// SendText writes one text frame. Writes are serialized and each gets
// DefaultWriteTimeout.
func (s *Session) SendText(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// ReadMessage blocks until the next inbound frame arrives.
func (s *Session) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

// Close sends a close frame with the given code and reason, then closes
// the socket. Only the first call has any effect.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		_ = s.conn.Close()
	})
}
