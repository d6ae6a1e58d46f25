package session

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/simbridge-dev/simbridge-go/pkg/store"
)

// fakeConn records frames written to it.
type fakeConn struct {
	mu       sync.Mutex
	written  [][]byte
	controls []int
	fail     bool
	closed   int
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	return 0, nil, errors.New("not implemented")
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("send failed")
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, messageType)
	return nil
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func TestSessionSendJSON(t *testing.T) {
	conn := &fakeConn{}
	s := New(conn, 7, store.RoleHost)

	if s.ID == "" {
		t.Error("session has no id")
	}
	if s.DeviceID != 7 || s.Role != store.RoleHost {
		t.Errorf("session = %+v", s)
	}

	if err := s.SendJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("SendJSON: %v", err)
	}

	var frame map[string]any
	if err := json.Unmarshal(conn.written[0], &frame); err != nil {
		t.Fatalf("written frame not JSON: %v", err)
	}
	if frame["type"] != "ping" {
		t.Errorf("frame = %v", frame)
	}
}

func TestSessionSendFailure(t *testing.T) {
	conn := &fakeConn{fail: true}
	s := New(conn, 1, store.RoleClient)

	if err := s.SendText([]byte("x")); err == nil {
		t.Error("SendText succeeded on a broken conn")
	}
}

func TestSessionCloseOnce(t *testing.T) {
	conn := &fakeConn{}
	s := New(conn, 1, store.RoleHost)

	s.Close(websocket.ClosePolicyViolation, "replaced")
	s.Close(websocket.ClosePolicyViolation, "replaced")

	if conn.closed != 1 {
		t.Errorf("transport closed %d times, want 1", conn.closed)
	}
	if len(conn.controls) != 1 || conn.controls[0] != websocket.CloseMessage {
		t.Errorf("close frames = %v, want one CloseMessage", conn.controls)
	}
}

func TestRegistryBindEvicts(t *testing.T) {
	reg := NewRegistry()
	s1 := New(&fakeConn{}, 1, store.RoleHost)
	s2 := New(&fakeConn{}, 1, store.RoleHost)

	if prev := reg.Bind(1, s1); prev != nil {
		t.Errorf("first bind evicted %v", prev)
	}
	if prev := reg.Bind(1, s2); prev != s1 {
		t.Errorf("second bind evicted %v, want s1", prev)
	}
	if got := reg.Lookup(1); got != s2 {
		t.Errorf("Lookup = %v, want s2", got)
	}
	if reg.Len() != 1 {
		t.Errorf("Len = %d, want 1", reg.Len())
	}
}

func TestRegistryUnbindIf(t *testing.T) {
	reg := NewRegistry()
	s1 := New(&fakeConn{}, 1, store.RoleHost)
	s2 := New(&fakeConn{}, 1, store.RoleHost)

	reg.Bind(1, s1)
	reg.Bind(1, s2)

	// The evicted session's teardown must not remove its successor.
	if reg.UnbindIf(1, s1) {
		t.Error("UnbindIf removed the successor's entry")
	}
	if got := reg.Lookup(1); got != s2 {
		t.Errorf("Lookup = %v, want s2", got)
	}

	if !reg.UnbindIf(1, s2) {
		t.Error("UnbindIf refused to remove the current session")
	}
	if got := reg.Lookup(1); got != nil {
		t.Errorf("Lookup after unbind = %v, want nil", got)
	}
}

func TestRegistryOnlineIDs(t *testing.T) {
	reg := NewRegistry()
	reg.Bind(3, New(&fakeConn{}, 3, store.RoleHost))
	reg.Bind(8, New(&fakeConn{}, 8, store.RoleClient))

	ids := reg.OnlineIDs()
	if len(ids) != 2 {
		t.Fatalf("OnlineIDs = %v", ids)
	}
	seen := map[int64]bool{ids[0]: true, ids[1]: true}
	if !seen[3] || !seen[8] {
		t.Errorf("OnlineIDs = %v, want {3, 8}", ids)
	}
}

func TestRegistryConcurrentBind(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := New(&fakeConn{}, 1, store.RoleHost)
			reg.Bind(1, s)
			reg.Lookup(1)
			reg.UnbindIf(1, s)
		}()
	}
	wg.Wait()

	// At most one survivor; every other goroutine either evicted a
	// predecessor or unbound itself.
	if reg.Len() > 1 {
		t.Errorf("Len = %d, want <= 1", reg.Len())
	}
}

func TestHeartbeatSendsUntilStopped(t *testing.T) {
	var mu sync.Mutex
	count := 0

	hb := NewHeartbeat(10*time.Millisecond, func() error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return nil
	})
	hb.Start()

	time.Sleep(55 * time.Millisecond)
	hb.Stop()
	hb.Stop() // idempotent

	mu.Lock()
	after := count
	mu.Unlock()
	if after < 2 {
		t.Errorf("heartbeat fired %d times, want >= 2", after)
	}

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	final := count
	mu.Unlock()
	if final > after+1 {
		t.Errorf("heartbeat kept firing after Stop (%d -> %d)", after, final)
	}
}

func TestHeartbeatStopsOnSendFailure(t *testing.T) {
	var mu sync.Mutex
	count := 0

	hb := NewHeartbeat(10*time.Millisecond, func() error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return errors.New("socket closed")
	})
	hb.Start()

	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("heartbeat fired %d times after failure, want 1", count)
	}
}
