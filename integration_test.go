package simbridge_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/simbridge-dev/simbridge-go/pkg/api"
	"github.com/simbridge-dev/simbridge-go/pkg/config"
	"github.com/simbridge-dev/simbridge-go/pkg/identity"
	"github.com/simbridge-dev/simbridge-go/pkg/pairing"
	"github.com/simbridge-dev/simbridge-go/pkg/relay"
	"github.com/simbridge-dev/simbridge-go/pkg/session"
	"github.com/simbridge-dev/simbridge-go/pkg/store"
)

// relayFixture is a full relay stack on an in-memory store behind an
// httptest listener.
type relayFixture struct {
	t   *testing.T
	ts  *httptest.Server
	reg *session.Registry
}

func newRelay(t *testing.T) *relayFixture {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ident, err := identity.NewService(st, identity.Config{TokenSecret: "integration-secret"})
	if err != nil {
		t.Fatalf("identity service: %v", err)
	}

	reg := session.NewRegistry()
	engine := relay.NewEngine(st, reg, nil, nil)
	pairSvc := pairing.NewService(st, ident.Limiter(), nil)

	cfg := config.Default()
	cfg.TokenSecret = "integration-secret"

	srv := api.NewServer(cfg, "test", api.Deps{
		Store:    st,
		Identity: ident,
		Pairing:  pairSvc,
		Engine:   engine,
		Registry: reg,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &relayFixture{t: t, ts: ts, reg: reg}
}

func (f *relayFixture) post(path, token string, body any) (int, map[string]any) {
	f.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			f.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, f.ts.URL+path, &buf)
	if err != nil {
		f.t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		f.t.Fatalf("%s: %v", path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

// login authenticates an existing account and returns its token.
func (f *relayFixture) login(username string) string {
	f.t.Helper()

	code, body := f.post("/auth/login", "", map[string]string{
		"username": username, "password": "pw",
	})
	if code != http.StatusOK {
		f.t.Fatalf("login %s: %d %v", username, code, body)
	}
	return body["token"].(string)
}

// newAccount registers a user with a paired host and client and
// returns the bearer token and both device ids.
func (f *relayFixture) newAccount(username string) (token string, hostID, clientID int64) {
	f.t.Helper()

	code, body := f.post("/auth/register", "", map[string]string{
		"username": username, "password": "pw",
	})
	if code != http.StatusOK {
		f.t.Fatalf("register %s: %d %v", username, code, body)
	}
	token = f.login(username)

	hostID = f.createDevice(token, username+"-phone", "host")
	clientID = f.createDevice(token, username+"-desktop", "client")

	code, body = f.post(fmt.Sprintf("/pair?host_device_id=%d", hostID), token, nil)
	if code != http.StatusOK {
		f.t.Fatalf("issue code: %d %v", code, body)
	}
	code, body = f.post("/pair/confirm", token, map[string]any{
		"code": body["code"], "client_device_id": clientID,
	})
	if code != http.StatusOK || body["status"] != "paired" {
		f.t.Fatalf("confirm code: %d %v", code, body)
	}
	return token, hostID, clientID
}

func (f *relayFixture) createDevice(token, name, devType string) int64 {
	f.t.Helper()

	code, body := f.post("/devices", token, map[string]string{"name": name, "type": devType})
	if code != http.StatusOK {
		f.t.Fatalf("create device %s: %d %v", name, code, body)
	}
	return int64(body["id"].(float64))
}

// dial attaches a WebSocket session, consumes the greeting, and
// returns the connection.
func (f *relayFixture) dial(role string, deviceID int64, token string) *websocket.Conn {
	f.t.Helper()

	wsURL := fmt.Sprintf("%s/ws/%s/%d?token=%s",
		strings.Replace(f.ts.URL, "http", "ws", 1), role, deviceID, token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		f.t.Fatalf("dial %s %d: %v", role, deviceID, err)
	}
	f.t.Cleanup(func() { conn.Close() })

	greeting := readFrame(f.t, conn)
	if greeting["type"] != "connected" || greeting["device_id"] != float64(deviceID) {
		f.t.Fatalf("unexpected greeting: %v", greeting)
	}
	return conn
}

// readFrame reads one JSON frame with a deadline, skipping heartbeat
// pings.
func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("bad frame %q: %v", data, err)
		}
		if frame["type"] == "ping" {
			continue
		}
		return frame
	}
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()

	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("send frame: %v", err)
	}
}

// TestE2E_PairAndRelay exercises the full path: account, devices,
// pairing, live sessions for both roles, and a command round trip.
func TestE2E_PairAndRelay(t *testing.T) {
	f := newRelay(t)
	token, hostID, clientID := f.newAccount("alice")

	host := f.dial("host", hostID, token)
	client := f.dial("client", clientID, token)

	// Client command reaches the live host with the sender stamped.
	sendFrame(t, client, map[string]any{
		"type": "command", "cmd": "send_sms", "sim": float64(1),
		"to": "+15550001", "body": "hello",
	})
	got := readFrame(t, host)
	if got["cmd"] != "send_sms" || got["body"] != "hello" {
		t.Fatalf("host got %v", got)
	}
	if got["from_device_id"] != float64(clientID) {
		t.Fatalf("from_device_id = %v, want %d", got["from_device_id"], clientID)
	}
	reqID, _ := got["req_id"].(string)
	if reqID == "" {
		t.Fatalf("relayed frame missing req_id: %v", got)
	}

	// Host response travels back carrying the same correlation id.
	sendFrame(t, host, map[string]any{
		"type": "event", "event": "sms_sent", "req_id": reqID,
	})
	got = readFrame(t, client)
	if got["event"] != "sms_sent" || got["req_id"] != reqID {
		t.Fatalf("client got %v", got)
	}
	if got["from_device_id"] != float64(hostID) {
		t.Fatalf("from_device_id = %v, want %d", got["from_device_id"], hostID)
	}
}

// TestE2E_QueueAndDrain verifies offline queueing, in-order drain on
// reconnect, and the history record of the relayed commands.
func TestE2E_QueueAndDrain(t *testing.T) {
	f := newRelay(t)
	token, hostID, _ := f.newAccount("alice")

	// Host is offline: both commands are accepted as queued.
	var reqIDs []string
	for i, body := range []string{"first", "second"} {
		code, resp := f.post("/sms", token, map[string]any{
			"to_device_id": hostID, "sim": 1, "to": "+15550001", "body": body,
		})
		if code != http.StatusOK || resp["status"] != "queued" {
			t.Fatalf("sms %d: %d %v", i, code, resp)
		}
		reqIDs = append(reqIDs, resp["req_id"].(string))
	}

	// Connecting the host drains the queue in submission order.
	host := f.dial("host", hostID, token)
	for i, want := range []string{"first", "second"} {
		got := readFrame(t, host)
		if got["body"] != want {
			t.Fatalf("drained frame %d = %v, want body %q", i, got, want)
		}
		if got["req_id"] != reqIDs[i] {
			t.Fatalf("drained frame %d req_id = %v, want %s", i, got["req_id"], reqIDs[i])
		}
	}

	// Drained commands do not redeliver on reconnect.
	host.Close()
	time.Sleep(100 * time.Millisecond)
	host = f.dial("host", hostID, token)
	host.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, data, err := host.ReadMessage(); err == nil && !strings.Contains(string(data), "ping") {
		t.Fatalf("unexpected redelivery after drain: %s", data)
	}

	// Both commands appear in the relay history.
	req, _ := http.NewRequest(http.MethodGet, f.ts.URL+"/history", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	defer resp.Body.Close()
	var page struct {
		Total int64            `json:"total"`
		Items []map[string]any `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("history total = %d, want 2", page.Total)
	}
	for i, item := range page.Items {
		if item["msg_kind"] != "command" {
			t.Fatalf("history item %d msg_kind = %v", i, item["msg_kind"])
		}
	}
}

// TestE2E_DuplicateSessionEvicted verifies that a second session for
// the same device replaces the first.
func TestE2E_DuplicateSessionEvicted(t *testing.T) {
	f := newRelay(t)
	token, hostID, _ := f.newAccount("alice")

	first := f.dial("host", hostID, token)
	second := f.dial("host", hostID, token)

	// The first session receives a policy-violation close.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := first.ReadMessage()
		if err == nil {
			continue
		}
		closeErr, ok := err.(*websocket.CloseError)
		if !ok {
			t.Fatalf("first session ended without close frame: %v", err)
		}
		if closeErr.Code != websocket.ClosePolicyViolation {
			t.Fatalf("close code = %d, want %d", closeErr.Code, websocket.ClosePolicyViolation)
		}
		if closeErr.Text != "Replaced by new connection" {
			t.Fatalf("close reason = %q", closeErr.Text)
		}
		break
	}

	// The replacement session still relays.
	code, resp := f.post("/sms", token, map[string]any{
		"to_device_id": hostID, "sim": 1, "to": "+15550001", "body": "hi",
	})
	if code != http.StatusOK || resp["status"] != "sent" {
		t.Fatalf("sms after eviction: %d %v", code, resp)
	}
	got := readFrame(t, second)
	if got["body"] != "hi" {
		t.Fatalf("second session got %v", got)
	}
}

// TestE2E_CrossUserCommandRejected verifies ownership checks on the
// HTTP command surface.
func TestE2E_CrossUserCommandRejected(t *testing.T) {
	f := newRelay(t)
	_, aliceHost, _ := f.newAccount("alice")
	malloryToken, _, _ := f.newAccount("mallory")

	code, body := f.post("/sms", malloryToken, map[string]any{
		"to_device_id": aliceHost, "sim": 1, "to": "+15550001", "body": "hi",
	})
	if code != http.StatusForbidden {
		t.Fatalf("cross-user sms: %d %v, want 403", code, body)
	}
	// The caller's client device has no pairing with the foreign host,
	// so the pairing check rejects first.
	if body["detail"] != "Devices are not paired" {
		t.Fatalf("detail = %v", body["detail"])
	}
}

// TestE2E_CrossUserPairingRejected verifies a pairing code cannot be
// redeemed by another account.
func TestE2E_CrossUserPairingRejected(t *testing.T) {
	f := newRelay(t)
	aliceToken, aliceHost, _ := f.newAccount("alice")

	code, body := f.post(fmt.Sprintf("/pair?host_device_id=%d", aliceHost), aliceToken, nil)
	if code != http.StatusOK {
		t.Fatalf("issue code: %d %v", code, body)
	}
	pairCode := body["code"].(string)

	malloryToken, _, malloryClient := f.newAccount("mallory")
	code, body = f.post("/pair/confirm", malloryToken, map[string]any{
		"code": pairCode, "client_device_id": malloryClient,
	})
	if code != http.StatusForbidden {
		t.Fatalf("cross-user confirm: %d %v, want 403", code, body)
	}
}

// TestE2E_OfflineNotification verifies the paired client learns about
// a host disconnect promptly.
func TestE2E_OfflineNotification(t *testing.T) {
	f := newRelay(t)
	token, hostID, clientID := f.newAccount("alice")

	host := f.dial("host", hostID, token)
	client := f.dial("client", clientID, token)

	start := time.Now()
	host.Close()

	got := readFrame(t, client)
	if got["type"] != "event" || got["event"] != "DEVICE_OFFLINE" {
		t.Fatalf("client got %v, want DEVICE_OFFLINE event", got)
	}
	if got["device_id"] != float64(hostID) {
		t.Fatalf("device_id = %v, want %d", got["device_id"], hostID)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("offline notification took %v", elapsed)
	}
}
