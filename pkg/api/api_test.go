package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simbridge-dev/simbridge-go/pkg/config"
	"github.com/simbridge-dev/simbridge-go/pkg/identity"
	"github.com/simbridge-dev/simbridge-go/pkg/pairing"
	"github.com/simbridge-dev/simbridge-go/pkg/relay"
	"github.com/simbridge-dev/simbridge-go/pkg/session"
	"github.com/simbridge-dev/simbridge-go/pkg/store"
)

// newTestServer assembles a relay on an in-memory store behind an
// httptest listener.
func newTestServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ident, err := identity.NewService(st, identity.Config{TokenSecret: "test-secret"})
	require.NoError(t, err)

	reg := session.NewRegistry()
	engine := relay.NewEngine(st, reg, nil, nil)
	pairSvc := pairing.NewService(st, ident.Limiter(), nil)

	cfg := config.Default()
	cfg.TokenSecret = "test-secret"

	srv := NewServer(cfg, "test", Deps{
		Store:    st,
		Identity: ident,
		Pairing:  pairSvc,
		Engine:   engine,
		Registry: reg,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return ts, srv
}

// doJSON performs a request with an optional bearer token and decodes
// the JSON response.
func doJSON(t *testing.T, method, url, token string, body any) (int, map[string]any) {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequest(method, url, reqBody)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

// registerAndLogin creates an account and returns its bearer token.
func registerAndLogin(t *testing.T, baseURL, username string) string {
	t.Helper()

	code, _ := doJSON(t, http.MethodPost, baseURL+"/auth/register", "",
		map[string]string{"username": username, "password": "hunter2"})
	require.Equal(t, http.StatusOK, code)

	code, body := doJSON(t, http.MethodPost, baseURL+"/auth/login", "",
		map[string]string{"username": username, "password": "hunter2"})
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, body["token"])

	return body["token"].(string)
}

// createDevice registers a device and returns its id.
func createDevice(t *testing.T, baseURL, token, name, devType string) int64 {
	t.Helper()

	code, body := doJSON(t, http.MethodPost, baseURL+"/devices", token,
		map[string]string{"name": name, "type": devType})
	require.Equal(t, http.StatusOK, code, "create device: %v", body)

	return int64(body["id"].(float64))
}

func TestRegisterDuplicate(t *testing.T) {
	ts, _ := newTestServer(t)

	code, _ := doJSON(t, http.MethodPost, ts.URL+"/auth/register", "",
		map[string]string{"username": "alice", "password": "pw"})
	assert.Equal(t, http.StatusOK, code)

	code, body := doJSON(t, http.MethodPost, ts.URL+"/auth/register", "",
		map[string]string{"username": "alice", "password": "pw"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Username already taken", body["detail"])
}

func TestRegisterMissingFields(t *testing.T) {
	ts, _ := newTestServer(t)

	code, _ := doJSON(t, http.MethodPost, ts.URL+"/auth/register", "",
		map[string]string{"username": "alice"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLoginWrongPassword(t *testing.T) {
	ts, _ := newTestServer(t)
	registerAndLogin(t, ts.URL, "alice")

	code, body := doJSON(t, http.MethodPost, ts.URL+"/auth/login", "",
		map[string]string{"username": "alice", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid credentials", body["detail"])
}

func TestLoginRateLimited(t *testing.T) {
	ts, _ := newTestServer(t)

	for i := 0; i < 5; i++ {
		code, _ := doJSON(t, http.MethodPost, ts.URL+"/auth/login", "",
			map[string]string{"username": "ghost", "password": "pw"})
		assert.Equal(t, http.StatusUnauthorized, code, "attempt %d", i+1)
	}

	code, _ := doJSON(t, http.MethodPost, ts.URL+"/auth/login", "",
		map[string]string{"username": "ghost", "password": "pw"})
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestGoogleLoginNotConfigured(t *testing.T) {
	ts, _ := newTestServer(t)

	code, _ := doJSON(t, http.MethodPost, ts.URL+"/auth/google", "",
		map[string]string{"id_token": "whatever"})
	assert.Equal(t, http.StatusNotImplemented, code)
}

func TestAuthRequired(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, ep := range []struct{ method, path string }{
		{http.MethodPost, "/devices"},
		{http.MethodGet, "/devices"},
		{http.MethodPost, "/pair?host_device_id=1"},
		{http.MethodPost, "/pair/confirm"},
		{http.MethodPost, "/sms"},
		{http.MethodPost, "/call"},
		{http.MethodGet, "/sims?host_device_id=1"},
		{http.MethodGet, "/history"},
	} {
		code, _ := doJSON(t, ep.method, ts.URL+ep.path, "", map[string]any{})
		assert.Equal(t, http.StatusUnauthorized, code, "%s %s", ep.method, ep.path)

		code, _ = doJSON(t, ep.method, ts.URL+ep.path, "not-a-token", map[string]any{})
		assert.Equal(t, http.StatusUnauthorized, code, "%s %s bad token", ep.method, ep.path)
	}
}

func TestCreateDeviceBadType(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerAndLogin(t, ts.URL, "alice")

	code, body := doJSON(t, http.MethodPost, ts.URL+"/devices", token,
		map[string]string{"name": "thing", "type": "toaster"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["detail"], "host")
}

func TestListDevices(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerAndLogin(t, ts.URL, "alice")

	hostID := createDevice(t, ts.URL, token, "pixel", "host")
	createDevice(t, ts.URL, token, "laptop", "client")

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/devices", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var devices []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&devices))
	require.Len(t, devices, 2)

	assert.Equal(t, float64(hostID), devices[0]["id"])
	assert.Equal(t, "host", devices[0]["type"])
	assert.Equal(t, false, devices[0]["is_online"])
	assert.Nil(t, devices[0]["last_seen"])
}

func TestPairMissingQuery(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerAndLogin(t, ts.URL, "alice")

	code, _ := doJSON(t, http.MethodPost, ts.URL+"/pair", token, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPairFlow(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerAndLogin(t, ts.URL, "alice")

	hostID := createDevice(t, ts.URL, token, "pixel", "host")
	clientID := createDevice(t, ts.URL, token, "laptop", "client")

	code, body := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/pair?host_device_id=%d", ts.URL, hostID), token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(600), body["expires_in_seconds"])
	pairCode := body["code"].(string)
	require.Len(t, pairCode, 6)

	code, body = doJSON(t, http.MethodPost, ts.URL+"/pair/confirm", token,
		map[string]any{"code": pairCode, "client_device_id": clientID})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "paired", body["status"])
	assert.Equal(t, float64(hostID), body["host_device_id"])
}

func TestPairUnknownHost(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerAndLogin(t, ts.URL, "alice")

	code, _ := doJSON(t, http.MethodPost, ts.URL+"/pair?host_device_id=999", token, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSMSValidation(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerAndLogin(t, ts.URL, "alice")

	hostID := createDevice(t, ts.URL, token, "pixel", "host")

	valid := func() map[string]any {
		return map[string]any{
			"to_device_id": hostID, "sim": 1, "to": "+15550001", "body": "hi",
		}
	}

	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"sim zero", func(m map[string]any) { m["sim"] = 0 }},
		{"sim three", func(m map[string]any) { m["sim"] = 3 }},
		{"empty to", func(m map[string]any) { m["to"] = "" }},
		{"to too long", func(m map[string]any) { m["to"] = strings.Repeat("9", 31) }},
		{"empty body", func(m map[string]any) { m["body"] = "" }},
		{"body too long", func(m map[string]any) { m["body"] = strings.Repeat("a", 1601) }},
		{"body too long multibyte", func(m map[string]any) { m["body"] = strings.Repeat("ü", 1601) }},
		{"missing target", func(m map[string]any) { delete(m, "to_device_id") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(req)
			code, _ := doJSON(t, http.MethodPost, ts.URL+"/sms", token, req)
			assert.Equal(t, http.StatusBadRequest, code)
		})
	}
}

func TestSMSBoundaryLengths(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerAndLogin(t, ts.URL, "alice")

	hostID := createDevice(t, ts.URL, token, "pixel", "host")
	clientID := createDevice(t, ts.URL, token, "laptop", "client")

	_, body := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/pair?host_device_id=%d", ts.URL, hostID), token, nil)
	code, _ := doJSON(t, http.MethodPost, ts.URL+"/pair/confirm", token,
		map[string]any{"code": body["code"], "client_device_id": clientID})
	require.Equal(t, http.StatusOK, code)

	// 1- and 1600-character bodies pass validation; the host is offline
	// so the commands queue. Lengths are counted in characters, so a
	// 1600-rune multibyte body is within bounds even though it exceeds
	// 1600 bytes.
	for _, body := range []string{
		"a",
		strings.Repeat("a", 1600),
		strings.Repeat("ü", 1600),
	} {
		code, resp := doJSON(t, http.MethodPost, ts.URL+"/sms", token, map[string]any{
			"to_device_id": hostID, "sim": 2, "to": "+15550001", "body": body,
		})
		assert.Equal(t, http.StatusOK, code, "body length %d runes: %v",
			len([]rune(body)), resp)
		assert.Equal(t, "queued", resp["status"])
		assert.NotEmpty(t, resp["req_id"])
	}

	// A 30-rune multibyte recipient is within bounds too.
	code, resp := doJSON(t, http.MethodPost, ts.URL+"/sms", token, map[string]any{
		"to_device_id": hostID, "sim": 1, "to": strings.Repeat("ü", 30), "body": "hi",
	})
	assert.Equal(t, http.StatusOK, code, "%v", resp)
}

func TestSMSUnpaired(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerAndLogin(t, ts.URL, "alice")

	hostID := createDevice(t, ts.URL, token, "pixel", "host")
	createDevice(t, ts.URL, token, "laptop", "client")

	code, body := doJSON(t, http.MethodPost, ts.URL+"/sms", token, map[string]any{
		"to_device_id": hostID, "sim": 1, "to": "+15550001", "body": "hi",
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Devices are not paired", body["detail"])
}

func TestSMSNoClientDevice(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerAndLogin(t, ts.URL, "alice")

	hostID := createDevice(t, ts.URL, token, "pixel", "host")

	code, body := doJSON(t, http.MethodPost, ts.URL+"/sms", token, map[string]any{
		"to_device_id": hostID, "sim": 1, "to": "+15550001", "body": "hi",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "No client device registered", body["detail"])
}

func TestHistoryPaging(t *testing.T) {
	ts, _ := newTestServer(t)
	token := registerAndLogin(t, ts.URL, "alice")

	code, body := doJSON(t, http.MethodGet, ts.URL+"/history?limit=500", token, nil)
	require.Equal(t, http.StatusOK, code)
	// The cap applies even before any messages exist.
	assert.Equal(t, float64(200), body["limit"])
	assert.Equal(t, float64(0), body["total"])

	code, _ = doJSON(t, http.MethodGet, ts.URL+"/history?offset=-1", token, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = doJSON(t, http.MethodGet, ts.URL+"/history?limit=0", token, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHealthAndStatus(t *testing.T) {
	ts, _ := newTestServer(t)

	code, body := doJSON(t, http.MethodGet, ts.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = doJSON(t, http.MethodGet, ts.URL+"/status", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, ServerName, body["name"])
	assert.Equal(t, float64(0), body["sessions"])
}
