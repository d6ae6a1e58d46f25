// Package interactive provides the interactive command-line interface
// for the SIM bridge console.
package interactive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/gorilla/websocket"

	"github.com/simbridge-dev/simbridge-go/pkg/discovery"
	"github.com/simbridge-dev/simbridge-go/pkg/wire"
)

// Console handles interactive mode for simbridge-console.
type Console struct {
	serverURL string
	http      *http.Client
	rl        *readline.Instance

	token  string
	userID int64

	// Live WebSocket attachment, at most one at a time.
	wsMu     sync.Mutex
	ws       *websocket.Conn
	wsDevice int64
	wsRole   string
	wsDone   chan struct{}
}

// New creates a new interactive console talking to the given relay.
func New(serverURL string) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "simbridge> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	return &Console{
		serverURL: strings.TrimRight(serverURL, "/"),
		http:      &http.Client{Timeout: 15 * time.Second},
		rl:        rl,
	}, nil
}

// Stdout returns a writer that coordinates with the readline prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()
	defer c.closeSocket()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "register":
			c.cmdRegister(args)

		case "login":
			c.cmdLogin(args)

		case "devices", "d":
			c.cmdDevices()

		case "device":
			c.cmdDevice(args)

		case "pair":
			c.cmdPair(args)

		case "confirm":
			c.cmdConfirm(args)

		case "sms":
			c.cmdSMS(args)

		case "call":
			c.cmdCall(args)

		case "sims":
			c.cmdSIMs(args)

		case "history", "h":
			c.cmdHistory(args)

		case "connect":
			c.cmdConnect(args)

		case "disconnect":
			c.cmdDisconnect()

		case "send":
			c.cmdSend(args)

		case "discover":
			c.cmdDiscover()

		case "status":
			c.cmdStatus()

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
SIM Bridge Console Commands:
  Account:
    register <user> <pass>       - Create an account
    login <user> <pass>          - Log in and store the bearer token

  Devices:
    devices                      - List your devices
    device add <name> host|client - Register a device

  Pairing:
    pair <host-id>               - Issue a pairing code for a host
    confirm <code> <client-id>   - Redeem a code on a client

  Commands:
    sms <host-id> <sim> <to> <body...> - Send an SMS through a host
    call <host-id> <sim> <to>    - Place a call through a host
    sims <host-id>               - Query a host's SIM cards
    history [limit [offset]]     - Show relayed message history

  Live session:
    connect host|client <id>     - Attach a WebSocket as a device
    send <json>                  - Send a raw frame on the session
    disconnect                   - Detach the WebSocket

  General:
    discover                     - Find relays on the local network
    status                       - Show relay and session status
    help                         - Show this help
    quit                         - Exit`)
}

// ---------------------------------------------------------------------------
// HTTP plumbing
// ---------------------------------------------------------------------------

func (c *Console) request(method, path string, body any) (map[string]any, error) {
	raw, err := c.requestRaw(method, path, body)
	if err != nil {
		return nil, err
	}
	var decoded map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("bad response: %w", err)
		}
	}
	return decoded, nil
}

func (c *Console) requestRaw(method, path string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.serverURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errBody struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(raw, &errBody) == nil && errBody.Detail != "" {
			return nil, fmt.Errorf("%s (%d)", errBody.Detail, resp.StatusCode)
		}
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return raw, nil
}

func (c *Console) requireLogin() bool {
	if c.token == "" {
		fmt.Fprintln(c.rl.Stdout(), "Not logged in (use 'login <user> <pass>')")
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Account commands
// ---------------------------------------------------------------------------

func (c *Console) cmdRegister(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: register <user> <pass>")
		return
	}
	resp, err := c.request(http.MethodPost, "/auth/register",
		map[string]string{"username": args[0], "password": args[1]})
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Registered %s (id %v)\n", resp["username"], resp["id"])
}

func (c *Console) cmdLogin(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: login <user> <pass>")
		return
	}
	resp, err := c.request(http.MethodPost, "/auth/login",
		map[string]string{"username": args[0], "password": args[1]})
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	c.token, _ = resp["token"].(string)
	if id, ok := resp["user_id"].(float64); ok {
		c.userID = int64(id)
	}
	fmt.Fprintf(c.rl.Stdout(), "Logged in as %s (user id %d)\n", args[0], c.userID)
}

// ---------------------------------------------------------------------------
// Device commands
// ---------------------------------------------------------------------------

func (c *Console) cmdDevices() {
	if !c.requireLogin() {
		return
	}
	raw, err := c.requestRaw(http.MethodGet, "/devices", nil)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	var devices []struct {
		ID       int64   `json:"id"`
		Name     string  `json:"name"`
		Type     string  `json:"type"`
		IsOnline bool    `json:"is_online"`
		LastSeen *string `json:"last_seen"`
	}
	if err := json.Unmarshal(raw, &devices); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	if len(devices) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "No devices (use 'device add <name> host|client')")
		return
	}
	for _, d := range devices {
		state := "offline"
		if d.IsOnline {
			state = "ONLINE"
		}
		lastSeen := "never"
		if d.LastSeen != nil {
			lastSeen = *d.LastSeen
		}
		fmt.Fprintf(c.rl.Stdout(), "  %3d  %-6s %-8s %-20s last seen %s\n",
			d.ID, d.Type, state, d.Name, lastSeen)
	}
}

func (c *Console) cmdDevice(args []string) {
	if len(args) != 3 || args[0] != "add" {
		fmt.Fprintln(c.rl.Stdout(), "Usage: device add <name> host|client")
		return
	}
	if !c.requireLogin() {
		return
	}
	resp, err := c.request(http.MethodPost, "/devices",
		map[string]string{"name": args[1], "type": args[2]})
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Device %v created (id %v)\n", resp["name"], resp["id"])
}

// ---------------------------------------------------------------------------
// Pairing commands
// ---------------------------------------------------------------------------

func (c *Console) cmdPair(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: pair <host-id>")
		return
	}
	if !c.requireLogin() {
		return
	}
	resp, err := c.request(http.MethodPost, "/pair?host_device_id="+url.QueryEscape(args[0]), nil)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Pairing code: %v (expires in %vs)\n",
		resp["code"], resp["expires_in_seconds"])
}

func (c *Console) cmdConfirm(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: confirm <code> <client-id>")
		return
	}
	if !c.requireLogin() {
		return
	}
	clientID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		fmt.Fprintln(c.rl.Stdout(), "Bad client id")
		return
	}
	resp, err := c.request(http.MethodPost, "/pair/confirm",
		map[string]any{"code": args[0], "client_device_id": clientID})
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Status: %v", resp["status"])
	if host, ok := resp["host_device_id"]; ok {
		fmt.Fprintf(c.rl.Stdout(), " (host %v)", host)
	}
	fmt.Fprintln(c.rl.Stdout())
}

// ---------------------------------------------------------------------------
// Command relaying
// ---------------------------------------------------------------------------

func (c *Console) cmdSMS(args []string) {
	if len(args) < 4 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: sms <host-id> <sim> <to> <body...>")
		return
	}
	if !c.requireLogin() {
		return
	}
	hostID, sim, ok := parseHostSim(c.rl.Stdout(), args[0], args[1])
	if !ok {
		return
	}
	resp, err := c.request(http.MethodPost, "/sms", map[string]any{
		"to_device_id": hostID,
		"sim":          sim,
		"to":           args[2],
		"body":         strings.Join(args[3:], " "),
	})
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "%v (req %v)\n", resp["status"], resp["req_id"])
}

func (c *Console) cmdCall(args []string) {
	if len(args) != 3 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: call <host-id> <sim> <to>")
		return
	}
	if !c.requireLogin() {
		return
	}
	hostID, sim, ok := parseHostSim(c.rl.Stdout(), args[0], args[1])
	if !ok {
		return
	}
	resp, err := c.request(http.MethodPost, "/call", map[string]any{
		"to_device_id": hostID,
		"sim":          sim,
		"to":           args[2],
	})
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "%v (req %v)\n", resp["status"], resp["req_id"])
}

func (c *Console) cmdSIMs(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: sims <host-id>")
		return
	}
	if !c.requireLogin() {
		return
	}
	resp, err := c.request(http.MethodGet, "/sims?host_device_id="+url.QueryEscape(args[0]), nil)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "%v (req %v)\n", resp["status"], resp["req_id"])
	if resp["status"] == "queued" {
		fmt.Fprintln(c.rl.Stdout(), "Host is offline; the reply will arrive on the client session.")
	}
}

func (c *Console) cmdHistory(args []string) {
	if !c.requireLogin() {
		return
	}
	path := "/history"
	params := url.Values{}
	if len(args) > 0 {
		params.Set("limit", args[0])
	}
	if len(args) > 1 {
		params.Set("offset", args[1])
	}
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	raw, err := c.requestRaw(http.MethodGet, path, nil)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	var page struct {
		Total  int64 `json:"total"`
		Limit  int   `json:"limit"`
		Offset int   `json:"offset"`
		Items  []struct {
			ID           int64           `json:"id"`
			FromDeviceID int64           `json:"from_device_id"`
			ToDeviceID   int64           `json:"to_device_id"`
			Kind         string          `json:"msg_kind"`
			Payload      json.RawMessage `json:"payload"`
			CreatedAt    string          `json:"created_at"`
		} `json:"items"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "%d messages (showing %d from offset %d)\n",
		page.Total, len(page.Items), page.Offset)
	for _, m := range page.Items {
		fmt.Fprintf(c.rl.Stdout(), "  %5d  %s  %d->%d  %-8s %s\n",
			m.ID, m.CreatedAt, m.FromDeviceID, m.ToDeviceID, m.Kind, string(m.Payload))
	}
}

func parseHostSim(w io.Writer, hostArg, simArg string) (int64, int, bool) {
	hostID, err := strconv.ParseInt(hostArg, 10, 64)
	if err != nil {
		fmt.Fprintln(w, "Bad host id")
		return 0, 0, false
	}
	sim, err := strconv.Atoi(simArg)
	if err != nil {
		fmt.Fprintln(w, "Bad sim slot (want 1 or 2)")
		return 0, 0, false
	}
	return hostID, sim, true
}

// ---------------------------------------------------------------------------
// Live session
// ---------------------------------------------------------------------------

func (c *Console) cmdConnect(args []string) {
	if len(args) != 2 || (args[0] != "host" && args[0] != "client") {
		fmt.Fprintln(c.rl.Stdout(), "Usage: connect host|client <device-id>")
		return
	}
	if !c.requireLogin() {
		return
	}

	deviceID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		fmt.Fprintln(c.rl.Stdout(), "Bad device id")
		return
	}

	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws != nil {
		fmt.Fprintf(c.rl.Stdout(), "Already connected as %s %d (use 'disconnect' first)\n",
			c.wsRole, c.wsDevice)
		return
	}

	wsURL, err := c.socketURL(args[0], deviceID)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		if resp != nil {
			fmt.Fprintf(c.rl.Stdout(), "Connect failed: %v (HTTP %d)\n", err, resp.StatusCode)
		} else {
			fmt.Fprintf(c.rl.Stdout(), "Connect failed: %v\n", err)
		}
		return
	}

	c.ws = conn
	c.wsDevice = deviceID
	c.wsRole = args[0]
	c.wsDone = make(chan struct{})
	go c.readLoop(conn, c.wsDone)

	fmt.Fprintf(c.rl.Stdout(), "Connected as %s device %d\n", args[0], deviceID)
}

func (c *Console) socketURL(role string, deviceID int64) (string, error) {
	base, err := url.Parse(c.serverURL)
	if err != nil {
		return "", err
	}
	switch base.Scheme {
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	}
	base.Path = fmt.Sprintf("/ws/%s/%d", role, deviceID)
	base.RawQuery = url.Values{"token": {c.token}}.Encode()
	return base.String(), nil
}

// readLoop prints incoming frames and answers protocol pings.
func (c *Console) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			fmt.Fprintf(c.rl.Stdout(), "\nSession closed: %v\n", err)
			c.wsMu.Lock()
			if c.ws == conn {
				c.ws = nil
			}
			c.wsMu.Unlock()
			return
		}

		payload, err := wire.ParsePayload(data)
		if err != nil {
			fmt.Fprintf(c.rl.Stdout(), "\n<< %s\n", data)
			continue
		}

		if payload.Type() == wire.TypePing {
			_ = conn.WriteJSON(wire.NewPong())
			continue
		}
		fmt.Fprintf(c.rl.Stdout(), "\n<< %s\n", data)
	}
}

func (c *Console) cmdDisconnect() {
	c.wsMu.Lock()
	conn := c.ws
	done := c.wsDone
	c.ws = nil
	c.wsMu.Unlock()

	if conn == nil {
		fmt.Fprintln(c.rl.Stdout(), "Not connected")
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = conn.Close()
	if done != nil {
		<-done
	}
	fmt.Fprintln(c.rl.Stdout(), "Disconnected")
}

func (c *Console) cmdSend(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.rl.Stdout(), `Usage: send <json>  e.g. send {"type":"event","kind":"sms_received","from":"+155500","body":"hi"}`)
		return
	}

	c.wsMu.Lock()
	conn := c.ws
	c.wsMu.Unlock()
	if conn == nil {
		fmt.Fprintln(c.rl.Stdout(), "Not connected (use 'connect host|client <id>')")
		return
	}

	raw := strings.Join(args, " ")
	if !json.Valid([]byte(raw)) {
		fmt.Fprintln(c.rl.Stdout(), "Not valid JSON")
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Send failed: %v\n", err)
	}
}

func (c *Console) closeSocket() {
	c.wsMu.Lock()
	conn := c.ws
	c.ws = nil
	c.wsMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// ---------------------------------------------------------------------------
// Discovery and status
// ---------------------------------------------------------------------------

func (c *Console) cmdDiscover() {
	fmt.Fprintln(c.rl.Stdout(), "Browsing for relays (3s)...")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	relays, err := discovery.Browse(ctx)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	if len(relays) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "No relays found")
		return
	}
	for _, r := range relays {
		fmt.Fprintf(c.rl.Stdout(), "  %-20s %s:%d  version %s  %v\n",
			r.Instance, r.Host, r.Port, r.Version, r.Addresses)
	}
}

func (c *Console) cmdStatus() {
	resp, err := c.request(http.MethodGet, "/status", nil)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Relay: %v %v, up %vs, %v live sessions\n",
		resp["name"], resp["version"], resp["uptime_seconds"], resp["sessions"])

	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws != nil {
		fmt.Fprintf(c.rl.Stdout(), "Attached as %s device %d\n", c.wsRole, c.wsDevice)
	} else {
		fmt.Fprintln(c.rl.Stdout(), "No live session attached")
	}
}
