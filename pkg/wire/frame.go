package wire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Frame type values carried in the "type" member.
const (
	TypePing      = "ping"
	TypePong      = "pong"
	TypeConnected = "connected"
	TypeCommand   = "command"
	TypeEvent     = "event"
	TypeWebRTC    = "webrtc"
)

// Payload member names the server reads or writes.
const (
	KeyType       = "type"
	KeyReqID      = "req_id"
	KeyFromDevice = "from_device_id"
	KeyToDevice   = "to_device_id"
)

// EventDeviceOffline is the event name sent to paired peers when a
// device's session ends.
const EventDeviceOffline = "DEVICE_OFFLINE"

// Relayable reports whether t is a frame type peers may send for
// relaying. Pings are permitted inbound but answered rather than
// relayed.
func Relayable(t string) bool {
	switch t {
	case TypeCommand, TypeEvent, TypeWebRTC:
		return true
	default:
		return false
	}
}

// Connected greets a device after its session is bound.
type Connected struct {
	Type     string `json:"type"`
	DeviceID int64  `json:"device_id"`
}

// NewConnected builds the greeting for a device.
func NewConnected(deviceID int64) Connected {
	return Connected{Type: TypeConnected, DeviceID: deviceID}
}

// Ping is the server-initiated heartbeat frame. Clients tolerate it
// silently; they need not reply.
type Ping struct {
	Type string `json:"type"`
}

// NewPing builds a heartbeat frame.
func NewPing() Ping {
	return Ping{Type: TypePing}
}

// Pong answers a peer-initiated ping.
type Pong struct {
	Type string `json:"type"`
}

// NewPong builds a ping answer.
func NewPong() Pong {
	return Pong{Type: TypePong}
}

// OfflineEvent notifies a peer that its paired device disconnected.
type OfflineEvent struct {
	Type     string `json:"type"`
	Event    string `json:"event"`
	DeviceID int64  `json:"device_id"`
}

// NewOfflineEvent builds a DEVICE_OFFLINE notification for the
// departed device.
func NewOfflineEvent(deviceID int64) OfflineEvent {
	return OfflineEvent{Type: TypeEvent, Event: EventDeviceOffline, DeviceID: deviceID}
}

// ErrorFrame is sent back on the same socket when an inbound frame
// cannot be handled.
type ErrorFrame struct {
	Error          string `json:"error"`
	TargetDeviceID int64  `json:"target_device_id,omitempty"`
	ReqID          string `json:"req_id,omitempty"`
}

// NewError builds a plain error reply.
func NewError(msg string) ErrorFrame {
	return ErrorFrame{Error: msg}
}

// NewInvalidType builds the reply for an unrecognized frame type.
func NewInvalidType(t string) ErrorFrame {
	return ErrorFrame{Error: fmt.Sprintf("invalid message type: %s", t)}
}

// NewTargetOffline builds the reply for a frame whose target has no
// live session and cannot be queued.
func NewTargetOffline(targetDeviceID int64, reqID string) ErrorFrame {
	return ErrorFrame{Error: "target_offline", TargetDeviceID: targetDeviceID, ReqID: reqID}
}

// QueuedAck tells a sender its frame was persisted for a disconnected
// host.
type QueuedAck struct {
	Status string `json:"status"`
	ReqID  string `json:"req_id"`
}

// NewQueuedAck builds a queue acknowledgment.
func NewQueuedAck(reqID string) QueuedAck {
	return QueuedAck{Status: "queued", ReqID: reqID}
}

// Payload is an opaque relayed frame, decoded just far enough to route
// it.
type Payload map[string]any

// ParsePayload decodes raw as a JSON object.
func ParsePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("invalid JSON: not an object")
	}
	return p, nil
}

// Marshal serializes the payload for the socket and the message log.
func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// Type returns the "type" member, or "" when absent or not a string.
func (p Payload) Type() string {
	t, _ := p[KeyType].(string)
	return t
}

// ReqID returns the request id, or "" when absent.
func (p Payload) ReqID() string {
	id, _ := p[KeyReqID].(string)
	return id
}

// EnsureReqID attaches a fresh request id when the payload has none,
// and returns the id in effect.
func (p Payload) EnsureReqID() string {
	if id := p.ReqID(); id != "" {
		return id
	}
	id := uuid.NewString()
	p[KeyReqID] = id
	return id
}

// StampFrom records the sending device on the payload. Always called
// server-side before forwarding; peers cannot spoof it.
func (p Payload) StampFrom(deviceID int64) {
	p[KeyFromDevice] = deviceID
}

// TargetDevice returns the explicit "to_device_id" member, if present
// as a positive number. JSON numbers decode as float64.
func (p Payload) TargetDevice() (int64, bool) {
	v, ok := p[KeyToDevice]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		if n > 0 && n == float64(int64(n)) {
			return int64(n), true
		}
	case json.Number:
		if id, err := n.Int64(); err == nil && id > 0 {
			return id, true
		}
	}
	return 0, false
}
