package tracelog

import "time"

// Event is one traced occurrence: a session lifecycle change, a frame
// moved on a socket, or a queue interaction.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the session (UUID).
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	// DeviceID is the device the session belongs to, or the frame's
	// target for queue events.
	DeviceID int64 `cbor:"3,keyasint,omitempty"`

	// Direction indicates frame flow relative to the relay.
	Direction Direction `cbor:"4,keyasint"`

	// Category classifies the event.
	Category Category `cbor:"5,keyasint"`

	// Kind is the frame's type member (command, event, webrtc, ping),
	// when the event carries a frame.
	Kind string `cbor:"6,keyasint,omitempty"`

	// ReqID correlates the frame end to end.
	ReqID string `cbor:"7,keyasint,omitempty"`

	// Payload is the raw JSON frame (may be truncated for large frames).
	Payload []byte `cbor:"8,keyasint,omitempty"`

	// Detail carries free-text context (close reason, error text).
	Detail string `cbor:"9,keyasint,omitempty"`
}

// Direction indicates the direction of frame flow.
type Direction uint8

const (
	// DirectionIn indicates a frame received from a device.
	DirectionIn Direction = 0
	// DirectionOut indicates a frame sent to a device.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryFrame indicates a frame moved on a live socket.
	CategoryFrame Category = 0
	// CategorySession indicates a session lifecycle change
	// (bind, unbind, eviction).
	CategorySession Category = 1
	// CategoryQueue indicates a pending-command enqueue or drain.
	CategoryQueue Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryFrame:
		return "FRAME"
	case CategorySession:
		return "SESSION"
	case CategoryQueue:
		return "QUEUE"
	default:
		return "UNKNOWN"
	}
}
