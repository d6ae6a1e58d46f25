// Package store provides SQLite persistence for users, devices, pairings,
// pairing codes, message logs and pending commands.
package store

import (
	"errors"
	"time"
)

// Sentinel errors returned by store lookups and writes.
var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert violates a uniqueness
	// constraint (username, federated id, pairing).
	ErrDuplicate = errors.New("duplicate")
)

// DeviceRole distinguishes the two ends of a pairing.
type DeviceRole string

const (
	// RoleHost is the device holding the SIM and modem; it receives commands.
	RoleHost DeviceRole = "host"

	// RoleClient is the device issuing commands; it receives events.
	RoleClient DeviceRole = "client"
)

// Valid reports whether the role is one of the two known roles.
func (r DeviceRole) Valid() bool {
	return r == RoleHost || r == RoleClient
}

// Opposite returns the peer role.
func (r DeviceRole) Opposite() DeviceRole {
	if r == RoleHost {
		return RoleClient
	}
	return RoleHost
}

// MessageKind classifies a logged message.
type MessageKind string

const (
	KindCommand MessageKind = "command"
	KindEvent   MessageKind = "event"
	KindWebRTC  MessageKind = "webrtc"
	KindPing    MessageKind = "ping"
	KindUnknown MessageKind = "unknown"
)

// KindOf maps a frame type string to a MessageKind, falling back to
// KindUnknown for anything unrecognized.
func KindOf(frameType string) MessageKind {
	switch MessageKind(frameType) {
	case KindCommand, KindEvent, KindWebRTC, KindPing:
		return MessageKind(frameType)
	default:
		return KindUnknown
	}
}

// User is an account that owns devices.
// At least one of PasswordHash or FederatedID is always set.
type User struct {
	ID           int64
	Username     string
	PasswordHash *string
	Email        *string
	FederatedID  *string
	CreatedAt    time.Time
}

// Device belongs to a user and has a fixed role.
// Whether a device is online is never stored; it is computed from the
// session registry.
type Device struct {
	ID          int64
	OwnerUserID int64
	Name        string
	Role        DeviceRole
	LastSeenAt  *time.Time
	CreatedAt   time.Time
}

// PairingCode is a short-lived 6-digit secret issued for a host device.
type PairingCode struct {
	ID           int64
	OwnerUserID  int64
	HostDeviceID int64
	Code         string
	ExpiresAt    time.Time
	Used         bool
	CreatedAt    time.Time
}

// Pairing links one host device to one client device of the same owner.
type Pairing struct {
	ID             int64
	HostDeviceID   int64
	ClientDeviceID int64
	CreatedAt      time.Time
}

// MessageLog records one relayed message. Append-only.
type MessageLog struct {
	ID           int64
	FromDeviceID int64
	ToDeviceID   int64
	Kind         MessageKind
	Payload      string
	CreatedAt    time.Time
}

// PendingCommand is a command addressed to a disconnected host, held for
// delivery on its next connect.
type PendingCommand struct {
	ID           int64
	HostDeviceID int64
	FromDeviceID int64
	Payload      string
	Delivered    bool
	CreatedAt    time.Time
}
