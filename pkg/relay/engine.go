package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/simbridge-dev/simbridge-go/pkg/session"
	"github.com/simbridge-dev/simbridge-go/pkg/store"
	"github.com/simbridge-dev/simbridge-go/pkg/tracelog"
	"github.com/simbridge-dev/simbridge-go/pkg/wire"
)

// Relay errors.
var (
	// ErrNoClientDevice means the caller owns no client device to
	// attribute the command to.
	ErrNoClientDevice = errors.New("no client device registered")

	// ErrNotPaired means no pairing exists between the caller's client
	// and the target host.
	ErrNotPaired = errors.New("devices are not paired")

	// ErrHostNotYours means the target host does not belong to the
	// caller.
	ErrHostNotYours = errors.New("host device not found or not yours")

	// ErrDeliveryFailed means the target had a live session but the
	// socket send failed. The frame is not queued; a live but broken
	// session is a transient error the caller should see.
	ErrDeliveryFailed = errors.New("failed to deliver command to host")

	// ErrTargetOffline means the target is a client with no live
	// session. Frames to offline clients are never queued.
	ErrTargetOffline = errors.New("target device offline")
)

// Delivery statuses.
const (
	StatusSent   = "sent"
	StatusQueued = "queued"
)

// Result reports how a frame was moved and under which request id.
type Result struct {
	Status string
	ReqID  string
}

// Engine routes frames between paired devices. It holds no state of
// its own; all durable state lives in the store and all live state in
// the registry.
type Engine struct {
	store    *store.Store
	registry *session.Registry
	trace    tracelog.Logger
	logger   *slog.Logger
}

// NewEngine creates a relay engine. The trace logger may be nil to
// disable tracing; the slog logger may be nil to disable operational
// logging.
func NewEngine(st *store.Store, reg *session.Registry, trace tracelog.Logger, logger *slog.Logger) *Engine {
	if trace == nil {
		trace = tracelog.NoopLogger{}
	}
	return &Engine{store: st, registry: reg, trace: trace, logger: logger}
}

// AuthorizeCommand checks that the caller may command the host and
// picks the device the command is attributed to: the caller's first
// client device. Returns that device's id.
func (e *Engine) AuthorizeCommand(ctx context.Context, userID, hostDeviceID int64) (int64, error) {
	client, err := e.store.FirstClientDevice(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrNoClientDevice
		}
		return 0, err
	}

	if _, err := e.store.PairingByDevices(ctx, hostDeviceID, client.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrNotPaired
		}
		return 0, err
	}

	host, err := e.store.DeviceByID(ctx, hostDeviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrHostNotYours
		}
		return 0, err
	}
	if host.OwnerUserID != userID {
		return 0, ErrHostNotYours
	}

	return client.ID, nil
}

// Relay moves one payload to the target device: live delivery when the
// target has a session, the pending queue when an offline target is a
// host, ErrTargetOffline when it is a client. Every frame is logged
// before delivery; log failures never fail the call.
func (e *Engine) Relay(ctx context.Context, targetDeviceID int64, targetRole store.DeviceRole, payload wire.Payload, fromDeviceID int64) (*Result, error) {
	reqID := payload.EnsureReqID()
	kind := store.KindOf(payload.Type())

	data, err := payload.Marshal()
	if err != nil {
		return nil, err
	}

	sess := e.registry.Lookup(targetDeviceID)

	e.appendLog(ctx, fromDeviceID, targetDeviceID, kind, string(data))

	if sess != nil {
		if err := sess.SendText(data); err != nil {
			if e.logger != nil {
				e.logger.Error("failed to deliver frame",
					"target_device_id", targetDeviceID, "req_id", reqID, "err", err)
			}
			return nil, ErrDeliveryFailed
		}
		e.trace.Log(tracelog.Event{
			Timestamp:    time.Now(),
			ConnectionID: sess.ID,
			DeviceID:     targetDeviceID,
			Direction:    tracelog.DirectionOut,
			Category:     tracelog.CategoryFrame,
			Kind:         string(kind),
			ReqID:        reqID,
			Payload:      data,
		})
		return &Result{Status: StatusSent, ReqID: reqID}, nil
	}

	if targetRole == store.RoleHost {
		pending := &store.PendingCommand{
			HostDeviceID: targetDeviceID,
			FromDeviceID: fromDeviceID,
			Payload:      string(data),
		}
		if err := e.store.EnqueuePending(ctx, pending); err != nil {
			// The caller still sees "queued"; the command is lost but
			// the message log has the record.
			if e.logger != nil {
				e.logger.Error("failed to queue command",
					"host_device_id", targetDeviceID, "req_id", reqID, "err", err)
			}
		} else {
			e.trace.Log(tracelog.Event{
				Timestamp: time.Now(),
				DeviceID:  targetDeviceID,
				Direction: tracelog.DirectionOut,
				Category:  tracelog.CategoryQueue,
				Kind:      string(kind),
				ReqID:     reqID,
				Payload:   data,
			})
		}
		return &Result{Status: StatusQueued, ReqID: reqID}, nil
	}

	return nil, ErrTargetOffline
}

// appendLog records the frame in the message log. Failures are logged
// and swallowed so a logging problem never breaks delivery.
func (e *Engine) appendLog(ctx context.Context, fromDeviceID, toDeviceID int64, kind store.MessageKind, payload string) {
	m := &store.MessageLog{
		FromDeviceID: fromDeviceID,
		ToDeviceID:   toDeviceID,
		Kind:         kind,
		Payload:      payload,
	}
	if err := e.store.AppendMessage(ctx, m); err != nil {
		if e.logger != nil {
			e.logger.Error("failed to log message",
				"from_device_id", fromDeviceID, "to_device_id", toDeviceID, "err", err)
		}
	}
}
