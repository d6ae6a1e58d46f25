package relay

import (
	"context"
	"errors"
	"time"

	"github.com/simbridge-dev/simbridge-go/pkg/session"
	"github.com/simbridge-dev/simbridge-go/pkg/store"
	"github.com/simbridge-dev/simbridge-go/pkg/tracelog"
	"github.com/simbridge-dev/simbridge-go/pkg/wire"
)

// HandleFrame processes one inbound frame from a live session: answers
// pings, validates the type, resolves the target (explicit
// to_device_id or the sender's sole pairing), stamps the sender's
// device id and relays. Errors are reported to the sender on its own
// socket; HandleFrame itself only returns an error when the reply send
// fails too, which the read loop treats as a dead socket.
func (e *Engine) HandleFrame(ctx context.Context, sender *session.Session, raw []byte) error {
	payload, err := wire.ParsePayload(raw)
	if err != nil {
		return sender.SendJSON(wire.NewError("invalid JSON"))
	}

	frameType := payload.Type()
	if frameType == wire.TypePing {
		return sender.SendJSON(wire.NewPong())
	}
	if !wire.Relayable(frameType) {
		return sender.SendJSON(wire.NewInvalidType(frameType))
	}

	e.trace.Log(tracelog.Event{
		Timestamp:    time.Now(),
		ConnectionID: sender.ID,
		DeviceID:     sender.DeviceID,
		Direction:    tracelog.DirectionIn,
		Category:     tracelog.CategoryFrame,
		Kind:         frameType,
		ReqID:        payload.ReqID(),
		Payload:      raw,
	})

	targetID, targetRole, err := e.resolveTarget(ctx, sender, payload)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if sender.Role == store.RoleClient {
				return sender.SendJSON(wire.NewError("no paired host"))
			}
			return sender.SendJSON(wire.NewError("no paired client"))
		}
		if e.logger != nil {
			e.logger.Error("failed to resolve relay target",
				"device_id", sender.DeviceID, "err", err)
		}
		return nil
	}

	payload.StampFrom(sender.DeviceID)

	result, err := e.Relay(ctx, targetID, targetRole, payload, sender.DeviceID)
	switch {
	case err == nil:
		if result.Status == StatusQueued {
			return sender.SendJSON(wire.NewQueuedAck(result.ReqID))
		}
		return nil
	case errors.Is(err, ErrTargetOffline):
		return sender.SendJSON(wire.NewTargetOffline(targetID, payload.ReqID()))
	case errors.Is(err, ErrDeliveryFailed):
		// Transient socket error on the target; nothing useful to tell
		// the sender beyond the logged error.
		return nil
	default:
		if e.logger != nil {
			e.logger.Error("relay failed",
				"device_id", sender.DeviceID, "target_device_id", targetID, "err", err)
		}
		return nil
	}
}

// resolveTarget picks the device a frame is addressed to. An explicit
// to_device_id wins; otherwise the sender's sole pairing decides.
// Returns store.ErrNotFound when the sender has no pairing or the
// explicit target does not exist.
func (e *Engine) resolveTarget(ctx context.Context, sender *session.Session, payload wire.Payload) (int64, store.DeviceRole, error) {
	if targetID, ok := payload.TargetDevice(); ok {
		target, err := e.store.DeviceByID(ctx, targetID)
		if err != nil {
			return 0, "", err
		}
		return target.ID, target.Role, nil
	}

	p, err := e.store.FirstPairingForDevice(ctx, sender.DeviceID, sender.Role)
	if err != nil {
		return 0, "", err
	}
	if sender.Role == store.RoleClient {
		return p.HostDeviceID, store.RoleHost, nil
	}
	return p.ClientDeviceID, store.RoleClient, nil
}
