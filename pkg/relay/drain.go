package relay

import (
	"context"
	"time"

	"github.com/simbridge-dev/simbridge-go/pkg/session"
	"github.com/simbridge-dev/simbridge-go/pkg/store"
	"github.com/simbridge-dev/simbridge-go/pkg/tracelog"
	"github.com/simbridge-dev/simbridge-go/pkg/wire"
)

// DrainPending delivers the host's undelivered queued commands in
// insertion order. A send failure aborts the drain; whatever prefix
// went out is marked delivered, and the rest waits for the next
// connect. Returns the number of delivered commands.
func (e *Engine) DrainPending(ctx context.Context, host *session.Session) (int, error) {
	pending, err := e.store.PendingForHost(ctx, host.DeviceID)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var delivered []int64
	for _, cmd := range pending {
		if err := host.SendText([]byte(cmd.Payload)); err != nil {
			break
		}
		delivered = append(delivered, cmd.ID)

		e.trace.Log(tracelog.Event{
			Timestamp:    time.Now(),
			ConnectionID: host.ID,
			DeviceID:     host.DeviceID,
			Direction:    tracelog.DirectionOut,
			Category:     tracelog.CategoryQueue,
			Payload:      []byte(cmd.Payload),
			Detail:       "drained",
		})
	}

	if len(delivered) == 0 {
		return 0, nil
	}

	if err := e.store.MarkPendingDelivered(ctx, delivered); err != nil {
		// The commands went out; failing to mark them risks redelivery
		// on the next connect, which at-least-once permits.
		if e.logger != nil {
			e.logger.Error("failed to mark pending commands delivered",
				"host_device_id", host.DeviceID, "count", len(delivered), "err", err)
		}
		return len(delivered), err
	}

	if e.logger != nil {
		e.logger.Info("delivered queued commands",
			"host_device_id", host.DeviceID, "count", len(delivered))
	}

	return len(delivered), nil
}

// NotifyOffline tells every live paired peer of the departed device
// that it went offline. Send failures are ignored; a peer that missed
// the event will notice on its own when commands start queueing.
func (e *Engine) NotifyOffline(ctx context.Context, deviceID int64, role store.DeviceRole) {
	pairings, err := e.store.PairingsForDevice(ctx, deviceID, role)
	if err != nil {
		if e.logger != nil {
			e.logger.Error("failed to look up pairings for offline notify",
				"device_id", deviceID, "err", err)
		}
		return
	}

	for _, p := range pairings {
		peerID := p.ClientDeviceID
		if role == store.RoleClient {
			peerID = p.HostDeviceID
		}

		peer := e.registry.Lookup(peerID)
		if peer == nil {
			continue
		}
		_ = peer.SendJSON(wire.NewOfflineEvent(deviceID))
	}
}
