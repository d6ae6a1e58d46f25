// Package session tracks live device sockets.
//
// It provides:
//   - Session: one WebSocket bound to a device, with serialized writes
//     and idempotent close
//   - Registry: the process-local device_id → session map; binding is
//     exclusive, so a reconnect evicts the previous session
//   - Heartbeat: the server-side ping loop that keeps intermediaries
//     from idling out a connection
//
// Liveness is never persisted. A device is online exactly when the
// registry holds a session for it.
package session
