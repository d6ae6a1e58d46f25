// Package relay routes frames between paired devices.
//
// The engine is stateless: it resolves the target through the store,
// checks the registry for a live session, logs every relayed frame,
// and falls back to the durable pending queue when a host is offline.
// Queued commands drain FIFO on the host's next connect.
package relay
