// Package wire defines the JSON frames exchanged over device sockets.
//
// The server originates a small, fixed set of frames (connected, ping,
// pong, the DEVICE_OFFLINE event, error replies); these are typed
// structs. Everything relayed between peers is an opaque JSON object
// represented as a Payload, which the server never interprets beyond
// its type, target and request id — but always stamps with the sender's
// device id before forwarding.
package wire
