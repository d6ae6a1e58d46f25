// Package tracelog provides a binary trace of every frame the relay
// moves.
//
// This is separate from operational logging (slog): the trace is a
// complete machine-readable record of session lifecycles and relayed
// frames, written as a CBOR stream for offline analysis with the
// simbridge-trace tool.
//
// Applications configure tracing by providing a Logger implementation:
//
//	// Production: write to a binary file
//	trace, _ := tracelog.NewFileLogger("/var/log/simbridge/relay.strace")
//
//	// Disabled
//	trace := tracelog.NoopLogger{}
//
//	// Several sinks at once
//	trace := tracelog.NewMultiLogger(fileLogger, otherLogger)
//
// Trace files use CBOR encoding with integer map keys for compactness.
package tracelog
