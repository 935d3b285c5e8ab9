package control

import "errors"

// Protocol-level failures. The transport signals all of them to the host the
// same way (a stall on the status stage); the distinction exists for logging
// and for tests.
var (
	// ErrUnsupportedRequest is returned when an opcode has no registry entry.
	ErrUnsupportedRequest = errors.New("unsupported vendor request")

	// ErrInvalidParameters is returned when a handler rejects the request's
	// value/index/length fields.
	ErrInvalidParameters = errors.New("invalid request parameters")

	// ErrNoRequest is returned when a Data or Ack phase arrives without a
	// preceding successful Setup, including after an abort.
	ErrNoRequest = errors.New("no request in flight")
)
