package control

import "fmt"

// SetupResult is what a setup handler produces on accept.
//
// Data carries the reply payload for device-to-host transfers; the dispatcher
// truncates it to the host's requested length, never pads it. Deferred arms
// the commit-after-ack gate: the entry's Finish handler performs the actual
// side effect once the host has acknowledged the status stage, and the setup
// handler must not have touched shared hardware.
type SetupResult struct {
	Data     []byte
	Deferred bool
}

// SetupFunc validates a request and stages its reply. Returning an error
// rejects the transfer (the host observes a stall).
type SetupFunc func(req *Request) (SetupResult, error)

// DataFunc consumes the host-to-device payload of the data stage.
type DataFunc func(req *Request, payload []byte) error

// FinishFunc runs at the acknowledgment stage. It is the only place a
// deferred action may commit.
type FinishFunc func(req *Request) error

// Entry binds up to three phase handlers to an opcode. Any nil slot defaults
// to "accept, no action".
type Entry struct {
	Name   string
	Setup  SetupFunc
	Data   DataFunc
	Finish FinishFunc
}

// Registry is the immutable opcode table. Exactly one entry per opcode;
// lookups are pure and total.
type Registry struct {
	entries map[uint8]Entry
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[uint8]Entry)}
}

// Register adds an entry for an opcode. Registering the same opcode twice is
// a programming error and panics; the table is assembled once at device
// construction.
func (r *Registry) Register(opcode uint8, e Entry) {
	if _, dup := r.entries[opcode]; dup {
		panic(fmt.Sprintf("control: duplicate registration for opcode 0x%02x", opcode))
	}
	r.entries[opcode] = e
}

// Lookup returns the entry for an opcode, if any.
func (r *Registry) Lookup(opcode uint8) (Entry, bool) {
	e, ok := r.entries[opcode]
	return e, ok
}

// Opcodes returns the number of registered opcodes.
func (r *Registry) Opcodes() int {
	return len(r.entries)
}
