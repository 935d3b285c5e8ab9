package control

import (
	"fmt"
	"log/slog"
)

// Dispatcher drives the three-phase lifecycle of vendor control transfers:
// Setup -> Data -> Ack. The transport is assumed non-reentrant: at most one
// request is in flight, and a new Setup only begins after the previous
// request completed or was aborted by the host.
type Dispatcher struct {
	reg    *Registry
	logger *slog.Logger

	active  *Request
	entry   Entry
	pending bool
}

// NewDispatcher creates a dispatcher over a registry.
func NewDispatcher(reg *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{reg: reg, logger: logger}
}

// Setup begins a new request. It returns the reply payload for
// device-to-host transfers (already truncated to the host's requested
// length) or an error if the request is rejected; a rejected request never
// sees a Data or Ack phase.
//
// If a previous request is still in flight the transport never completed
// it, so it is treated as aborted before the new one starts.
func (d *Dispatcher) Setup(req Request) ([]byte, error) {
	if d.active != nil {
		d.logger.Debug("setup while request in flight, aborting previous", "previous", d.active.String())
		d.Abort()
	}

	entry, ok := d.reg.Lookup(req.Opcode)
	if !ok {
		d.logger.Debug("vendor request not in registry", "request", req.String())
		return nil, fmt.Errorf("opcode 0x%02x: %w", req.Opcode, ErrUnsupportedRequest)
	}

	var res SetupResult
	if entry.Setup != nil {
		var err error
		res, err = entry.Setup(&req)
		if err != nil {
			d.logger.Debug("setup rejected", "request", req.String(), "error", err)
			return nil, fmt.Errorf("%s setup: %w", entry.Name, err)
		}
	}

	d.active = &req
	d.entry = entry
	d.pending = res.Deferred

	data := res.Data
	if req.Dir == DirIn && len(data) > int(req.Length) {
		data = data[:req.Length]
	}
	d.logger.Debug("setup accepted", "request", req.String(), "reply", len(data), "deferred", res.Deferred)
	return data, nil
}

// Data delivers the host-to-device payload of the data stage. A failure
// aborts the transfer: the Ack phase will not run and any deferred action is
// discarded.
func (d *Dispatcher) Data(payload []byte) error {
	if d.active == nil {
		return ErrNoRequest
	}
	if d.entry.Data == nil {
		return nil
	}
	if err := d.entry.Data(d.active, payload); err != nil {
		d.logger.Debug("data stage failed", "request", d.active.String(), "error", err)
		d.Abort()
		return fmt.Errorf("%s data: %w", d.entry.Name, err)
	}
	return nil
}

// Ack completes the request. The host's transaction layer has received the
// status handshake by the time this runs, so deferred actions commit here.
// The request is finished afterwards regardless of the outcome.
func (d *Dispatcher) Ack() error {
	if d.active == nil {
		return ErrNoRequest
	}
	req, entry := d.active, d.entry
	d.clear()

	if entry.Finish == nil {
		return nil
	}
	if err := entry.Finish(req); err != nil {
		d.logger.Debug("finish failed", "request", req.String(), "error", err)
		return fmt.Errorf("%s finish: %w", entry.Name, err)
	}
	return nil
}

// Abort ends the in-flight request without running its Ack phase, as when
// the host cancels the transfer. Deferred actions must not commit; the
// pending marker is cleared unconditionally.
func (d *Dispatcher) Abort() {
	if d.active == nil {
		return
	}
	d.logger.Debug("transfer aborted", "request", d.active.String(), "pending", d.pending)
	d.clear()
}

// InFlight reports whether a request lifecycle is currently open.
func (d *Dispatcher) InFlight() bool { return d.active != nil }

// Pending reports whether the in-flight request has armed a deferred action.
func (d *Dispatcher) Pending() bool { return d.pending }

func (d *Dispatcher) clear() {
	d.active = nil
	d.entry = Entry{}
	d.pending = false
}
