// Package control implements the vendor control-request core of the probe:
// the opcode registry, the three-phase stage dispatcher and the
// commit-after-ack gate for side effects that must not fire before the host
// has acknowledged the transfer.
package control

import "fmt"

// Direction of a control transfer, as seen from the host.
type Direction uint8

const (
	// DirOut is host-to-device.
	DirOut Direction = iota
	// DirIn is device-to-host.
	DirIn
)

func (d Direction) String() string {
	if d == DirIn {
		return "in"
	}
	return "out"
}

// Request describes one vendor control transfer in flight. It is built from
// the transport's setup packet and is read-only for handlers.
type Request struct {
	Opcode uint8
	Value  uint16
	Index  uint16
	Length uint16
	Dir    Direction
}

func (r Request) String() string {
	return fmt.Sprintf("op=0x%02x value=0x%04x index=0x%04x len=%d dir=%s",
		r.Opcode, r.Value, r.Index, r.Length, r.Dir)
}
