// Package client drives a probe from the host side, issuing the vendor
// control requests of the wire contract over either USB-IP (against an
// exported probe) or libusb (against real hardware).
package client

import "errors"

// ErrStalled is returned when the probe rejects a request. Rejection is
// only visible as a stalled status stage; there is no error payload.
var ErrStalled = errors.New("client: request stalled by device")

// bmRequestType values for vendor requests addressed to the device.
const (
	requestTypeVendorOut = 0x40
	requestTypeVendorIn  = 0xc0
)

// Transport performs vendor control transfers against one device.
//
// For device-to-host requests (in=true) data is the receive buffer and the
// returned count is how many bytes the device supplied; for host-to-device
// requests data is the payload to send.
type Transport interface {
	Control(in bool, request uint8, value, index uint16, data []byte) (int, error)
	Close() error
}
