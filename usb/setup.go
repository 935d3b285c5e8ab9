package usb

import (
	"encoding/binary"
	"fmt"
)

// bmRequestType fields.
const (
	TypeStandard = 0
	TypeClass    = 1
	TypeVendor   = 2

	RecipientDevice    = 0
	RecipientInterface = 1
	RecipientEndpoint  = 2
)

// Setup is a decoded 8-byte EP0 setup packet.
type Setup struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// ParseSetup decodes the 8 setup bytes (multi-byte fields little-endian).
func ParseSetup(b []byte) (Setup, error) {
	if len(b) != 8 {
		return Setup{}, fmt.Errorf("setup packet must be 8 bytes, got %d", len(b))
	}
	return Setup{
		RequestType: b[0],
		Request:     b[1],
		Value:       binary.LittleEndian.Uint16(b[2:4]),
		Index:       binary.LittleEndian.Uint16(b[4:6]),
		Length:      binary.LittleEndian.Uint16(b[6:8]),
	}, nil
}

// DirectionIn reports whether the data stage moves device-to-host.
func (s Setup) DirectionIn() bool { return s.RequestType&0x80 != 0 }

// Type returns the request type: TypeStandard, TypeClass or TypeVendor.
func (s Setup) Type() uint8 { return (s.RequestType >> 5) & 0x03 }

// Recipient returns the request recipient field.
func (s Setup) Recipient() uint8 { return s.RequestType & 0x1f }

func (s Setup) String() string {
	return fmt.Sprintf("bmRequestType=0x%02x bRequest=0x%02x wValue=0x%04x wIndex=0x%04x wLength=%d",
		s.RequestType, s.Request, s.Value, s.Index, s.Length)
}
