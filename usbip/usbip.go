// Package usbip implements the USB-IP wire protocol structures shared by
// the server and the host-side client. All integers are big-endian on the
// wire.
package usbip

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Wire constants
const (
	Version = 0x0111

	// Management commands
	OpReqDevlist = 0x8005
	OpRepDevlist = 0x0005
	OpReqImport  = 0x8003
	OpRepImport  = 0x0003

	// URB transfer commands
	CmdSubmitCode = 0x00000001
	CmdUnlinkCode = 0x00000002
	RetSubmitCode = 0x00000003
	RetUnlinkCode = 0x00000004

	// Directions used in usbip_header_basic.direction
	DirOut = 0x00000000
	DirIn  = 0x00000001

	// URB header length for CMD/RET_SUBMIT and CMD/RET_UNLINK
	HeaderLen = 0x30

	// BusIDLen is the fixed size of the bus id field in import requests.
	BusIDLen = 32
)

// Status codes reported in RET_SUBMIT/RET_UNLINK, following Linux URB
// status conventions.
const (
	StatusOK        = 0
	StatusStalled   = -32  // -EPIPE: endpoint stalled the transfer
	StatusConnReset = -104 // -ECONNRESET: transfer unlinked
)

// MgmtHeader is the 8-byte header for management ops (devlist/import).
type MgmtHeader struct {
	Version uint16
	Command uint16
	Status  uint32
}

func (h *MgmtHeader) Write(w io.Writer) error {
	var buf [8]byte
	binary.BigEndian.PutUint16(buf[0:2], h.Version)
	binary.BigEndian.PutUint16(buf[2:4], h.Command)
	binary.BigEndian.PutUint32(buf[4:8], h.Status)
	_, err := w.Write(buf[:])
	return err
}

func (h *MgmtHeader) Read(r io.Reader) error {
	var buf [8]byte
	if err := ReadExactly(r, buf[:]); err != nil {
		return err
	}
	h.Version = binary.BigEndian.Uint16(buf[0:2])
	h.Command = binary.BigEndian.Uint16(buf[2:4])
	h.Status = binary.BigEndian.Uint32(buf[4:8])
	return nil
}

// DevListReplyHeader is the header after MgmtHeader for OP_REP_DEVLIST.
type DevListReplyHeader struct {
	NDevices uint32
}

func (d *DevListReplyHeader) Write(w io.Writer) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], d.NDevices)
	_, err := w.Write(buf[:])
	return err
}

func (d *DevListReplyHeader) Read(r io.Reader) error {
	var buf [4]byte
	if err := ReadExactly(r, buf[:]); err != nil {
		return err
	}
	d.NDevices = binary.BigEndian.Uint32(buf[:])
	return nil
}

// ExportMeta carries USB-IP bus identity for an exported device. The
// fixed-size arrays match the wire format.
type ExportMeta struct {
	Path     [256]byte
	USBBusID [BusIDLen]byte
	BusID    uint32
	DevID    uint32
}

// BusIDString returns the NUL-trimmed bus id.
func (m *ExportMeta) BusIDString() string {
	return trimNul(m.USBBusID[:])
}

func trimNul(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// ExportedDevice describes one exported device in devlist/import replies.
type ExportedDevice struct {
	ExportMeta
	Speed uint32

	IDVendor            uint16
	IDProduct           uint16
	BcdDevice           uint16
	BDeviceClass        uint8
	BDeviceSubClass     uint8
	BDeviceProtocol     uint8
	BConfigurationValue uint8
	BNumConfigurations  uint8
	BNumInterfaces      uint8

	// Interfaces are only present in devlist replies.
	Interfaces []InterfaceDesc
}

type InterfaceDesc struct {
	Class    uint8
	SubClass uint8
	Protocol uint8
}

func (d *ExportedDevice) writeCommon(w io.Writer) error {
	ew := errWriter{w: w}
	ew.bytes(d.Path[:])
	ew.bytes(d.USBBusID[:])
	ew.u32(d.BusID)
	ew.u32(d.DevID)
	ew.u32(d.Speed)
	ew.u16(d.IDVendor)
	ew.u16(d.IDProduct)
	ew.u16(d.BcdDevice)
	ew.bytes([]byte{
		d.BDeviceClass,
		d.BDeviceSubClass,
		d.BDeviceProtocol,
		d.BConfigurationValue,
		d.BNumConfigurations,
		d.BNumInterfaces,
	})
	return ew.err
}

// WriteDevlist writes the device entry for OP_REP_DEVLIST (with interface
// triplets).
func (d *ExportedDevice) WriteDevlist(w io.Writer) error {
	if err := d.writeCommon(w); err != nil {
		return err
	}
	for _, iface := range d.Interfaces {
		if _, err := w.Write([]byte{iface.Class, iface.SubClass, iface.Protocol, 0}); err != nil {
			return err
		}
	}
	return nil
}

// WriteImport writes the device entry for OP_REP_IMPORT (ends at
// bNumInterfaces).
func (d *ExportedDevice) WriteImport(w io.Writer) error {
	return d.writeCommon(w)
}

// ReadDevice parses a device entry. withInterfaces selects the devlist
// variant, which carries one 4-byte triplet per interface.
func ReadDevice(r io.Reader, withInterfaces bool) (*ExportedDevice, error) {
	var base [312]byte
	if err := ReadExactly(r, base[:]); err != nil {
		return nil, err
	}
	d := &ExportedDevice{}
	copy(d.Path[:], base[0:256])
	copy(d.USBBusID[:], base[256:288])
	d.BusID = binary.BigEndian.Uint32(base[288:292])
	d.DevID = binary.BigEndian.Uint32(base[292:296])
	d.Speed = binary.BigEndian.Uint32(base[296:300])
	d.IDVendor = binary.BigEndian.Uint16(base[300:302])
	d.IDProduct = binary.BigEndian.Uint16(base[302:304])
	d.BcdDevice = binary.BigEndian.Uint16(base[304:306])
	d.BDeviceClass = base[306]
	d.BDeviceSubClass = base[307]
	d.BDeviceProtocol = base[308]
	d.BConfigurationValue = base[309]
	d.BNumConfigurations = base[310]
	d.BNumInterfaces = base[311]

	if withInterfaces {
		for i := 0; i < int(d.BNumInterfaces); i++ {
			var trip [4]byte
			if err := ReadExactly(r, trip[:]); err != nil {
				return nil, err
			}
			d.Interfaces = append(d.Interfaces, InterfaceDesc{Class: trip[0], SubClass: trip[1], Protocol: trip[2]})
		}
	}
	return d, nil
}

// HeaderBasic is common to all URB cmds and replies.
type HeaderBasic struct {
	Command uint32
	Seqnum  uint32
	Devid   uint32
	Dir     uint32
	Ep      uint32
}

func (h *HeaderBasic) write(ew *errWriter) {
	ew.u32(h.Command)
	ew.u32(h.Seqnum)
	ew.u32(h.Devid)
	ew.u32(h.Dir)
	ew.u32(h.Ep)
}

func (h *HeaderBasic) parse(b []byte) {
	h.Command = binary.BigEndian.Uint32(b[0:4])
	h.Seqnum = binary.BigEndian.Uint32(b[4:8])
	h.Devid = binary.BigEndian.Uint32(b[8:12])
	h.Dir = binary.BigEndian.Uint32(b[12:16])
	h.Ep = binary.BigEndian.Uint32(b[16:20])
}

// CmdSubmit is the URB submission header (0x30 bytes before any payload).
type CmdSubmit struct {
	Basic             HeaderBasic
	TransferFlags     uint32
	TransferBufferLen uint32
	StartFrame        uint32
	NumberOfPackets   uint32
	Interval          uint32
	Setup             [8]byte
}

func (c *CmdSubmit) Write(w io.Writer) error {
	ew := errWriter{w: w}
	c.Basic.write(&ew)
	ew.u32(c.TransferFlags)
	ew.u32(c.TransferBufferLen)
	ew.u32(c.StartFrame)
	ew.u32(c.NumberOfPackets)
	ew.u32(c.Interval)
	ew.bytes(c.Setup[:])
	return ew.err
}

// ParseCmdSubmit decodes a CMD_SUBMIT header from its 0x30 raw bytes.
func ParseCmdSubmit(b []byte) (*CmdSubmit, error) {
	if len(b) != HeaderLen {
		return nil, fmt.Errorf("usbip: CMD_SUBMIT header must be %d bytes, got %d", HeaderLen, len(b))
	}
	c := &CmdSubmit{}
	c.Basic.parse(b)
	c.TransferFlags = binary.BigEndian.Uint32(b[0x14:0x18])
	c.TransferBufferLen = binary.BigEndian.Uint32(b[0x18:0x1c])
	c.StartFrame = binary.BigEndian.Uint32(b[0x1c:0x20])
	c.NumberOfPackets = binary.BigEndian.Uint32(b[0x20:0x24])
	c.Interval = binary.BigEndian.Uint32(b[0x24:0x28])
	copy(c.Setup[:], b[0x28:0x30])
	return c, nil
}

// RetSubmit is the URB completion header (0x30 bytes before any payload).
type RetSubmit struct {
	Basic           HeaderBasic
	Status          int32
	ActualLength    uint32
	StartFrame      uint32
	NumberOfPackets uint32
	ErrorCount      uint32
	Padding         [8]byte
}

func (r *RetSubmit) Write(w io.Writer) error {
	ew := errWriter{w: w}
	r.Basic.write(&ew)
	ew.u32(uint32(r.Status))
	ew.u32(r.ActualLength)
	ew.u32(r.StartFrame)
	ew.u32(r.NumberOfPackets)
	ew.u32(r.ErrorCount)
	ew.bytes(r.Padding[:])
	return ew.err
}

// ParseRetSubmit decodes a RET_SUBMIT header from its 0x30 raw bytes.
func ParseRetSubmit(b []byte) (*RetSubmit, error) {
	if len(b) != HeaderLen {
		return nil, fmt.Errorf("usbip: RET_SUBMIT header must be %d bytes, got %d", HeaderLen, len(b))
	}
	r := &RetSubmit{}
	r.Basic.parse(b)
	r.Status = int32(binary.BigEndian.Uint32(b[0x14:0x18]))
	r.ActualLength = binary.BigEndian.Uint32(b[0x18:0x1c])
	r.StartFrame = binary.BigEndian.Uint32(b[0x1c:0x20])
	r.NumberOfPackets = binary.BigEndian.Uint32(b[0x20:0x24])
	r.ErrorCount = binary.BigEndian.Uint32(b[0x24:0x28])
	copy(r.Padding[:], b[0x28:0x30])
	return r, nil
}

// CmdUnlink asks the device to cancel a previously submitted URB.
type CmdUnlink struct {
	Basic        HeaderBasic
	UnlinkSeqnum uint32
	Padding      [24]byte
}

func (c *CmdUnlink) Write(w io.Writer) error {
	ew := errWriter{w: w}
	c.Basic.write(&ew)
	ew.u32(c.UnlinkSeqnum)
	ew.bytes(c.Padding[:])
	return ew.err
}

// RetUnlink reports the outcome of an unlink.
type RetUnlink struct {
	Basic   HeaderBasic
	Status  int32
	Padding [24]byte
}

func (r *RetUnlink) Write(w io.Writer) error {
	ew := errWriter{w: w}
	r.Basic.write(&ew)
	ew.u32(uint32(r.Status))
	ew.bytes(r.Padding[:])
	return ew.err
}

// ReadExactly fills buf completely or returns the read error.
func ReadExactly(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}

// errWriter batches big-endian writes and remembers the first error.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) u16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	ew.bytes(b[:])
}

func (ew *errWriter) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	ew.bytes(b[:])
}

func (ew *errWriter) bytes(b []byte) {
	if ew.err != nil {
		return
	}
	_, ew.err = ew.w.Write(b)
}
