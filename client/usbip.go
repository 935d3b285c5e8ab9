package client

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/marlin-probe/marlin/usbip"
)

// USBIPTransport issues control transfers over an attached USB-IP device
// connection. It is not safe for concurrent use; the probe protocol is
// strictly sequential anyway.
type USBIPTransport struct {
	conn net.Conn
	dev  *usbip.ExportedDevice
	seq  uint32
}

// ListDevices queries a USB-IP server for its exported devices.
func ListDevices(addr string) ([]*usbip.ExportedDevice, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := usbip.MgmtHeader{Version: usbip.Version, Command: usbip.OpReqDevlist}
	if err := req.Write(conn); err != nil {
		return nil, err
	}

	var rep usbip.MgmtHeader
	if err := rep.Read(conn); err != nil {
		return nil, err
	}
	if rep.Version != usbip.Version || rep.Command != usbip.OpRepDevlist {
		return nil, fmt.Errorf("unexpected devlist reply %04x/%04x", rep.Version, rep.Command)
	}
	if rep.Status != 0 {
		return nil, fmt.Errorf("devlist failed with status %d", rep.Status)
	}

	var hdr usbip.DevListReplyHeader
	if err := hdr.Read(conn); err != nil {
		return nil, err
	}
	devices := make([]*usbip.ExportedDevice, 0, hdr.NDevices)
	for i := uint32(0); i < hdr.NDevices; i++ {
		dev, err := usbip.ReadDevice(conn, true)
		if err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// DialUSBIP attaches to the device with the given bus id (e.g. "1-1") on a
// USB-IP server and returns a transport bound to it.
func DialUSBIP(addr, busID string) (*USBIPTransport, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	req := usbip.MgmtHeader{Version: usbip.Version, Command: usbip.OpReqImport}
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}
	var bus [usbip.BusIDLen]byte
	copy(bus[:], busID)
	if _, err := conn.Write(bus[:]); err != nil {
		conn.Close()
		return nil, err
	}

	var rep usbip.MgmtHeader
	if err := rep.Read(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if rep.Version != usbip.Version || rep.Command != usbip.OpRepImport {
		conn.Close()
		return nil, fmt.Errorf("unexpected import reply %04x/%04x", rep.Version, rep.Command)
	}
	if rep.Status != 0 {
		conn.Close()
		return nil, fmt.Errorf("import of %s failed with status %d", busID, rep.Status)
	}
	dev, err := usbip.ReadDevice(conn, false)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &USBIPTransport{conn: conn, dev: dev}, nil
}

// Device returns the import-time device description.
func (t *USBIPTransport) Device() *usbip.ExportedDevice { return t.dev }

func (t *USBIPTransport) Close() error { return t.conn.Close() }

func (t *USBIPTransport) nextSeq() uint32 {
	t.seq++
	return t.seq
}

// Control submits one EP0 URB and waits for its completion.
func (t *USBIPTransport) Control(in bool, request uint8, value, index uint16, data []byte) (int, error) {
	dir := uint32(usbip.DirOut)
	reqType := uint8(requestTypeVendorOut)
	if in {
		dir = usbip.DirIn
		reqType = requestTypeVendorIn
	}

	cmd := usbip.CmdSubmit{
		Basic: usbip.HeaderBasic{
			Command: usbip.CmdSubmitCode,
			Seqnum:  t.nextSeq(),
			Devid:   t.dev.BusID<<16 | t.dev.DevID,
			Dir:     dir,
			Ep:      0,
		},
		TransferBufferLen: uint32(len(data)),
	}
	cmd.Setup[0] = reqType
	cmd.Setup[1] = request
	binary.LittleEndian.PutUint16(cmd.Setup[2:4], value)
	binary.LittleEndian.PutUint16(cmd.Setup[4:6], index)
	binary.LittleEndian.PutUint16(cmd.Setup[6:8], uint16(len(data)))

	var out bytes.Buffer
	if err := cmd.Write(&out); err != nil {
		return 0, err
	}
	if !in && len(data) > 0 {
		out.Write(data)
	}
	if _, err := t.conn.Write(out.Bytes()); err != nil {
		return 0, fmt.Errorf("submit URB: %w", err)
	}

	var hdr [usbip.HeaderLen]byte
	if err := usbip.ReadExactly(t.conn, hdr[:]); err != nil {
		return 0, fmt.Errorf("read URB reply: %w", err)
	}
	ret, err := usbip.ParseRetSubmit(hdr[:])
	if err != nil {
		return 0, err
	}
	if ret.Basic.Command != usbip.RetSubmitCode {
		return 0, fmt.Errorf("unexpected URB reply command %d", ret.Basic.Command)
	}
	if ret.Basic.Seqnum != cmd.Basic.Seqnum {
		return 0, fmt.Errorf("URB reply out of sequence: sent %d, got %d", cmd.Basic.Seqnum, ret.Basic.Seqnum)
	}

	switch ret.Status {
	case usbip.StatusOK:
	case usbip.StatusStalled:
		return 0, fmt.Errorf("request 0x%02x: %w", request, ErrStalled)
	default:
		return 0, fmt.Errorf("request 0x%02x failed with URB status %d", request, ret.Status)
	}

	n := int(ret.ActualLength)
	if in && n > 0 {
		if n > len(data) {
			return 0, fmt.Errorf("device sent %d bytes into a %d byte buffer", n, len(data))
		}
		if err := usbip.ReadExactly(t.conn, data[:n]); err != nil {
			return 0, fmt.Errorf("read URB payload: %w", err)
		}
	}
	return n, nil
}
