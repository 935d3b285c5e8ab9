// Package usb implements the USB-IP server that exports probe devices to a
// host kernel. EP0 vendor requests are translated into the three dispatch
// phases of the control core; everything else is enumeration plumbing.
package usb

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/marlin-probe/marlin/internal/log"
	"github.com/marlin-probe/marlin/usb"
	"github.com/marlin-probe/marlin/usbip"
)

const (
	// USB standard request codes
	usbReqGetStatus        = 0x00
	usbReqSetAddress       = 0x05
	usbReqGetDescriptor    = 0x06
	usbReqGetConfiguration = 0x08
	usbReqSetConfiguration = 0x09

	// USB configuration values
	usbConfigValueDefault   = 1
	usbConfigAttrBusPowered = 0x80
	usbConfigMaxPower100mA  = 50 // in units of 2mA

	// URB header field offsets
	urbHdrOffsetCommand = 0x00
	urbHdrOffsetSeqnum  = 0x04
	urbHdrOffsetDevid   = 0x08
	urbHdrOffsetDir     = 0x0c
	urbHdrOffsetEp      = 0x10
	urbHdrOffsetUnlink  = 0x14
	urbHdrOffsetLength  = 0x18
	urbHdrOffsetSetup   = 0x28

	headerPeekSize = 8
)

type Server struct {
	config    *ServerConfig
	logger    *slog.Logger
	rawLogger log.RawLogger

	exports   *Exports
	exportsMu sync.Mutex

	ready     chan struct{}
	readyOnce sync.Once
	ln        net.Listener
}

func New(config ServerConfig, logger *slog.Logger, rawLogger log.RawLogger) *Server {
	return &Server{
		config:    &config,
		logger:    logger,
		rawLogger: rawLogger,
		exports:   NewExports(1),
		ready:     make(chan struct{}),
	}
}

// Attach exports a device.
func (s *Server) Attach(dev usb.Device) error {
	s.exportsMu.Lock()
	defer s.exportsMu.Unlock()
	return s.exports.Add(dev)
}

// Detach removes a device and cancels its URB streams.
func (s *Server) Detach(dev usb.Device) error {
	s.exportsMu.Lock()
	defer s.exportsMu.Unlock()
	return s.exports.Remove(dev)
}

// Devices returns a snapshot of exported devices.
func (s *Server) Devices() []DeviceMeta {
	s.exportsMu.Lock()
	defer s.exportsMu.Unlock()
	return s.exports.All()
}

// ListenAndServe starts the USB-IP server and handles incoming connections.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Info("USB-IP server listening", "addr", ln.Addr().String())
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || strings.Contains(strings.ToLower(err.Error()), "use of closed network connection") {
				s.logger.Info("USB-IP server stopped")
				return nil
			}
			s.logger.Error("Accept error", "error", err)
			continue
		}
		s.logger.Info("Client connected", "remote", c.RemoteAddr())
		go func() {
			if err := s.handleConn(c); err != nil {
				if isClientDisconnect(err) {
					s.logger.Info("Client disconnected", "error", err)
				} else {
					s.logger.Error("Connection handler error", "error", err)
				}
			}
		}()
	}
}

// Ready returns a channel that is closed once the server has bound its
// listen address.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Close stops the server by closing its listener.
func (s *Server) Close() error {
	s.exportsMu.Lock()
	s.exports.Close()
	s.exportsMu.Unlock()
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

// Addr returns the bound listen address, or the configured one before the
// server is ready. With ":0" the bound address carries the actual port.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.config.Addr
}

// --

func (s *Server) handleConn(conn net.Conn) error {
	defer conn.Close()
	conn = &logConn{Conn: conn, s: s}
	if s.config.ConnectionTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(s.config.ConnectionTimeout)); err != nil {
			s.logger.Warn("Failed to set deadline", "error", err)
		}
	}

	// Peek first 8 bytes to determine management op or URB stream.
	var hdrBuf [headerPeekSize]byte
	if err := usbip.ReadExactly(conn, hdrBuf[:]); err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	ver := binary.BigEndian.Uint16(hdrBuf[0:2])
	code := binary.BigEndian.Uint16(hdrBuf[2:4])

	if ver == usbip.Version {
		switch code {
		case usbip.OpReqDevlist:
			s.logger.Info("OP_REQ_DEVLIST")
			return s.handleDevList(conn)
		case usbip.OpReqImport:
			s.logger.Info("OP_REQ_IMPORT")
			dev, err := s.handleImport(conn)
			if err != nil {
				return fmt.Errorf("handle import: %w", err)
			}
			return s.handleUrbStream(conn, dev)
		}
	}

	return fmt.Errorf("protocol violation: client sent URB data without OP_REQ_IMPORT")
}

func (s *Server) handleDevList(conn net.Conn) error {
	_ = conn.SetDeadline(time.Time{})
	var buf bytes.Buffer
	rep := usbip.MgmtHeader{Version: usbip.Version, Command: usbip.OpRepDevlist, Status: 0}
	_ = rep.Write(&buf)
	metas := s.Devices()
	dlh := usbip.DevListReplyHeader{NDevices: uint32(len(metas))}
	_ = dlh.Write(&buf)
	for _, m := range metas {
		exp := exportedFromMeta(m)
		_ = exp.WriteDevlist(&buf)
	}
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write devlist: %w", err)
	}
	return nil
}

func (s *Server) handleImport(conn net.Conn) (usb.Device, error) {
	var rest [usbip.BusIDLen]byte
	if err := usbip.ReadExactly(conn, rest[:]); err != nil {
		return nil, fmt.Errorf("read import busid: %w", err)
	}
	reqBus := string(rest[:bytes.IndexByte(rest[:], 0)])
	s.logger.Info("Import request", "busid", reqBus)

	s.exportsMu.Lock()
	dev, meta, _, ok := s.exports.Find(reqBus)
	s.exportsMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no device matches busid %s", reqBus)
	}

	var buf bytes.Buffer
	rep := usbip.MgmtHeader{Version: usbip.Version, Command: usbip.OpRepImport, Status: 0}
	_ = rep.Write(&buf)
	exp := exportedFromMeta(DeviceMeta{Dev: dev, Meta: *meta})
	_ = exp.WriteImport(&buf)
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("write import reply: %w", err)
	}
	return dev, nil
}

func exportedFromMeta(m DeviceMeta) usbip.ExportedDevice {
	desc := m.Dev.GetDescriptor()
	exp := usbip.ExportedDevice{
		ExportMeta:          m.Meta,
		Speed:               desc.Device.Speed,
		IDVendor:            desc.Device.IDVendor,
		IDProduct:           desc.Device.IDProduct,
		BcdDevice:           desc.Device.BcdDevice,
		BDeviceClass:        desc.Device.BDeviceClass,
		BDeviceSubClass:     desc.Device.BDeviceSubClass,
		BDeviceProtocol:     desc.Device.BDeviceProtocol,
		BConfigurationValue: usbConfigValueDefault,
		BNumConfigurations:  desc.Device.BNumConfigurations,
		BNumInterfaces:      uint8(len(desc.Interfaces)),
	}
	for _, iface := range desc.Interfaces {
		exp.Interfaces = append(exp.Interfaces, usbip.InterfaceDesc{
			Class:    iface.Descriptor.BInterfaceClass,
			SubClass: iface.Descriptor.BInterfaceSubClass,
			Protocol: iface.Descriptor.BInterfaceProtocol,
		})
	}
	return exp
}

type logConn struct {
	net.Conn
	s *Server
}

func (lc *logConn) Read(p []byte) (int, error) {
	n, err := lc.Conn.Read(p)
	if n > 0 && lc.s.rawLogger != nil {
		lc.s.rawLogger.Log(true, p[:n])
	}
	return n, err
}

func (lc *logConn) Write(p []byte) (int, error) {
	n, err := lc.Conn.Write(p)
	if n > 0 && lc.s.rawLogger != nil {
		lc.s.rawLogger.Log(false, p[:n])
	}
	return n, err
}

func (s *Server) handleUrbStream(conn net.Conn, dev usb.Device) error {
	_ = conn.SetDeadline(time.Time{})

	s.exportsMu.Lock()
	ctx := findContext(s.exports, dev)
	s.exportsMu.Unlock()
	if ctx == nil {
		return fmt.Errorf("device is not exported")
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("device removed, closing URB stream")
			return nil
		default:
		}

		var hdr [usbip.HeaderLen]byte
		if err := usbip.ReadExactly(conn, hdr[:]); err != nil {
			return fmt.Errorf("read URB header: %w", err)
		}
		cmd := binary.BigEndian.Uint32(hdr[urbHdrOffsetCommand : urbHdrOffsetCommand+4])
		seq := binary.BigEndian.Uint32(hdr[urbHdrOffsetSeqnum : urbHdrOffsetSeqnum+4])
		devid := binary.BigEndian.Uint32(hdr[urbHdrOffsetDevid : urbHdrOffsetDevid+4])
		dir := binary.BigEndian.Uint32(hdr[urbHdrOffsetDir : urbHdrOffsetDir+4])
		ep := binary.BigEndian.Uint32(hdr[urbHdrOffsetEp : urbHdrOffsetEp+4])

		if cmd == usbip.CmdUnlinkCode {
			unlinkSeq := binary.BigEndian.Uint32(hdr[urbHdrOffsetUnlink : urbHdrOffsetUnlink+4])
			s.logger.Debug("USBIP_CMD_UNLINK", "seq", seq, "unlink", unlinkSeq)
			// The transfer will never reach its acknowledgment stage; any
			// deferred action must be discarded.
			dev.Control().Abort()
			ret := usbip.RetUnlink{
				Basic:  usbip.HeaderBasic{Command: usbip.RetUnlinkCode, Seqnum: seq},
				Status: usbip.StatusConnReset,
			}
			if err := ret.Write(conn); err != nil {
				return fmt.Errorf("write RET_UNLINK: %w", err)
			}
			continue
		}
		if cmd != usbip.CmdSubmitCode {
			return fmt.Errorf("unsupported cmd %d (seq=%d, devid=%d)", cmd, seq, devid)
		}
		xferLen := binary.BigEndian.Uint32(hdr[urbHdrOffsetLength : urbHdrOffsetLength+4])
		setupBytes := hdr[urbHdrOffsetSetup:usbip.HeaderLen]

		var outPayload []byte
		if dir == usbip.DirOut && xferLen > 0 {
			outPayload = make([]byte, xferLen)
			if err := usbip.ReadExactly(conn, outPayload); err != nil {
				return fmt.Errorf("read OUT payload: %w", err)
			}
		}

		respData, status := s.processSubmit(dev, ep, setupBytes, outPayload)

		ret := usbip.RetSubmit{
			Basic:        usbip.HeaderBasic{Command: usbip.RetSubmitCode, Seqnum: seq},
			Status:       status,
			ActualLength: uint32(len(respData)),
		}
		var out bytes.Buffer
		if err := ret.Write(&out); err != nil {
			return fmt.Errorf("build RET_SUBMIT header: %w", err)
		}
		if len(respData) > 0 {
			out.Write(respData)
		}
		if _, err := conn.Write(out.Bytes()); err != nil {
			return fmt.Errorf("write RET_SUBMIT: %w", err)
		}
	}
}

func findContext(e *Exports, dev usb.Device) context.Context {
	for _, m := range e.devices {
		if m.dev == dev {
			return m.ctx
		}
	}
	return nil
}

// processSubmit handles one EP0 control transfer and returns the reply
// payload and URB status. The probe has no other endpoints.
func (s *Server) processSubmit(dev usb.Device, ep uint32, setupBytes []byte, out []byte) ([]byte, int32) {
	if ep != 0 {
		return nil, usbip.StatusStalled
	}
	setup, err := usb.ParseSetup(setupBytes)
	if err != nil {
		return nil, usbip.StatusStalled
	}

	if setup.Type() == usb.TypeVendor {
		return s.runVendorTransfer(dev, setup, out)
	}
	return s.handleStandardRequest(dev, setup)
}

// runVendorTransfer drives the full three-phase lifecycle against the
// device's control endpoint. Any rejected phase surfaces to the host as a
// stall; there is no in-band error payload.
func (s *Server) runVendorTransfer(dev usb.Device, setup usb.Setup, out []byte) ([]byte, int32) {
	ctrl := dev.Control()

	reply, err := ctrl.Setup(setup)
	if err != nil {
		s.logger.Debug("vendor setup rejected", "setup", setup.String(), "error", err)
		return nil, usbip.StatusStalled
	}
	if !setup.DirectionIn() && setup.Length > 0 {
		if err := ctrl.Data(out); err != nil {
			s.logger.Debug("vendor data rejected", "setup", setup.String(), "error", err)
			return nil, usbip.StatusStalled
		}
	}
	if err := ctrl.Ack(); err != nil {
		s.logger.Debug("vendor finish failed", "setup", setup.String(), "error", err)
		return nil, usbip.StatusStalled
	}
	return reply, usbip.StatusOK
}

func (s *Server) handleStandardRequest(dev usb.Device, setup usb.Setup) ([]byte, int32) {
	desc := dev.GetDescriptor()

	switch setup.Request {
	case usbReqSetAddress, usbReqSetConfiguration:
		return nil, usbip.StatusOK
	case usbReqGetConfiguration:
		return []byte{usbConfigValueDefault}, usbip.StatusOK
	case usbReqGetStatus:
		return []byte{0x00, 0x00}, usbip.StatusOK
	case usbReqGetDescriptor:
		dtype := uint8(setup.Value >> 8)
		dindex := uint8(setup.Value & 0xff)
		var data []byte
		switch dtype {
		case usb.DeviceDescType:
			data = desc.Bytes()
		case usb.ConfigDescType:
			data = usb.BuildConfigDescriptor(desc, usbConfigValueDefault, usbConfigAttrBusPowered, usbConfigMaxPower100mA)
		case usb.StringDescType:
			if dindex == 0 {
				data = []byte{0x04, usb.StringDescType, 0x09, 0x04} // en-US
			} else if str, ok := desc.Strings[dindex]; ok {
				data = usb.EncodeStringDescriptor(str)
			}
		}
		if len(data) == 0 {
			return nil, usbip.StatusStalled
		}
		if int(setup.Length) < len(data) {
			data = data[:setup.Length]
		}
		return data, usbip.StatusOK
	}
	return nil, usbip.StatusStalled
}

// isClientDisconnect tests whether an error represents a normal client
// disconnect (EOF, ECONNRESET, broken pipe, or the Windows WSAECONNRESET
// translated error).
func isClientDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch t := opErr.Err.(type) {
		case syscall.Errno:
			if t == syscall.ECONNRESET || t == syscall.EPIPE {
				return true
			}
		}
	}
	e := strings.ToLower(err.Error())
	return strings.Contains(e, "connection reset by peer") ||
		strings.Contains(e, "forcibly closed") ||
		strings.Contains(e, "aborted")
}
