package client

import (
	"bytes"
	"fmt"

	"github.com/marlin-probe/marlin/device/probe"
	"github.com/marlin-probe/marlin/jtag"
)

// Client provides one method per vendor request plus a few composed
// helpers. It owns the transport and closes it on Close.
type Client struct {
	t Transport
}

// New constructs a client over an open transport.
func New(t Transport) *Client { return &Client{t: t} }

func (c *Client) Close() error { return c.t.Close() }

// ID returns the probe's identity string.
func (c *Client) ID() (string, error) {
	buf := make([]byte, 64)
	n, err := c.t.Control(true, probe.ReqGetID, 0, 0, buf)
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(buf[:n], 0); i >= 0 {
		n = i
	}
	return string(buf[:n]), nil
}

// SetLEDPattern selects the probe's active LED pattern.
func (c *Client) SetLEDPattern(id uint16) error {
	_, err := c.t.Control(false, probe.ReqSetLEDPattern, id, 0, nil)
	return err
}

// JTAGStart opens the JTAG bridge. Safe to reissue on an open bridge.
func (c *Client) JTAGStart() error {
	_, err := c.t.Control(false, probe.ReqJTAGStart, 0, 0, nil)
	return err
}

// JTAGStop closes the JTAG bridge.
func (c *Client) JTAGStop() error {
	_, err := c.t.Control(false, probe.ReqJTAGStop, 0, 0, nil)
	return err
}

// JTAGClearOutBuffer resets the probe's scan accumulation buffer.
func (c *Client) JTAGClearOutBuffer() error {
	_, err := c.t.Control(false, probe.ReqJTAGClearOutBuffer, 0, 0, nil)
	return err
}

// JTAGSetOutBuffer appends scan data to the probe's accumulation buffer.
func (c *Client) JTAGSetOutBuffer(p []byte) error {
	_, err := c.t.Control(false, probe.ReqJTAGSetOutBuffer, 0, 0, p)
	return err
}

// JTAGGetInBuffer reads up to n bytes of scan results. A short (or empty)
// result means the probe's result buffer is exhausted.
func (c *Client) JTAGGetInBuffer(n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := c.t.Control(true, probe.ReqJTAGGetInBuffer, 0, 0, buf)
	if err != nil {
		return nil, err
	}
	return buf[:got], nil
}

// JTAGScan shifts bitCount accumulated bits through the scan chain.
func (c *Client) JTAGScan(bitCount uint16) error {
	_, err := c.t.Control(false, probe.ReqJTAGScan, bitCount, 0, nil)
	return err
}

// JTAGBulkScan is the large-transfer scan variant; the 32-bit count is
// split across the index and value fields.
func (c *Client) JTAGBulkScan(bitCount uint32) error {
	_, err := c.t.Control(false, probe.ReqJTAGBulkScan, uint16(bitCount), uint16(bitCount>>16), nil)
	return err
}

// JTAGRunClock clocks TCK the given number of cycles.
func (c *Client) JTAGRunClock(cycles uint16) error {
	_, err := c.t.Control(false, probe.ReqJTAGRunClock, cycles, 0, nil)
	return err
}

// JTAGGotoState moves the TAP controller to the target state.
func (c *Client) JTAGGotoState(target jtag.State) error {
	_, err := c.t.Control(false, probe.ReqJTAGGotoState, uint16(target), 0, nil)
	return err
}

// JTAGState returns the current TAP controller state.
func (c *Client) JTAGState() (jtag.State, error) {
	buf := make([]byte, 1)
	n, err := c.t.Control(true, probe.ReqJTAGGetState, 0, 0, buf)
	if err != nil {
		return 0, err
	}
	if n != 1 {
		return 0, fmt.Errorf("expected 1 state byte, got %d", n)
	}
	return jtag.State(buf[0]), nil
}

// TriggerReconfiguration asks the FPGA to reload its configuration.
func (c *Client) TriggerReconfiguration() error {
	_, err := c.t.Control(false, probe.ReqTriggerReconfiguration, 0, 0, nil)
	return err
}

// ForceFPGAOffline holds the FPGA offline.
func (c *Client) ForceFPGAOffline() error {
	_, err := c.t.Control(false, probe.ReqForceFPGAOffline, 0, 0, nil)
	return err
}

// AllowFPGATakeoverUSB hands the USB port to the FPGA. The probe commits
// the handover only after acknowledging this transfer, so a successful
// return means the switch is under way.
func (c *Client) AllowFPGATakeoverUSB() error {
	_, err := c.t.Control(false, probe.ReqAllowFPGATakeoverUSB, 0, 0, nil)
	return err
}

// DebugSPISend runs one transaction on the debug SPI bus.
func (c *Client) DebugSPISend(p []byte) error {
	_, err := c.t.Control(false, probe.ReqDebugSPISend, 0, 0, p)
	return err
}

// DebugSPIResponse reads up to n bytes of the last debug SPI response.
func (c *Client) DebugSPIResponse(n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := c.t.Control(true, probe.ReqDebugSPIReadResponse, 0, 0, buf)
	if err != nil {
		return nil, err
	}
	return buf[:got], nil
}

// FlashSPISend runs one transaction on the configuration flash bus. The
// flash lines must have been taken first.
func (c *Client) FlashSPISend(p []byte) error {
	_, err := c.t.Control(false, probe.ReqFlashSPISend, 0, 0, p)
	return err
}

// TakeFlashLines claims the configuration flash bus for the probe.
func (c *Client) TakeFlashLines() error {
	_, err := c.t.Control(false, probe.ReqTakeFlashLines, 0, 0, nil)
	return err
}

// ReleaseFlashLines returns the configuration flash bus to the FPGA.
func (c *Client) ReleaseFlashLines() error {
	_, err := c.t.Control(false, probe.ReqReleaseFlashLines, 0, 0, nil)
	return err
}

// MSDescriptor fetches the Microsoft OS compatibility descriptor.
func (c *Client) MSDescriptor() ([]byte, error) {
	buf := make([]byte, 256)
	n, err := c.t.Control(true, probe.ReqGetMSDescriptor, 0, probe.MSDescriptorIndex, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// ScanChain pushes tdi through the scan chain and returns the captured
// bits: set-out, scan, get-in composed into one call.
func (c *Client) ScanChain(tdi []byte, bitCount uint16) ([]byte, error) {
	if err := c.JTAGClearOutBuffer(); err != nil {
		return nil, err
	}
	if err := c.JTAGSetOutBuffer(tdi); err != nil {
		return nil, err
	}
	if err := c.JTAGScan(bitCount); err != nil {
		return nil, err
	}
	return c.JTAGGetInBuffer((int(bitCount) + 7) / 8)
}
