package client

import (
	"fmt"

	"github.com/google/gousb"
)

// USBTransport drives a physical probe through libusb. The probe exposes
// no endpoints beyond EP0, so no interface needs to be claimed for control
// traffic.
type USBTransport struct {
	ctx *gousb.Context
	dev *gousb.Device
}

// OpenUSB finds and opens the first device matching vid:pid.
func OpenUSB(vid, pid uint16) (*USBTransport, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("USB error: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("device not found (VID:0x%04X PID:0x%04X)", vid, pid)
	}
	if err := dev.SetAutoDetach(true); err != nil {
		// Not supported on all platforms; control transfers still work.
		_ = err
	}
	return &USBTransport{ctx: ctx, dev: dev}, nil
}

func (t *USBTransport) Close() error {
	if t.dev != nil {
		t.dev.Close()
	}
	if t.ctx != nil {
		return t.ctx.Close()
	}
	return nil
}

// Control performs one vendor control transfer, mapping a pipe error back
// to ErrStalled.
func (t *USBTransport) Control(in bool, request uint8, value, index uint16, data []byte) (int, error) {
	reqType := uint8(requestTypeVendorOut)
	if in {
		reqType = requestTypeVendorIn
	}
	n, err := t.dev.Control(reqType, request, value, index, data)
	if err != nil {
		if err == gousb.ErrorPipe {
			return 0, fmt.Errorf("request 0x%02x: %w", request, ErrStalled)
		}
		return 0, fmt.Errorf("request 0x%02x: %w", request, err)
	}
	return n, nil
}
