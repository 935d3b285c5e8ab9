package usb

import (
	"context"
	"fmt"

	"github.com/marlin-probe/marlin/usb"
	"github.com/marlin-probe/marlin/usbip"
)

const basepath = "/sys/devices/platform/vhci_hcd.0/usb"

// DeviceMeta exposes an exported device and its bus identity.
type DeviceMeta struct {
	Dev  usb.Device
	Meta usbip.ExportMeta
}

type exportedDevice struct {
	dev    usb.Device
	meta   usbip.ExportMeta
	ctx    context.Context
	cancel context.CancelFunc
}

// Exports tracks the devices a server makes visible to USB-IP clients and
// auto-assigns their device numbers on a single bus.
type Exports struct {
	busID     uint32
	nextDevID uint32
	devices   []exportedDevice
}

// NewExports creates an empty export table for the given bus number.
func NewExports(busID uint32) *Exports {
	return &Exports{busID: busID, nextDevID: 1}
}

// Add registers a device and assigns it the next free device number.
func (e *Exports) Add(dev usb.Device) error {
	for _, d := range e.devices {
		if d.dev == dev {
			return fmt.Errorf("device already exported")
		}
	}
	devID := e.nextDevID
	e.nextDevID++

	busDevID := fmt.Sprintf("%d-%d", e.busID, devID)
	path := fmt.Sprintf("%s%d/%s", basepath, e.busID, busDevID)

	var meta usbip.ExportMeta
	copy(meta.Path[:], path)
	copy(meta.USBBusID[:], busDevID)
	meta.BusID = e.busID
	meta.DevID = devID

	ctx, cancel := context.WithCancel(context.Background())
	e.devices = append(e.devices, exportedDevice{dev: dev, meta: meta, ctx: ctx, cancel: cancel})
	return nil
}

// Remove unregisters a device and cancels any URB streams bound to it.
func (e *Exports) Remove(dev usb.Device) error {
	for i, d := range e.devices {
		if d.dev == dev {
			d.cancel()
			e.devices = append(e.devices[:i], e.devices[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("device not exported")
}

// All returns a snapshot of the export table.
func (e *Exports) All() []DeviceMeta {
	out := make([]DeviceMeta, 0, len(e.devices))
	for _, d := range e.devices {
		out = append(out, DeviceMeta{Dev: d.dev, Meta: d.meta})
	}
	return out
}

// Find looks up a device by its bus id string (e.g. "1-1").
func (e *Exports) Find(busID string) (usb.Device, *usbip.ExportMeta, context.Context, bool) {
	for i := range e.devices {
		if e.devices[i].meta.BusIDString() == busID {
			return e.devices[i].dev, &e.devices[i].meta, e.devices[i].ctx, true
		}
	}
	return nil, nil, nil, false
}

// Close cancels all device contexts.
func (e *Exports) Close() {
	for i := range e.devices {
		e.devices[i].cancel()
	}
	e.devices = nil
}
