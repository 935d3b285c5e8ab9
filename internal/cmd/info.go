package cmd

import (
	"fmt"
	"log/slog"

	"github.com/marlin-probe/marlin/client"
)

// Info attaches to a probe and prints what it reports. By default it goes
// through a running USB-IP server; with --hardware it opens the physical
// device over libusb instead.
type Info struct {
	Addr     string `help:"USB-IP server address" default:"localhost:3240" env:"MARLIN_USB_ADDR"`
	BusID    string `help:"Bus ID to attach to (defaults to the first exported device)"`
	Hardware bool   `help:"Talk to real hardware over libusb instead of a USB-IP server"`
	VID      uint16 `help:"Vendor ID for --hardware" default:"0x1209"`
	PID      uint16 `help:"Product ID for --hardware" default:"0x5a71"`
}

func (i *Info) Run(logger *slog.Logger) error {
	t, err := i.dial()
	if err != nil {
		return err
	}
	c := client.New(t)
	defer c.Close()

	id, err := c.ID()
	if err != nil {
		return fmt.Errorf("identity request failed: %w", err)
	}
	fmt.Printf("probe:     %s\n", id)

	if err := c.JTAGStart(); err != nil {
		return fmt.Errorf("bridge start failed: %w", err)
	}
	state, err := c.JTAGState()
	if err != nil {
		return fmt.Errorf("state request failed: %w", err)
	}
	fmt.Printf("tap state: %s\n", state)
	if err := c.JTAGStop(); err != nil {
		return fmt.Errorf("bridge stop failed: %w", err)
	}
	return nil
}

func (i *Info) dial() (client.Transport, error) {
	if i.Hardware {
		t, err := client.OpenUSB(i.VID, i.PID)
		if err != nil {
			return nil, fmt.Errorf("open device: %w", err)
		}
		return t, nil
	}

	busID := i.BusID
	if busID == "" {
		devs, err := client.ListDevices(i.Addr)
		if err != nil {
			return nil, fmt.Errorf("device list failed: %w", err)
		}
		if len(devs) == 0 {
			return nil, fmt.Errorf("server at %s exports no devices", i.Addr)
		}
		busID = devs[0].BusIDString()
		for _, d := range devs {
			fmt.Printf("busid=%s vid=%04x pid=%04x\n", d.BusIDString(), d.IDVendor, d.IDProduct)
		}
	}

	t, err := client.DialUSBIP(i.Addr, busID)
	if err != nil {
		return nil, fmt.Errorf("attach failed: %w", err)
	}
	return t, nil
}
