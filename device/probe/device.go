// Package probe implements the vendor-request front end of the FPGA debug
// probe: one registry entry per request code, grouped by capability, driven
// by the three-phase control dispatcher.
package probe

import (
	"log/slog"

	"github.com/marlin-probe/marlin/bridge"
	"github.com/marlin-probe/marlin/control"
	"github.com/marlin-probe/marlin/fpga"
	"github.com/marlin-probe/marlin/jtag"
	"github.com/marlin-probe/marlin/led"
	"github.com/marlin-probe/marlin/spi"
	"github.com/marlin-probe/marlin/usb"
)

// Options configures a probe instance. Zero-value fields select working
// defaults (simulated collaborators), so tests and the demo server can
// construct a probe with &Options{}.
type Options struct {
	// ID overrides the identity string returned to the host.
	ID string

	// BufferSize overrides the JTAG OUT/IN buffer capacity.
	BufferSize int

	// EnableDebugSPI registers the debug/flash SPI request group. Boards
	// without the debug bus leave it off and hosts probing those requests
	// observe a stall.
	EnableDebugSPI bool

	Engine jtag.Engine
	LEDs   led.Renderer
	FPGA   fpga.Controller
	SPI    spi.Port

	Logger *slog.Logger
}

// Probe is the emulated debug co-processor. It owns the opcode registry,
// the dispatcher and the long-lived JTAG bridge session.
type Probe struct {
	id      string
	session *bridge.Session
	leds    led.Renderer
	fpga    fpga.Controller
	spi     spi.Port

	registry   *control.Registry
	dispatcher *control.Dispatcher

	descriptor usb.Descriptor
	logger     *slog.Logger
}

// New builds a probe. Collaborators not supplied in Options are replaced
// with simulators.
func New(o *Options) *Probe {
	if o == nil {
		o = &Options{}
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := o.Engine
	if engine == nil {
		engine = jtag.NewLoopback()
	}
	leds := o.LEDs
	if leds == nil {
		leds = led.NewSim()
	}
	fpgaCtl := o.FPGA
	if fpgaCtl == nil {
		fpgaCtl = fpga.NewSim()
	}
	port := o.SPI
	if port == nil && o.EnableDebugSPI {
		port = spi.NewLoopback()
	}

	id := o.ID
	if id == "" {
		id = DefaultID
	}

	p := &Probe{
		id:         id,
		session:    bridge.NewSession(engine, o.BufferSize),
		leds:       leds,
		fpga:       fpgaCtl,
		spi:        port,
		descriptor: defaultDescriptor,
		logger:     logger,
	}
	p.registry = p.buildRegistry(o.EnableDebugSPI)
	p.dispatcher = control.NewDispatcher(p.registry, logger)
	return p
}

// ID returns the identity string reported to hosts.
func (p *Probe) ID() string { return p.id }

// GetDescriptor returns the probe's USB descriptor set.
func (p *Probe) GetDescriptor() *usb.Descriptor { return &p.descriptor }

// Control returns the EP0 vendor-request endpoint.
func (p *Probe) Control() usb.ControlEndpoint { return (*controlEndpoint)(p) }

// Dispatcher exposes the stage dispatcher, mainly for driving the probe
// without a transport.
func (p *Probe) Dispatcher() *control.Dispatcher { return p.dispatcher }

// Session exposes the JTAG bridge session.
func (p *Probe) Session() *bridge.Session { return p.session }

// controlEndpoint adapts the dispatcher to the transport-facing interface.
type controlEndpoint Probe

func (c *controlEndpoint) Setup(s usb.Setup) ([]byte, error) {
	dir := control.DirOut
	if s.DirectionIn() {
		dir = control.DirIn
	}
	return c.dispatcher.Setup(control.Request{
		Opcode: s.Request,
		Value:  s.Value,
		Index:  s.Index,
		Length: s.Length,
		Dir:    dir,
	})
}

func (c *controlEndpoint) Data(payload []byte) error { return c.dispatcher.Data(payload) }
func (c *controlEndpoint) Ack() error                { return c.dispatcher.Ack() }
func (c *controlEndpoint) Abort()                    { c.dispatcher.Abort() }

// Static descriptor/config for the probe: a vendor-class device with one
// interface and no endpoints beyond EP0.
var defaultDescriptor = usb.Descriptor{
	Device: usb.DeviceDescriptor{
		BcdUSB:             0x0200,
		BDeviceClass:       0x00,
		BDeviceSubClass:    0x00,
		BDeviceProtocol:    0x00,
		BMaxPacketSize0:    0x40,
		IDVendor:           0x1209,
		IDProduct:          0x5a71,
		BcdDevice:          0x0103,
		IManufacturer:      0x01,
		IProduct:           0x02,
		ISerialNumber:      0x03,
		BNumConfigurations: 0x01,
		Speed:              2, // Full speed
	},
	Interfaces: []usb.InterfaceConfig{
		{
			Descriptor: usb.InterfaceDescriptor{
				BInterfaceNumber:   0x00,
				BAlternateSetting:  0x00,
				BNumEndpoints:      0x00,
				BInterfaceClass:    0xff,
				BInterfaceSubClass: 0x00,
				BInterfaceProtocol: 0x00,
				IInterface:         0x00,
			},
		},
	},
	Strings: map[uint8]string{
		1: "Marlin Project",
		2: "Marlin FPGA Debug Probe",
		3: "A0001",
	},
}
