package probe

import (
	"fmt"

	"github.com/marlin-probe/marlin/control"
	"github.com/marlin-probe/marlin/jtag"
)

func (p *Probe) buildRegistry(enableDebugSPI bool) *control.Registry {
	reg := control.NewRegistry()
	p.registerIdentity(reg)
	p.registerJTAG(reg)
	p.registerLifecycle(reg)
	if enableDebugSPI {
		p.registerDebugSPI(reg)
	}
	p.registerMSDescriptor(reg)
	return reg
}

// accept is the zero-length status-only reply.
var accept = control.SetupResult{}

func (p *Probe) registerIdentity(reg *control.Registry) {
	reg.Register(ReqGetID, control.Entry{
		Name: "get-id",
		Setup: func(req *control.Request) (control.SetupResult, error) {
			return control.SetupResult{Data: append([]byte(p.id), 0)}, nil
		},
	})
	reg.Register(ReqSetLEDPattern, control.Entry{
		Name: "set-led-pattern",
		Setup: func(req *control.Request) (control.SetupResult, error) {
			p.leds.SetPattern(req.Value)
			return accept, nil
		},
	})
}

func (p *Probe) registerJTAG(reg *control.Registry) {
	reg.Register(ReqJTAGStart, control.Entry{
		Name: "jtag-start",
		Setup: func(req *control.Request) (control.SetupResult, error) {
			return accept, p.session.Start()
		},
	})
	reg.Register(ReqJTAGStop, control.Entry{
		Name: "jtag-stop",
		Setup: func(req *control.Request) (control.SetupResult, error) {
			return accept, p.session.Stop()
		},
	})
	reg.Register(ReqJTAGClearOutBuffer, control.Entry{
		Name: "jtag-clear-out-buffer",
		Setup: func(req *control.Request) (control.SetupResult, error) {
			return accept, p.session.ClearOut()
		},
	})
	reg.Register(ReqJTAGSetOutBuffer, control.Entry{
		Name: "jtag-set-out-buffer",
		Data: func(req *control.Request, payload []byte) error {
			return p.session.AppendOut(payload)
		},
	})
	reg.Register(ReqJTAGGetInBuffer, control.Entry{
		Name: "jtag-get-in-buffer",
		Setup: func(req *control.Request) (control.SetupResult, error) {
			data, err := p.session.ReadIn(int(req.Length))
			if err != nil {
				return control.SetupResult{}, err
			}
			return control.SetupResult{Data: data}, nil
		},
	})
	reg.Register(ReqJTAGScan, control.Entry{
		Name: "jtag-scan",
		Setup: func(req *control.Request) (control.SetupResult, error) {
			// Bit count in wValue; a plain scan never exceeds one buffer.
			return accept, p.session.Scan(uint32(req.Value))
		},
	})
	reg.Register(ReqJTAGBulkScan, control.Entry{
		Name: "jtag-bulk-scan",
		Setup: func(req *control.Request) (control.SetupResult, error) {
			// Bit count split across wIndex:wValue for large transfers.
			bits := uint32(req.Index)<<16 | uint32(req.Value)
			return accept, p.session.BulkScan(bits)
		},
	})
	reg.Register(ReqJTAGRunClock, control.Entry{
		Name: "jtag-run-clock",
		Setup: func(req *control.Request) (control.SetupResult, error) {
			return accept, p.session.RunClock(uint32(req.Value))
		},
	})
	reg.Register(ReqJTAGGotoState, control.Entry{
		Name: "jtag-goto-state",
		Setup: func(req *control.Request) (control.SetupResult, error) {
			target := jtag.State(req.Value)
			if !target.Valid() {
				return control.SetupResult{}, fmt.Errorf("TAP state %d: %w", req.Value, control.ErrInvalidParameters)
			}
			return accept, p.session.GotoState(target)
		},
	})
	reg.Register(ReqJTAGGetState, control.Entry{
		Name: "jtag-get-state",
		Setup: func(req *control.Request) (control.SetupResult, error) {
			state, err := p.session.State()
			if err != nil {
				return control.SetupResult{}, err
			}
			return control.SetupResult{Data: []byte{byte(state)}}, nil
		},
	})
}

func (p *Probe) registerLifecycle(reg *control.Registry) {
	reg.Register(ReqTriggerReconfiguration, control.Entry{
		Name: "trigger-reconfiguration",
		Setup: func(req *control.Request) (control.SetupResult, error) {
			return accept, p.fpga.TriggerReconfiguration()
		},
	})
	reg.Register(ReqForceFPGAOffline, control.Entry{
		Name: "force-fpga-offline",
		Setup: func(req *control.Request) (control.SetupResult, error) {
			return accept, p.fpga.ForceOffline()
		},
	})

	// Handing the USB lines to the FPGA tears down the probe's own link, so
	// it must not happen while the triggering transfer's handshake is still
	// in flight. Setup only stages the status reply; the switch happens at
	// the acknowledgment stage.
	reg.Register(ReqAllowFPGATakeoverUSB, control.Entry{
		Name: "allow-fpga-takeover-usb",
		Setup: func(req *control.Request) (control.SetupResult, error) {
			return control.SetupResult{Deferred: true}, nil
		},
		Finish: func(req *control.Request) error {
			return p.fpga.AllowTakeoverUSB()
		},
	})
}

func (p *Probe) registerDebugSPI(reg *control.Registry) {
	reg.Register(ReqDebugSPISend, control.Entry{
		Name: "debug-spi-send",
		Data: func(req *control.Request, payload []byte) error {
			return p.spi.Send(payload)
		},
	})
	reg.Register(ReqDebugSPIReadResponse, control.Entry{
		Name: "debug-spi-read-response",
		Setup: func(req *control.Request) (control.SetupResult, error) {
			return control.SetupResult{Data: p.spi.Response(int(req.Length))}, nil
		},
	})
	reg.Register(ReqFlashSPISend, control.Entry{
		Name: "flash-spi-send",
		Data: func(req *control.Request, payload []byte) error {
			return p.spi.SendFlash(payload)
		},
	})
	reg.Register(ReqTakeFlashLines, control.Entry{
		Name: "take-flash-lines",
		Setup: func(req *control.Request) (control.SetupResult, error) {
			return accept, p.spi.TakeLines()
		},
	})
	reg.Register(ReqReleaseFlashLines, control.Entry{
		Name: "release-flash-lines",
		Setup: func(req *control.Request) (control.SetupResult, error) {
			return accept, p.spi.ReleaseLines()
		},
	})
}
