package probe_test

import (
	"testing"

	"github.com/marlin-probe/marlin/control"
	"github.com/marlin-probe/marlin/device/probe"
	"github.com/marlin-probe/marlin/fpga"
	"github.com/marlin-probe/marlin/jtag"
	"github.com/marlin-probe/marlin/led"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run drives one complete OUT transfer through the dispatcher.
func run(t *testing.T, p *probe.Probe, opcode uint8, value, index uint16, payload []byte) error {
	t.Helper()
	d := p.Dispatcher()
	_, err := d.Setup(control.Request{
		Opcode: opcode,
		Value:  value,
		Index:  index,
		Length: uint16(len(payload)),
		Dir:    control.DirOut,
	})
	if err != nil {
		return err
	}
	if len(payload) > 0 {
		if err := d.Data(payload); err != nil {
			return err
		}
	}
	return d.Ack()
}

// read drives one complete IN transfer and returns the reply.
func read(t *testing.T, p *probe.Probe, opcode uint8, value, index, length uint16) ([]byte, error) {
	t.Helper()
	d := p.Dispatcher()
	data, err := d.Setup(control.Request{
		Opcode: opcode,
		Value:  value,
		Index:  index,
		Length: length,
		Dir:    control.DirIn,
	})
	if err != nil {
		return nil, err
	}
	return data, d.Ack()
}

func TestGetIDNulTerminated(t *testing.T) {
	p := probe.New(&probe.Options{})

	data, err := read(t, p, probe.ReqGetID, 0, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, append([]byte(probe.DefaultID), 0), data)

	// A shorter host buffer gets a truncated reply, never an error.
	data, err = read(t, p, probe.ReqGetID, 0, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte(probe.DefaultID[:4]), data)
}

func TestSetLEDPatternAppliesAtSetup(t *testing.T) {
	leds := led.NewSim()
	p := probe.New(&probe.Options{LEDs: leds})
	d := p.Dispatcher()

	_, err := d.Setup(control.Request{Opcode: probe.ReqSetLEDPattern, Value: 0x0203, Dir: control.DirOut})
	require.NoError(t, err)

	// Applied before the transfer completes; an abort does not undo it.
	assert.Equal(t, uint16(0x0203), leds.Pattern())
	d.Abort()
	assert.Equal(t, uint16(0x0203), leds.Pattern())
}

func TestJTAGScanSequence(t *testing.T) {
	p := probe.New(&probe.Options{})

	require.NoError(t, run(t, p, probe.ReqJTAGStart, 0, 0, nil))
	require.NoError(t, run(t, p, probe.ReqJTAGSetOutBuffer, 0, 0, []byte{0xCA, 0xFE}))
	require.NoError(t, run(t, p, probe.ReqJTAGScan, 16, 0, nil))

	data, err := read(t, p, probe.ReqJTAGGetInBuffer, 0, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xCA, 0xFE}, data)

	// Exhausted: further reads return an empty payload, not a stall.
	data, err = read(t, p, probe.ReqJTAGGetInBuffer, 0, 0, 2)
	require.NoError(t, err)
	assert.Empty(t, data)

	require.NoError(t, run(t, p, probe.ReqJTAGStop, 0, 0, nil))
}

func TestJTAGBulkScanSplitsBitCount(t *testing.T) {
	engine := jtag.NewLoopback()
	p := probe.New(&probe.Options{Engine: engine, BufferSize: 1 << 17})

	require.NoError(t, run(t, p, probe.ReqJTAGStart, 0, 0, nil))
	payload := make([]byte, 1<<13)
	require.NoError(t, run(t, p, probe.ReqJTAGSetOutBuffer, 0, 0, payload))

	// 0x10000 bits: wValue carries the low half, wIndex the high half.
	require.NoError(t, run(t, p, probe.ReqJTAGBulkScan, 0x0000, 0x0001, nil))
	assert.Equal(t, uint64(0x10000), engine.Cycles())
}

func TestJTAGGroupStallsWhileBridgeClosed(t *testing.T) {
	p := probe.New(&probe.Options{})

	assert.Error(t, run(t, p, probe.ReqJTAGClearOutBuffer, 0, 0, nil))
	assert.Error(t, run(t, p, probe.ReqJTAGScan, 8, 0, nil))
	assert.Error(t, run(t, p, probe.ReqJTAGRunClock, 1, 0, nil))
	_, err := read(t, p, probe.ReqJTAGGetState, 0, 0, 1)
	assert.Error(t, err)

	// The data stage fails for buffer writes on a closed bridge.
	assert.Error(t, run(t, p, probe.ReqJTAGSetOutBuffer, 0, 0, []byte{1}))
}

func TestJTAGStartIsRetrySafe(t *testing.T) {
	p := probe.New(&probe.Options{})

	require.NoError(t, run(t, p, probe.ReqJTAGStart, 0, 0, nil))
	require.NoError(t, run(t, p, probe.ReqJTAGSetOutBuffer, 0, 0, []byte{0x42}))
	require.NoError(t, run(t, p, probe.ReqJTAGStart, 0, 0, nil))
	assert.Equal(t, 1, p.Session().OutLen())
}

func TestGotoStateValidation(t *testing.T) {
	p := probe.New(&probe.Options{})
	require.NoError(t, run(t, p, probe.ReqJTAGStart, 0, 0, nil))

	require.NoError(t, run(t, p, probe.ReqJTAGGotoState, uint16(jtag.PauseIR), 0, nil))
	data, err := read(t, p, probe.ReqJTAGGetState, 0, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(jtag.PauseIR)}, data)

	err = run(t, p, probe.ReqJTAGGotoState, 99, 0, nil)
	assert.ErrorIs(t, err, control.ErrInvalidParameters)
}

func TestTakeoverCommitsAfterAckOnly(t *testing.T) {
	sim := fpga.NewSim()
	p := probe.New(&probe.Options{FPGA: sim})
	d := p.Dispatcher()

	_, err := d.Setup(control.Request{Opcode: probe.ReqAllowFPGATakeoverUSB, Dir: control.DirOut})
	require.NoError(t, err)
	assert.False(t, sim.USBOwnedByFPGA())

	require.NoError(t, d.Data(nil))
	assert.False(t, sim.USBOwnedByFPGA())

	require.NoError(t, d.Ack())
	assert.True(t, sim.USBOwnedByFPGA())
}

func TestTakeoverAbortLeavesUSBWithProbe(t *testing.T) {
	sim := fpga.NewSim()
	p := probe.New(&probe.Options{FPGA: sim})
	d := p.Dispatcher()

	_, err := d.Setup(control.Request{Opcode: probe.ReqAllowFPGATakeoverUSB, Dir: control.DirOut})
	require.NoError(t, err)
	d.Abort()
	assert.False(t, sim.USBOwnedByFPGA())

	// A later unrelated transfer must not trip the discarded action.
	require.NoError(t, run(t, p, probe.ReqSetLEDPattern, 1, 0, nil))
	assert.False(t, sim.USBOwnedByFPGA())
}

func TestLifecycleImmediateRequests(t *testing.T) {
	sim := fpga.NewSim()
	p := probe.New(&probe.Options{FPGA: sim})

	require.NoError(t, run(t, p, probe.ReqTriggerReconfiguration, 0, 0, nil))
	assert.Equal(t, 1, sim.Reconfigurations())

	require.NoError(t, run(t, p, probe.ReqForceFPGAOffline, 0, 0, nil))
	assert.True(t, sim.Offline())
}

func TestDebugSPIAbsentByDefault(t *testing.T) {
	p := probe.New(&probe.Options{})

	err := run(t, p, probe.ReqTakeFlashLines, 0, 0, nil)
	assert.ErrorIs(t, err, control.ErrUnsupportedRequest)
}

func TestDebugSPIRoundTrip(t *testing.T) {
	p := probe.New(&probe.Options{EnableDebugSPI: true})

	require.NoError(t, run(t, p, probe.ReqDebugSPISend, 0, 0, []byte{0x9F, 0x00}))
	data, err := read(t, p, probe.ReqDebugSPIReadResponse, 0, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x9F, 0x00}, data)

	// Flash transactions require the lines to be held first.
	assert.Error(t, run(t, p, probe.ReqFlashSPISend, 0, 0, []byte{0xAB}))
	require.NoError(t, run(t, p, probe.ReqTakeFlashLines, 0, 0, nil))
	require.NoError(t, run(t, p, probe.ReqFlashSPISend, 0, 0, []byte{0xAB}))
	require.NoError(t, run(t, p, probe.ReqReleaseFlashLines, 0, 0, nil))
	assert.Error(t, run(t, p, probe.ReqFlashSPISend, 0, 0, []byte{0xAB}))
}

func TestMSDescriptor(t *testing.T) {
	p := probe.New(&probe.Options{})

	data, err := read(t, p, probe.ReqGetMSDescriptor, 0, probe.MSDescriptorIndex, 256)
	require.NoError(t, err)
	require.Len(t, data, 40)
	assert.Equal(t, []byte{0x28, 0x00, 0x00, 0x00}, data[0:4])
	assert.Equal(t, []byte{0x00, 0x01}, data[4:6])
	assert.Equal(t, []byte("WINUSB\x00\x00"), data[18:26])

	_, err = read(t, p, probe.ReqGetMSDescriptor, 0, 0x0001, 256)
	assert.ErrorIs(t, err, control.ErrInvalidParameters)
}
