package usbip_test

import (
	"bytes"
	"testing"

	"github.com/marlin-probe/marlin/usbip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCmdSubmitWireLayout(t *testing.T) {
	c := usbip.CmdSubmit{
		Basic: usbip.HeaderBasic{
			Command: usbip.CmdSubmitCode,
			Seqnum:  7,
			Devid:   0x00010002,
			Dir:     usbip.DirIn,
			Ep:      0,
		},
		TransferBufferLen: 64,
		Setup:             [8]byte{0xc0, 0xa0, 0, 0, 0, 0, 0x40, 0},
	}

	var buf bytes.Buffer
	require.NoError(t, c.Write(&buf))
	raw := buf.Bytes()
	require.Len(t, raw, usbip.HeaderLen)

	// Big-endian on the wire; setup bytes verbatim at 0x28.
	assert.Equal(t, []byte{0, 0, 0, 1}, raw[0:4])
	assert.Equal(t, []byte{0, 0, 0, 7}, raw[4:8])
	assert.Equal(t, []byte{0, 1, 0, 2}, raw[8:12])
	assert.Equal(t, []byte{0xc0, 0xa0, 0, 0, 0, 0, 0x40, 0}, raw[0x28:0x30])

	parsed, err := usbip.ParseCmdSubmit(raw)
	require.NoError(t, err)
	assert.Equal(t, c, *parsed)
}

func TestRetSubmitStallStatus(t *testing.T) {
	r := usbip.RetSubmit{
		Basic:  usbip.HeaderBasic{Command: usbip.RetSubmitCode, Seqnum: 3},
		Status: usbip.StatusStalled,
	}
	var buf bytes.Buffer
	require.NoError(t, r.Write(&buf))
	raw := buf.Bytes()
	require.Len(t, raw, usbip.HeaderLen)

	parsed, err := usbip.ParseRetSubmit(raw)
	require.NoError(t, err)
	assert.Equal(t, int32(-32), parsed.Status)
	assert.Equal(t, uint32(3), parsed.Basic.Seqnum)
}

func TestDeviceEntryRoundTrip(t *testing.T) {
	d := usbip.ExportedDevice{
		Speed:               2,
		IDVendor:            0x1209,
		IDProduct:           0x5a71,
		BcdDevice:           0x0103,
		BConfigurationValue: 1,
		BNumConfigurations:  1,
		BNumInterfaces:      1,
		Interfaces:          []usbip.InterfaceDesc{{Class: 0xFF}},
	}
	copy(d.Path[:], "/sys/devices/platform/vhci_hcd.0/usb/1-1")
	copy(d.USBBusID[:], "1-1")
	d.BusID = 1
	d.DevID = 2

	var buf bytes.Buffer
	require.NoError(t, d.WriteDevlist(&buf))
	assert.Equal(t, 312+4, buf.Len())

	parsed, err := usbip.ReadDevice(&buf, true)
	require.NoError(t, err)
	assert.Equal(t, "1-1", parsed.BusIDString())
	assert.Equal(t, uint16(0x1209), parsed.IDVendor)
	require.Len(t, parsed.Interfaces, 1)
	assert.Equal(t, uint8(0xFF), parsed.Interfaces[0].Class)

	// The import variant carries no interface triplets.
	buf.Reset()
	require.NoError(t, d.WriteImport(&buf))
	assert.Equal(t, 312, buf.Len())
}
