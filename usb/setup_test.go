package usb_test

import (
	"testing"

	"github.com/marlin-probe/marlin/usb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSetup(t *testing.T) {
	type testCase struct {
		name     string
		raw      []byte
		expected usb.Setup
		in       bool
		typ      uint8
	}

	cases := []testCase{
		{
			name: "vendor out",
			raw:  []byte{0x40, 0xa1, 0x03, 0x02, 0x00, 0x00, 0x00, 0x00},
			expected: usb.Setup{
				RequestType: 0x40,
				Request:     0xa1,
				Value:       0x0203,
			},
			in:  false,
			typ: usb.TypeVendor,
		},
		{
			name: "vendor in",
			raw:  []byte{0xc0, 0xa0, 0x00, 0x00, 0x00, 0x00, 0x40, 0x00},
			expected: usb.Setup{
				RequestType: 0xc0,
				Request:     0xa0,
				Length:      0x0040,
			},
			in:  true,
			typ: usb.TypeVendor,
		},
		{
			name: "standard get descriptor",
			raw:  []byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x12, 0x00},
			expected: usb.Setup{
				RequestType: 0x80,
				Request:     0x06,
				Value:       0x0100,
				Length:      0x0012,
			},
			in:  true,
			typ: usb.TypeStandard,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := usb.ParseSetup(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, s)
			assert.Equal(t, tc.in, s.DirectionIn())
			assert.Equal(t, tc.typ, s.Type())
		})
	}
}

func TestParseSetupLengthCheck(t *testing.T) {
	_, err := usb.ParseSetup([]byte{0x40, 0xa0})
	assert.Error(t, err)
}

func TestBuildConfigDescriptorPatchesTotalLength(t *testing.T) {
	desc := usb.Descriptor{
		Device: usb.DeviceDescriptor{BNumConfigurations: 1},
		Interfaces: []usb.InterfaceConfig{
			{Descriptor: usb.InterfaceDescriptor{BInterfaceNumber: 0, BInterfaceClass: 0xFF}},
		},
	}
	cfg := usb.BuildConfigDescriptor(&desc, 1, 0x80, 50)
	require.GreaterOrEqual(t, len(cfg), 9)
	total := int(cfg[2]) | int(cfg[3])<<8
	assert.Equal(t, len(cfg), total)
	assert.Equal(t, byte(9), cfg[0])
	assert.Equal(t, byte(2), cfg[1])
}
