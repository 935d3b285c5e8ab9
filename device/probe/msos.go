package probe

import (
	"fmt"

	"github.com/marlin-probe/marlin/control"
)

// msOS10Descriptor is the Microsoft OS 1.0 compatible-ID descriptor that
// makes Windows bind the probe's vendor interface to WinUSB without a
// custom driver. The byte layout is external contract; reproduce exactly.
var msOS10Descriptor = []byte{
	// Header: dwLength, bcdVersion, wIndex, bCount, reserved[7]
	0x28, 0x00, 0x00, 0x00,
	0x00, 0x01,
	0x04, 0x00,
	0x01,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,

	// Function: bFirstInterfaceNumber, reserved[1], compatibleID[8],
	// subCompatibleID[8], reserved[6]
	0x02,
	0x01,
	'W', 'I', 'N', 'U', 'S', 'B', 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

func (p *Probe) registerMSDescriptor(reg *control.Registry) {
	reg.Register(ReqGetMSDescriptor, control.Entry{
		Name: "get-ms-descriptor",
		Setup: func(req *control.Request) (control.SetupResult, error) {
			if req.Index != MSDescriptorIndex {
				return control.SetupResult{}, fmt.Errorf("descriptor index 0x%04x: %w", req.Index, control.ErrInvalidParameters)
			}
			return control.SetupResult{Data: msOS10Descriptor}, nil
		},
	})
}
