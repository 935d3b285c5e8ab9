package probe

// Vendor request codes. The numbering is wire contract shared with host
// tooling; do not renumber.
const (
	ReqGetID         = 0xa0
	ReqSetLEDPattern = 0xa1

	// JTAG bridge requests
	ReqJTAGStart = 0xbf
	ReqJTAGStop  = 0xbe

	ReqJTAGClearOutBuffer = 0xb0
	ReqJTAGSetOutBuffer   = 0xb1
	ReqJTAGGetInBuffer    = 0xb2
	ReqJTAGScan           = 0xb3
	ReqJTAGRunClock       = 0xb4
	ReqJTAGGotoState      = 0xb5
	ReqJTAGGetState       = 0xb6
	ReqJTAGBulkScan       = 0xb7

	// FPGA lifecycle requests
	ReqTriggerReconfiguration = 0xc0
	ReqForceFPGAOffline       = 0xc1
	ReqAllowFPGATakeoverUSB   = 0xc2

	// Debug SPI requests, only registered on boards with the debug bus
	ReqDebugSPISend         = 0x50
	ReqDebugSPIReadResponse = 0x51
	ReqFlashSPISend         = 0x52
	ReqTakeFlashLines       = 0x53
	ReqReleaseFlashLines    = 0x54

	// Microsoft OS 1.0 compatibility descriptor request
	ReqGetMSDescriptor = 0xee
)

// MSDescriptorIndex is the only wIndex value the compatibility descriptor
// request answers.
const MSDescriptorIndex = 0x0004

// DefaultID is the identity string returned by ReqGetID. The terminating
// NUL goes over the wire.
const DefaultID = "Marlin FPGA Debug Probe"
