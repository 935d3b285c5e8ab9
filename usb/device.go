package usb

// Device is the minimal interface a device must implement to be exported.
// The probe has no endpoints beyond EP0; all traffic is control transfers.
type Device interface {
	GetDescriptor() *Descriptor
	Control() ControlEndpoint
}

// ControlEndpoint drives the vendor-request lifecycle on EP0. The transport
// calls Setup, then Data for host-to-device payloads, then Ack; Abort ends a
// transfer the host cancelled before its acknowledgment stage.
type ControlEndpoint interface {
	Setup(s Setup) ([]byte, error)
	Data(payload []byte) error
	Ack() error
	Abort()
}
