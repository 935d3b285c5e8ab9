// Package fpga defines the boundary to the FPGA lifecycle controller: the
// configuration-pin sequencing and USB-port handover the probe can trigger
// on behalf of the host.
package fpga

import "sync"

// Controller is the external lifecycle collaborator.
//
// AllowTakeoverUSB hands the shared USB data lines to the FPGA. Callers must
// only invoke it after the triggering control transfer has been acknowledged;
// the vendor-request layer enforces that with its commit-after-ack gate.
type Controller interface {
	TriggerReconfiguration() error
	ForceOffline() error
	AllowTakeoverUSB() error
}

// Sim is an in-memory Controller that records what was asked of it.
type Sim struct {
	mu sync.Mutex

	reconfigurations int
	offline          bool
	usbOwnedByFPGA   bool
}

func NewSim() *Sim { return &Sim{} }

func (s *Sim) TriggerReconfiguration() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconfigurations++
	s.offline = false
	return nil
}

func (s *Sim) ForceOffline() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = true
	return nil
}

func (s *Sim) AllowTakeoverUSB() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usbOwnedByFPGA = true
	return nil
}

// Reconfigurations returns how many reconfiguration requests were issued.
func (s *Sim) Reconfigurations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconfigurations
}

// Offline reports whether the FPGA is currently held offline.
func (s *Sim) Offline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offline
}

// USBOwnedByFPGA reports whether the USB port was handed to the FPGA.
func (s *Sim) USBOwnedByFPGA() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usbOwnedByFPGA
}
