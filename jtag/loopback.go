package jtag

import "fmt"

// Loopback is an Engine with TDO wired to TDI: scans echo their input. It
// tracks the commanded TAP state and counts clock cycles, which is enough
// for exercising the probe without hardware attached.
type Loopback struct {
	state  State
	cycles uint64
}

// NewLoopback returns a loopback engine in Test-Logic-Reset.
func NewLoopback() *Loopback {
	return &Loopback{state: TestLogicReset}
}

func (l *Loopback) RunClock(cycles uint32) error {
	l.cycles += uint64(cycles)
	return nil
}

func (l *Loopback) GotoState(target State) error {
	if !target.Valid() {
		return fmt.Errorf("jtag: no such TAP state %d", uint8(target))
	}
	l.state = target
	return nil
}

func (l *Loopback) State() State { return l.state }

// Scan returns the TDI bits unchanged, with unused bits of the final byte
// cleared so the result matches what a real capture would look like.
func (l *Loopback) Scan(tdi []byte, bitCount uint32) ([]byte, error) {
	byteCount := int((bitCount + 7) / 8)
	if byteCount > len(tdi) {
		return nil, fmt.Errorf("jtag: scan of %d bits needs %d bytes, have %d", bitCount, byteCount, len(tdi))
	}
	l.cycles += uint64(bitCount)

	tdo := make([]byte, byteCount)
	copy(tdo, tdi[:byteCount])
	if rem := bitCount % 8; rem != 0 && byteCount > 0 {
		tdo[byteCount-1] &= byte(1<<rem) - 1
	}
	return tdo, nil
}

// Cycles returns the total number of TCK cycles clocked so far.
func (l *Loopback) Cycles() uint64 { return l.cycles }
