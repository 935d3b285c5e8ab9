// Package bridge holds the JTAG session state shared across control
// transfers: the OUT accumulation buffer the host fills over one or more
// transfers, and the IN result buffer it drains after a scan.
package bridge

import (
	"errors"
	"fmt"

	"github.com/marlin-probe/marlin/jtag"
)

// DefaultBufferSize is the capacity of the OUT and IN buffers when none is
// given. One scan can move at most this many bytes in either direction.
const DefaultBufferSize = 2048

var (
	// ErrNotOpen is returned for scan-group operations while the session is
	// closed.
	ErrNotOpen = errors.New("bridge: session not open")

	// ErrBufferOverflow is returned when an append would exceed the OUT
	// buffer capacity or a scan result would exceed the IN buffer capacity.
	// The buffers never wrap and are never silently truncated.
	ErrBufferOverflow = errors.New("bridge: buffer overflow")
)

// Session is the long-lived bridge state. It is not safe for concurrent
// use; the transport delivers control-transfer phases sequentially.
type Session struct {
	engine jtag.Engine

	out    []byte
	outLen int

	in    []byte
	inLen int
	inPos int

	open bool
}

// NewSession creates a closed session over the given engine. bufSize <= 0
// selects DefaultBufferSize.
func NewSession(engine jtag.Engine, bufSize int) *Session {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Session{
		engine: engine,
		out:    make([]byte, bufSize),
		in:     make([]byte, bufSize),
	}
}

// Open reports whether the bridge is currently open.
func (s *Session) Open() bool { return s.open }

// Start opens the bridge. Re-starting an open bridge is a no-op so that
// host-side retries of the start request are harmless; in particular the
// cursors keep whatever the first start left them at.
func (s *Session) Start() error {
	if s.open {
		return nil
	}
	s.open = true
	s.reset()
	return nil
}

// Stop closes the bridge and zeroes the cursors. Stopping a closed bridge
// is a no-op.
func (s *Session) Stop() error {
	if !s.open {
		return nil
	}
	s.open = false
	s.reset()
	return nil
}

// ClearOut resets the OUT write cursor without closing the session or
// touching the IN buffer. Idempotent.
func (s *Session) ClearOut() error {
	if !s.open {
		return ErrNotOpen
	}
	s.outLen = 0
	return nil
}

// AppendOut appends p at the OUT write cursor. An append that would exceed
// capacity fails whole: the buffer content from before the call is left
// unchanged.
func (s *Session) AppendOut(p []byte) error {
	if !s.open {
		return ErrNotOpen
	}
	if s.outLen+len(p) > len(s.out) {
		return fmt.Errorf("append of %d bytes at cursor %d exceeds capacity %d: %w",
			len(p), s.outLen, len(s.out), ErrBufferOverflow)
	}
	copy(s.out[s.outLen:], p)
	s.outLen += len(p)
	return nil
}

// OutLen returns the OUT write cursor, i.e. how many bytes have been
// accumulated for the next scan.
func (s *Session) OutLen() int { return s.outLen }

// ReadIn returns up to n bytes from the IN buffer, advancing the read
// cursor. Once the buffer is exhausted it returns an empty slice; it never
// pads.
func (s *Session) ReadIn(n int) ([]byte, error) {
	if !s.open {
		return nil, ErrNotOpen
	}
	avail := s.inLen - s.inPos
	if n > avail {
		n = avail
	}
	out := make([]byte, n)
	copy(out, s.in[s.inPos:s.inPos+n])
	s.inPos += n
	return out, nil
}

// Scan shifts bitCount bits of the accumulated OUT data through the engine
// and latches the captured bits in the IN buffer. On success both cursors
// are reset: the OUT buffer is ready for the next accumulation and the IN
// buffer reads from the start of the new result.
func (s *Session) Scan(bitCount uint32) error {
	return s.scan(bitCount)
}

// BulkScan is the variant used for large aggregate transfers. The session
// semantics are identical to Scan; the distinct request code exists so the
// host can size its transfers differently.
func (s *Session) BulkScan(bitCount uint32) error {
	return s.scan(bitCount)
}

func (s *Session) scan(bitCount uint32) error {
	if !s.open {
		return ErrNotOpen
	}
	byteCount := int((bitCount + 7) / 8)
	if byteCount > s.outLen {
		return fmt.Errorf("scan of %d bits needs %d bytes, accumulated %d: %w",
			bitCount, byteCount, s.outLen, ErrBufferOverflow)
	}
	tdo, err := s.engine.Scan(s.out[:s.outLen], bitCount)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if len(tdo) > len(s.in) {
		return fmt.Errorf("scan result of %d bytes exceeds capacity %d: %w",
			len(tdo), len(s.in), ErrBufferOverflow)
	}
	copy(s.in, tdo)
	s.inLen = len(tdo)
	s.inPos = 0
	s.outLen = 0
	return nil
}

// RunClock clocks TCK the given number of cycles.
func (s *Session) RunClock(cycles uint32) error {
	if !s.open {
		return ErrNotOpen
	}
	return s.engine.RunClock(cycles)
}

// GotoState moves the TAP controller to the target state.
func (s *Session) GotoState(target jtag.State) error {
	if !s.open {
		return ErrNotOpen
	}
	return s.engine.GotoState(target)
}

// State returns the current TAP controller state.
func (s *Session) State() (jtag.State, error) {
	if !s.open {
		return 0, ErrNotOpen
	}
	return s.engine.State(), nil
}

func (s *Session) reset() {
	s.outLen = 0
	s.inLen = 0
	s.inPos = 0
}
