// Package spi defines the boundary to the debug/flash SPI bridge present on
// some boards. Transaction framing and chip-select timing live behind the
// Port interface; the vendor-request layer only moves bytes.
package spi

import (
	"errors"
	"sync"
)

// ErrLinesNotHeld is returned for flash transactions issued before the
// configuration flash lines were claimed.
var ErrLinesNotHeld = errors.New("spi: flash lines not held")

// Port is the external SPI collaborator. Send runs one full-duplex
// transaction on the debug bus and latches the response for a later
// Response call. SendFlash runs a transaction on the configuration flash
// bus and requires the lines to be held.
type Port interface {
	Send(p []byte) error
	Response(n int) []byte
	SendFlash(p []byte) error
	TakeLines() error
	ReleaseLines() error
}

// Loopback is a Port with MISO wired to MOSI; each transaction's response
// is its own payload.
type Loopback struct {
	mu        sync.Mutex
	response  []byte
	linesHeld bool
}

func NewLoopback() *Loopback { return &Loopback{} }

func (l *Loopback) Send(p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.response = append(l.response[:0], p...)
	return nil
}

func (l *Loopback) Response(n int) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > len(l.response) {
		n = len(l.response)
	}
	out := make([]byte, n)
	copy(out, l.response[:n])
	return out
}

func (l *Loopback) SendFlash(p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.linesHeld {
		return ErrLinesNotHeld
	}
	l.response = append(l.response[:0], p...)
	return nil
}

func (l *Loopback) TakeLines() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.linesHeld = true
	return nil
}

func (l *Loopback) ReleaseLines() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.linesHeld = false
	return nil
}

// LinesHeld reports whether the flash lines are currently claimed.
func (l *Loopback) LinesHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.linesHeld
}
