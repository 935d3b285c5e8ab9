// Package led defines the boundary to the probe's LED pattern renderer.
package led

import "sync/atomic"

// Renderer is the external LED collaborator. Patterns are identified by the
// 16-bit selector the host supplies; rendering them is not this module's
// concern.
type Renderer interface {
	SetPattern(id uint16)
}

// Sim records the most recently selected pattern.
type Sim struct {
	pattern atomic.Uint32
}

func NewSim() *Sim { return &Sim{} }

func (s *Sim) SetPattern(id uint16) {
	s.pattern.Store(uint32(id))
}

// Pattern returns the active pattern selector.
func (s *Sim) Pattern() uint16 {
	return uint16(s.pattern.Load())
}
