// Package jtag defines the boundary to the JTAG bit engine the probe drives.
// The packages above it only move scan bytes and TAP state selectors across
// this interface; the bit-level shifting lives behind it.
package jtag

import "fmt"

// State is one of the 16 IEEE 1149.1 TAP controller states. The numeric
// values are part of the wire contract: the host reads and writes them via
// the goto-state and get-state vendor requests.
type State uint8

const (
	TestLogicReset State = iota
	RunTestIdle
	SelectDRScan
	CaptureDR
	ShiftDR
	Exit1DR
	PauseDR
	Exit2DR
	UpdateDR
	SelectIRScan
	CaptureIR
	ShiftIR
	Exit1IR
	PauseIR
	Exit2IR
	UpdateIR
)

var stateNames = map[State]string{
	TestLogicReset: "TestLogicReset",
	RunTestIdle:    "RunTestIdle",
	SelectDRScan:   "SelectDRScan",
	CaptureDR:      "CaptureDR",
	ShiftDR:        "ShiftDR",
	Exit1DR:        "Exit1DR",
	PauseDR:        "PauseDR",
	Exit2DR:        "Exit2DR",
	UpdateDR:       "UpdateDR",
	SelectIRScan:   "SelectIRScan",
	CaptureIR:      "CaptureIR",
	ShiftIR:        "ShiftIR",
	Exit1IR:        "Exit1IR",
	PauseIR:        "PauseIR",
	Exit2IR:        "Exit2IR",
	UpdateIR:       "UpdateIR",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Valid reports whether s names a defined TAP state.
func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// Engine is the external JTAG collaborator. Scan shifts bitCount bits from
// tdi out of TDI and returns the bits captured on TDO; both sides are
// packed LSB-first into bytes.
type Engine interface {
	RunClock(cycles uint32) error
	GotoState(target State) error
	State() State
	Scan(tdi []byte, bitCount uint32) ([]byte, error)
}
