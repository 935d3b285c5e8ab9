package control_test

import (
	"errors"
	"testing"

	"github.com/marlin-probe/marlin/control"
	"github.com/stretchr/testify/assert"
)

func TestUnknownOpcodeRejectedAtSetup(t *testing.T) {
	reg := control.NewRegistry()
	d := control.NewDispatcher(reg, nil)

	_, err := d.Setup(control.Request{Opcode: 0x7F, Dir: control.DirOut})
	assert.ErrorIs(t, err, control.ErrUnsupportedRequest)
	assert.False(t, d.InFlight())

	assert.ErrorIs(t, d.Data(nil), control.ErrNoRequest)
	assert.ErrorIs(t, d.Ack(), control.ErrNoRequest)
}

func TestSetupRejectionSkipsLaterPhases(t *testing.T) {
	dataRan := false
	finishRan := false
	reg := control.NewRegistry()
	reg.Register(0x10, control.Entry{
		Name:  "reject",
		Setup: func(*control.Request) (control.SetupResult, error) { return control.SetupResult{}, errors.New("bad value") },
		Data:  func(*control.Request, []byte) error { dataRan = true; return nil },
		Finish: func(*control.Request) error {
			finishRan = true
			return nil
		},
	})
	d := control.NewDispatcher(reg, nil)

	_, err := d.Setup(control.Request{Opcode: 0x10, Dir: control.DirOut})
	assert.Error(t, err)
	assert.False(t, d.InFlight())
	assert.False(t, dataRan)
	assert.False(t, finishRan)
}

func TestInReplyTruncatedToRequestedLength(t *testing.T) {
	reg := control.NewRegistry()
	reg.Register(0x11, control.Entry{
		Name: "identity",
		Setup: func(*control.Request) (control.SetupResult, error) {
			return control.SetupResult{Data: []byte("abcdef")}, nil
		},
	})
	d := control.NewDispatcher(reg, nil)

	data, err := d.Setup(control.Request{Opcode: 0x11, Dir: control.DirIn, Length: 4})
	assert.NoError(t, err)
	assert.Equal(t, []byte("abcd"), data)
}

func TestDeferredCommitsOnlyAfterAck(t *testing.T) {
	committed := false
	reg := control.NewRegistry()
	reg.Register(0x12, control.Entry{
		Name: "deferred",
		Setup: func(*control.Request) (control.SetupResult, error) {
			return control.SetupResult{Deferred: true}, nil
		},
		Finish: func(*control.Request) error {
			committed = true
			return nil
		},
	})
	d := control.NewDispatcher(reg, nil)

	_, err := d.Setup(control.Request{Opcode: 0x12, Dir: control.DirOut})
	assert.NoError(t, err)
	assert.True(t, d.Pending())
	assert.False(t, committed)

	assert.NoError(t, d.Data(nil))
	assert.False(t, committed)

	assert.NoError(t, d.Ack())
	assert.True(t, committed)
	assert.False(t, d.InFlight())
	assert.False(t, d.Pending())
}

func TestAbortDiscardsDeferredAction(t *testing.T) {
	committed := false
	reg := control.NewRegistry()
	reg.Register(0x13, control.Entry{
		Name: "deferred",
		Setup: func(*control.Request) (control.SetupResult, error) {
			return control.SetupResult{Deferred: true}, nil
		},
		Finish: func(*control.Request) error {
			committed = true
			return nil
		},
	})
	d := control.NewDispatcher(reg, nil)

	_, err := d.Setup(control.Request{Opcode: 0x13, Dir: control.DirOut})
	assert.NoError(t, err)

	d.Abort()
	assert.False(t, committed)
	assert.False(t, d.Pending())
	assert.ErrorIs(t, d.Ack(), control.ErrNoRequest)
}

func TestDataFailureAbortsTransfer(t *testing.T) {
	finishRan := false
	reg := control.NewRegistry()
	reg.Register(0x14, control.Entry{
		Name:  "sink",
		Setup: func(*control.Request) (control.SetupResult, error) { return control.SetupResult{}, nil },
		Data:  func(*control.Request, []byte) error { return errors.New("overflow") },
		Finish: func(*control.Request) error {
			finishRan = true
			return nil
		},
	})
	d := control.NewDispatcher(reg, nil)

	_, err := d.Setup(control.Request{Opcode: 0x14, Dir: control.DirOut, Length: 8})
	assert.NoError(t, err)
	assert.Error(t, d.Data([]byte{1, 2, 3}))
	assert.False(t, d.InFlight())
	assert.False(t, finishRan)
}

func TestNewSetupAbortsStaleRequest(t *testing.T) {
	committed := false
	reg := control.NewRegistry()
	reg.Register(0x15, control.Entry{
		Name: "deferred",
		Setup: func(*control.Request) (control.SetupResult, error) {
			return control.SetupResult{Deferred: true}, nil
		},
		Finish: func(*control.Request) error {
			committed = true
			return nil
		},
	})
	reg.Register(0x16, control.Entry{
		Name:  "plain",
		Setup: func(*control.Request) (control.SetupResult, error) { return control.SetupResult{}, nil },
	})
	d := control.NewDispatcher(reg, nil)

	_, err := d.Setup(control.Request{Opcode: 0x15, Dir: control.DirOut})
	assert.NoError(t, err)

	// The host moved on without completing the first transfer.
	_, err = d.Setup(control.Request{Opcode: 0x16, Dir: control.DirOut})
	assert.NoError(t, err)
	assert.False(t, d.Pending())

	assert.NoError(t, d.Ack())
	assert.False(t, committed)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	reg := control.NewRegistry()
	reg.Register(0x20, control.Entry{Name: "first"})
	assert.Panics(t, func() {
		reg.Register(0x20, control.Entry{Name: "second"})
	})
}
