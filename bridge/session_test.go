package bridge_test

import (
	"testing"

	"github.com/marlin-probe/marlin/bridge"
	"github.com/marlin-probe/marlin/jtag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSession(t *testing.T, bufSize int) *bridge.Session {
	t.Helper()
	s := bridge.NewSession(jtag.NewLoopback(), bufSize)
	require.NoError(t, s.Start())
	return s
}

func TestClosedSessionRejectsScanGroup(t *testing.T) {
	s := bridge.NewSession(jtag.NewLoopback(), 0)

	assert.ErrorIs(t, s.ClearOut(), bridge.ErrNotOpen)
	assert.ErrorIs(t, s.AppendOut([]byte{1}), bridge.ErrNotOpen)
	assert.ErrorIs(t, s.Scan(8), bridge.ErrNotOpen)
	assert.ErrorIs(t, s.BulkScan(8), bridge.ErrNotOpen)
	assert.ErrorIs(t, s.RunClock(1), bridge.ErrNotOpen)
	assert.ErrorIs(t, s.GotoState(jtag.TestLogicReset), bridge.ErrNotOpen)
	_, err := s.ReadIn(1)
	assert.ErrorIs(t, err, bridge.ErrNotOpen)
	_, err = s.State()
	assert.ErrorIs(t, err, bridge.ErrNotOpen)
}

func TestStartIsIdempotent(t *testing.T) {
	s := openSession(t, 0)
	require.NoError(t, s.AppendOut([]byte{0xAA, 0xBB}))

	// A host retry of the start request must not wipe the buffers.
	require.NoError(t, s.Start())
	assert.Equal(t, 2, s.OutLen())

	require.NoError(t, s.Stop())
	assert.False(t, s.Open())
	require.NoError(t, s.Stop())
}

func TestStopZeroesCursors(t *testing.T) {
	s := openSession(t, 0)
	require.NoError(t, s.AppendOut([]byte{1, 2, 3}))
	require.NoError(t, s.Scan(24))

	require.NoError(t, s.Stop())
	require.NoError(t, s.Start())
	assert.Equal(t, 0, s.OutLen())
	got, err := s.ReadIn(8)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAppendOverflowFailsWhole(t *testing.T) {
	s := openSession(t, 4)
	require.NoError(t, s.AppendOut([]byte{1, 2, 3}))

	err := s.AppendOut([]byte{4, 5})
	assert.ErrorIs(t, err, bridge.ErrBufferOverflow)
	assert.Equal(t, 3, s.OutLen())

	// The prior content still scans.
	require.NoError(t, s.Scan(24))
	got, err := s.ReadIn(4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestScanRoundTripAndExhaustedRead(t *testing.T) {
	s := openSession(t, 0)
	require.NoError(t, s.AppendOut([]byte{0xDE, 0xAD, 0xBE, 0xEF}))
	require.NoError(t, s.Scan(32))

	// Scan resets the OUT cursor for the next accumulation.
	assert.Equal(t, 0, s.OutLen())

	got, err := s.ReadIn(2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD}, got)

	got, err = s.ReadIn(16)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xBE, 0xEF}, got)

	got, err = s.ReadIn(16)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestScanPartialFinalByteMasked(t *testing.T) {
	s := openSession(t, 0)
	require.NoError(t, s.AppendOut([]byte{0xFF, 0xFF}))
	require.NoError(t, s.Scan(11))

	got, err := s.ReadIn(2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0x07}, got)
}

func TestScanNeedsAccumulatedBytes(t *testing.T) {
	s := openSession(t, 0)
	require.NoError(t, s.AppendOut([]byte{1}))

	err := s.Scan(16)
	assert.ErrorIs(t, err, bridge.ErrBufferOverflow)
}

func TestClearOutLeavesInBuffer(t *testing.T) {
	s := openSession(t, 0)
	require.NoError(t, s.AppendOut([]byte{0x55}))
	require.NoError(t, s.Scan(8))

	require.NoError(t, s.AppendOut([]byte{0x66}))
	require.NoError(t, s.ClearOut())
	assert.Equal(t, 0, s.OutLen())

	got, err := s.ReadIn(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x55}, got)
}

func TestStateNavigation(t *testing.T) {
	s := openSession(t, 0)

	st, err := s.State()
	require.NoError(t, err)
	assert.Equal(t, jtag.TestLogicReset, st)

	require.NoError(t, s.GotoState(jtag.ShiftDR))
	st, err = s.State()
	require.NoError(t, err)
	assert.Equal(t, jtag.ShiftDR, st)

	require.NoError(t, s.RunClock(5))
}
