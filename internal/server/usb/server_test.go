package usb_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/marlin-probe/marlin/client"
	"github.com/marlin-probe/marlin/device/probe"
	"github.com/marlin-probe/marlin/internal/server/usb"
	"github.com/marlin-probe/marlin/jtag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, opts *probe.Options) (*usb.Server, *probe.Probe) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts == nil {
		opts = &probe.Options{}
	}
	opts.Logger = logger
	dev := probe.New(opts)

	srv := usb.New(usb.ServerConfig{Addr: "localhost:0", ConnectionTimeout: 2 * time.Second}, logger, nil)
	require.NoError(t, srv.Attach(dev))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-srv.Ready():
	case err := <-errCh:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not become ready")
	}
	t.Cleanup(func() {
		_ = srv.Close()
		<-errCh
	})
	return srv, dev
}

func attach(t *testing.T, srv *usb.Server) *client.Client {
	t.Helper()

	devs, err := client.ListDevices(srv.Addr())
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, uint16(0x1209), devs[0].IDVendor)
	assert.Equal(t, uint16(0x5a71), devs[0].IDProduct)

	transport, err := client.DialUSBIP(srv.Addr(), devs[0].BusIDString())
	require.NoError(t, err)
	c := client.New(transport)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestImportUnknownBusID(t *testing.T) {
	srv, _ := startServer(t, nil)

	_, err := client.DialUSBIP(srv.Addr(), "9-9")
	assert.Error(t, err)
}

func TestIdentityOverWire(t *testing.T) {
	srv, _ := startServer(t, &probe.Options{ID: "bench probe 7"})
	c := attach(t, srv)

	id, err := c.ID()
	require.NoError(t, err)
	assert.Equal(t, "bench probe 7", id)
}

func TestJTAGScenarioOverWire(t *testing.T) {
	srv, _ := startServer(t, nil)
	c := attach(t, srv)

	require.NoError(t, c.JTAGStart())
	require.NoError(t, c.JTAGGotoState(jtag.ShiftDR))

	st, err := c.JTAGState()
	require.NoError(t, err)
	assert.Equal(t, jtag.ShiftDR, st)

	tdo, err := c.ScanChain([]byte{0x12, 0x34, 0x56}, 24)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x12, 0x34, 0x56}, tdo)

	// Result buffer drains once, then reads come back empty.
	extra, err := c.JTAGGetInBuffer(8)
	require.NoError(t, err)
	assert.Empty(t, extra)

	require.NoError(t, c.JTAGRunClock(32))
	require.NoError(t, c.JTAGStop())
}

func TestRejectionsSurfaceAsStalls(t *testing.T) {
	srv, _ := startServer(t, nil)
	c := attach(t, srv)

	// Debug SPI group is not registered by default.
	err := c.TakeFlashLines()
	assert.ErrorIs(t, err, client.ErrStalled)

	// Scan group requests stall while the bridge is closed.
	err = c.JTAGRunClock(1)
	assert.ErrorIs(t, err, client.ErrStalled)

	require.NoError(t, c.JTAGStart())
	err = c.JTAGGotoState(jtag.State(200))
	assert.ErrorIs(t, err, client.ErrStalled)

	// A stalled request leaves the link usable.
	id, err := c.ID()
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestMSDescriptorOverWire(t *testing.T) {
	srv, _ := startServer(t, nil)
	c := attach(t, srv)

	desc, err := c.MSDescriptor()
	require.NoError(t, err)
	require.Len(t, desc, 40)
	assert.Equal(t, []byte("WINUSB\x00\x00"), desc[18:26])
}

func TestDebugSPIOverWire(t *testing.T) {
	srv, _ := startServer(t, &probe.Options{EnableDebugSPI: true})
	c := attach(t, srv)

	require.NoError(t, c.DebugSPISend([]byte{0x9F}))
	resp, err := c.DebugSPIResponse(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x9F}, resp)

	assert.ErrorIs(t, c.FlashSPISend([]byte{0xAB}), client.ErrStalled)
	require.NoError(t, c.TakeFlashLines())
	require.NoError(t, c.FlashSPISend([]byte{0xAB}))
	require.NoError(t, c.ReleaseFlashLines())
}
