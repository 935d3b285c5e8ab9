package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marlin-probe/marlin/device/probe"
	"github.com/marlin-probe/marlin/internal/log"
	"github.com/marlin-probe/marlin/internal/server/usb"
	"github.com/marlin-probe/marlin/internal/util"
)

type Server struct {
	UsbServerConfig   usb.ServerConfig `embed:"" prefix:"usb."`
	ProbeID           string           `help:"Identity string reported by the probe" env:"MARLIN_PROBE_ID"`
	BufferSize        int              `help:"JTAG scan buffer capacity in bytes" default:"2048" env:"MARLIN_BUFFER_SIZE"`
	EnableDebugSPI    bool             `help:"Expose the debug/flash SPI request group" env:"MARLIN_DEBUG_SPI"`
	ConnectionTimeout time.Duration    `help:"Per-connection operation timeout" default:"30s" env:"MARLIN_CONNECTION_TIMEOUT"`
}

// Run is called by Kong when the server command is executed.
func (s *Server) Run(logger *slog.Logger, rawLogger log.RawLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.StartServer(ctx, logger, rawLogger)
}

func (s *Server) StartServer(ctx context.Context, logger *slog.Logger, rawLogger log.RawLogger) error {
	s.UsbServerConfig.ConnectionTimeout = s.ConnectionTimeout

	logger.Info("Starting Marlin USB-IP server", "addr", s.UsbServerConfig.Addr)

	dev := probe.New(&probe.Options{
		ID:             s.ProbeID,
		BufferSize:     s.BufferSize,
		EnableDebugSPI: s.EnableDebugSPI,
		Logger:         logger,
	})

	srv := usb.New(s.UsbServerConfig, logger, rawLogger)
	if err := srv.Attach(dev); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-srv.Ready():
	}
	logger.Info("Probe exported", "id", dev.ID(), "addr", srv.Addr())

	if util.IsRunFromGUI() {
		go (func() {
			time.Sleep(250 * time.Millisecond)
			util.HideConsoleWindow()
		})()
	}

	select {
	case <-ctx.Done():
		_ = srv.Close()
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
