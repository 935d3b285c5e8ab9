package usb

import "time"

// ServerConfig represents the server subcommand configuration.
type ServerConfig struct {
	Addr              string        `help:"USB-IP server listen address" default:":3240" env:"MARLIN_USB_ADDR"`
	ConnectionTimeout time.Duration `kong:"-"`
}
