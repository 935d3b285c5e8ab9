// Package config declares the top-level CLI grammar.
package config

import (
	"github.com/marlin-probe/marlin/internal/cmd"
)

// Log holds the logging flags shared by every command.
type Log struct {
	Level   string `help:"Log level (trace, debug, info, warn, error)" default:"info" env:"MARLIN_LOG_LEVEL"`
	File    string `help:"Also write logs to this file" env:"MARLIN_LOG_FILE"`
	RawFile string `help:"Write raw USB traffic hex dumps to this file" env:"MARLIN_RAW_LOG_FILE"`
}

// CLI is the root command tree parsed by Kong.
type CLI struct {
	Log     Log                `embed:"" prefix:"log."`
	Config  string             `help:"Path to a configuration file (json, yaml or toml)" env:"MARLIN_CONFIG"`
	Server  cmd.Server         `cmd:"" help:"Run the USB-IP server exposing the emulated debug probe"`
	Info    cmd.Info           `cmd:"" help:"Connect to a running server and print probe information"`
	Cfg     cmd.ConfigCommand  `cmd:"" name:"config" help:"Configuration file helpers"`
	Service cmd.ServiceCommand `cmd:"" help:"Manage the systemd service"`
}
