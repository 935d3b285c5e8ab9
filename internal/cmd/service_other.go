//go:build !linux

package cmd

import (
	"errors"
	"log/slog"
)

var errNoServiceManager = errors.New("service management is only supported on linux")

func installService(*slog.Logger) error   { return errNoServiceManager }
func uninstallService(*slog.Logger) error { return errNoServiceManager }
