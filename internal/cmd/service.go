package cmd

import "log/slog"

// ServiceCommand manages the systemd unit that keeps the server running.
type ServiceCommand struct {
	Install   ServiceInstall   `cmd:"" help:"Install and start the server as a systemd service"`
	Uninstall ServiceUninstall `cmd:"" help:"Stop and remove the systemd service"`
}

type ServiceInstall struct{}

func (c *ServiceInstall) Run(logger *slog.Logger) error {
	return installService(logger)
}

type ServiceUninstall struct{}

func (c *ServiceUninstall) Run(logger *slog.Logger) error {
	return uninstallService(logger)
}
