//go:build !windows

// Package util holds small platform helpers for the CLI.
package util

// IsRunFromGUI reports whether the process was launched from a graphical
// shell rather than a terminal. Only meaningful on Windows.
func IsRunFromGUI() bool { return false }

// HideConsoleWindow hides the console window the OS attached to the
// process. No-op outside Windows.
func HideConsoleWindow() {}
