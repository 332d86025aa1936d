//go:build !windows

// Package lifecycle names the OS signals that end the server cleanly.
package lifecycle

import (
	"os"
	"syscall"
)

func TerminationSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
