//go:build unix

package main

import (
	"os/signal"
	"syscall"
)

// ignoreSIGPIPE makes writes to a peer that has gone away fail with EPIPE
// instead of terminating the process.
func ignoreSIGPIPE() {
	signal.Ignore(syscall.SIGPIPE)
}
