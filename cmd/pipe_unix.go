//go:build unix

package cmd

import (
	"errors"
	"os/signal"

	"golang.org/x/sys/unix"
)

// ignoreSIGPIPE turns a write to a closed stdout into an EPIPE error
// instead of killing the process, so it can exit cleanly.
func ignoreSIGPIPE() {
	signal.Ignore(unix.SIGPIPE)
}

// isBrokenPipe reports whether err comes from writing to a closed pipe.
func isBrokenPipe(err error) bool {
	return errors.Is(err, unix.EPIPE)
}
