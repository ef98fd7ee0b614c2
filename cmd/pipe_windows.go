//go:build windows

package cmd

import (
	"errors"

	"golang.org/x/sys/windows"
)

func ignoreSIGPIPE() {}

// isBrokenPipe reports whether err comes from writing to a closed pipe.
//
// Windows reports a reader that went away as ERROR_NO_DATA on the writing
// end, or ERROR_BROKEN_PIPE when the pipe was torn down entirely.
func isBrokenPipe(err error) bool {
	return errors.Is(err, windows.ERROR_BROKEN_PIPE) || errors.Is(err, windows.ERROR_NO_DATA)
}
