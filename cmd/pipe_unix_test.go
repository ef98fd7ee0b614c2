//go:build unix

package cmd

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestIsBrokenPipe(t *testing.T) {
	wrapped := fmt.Errorf("write output: %w", &os.PathError{Op: "write", Path: "/dev/stdout", Err: unix.EPIPE})
	assert.True(t, isBrokenPipe(wrapped), "EPIPE is recognised through wrapping")
	assert.False(t, isBrokenPipe(errors.New("disk full")))
}
