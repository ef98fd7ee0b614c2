//go:build !unix && !windows

package cmd

func ignoreSIGPIPE() {}

func isBrokenPipe(error) bool { return false }
