package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/kamusis/fourgrep/internal/gram"
	"github.com/kamusis/fourgrep/internal/store"
)

var (
	version   = "dev"
	commit    = ""
	buildDate = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show fourgrep version and build information",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(_ *cobra.Command, _ []string) error {
	def := gram.DefaultParams()
	fmt.Printf("Version:      %s\n", version)
	fmt.Printf("Commit:       %s\n", emptyAsNA(commit))
	fmt.Printf("Build Date:   %s\n", emptyAsNA(buildDate))
	fmt.Printf("Cache Format: %d\n", store.FormatVersion)
	fmt.Printf("N-gram:       %s default (%d-bit addresses)\n", def, def.AddressBits())
	fmt.Printf("Go Version:   %s\n", runtime.Version())
	fmt.Printf("OS/Arch:      %s/%s\n", runtime.GOOS, runtime.GOARCH)
	return nil
}

func emptyAsNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}
