package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "fourgrep [flags] PATTERN [FILE...]",
	Short:         "Grep with a persistent n-gram prefilter",
	SilenceUsage:  true, // don't print usage on operational errors
	SilenceErrors: true, // Execute reports errors, broken pipes silently
	Long: `fourgrep searches files for PATTERN, skipping files whose cached n-gram
bitmap proves they cannot match. Bitmaps are cached per file under the
cache root and rebuilt whenever a file's modification time changes.

With no FILE arguments, paths are read from standard input, one per line,
up to the first blank line.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGrep,
}

var (
	flagCacheDir string
	flagLogLevel string
	flagWorkers  int
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagCacheDir, "cache-dir", "", "cache root (default from config, FOURGREP_CACHE_DIR or the user cache dir)")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.IntVar(&flagWorkers, "workers", 0, "concurrent files (default from config, else GOMAXPROCS)")
}

// Execute is called by main.go.
func Execute() {
	ignoreSIGPIPE()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if isBrokenPipe(err) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
