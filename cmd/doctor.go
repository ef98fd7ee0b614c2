package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kamusis/fourgrep/internal/bitmap"
	"github.com/kamusis/fourgrep/internal/config"
	"github.com/kamusis/fourgrep/internal/logging"
	"github.com/kamusis/fourgrep/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run environment and cache health checks",
	Long: `Check that fourgrep's configuration is valid and that the cache root is
usable and consistent with it. Run this when results look wrong, or before
filing a bug report.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(_ *cobra.Command, _ []string) error {
	allOK := true
	failD := func(format string, args ...any) {
		printErr("", fmt.Sprintf(format, args...))
		allOK = false
	}

	printSection("fourgrep doctor")
	fmt.Println()

	// ── Check 1: config file ──────────────────────────────────────────────────
	fmt.Println("[ fourgrep.yaml ]")
	cfgPath, err := config.ConfigPath()
	if err != nil {
		failD("cannot determine home directory: %v", err)
	} else if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		printMiss("", fmt.Sprintf("%s not found, using defaults (run 'fourgrep init' to write one)", cfgPath))
	} else {
		printOK("", fmt.Sprintf("found: %s", cfgPath))
	}
	env, loadErr := loadEnv()
	if loadErr != nil {
		failD("invalid configuration: %v", loadErr)
	} else {
		printOK("", "configuration is valid")
	}
	fmt.Println()

	// ── Check 2: n-gram parameters and codec ──────────────────────────────────
	fmt.Println("[ n-gram ]")
	if loadErr == nil {
		p := env.params
		printOK("", fmt.Sprintf("%s: %d-bit fingerprints, %s per bitmap", p, p.AddressBits(), humanBytes(int64(p.BitmapBytes()))))
		if p.AddressBits() > 24 {
			printWarn("", "bitmaps above 2 MiB make cache entries large; consider lowering ngram_char_bits")
		}
		if env.codec == bitmap.CodecNone {
			printWarn("", "codec 'none' stores every bitmap uncompressed")
		} else {
			printOK("", fmt.Sprintf("codec: %s", env.codec))
		}
	} else {
		printSkip("", "skipped (configuration not loaded)")
	}
	fmt.Println()

	// ── Check 3: cache root and stamp ─────────────────────────────────────────
	fmt.Println("[ cache root ]")
	var s *store.Store
	if loadErr == nil {
		root := env.cfg.CacheDir
		st, err := store.ReadStamp(root)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			printMiss("", fmt.Sprintf("%s not stamped yet (it is created on first use)", root))
		case err != nil:
			failD("cannot read stamp: %v", err)
		case st.Format != store.FormatVersion || st.Params != env.params:
			failD("%s holds format %d with %s, config wants %s (run 'fourgrep cache clear')", root, st.Format, st.Params, env.params)
		default:
			printOK("", fmt.Sprintf("%s (%s, created %s)", root, st.Params, st.CreatedAt))
			s, err = store.Open(root, env.params, store.Options{Codec: env.codec, Logger: logging.Discard()})
			if err != nil {
				failD("cannot open cache: %v", err)
			}
		}
		if s != nil {
			if err := checkWritable(root); err != nil {
				failD("cache root is not writable: %v", err)
			} else {
				printOK("", "writable")
			}
		}
	} else {
		printSkip("", "skipped (configuration not loaded)")
	}
	fmt.Println()

	// ── Check 4: cache entries ────────────────────────────────────────────────
	fmt.Println("[ cache entries ]")
	if s != nil {
		rep, err := s.Verify()
		switch {
		case err != nil:
			failD("verify failed: %v", err)
		case rep.Corrupt > 0:
			printWarn("", numbers.Sprintf("%d corrupt entries found and removed", rep.Corrupt))
		default:
			printOK("", numbers.Sprintf("%d entries decode cleanly", rep.Entries))
		}
		if err == nil && rep.Orphaned > 0 {
			printInfo("", numbers.Sprintf("%d entries for deleted files (run 'fourgrep cache pack')", rep.Orphaned))
		}
	} else {
		printSkip("", "skipped (cache root not available)")
	}
	fmt.Println()

	if !allOK {
		return fmt.Errorf("doctor found problems")
	}
	fmt.Println("  All checks passed.")
	return nil
}

func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(filepath.Clean(name))
}
