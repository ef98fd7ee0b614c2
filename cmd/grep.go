package cmd

import (
	"bufio"
	"fmt"
	"io"
	"iter"

	"github.com/spf13/cobra"

	"github.com/kamusis/fourgrep/internal/filter"
	"github.com/kamusis/fourgrep/internal/match"
	"github.com/kamusis/fourgrep/internal/pathlist"
	"github.com/kamusis/fourgrep/internal/query"
)

var (
	flagExtended bool
	flagNoFilter bool
	flagIndex    []string
	flagStats    bool
)

func init() {
	f := rootCmd.Flags()
	f.BoolVarP(&flagExtended, "extended", "E", false, "extended regex syntax (| ( ) { } + ? are operators)")
	f.BoolVar(&flagNoFilter, "no-filter", false, "scan every file without consulting cached bitmaps")
	f.StringSliceVar(&flagIndex, "index", nil, "use these literals as the index, one alternative each, instead of deriving it from PATTERN")
	f.BoolVar(&flagStats, "stats", false, "print filter statistics to stderr")
}

func runGrep(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	pattern := args[0]
	syntax := query.Basic
	if flagExtended {
		syntax = query.Extended
	}

	// ── 1. Index and matcher ──────────────────────────────────────────────────
	idx := query.Compile(pattern, env.params, syntax)
	if len(flagIndex) > 0 {
		rows := make([][]string, len(flagIndex))
		for i, lit := range flagIndex {
			rows[i] = []string{lit}
		}
		idx = query.NewStringIndex(rows...)
	}
	env.log.Debug("compiled index", "pattern", pattern, "index", idx.String())
	m, err := match.Compile(pattern, syntax)
	if err != nil {
		return err
	}

	// ── 2. Cache and engine ───────────────────────────────────────────────────
	st, err := env.openStore()
	if err != nil {
		return err
	}
	engine := filter.New(st, filter.Options{
		Workers:  env.cfg.Workers,
		Disabled: flagNoFilter,
		Logger:   env.log,
	})

	// ── 3. Paths ──────────────────────────────────────────────────────────────
	var paths iter.Seq[string]
	var lines *pathlist.Lines
	if len(args) > 1 {
		paths = pathlist.FromArgs(args[1:])
	} else {
		lines = pathlist.NewLines(cmd.InOrStdin())
		paths = lines.All()
	}

	// ── 4. Run ────────────────────────────────────────────────────────────────
	out := bufio.NewWriter(cmd.OutOrStdout())
	res, runErr := match.NewRunner(engine, m, env.log).Run(cmd.Context(), idx.Build(env.params), paths, out)
	if flushErr := out.Flush(); runErr == nil {
		runErr = flushErr
	}
	if runErr != nil {
		if isBrokenPipe(runErr) {
			return nil
		}
		return runErr
	}
	if lines != nil && lines.Err() != nil {
		return fmt.Errorf("cannot read file list: %w", lines.Err())
	}
	if flagStats {
		writeStats(cmd.ErrOrStderr(), idx, res)
	}
	return nil
}

func writeStats(w io.Writer, idx query.StringIndex, res match.Result) {
	sum := res.Summary
	numbers.Fprintf(w, "index:   %s\n", idx.String())
	numbers.Fprintf(w, "files:   %d (%d with matches)\n", sum.Total(), res.Matched)
	for _, st := range filter.Statuses {
		numbers.Fprintf(w, "  %-18s %d\n", st.String(), sum.Count(st))
	}
	excluded := sum.Count(filter.NoMatchCached) + sum.Count(filter.NoMatchComputed)
	if total := sum.Total(); total > 0 {
		numbers.Fprintf(w, "excluded: %d of %d (%.1f%%)\n", excluded, total, 100*float64(excluded)/float64(total))
	}
}
