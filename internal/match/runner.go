package match

import (
	"bytes"
	"context"
	"io"
	"iter"
	"log/slog"
	"sync"

	"github.com/kamusis/fourgrep/internal/filter"
	"github.com/kamusis/fourgrep/internal/logging"
	"github.com/kamusis/fourgrep/internal/query"
)

// Runner filters a path list and scans the candidates.
type Runner struct {
	engine  *filter.Engine
	matcher *Matcher
	log     *slog.Logger
}

func NewRunner(engine *filter.Engine, matcher *Matcher, log *slog.Logger) *Runner {
	return &Runner{engine: engine, matcher: matcher, log: logging.OrDiscard(log)}
}

// Result summarises a Run.
type Result struct {
	Summary *filter.Summary
	// Matched is the number of files with at least one matching line.
	Matched int
}

// Run decides every path, scans the candidates and writes their matches to
// w. Output for each file is buffered and written in input order, whatever
// order the workers finish in. Files the filter excludes are never opened.
func (r *Runner) Run(ctx context.Context, f *query.Filter, paths iter.Seq[string], w io.Writer) (Result, error) {
	out := &orderedWriter{w: w, pending: make(map[int][]byte)}
	var mu sync.Mutex
	matched := 0

	sum, err := r.engine.Run(ctx, f, paths, func(d filter.Decision) error {
		r.log.Debug("decided", "path", d.Path, "status", d.Status.String())
		if !d.Status.Candidate() {
			return out.put(d.Seq, nil)
		}
		var buf bytes.Buffer
		n, err := r.matcher.ScanFile(d.Path, &buf)
		if err != nil {
			r.log.Warn("cannot scan file", "path", d.Path, "error", err)
		}
		if n > 0 {
			mu.Lock()
			matched++
			mu.Unlock()
		}
		return out.put(d.Seq, buf.Bytes())
	})
	return Result{Summary: sum, Matched: matched}, err
}

// orderedWriter releases per-file output strictly by sequence number.
type orderedWriter struct {
	mu      sync.Mutex
	w       io.Writer
	next    int
	pending map[int][]byte
}

func (o *orderedWriter) put(seq int, data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending[seq] = data
	for {
		chunk, ok := o.pending[o.next]
		if !ok {
			return nil
		}
		delete(o.pending, o.next)
		o.next++
		if len(chunk) == 0 {
			continue
		}
		if _, err := o.w.Write(chunk); err != nil {
			return err
		}
	}
}
