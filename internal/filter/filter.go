// Package filter decides, file by file, whether a compiled query can match.
package filter

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kamusis/fourgrep/internal/bitmap"
	"github.com/kamusis/fourgrep/internal/gram"
	"github.com/kamusis/fourgrep/internal/logging"
	"github.com/kamusis/fourgrep/internal/query"
	"github.com/kamusis/fourgrep/internal/store"
)

// Status is the per-file outcome of Decide.
type Status int

const (
	NotFound        Status = -1
	Skipped         Status = 0
	MatchCached     Status = 1
	NoMatchCached   Status = 2
	MatchComputed   Status = 3
	NoMatchComputed Status = 4
)

// Statuses lists every status in code order.
var Statuses = []Status{NotFound, Skipped, MatchCached, NoMatchCached, MatchComputed, NoMatchComputed}

func (s Status) String() string {
	switch s {
	case NotFound:
		return "not-found"
	case Skipped:
		return "skipped"
	case MatchCached:
		return "match-cached"
	case NoMatchCached:
		return "no-match-cached"
	case MatchComputed:
		return "match-computed"
	case NoMatchComputed:
		return "no-match-computed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Candidate reports whether the matcher must read the file.
func (s Status) Candidate() bool {
	return s == Skipped || s == MatchCached || s == MatchComputed
}

// Cache is the bitmap store the engine reads and refreshes.
type Cache interface {
	Params() gram.Params
	Lookup(path string) (store.Result, error)
	Rebuild(path string) (*bitmap.Bitmap, time.Time, error)
	Invalidate(path string) error
}

// Options tunes an Engine.
type Options struct {
	// Workers bounds concurrent Decide calls in Run. Zero means GOMAXPROCS.
	Workers int
	// Disabled forces every existing file to Skipped.
	Disabled bool
	Logger   *slog.Logger
}

// Engine runs Decide against one cache.
type Engine struct {
	cache    Cache
	workers  int
	disabled bool
	log      *slog.Logger
}

func New(cache Cache, opts Options) *Engine {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{
		cache:    cache,
		workers:  workers,
		disabled: opts.Disabled,
		log:      logging.OrDiscard(opts.Logger),
	}
}

// Decide classifies one file. Every failure resolves to a status. A file
// that cannot be stat'd or read is NotFound and its cache entry is dropped.
// A cache that cannot index the file lets it through as Skipped.
func (e *Engine) Decide(f *query.Filter, path string) Status {
	if _, err := os.Stat(path); err != nil {
		e.forget(path)
		return NotFound
	}
	if e.disabled || f.Empty() {
		return Skipped
	}
	if p := e.cache.Params(); f.Params() != p {
		e.log.Error("filter and cache use different n-gram parameters, not filtering",
			"filter", f.Params().String(), "cache", p.String())
		return Skipped
	}

	res, err := e.cache.Lookup(path)
	if err != nil {
		e.log.Warn("cache lookup failed, rebuilding", "path", path, "error", err)
		res.State = store.Missing
	}
	switch res.State {
	case store.Gone:
		e.forget(path)
		return NotFound
	case store.Hit:
		if f.Matches(res.Bitmap) {
			return MatchCached
		}
		return NoMatchCached
	}

	bm, _, err := e.cache.Rebuild(path)
	switch {
	case errors.Is(err, store.ErrUnreadable):
		e.log.Warn("cannot index file", "path", path, "state", res.State.String(), "error", err)
		if errors.Is(err, fs.ErrNotExist) {
			e.forget(path)
		}
		return NotFound
	case err != nil:
		e.log.Warn("cache cannot index file, not filtering it", "path", path, "error", err)
		return Skipped
	}
	if f.Matches(bm) {
		return MatchComputed
	}
	return NoMatchComputed
}

// forget drops the cache entry of a file confirmed missing, so a file later
// restored with the same mtime is not served the old bitmap.
func (e *Engine) forget(path string) {
	if err := e.cache.Invalidate(path); err != nil {
		e.log.Warn("cannot invalidate cache entry", "path", path, "error", err)
	}
}

// Decision is one result of Run. Seq is the path's position in the input.
type Decision struct {
	Seq    int
	Path   string
	Status Status
}

// Summary counts the statuses produced by Run.
type Summary struct {
	counts [numStatuses]atomic.Int64
}

const numStatuses = int(NoMatchComputed-NotFound) + 1

func (s *Summary) add(st Status) { s.counts[int(st)+1].Add(1) }

// Count returns how many files ended with st.
func (s *Summary) Count(st Status) int64 {
	i := int(st) + 1
	if i < 0 || i >= len(s.counts) {
		return 0
	}
	return s.counts[i].Load()
}

// Total returns the number of files decided.
func (s *Summary) Total() int64 {
	var n int64
	for i := range s.counts {
		n += s.counts[i].Load()
	}
	return n
}

// Run decides every path with at most Workers concurrent calls and hands
// each Decision to fn. fn is called from worker goroutines in completion
// order; Decision.Seq restores input order. Cancelling ctx stops Run
// between files.
func (e *Engine) Run(ctx context.Context, f *query.Filter, paths iter.Seq[string], fn func(Decision) error) (*Summary, error) {
	sum := &Summary{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	seq := 0
	for path := range paths {
		if gctx.Err() != nil {
			break
		}
		d := Decision{Seq: seq, Path: path}
		seq++
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d.Status = e.Decide(f, d.Path)
			sum.add(d.Status)
			return fn(d)
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}
	return sum, ctx.Err()
}
