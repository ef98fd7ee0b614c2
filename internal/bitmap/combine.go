package bitmap

import (
	"context"
	"errors"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ErrNoBitmaps is returned by Combine when called without inputs.
var ErrNoBitmaps = errors.New("no bitmaps to combine")

// Combine returns the union of bms without modifying any input. The inputs
// are reduced pairwise, one tree level at a time, with each level's merges
// running concurrently.
func Combine(ctx context.Context, bms ...*Bitmap) (*Bitmap, error) {
	if len(bms) == 0 {
		return nil, ErrNoBitmaps
	}
	p := bms[0].params
	for _, b := range bms[1:] {
		if b.params != p {
			return nil, ErrSizeMismatch
		}
	}

	level := make([]*Bitmap, len(bms))
	for i, b := range bms {
		level[i] = b
	}
	owned := make([]bool, len(level))

	for len(level) > 1 {
		next := make([]*Bitmap, (len(level)+1)/2)
		nextOwned := make([]bool, len(next))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(runtime.GOMAXPROCS(0))
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next[i/2] = level[i]
				nextOwned[i/2] = owned[i]
				continue
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				dst := level[i]
				if !owned[i] {
					dst = dst.Clone()
				}
				if err := dst.Union(level[i+1]); err != nil {
					return err
				}
				next[i/2] = dst
				nextOwned[i/2] = true
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		level, owned = next, nextOwned
	}

	if !owned[0] {
		return level[0].Clone(), nil
	}
	return level[0], nil
}
