// Package pathlist produces the lazy sequence of file paths a run works on.
package pathlist

import (
	"bufio"
	"io"
	"iter"
	"slices"
	"strings"
)

const maxLine = 1 << 20

// FromArgs yields args in order.
func FromArgs(args []string) iter.Seq[string] {
	return slices.Values(args)
}

// Lines reads one path per line. Input ends at the first blank line or at
// EOF. A Lines is single-use: iterate All once, then check Err.
type Lines struct {
	r   io.Reader
	err error
}

func NewLines(r io.Reader) *Lines {
	return &Lines{r: r}
}

// All yields paths as they are read, so filtering can start before the list
// is complete.
func (l *Lines) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		sc := bufio.NewScanner(l.r)
		sc.Buffer(make([]byte, 0, 4096), maxLine)
		for sc.Scan() {
			line := strings.TrimSuffix(sc.Text(), "\r")
			if line == "" {
				return
			}
			if !yield(line) {
				return
			}
		}
		l.err = sc.Err()
	}
}

// Err returns the read error that ended All, if any.
func (l *Lines) Err() error { return l.err }
