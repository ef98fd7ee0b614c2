// Package match runs the real regular-expression scan over the files the
// filter lets through, and prints results in input order.
package match

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/coregx/coregex"

	"github.com/kamusis/fourgrep/internal/query"
)

// Matcher scans files line by line.
type Matcher struct {
	re *coregex.Regex
}

// Compile builds a Matcher. Basic syntax is translated to extended first,
// the same way the index compiler sees it.
func Compile(pattern string, syntax query.Syntax) (*Matcher, error) {
	if syntax == query.Basic {
		pattern = query.TranslateBasic(pattern)
	}
	re, err := coregex.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return &Matcher{re: re}, nil
}

// MatchLine reports whether line (without its newline) matches.
func (m *Matcher) MatchLine(line []byte) bool { return m.re.Match(line) }

// Scan calls emit for every matching line of r, without the trailing
// newline. It returns the number of matching lines.
func (m *Matcher) Scan(r io.Reader, emit func(line []byte) error) (int, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	n := 0
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimSuffix(line, []byte{'\n'})
			if m.re.Match(line) {
				n++
				if emitErr := emit(line); emitErr != nil {
					return n, emitErr
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
	}
}

// ScanFile writes "path:line" for every match in the file at path.
func (m *Matcher) ScanFile(path string, w io.Writer) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return m.Scan(f, func(line []byte) error {
		if _, err := io.WriteString(w, path); err != nil {
			return err
		}
		if _, err := w.Write([]byte{':'}); err != nil {
			return err
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
		_, err := w.Write([]byte{'\n'})
		return err
	})
}
