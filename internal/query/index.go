// Package query turns a search pattern into the literal substrings every
// match must contain, and turns those substrings into fingerprint rows that
// can be tested against a file bitmap.
package query

import (
	"strings"

	"github.com/kamusis/fourgrep/internal/bitmap"
	"github.com/kamusis/fourgrep/internal/gram"
)

// StringIndex is a disjunction of conjunctions of literal substrings: a file
// can only match if, for at least one row, it contains every column of that
// row.
type StringIndex struct {
	Rows [][]string
}

// NewStringIndex builds an index from explicit rows.
func NewStringIndex(rows ...[]string) StringIndex {
	return StringIndex{Rows: rows}
}

// EmptyIndex returns the canonical index that excludes nothing.
func EmptyIndex() StringIndex {
	return StringIndex{}
}

// Empty reports whether the index carries no usable information. A row
// without columns could match any file, so it empties the whole index.
func (s StringIndex) Empty() bool {
	if len(s.Rows) == 0 {
		return true
	}
	for _, row := range s.Rows {
		if len(row) == 0 {
			return true
		}
	}
	return false
}

// Equal compares rows and columns in order.
func (s StringIndex) Equal(o StringIndex) bool {
	if s.Empty() || o.Empty() {
		return s.Empty() && o.Empty()
	}
	if len(s.Rows) != len(o.Rows) {
		return false
	}
	for i := range s.Rows {
		if len(s.Rows[i]) != len(o.Rows[i]) {
			return false
		}
		for j := range s.Rows[i] {
			if s.Rows[i][j] != o.Rows[i][j] {
				return false
			}
		}
	}
	return true
}

// String renders the index as "[a b] | [c]".
func (s StringIndex) String() string {
	if s.Empty() {
		return "<empty>"
	}
	parts := make([]string, len(s.Rows))
	for i, row := range s.Rows {
		parts[i] = "[" + strings.Join(row, " ") + "]"
	}
	return strings.Join(parts, " | ")
}

// Row is the fingerprint conjunction of one StringIndex row.
type Row struct {
	Fingerprints []gram.Fingerprint
}

// Filter is the runtime form of a StringIndex for one set of encoder params.
type Filter struct {
	params gram.Params
	empty  bool
	Rows   []Row
}

// Build encodes every column of s with p. A column of length L contributes
// its L-N+1 window fingerprints, in order; a column shorter than one window
// contributes nothing.
func (s StringIndex) Build(p gram.Params) *Filter {
	f := &Filter{params: p, empty: s.Empty()}
	if f.empty {
		return f
	}
	f.Rows = make([]Row, len(s.Rows))
	for i, row := range s.Rows {
		var fps []gram.Fingerprint
		for _, col := range row {
			fps = append(fps, p.Windows([]byte(col))...)
		}
		f.Rows[i] = Row{Fingerprints: fps}
	}
	return f
}

// Params returns the encoder params the filter was built with.
func (f *Filter) Params() gram.Params { return f.params }

// NumRows returns the number of rows.
func (f *Filter) NumRows() int { return len(f.Rows) }

// Empty reports whether the filter was built from an empty index.
func (f *Filter) Empty() bool { return f == nil || f.empty }

// Matches reports whether some row has all of its fingerprints set in b.
// It is a necessary, not sufficient, condition for a real match.
func (f *Filter) Matches(b *bitmap.Bitmap) bool {
	if f.Empty() {
		return true
	}
	for _, row := range f.Rows {
		if b.TestAll(row.Fingerprints) {
			return true
		}
	}
	return false
}
