package pathlist

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
)

func TestFromArgs(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, slices.Collect(FromArgs([]string{"a", "b"})))
	assert.Empty(t, slices.Collect(FromArgs(nil)))
}

func TestLinesStopsAtBlankLine(t *testing.T) {
	l := NewLines(strings.NewReader("a.txt\r\nb.txt\n\nc.txt\n"))
	assert.Equal(t, []string{"a.txt", "b.txt"}, slices.Collect(l.All()))
	assert.NoError(t, l.Err())
}

func TestLinesStopsAtEOF(t *testing.T) {
	l := NewLines(strings.NewReader("a.txt\nb.txt"))
	assert.Equal(t, []string{"a.txt", "b.txt"}, slices.Collect(l.All()))
}

func TestLinesIsLazy(t *testing.T) {
	l := NewLines(strings.NewReader("a\nb\nc\n"))
	var got []string
	for p := range l.All() {
		got = append(got, p)
		if p == "b" {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestLinesReportsReadError(t *testing.T) {
	boom := errors.New("boom")
	l := NewLines(iotest.ErrReader(boom))
	assert.Empty(t, slices.Collect(l.All()))
	assert.ErrorIs(t, l.Err(), boom)
}
