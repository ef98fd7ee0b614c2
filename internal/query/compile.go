package query

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/kamusis/fourgrep/internal/gram"
)

// Syntax selects how alternation, grouping and interval operators are
// spelled in a pattern.
type Syntax int

const (
	// Extended is ERE/RE2 syntax: | ( ) { } + ? are operators.
	Extended Syntax = iota
	// Basic is grep's default syntax: the operators above are literal unless
	// escaped, so alternation is written \|.
	Basic
)

var (
	errCaseFold  = errors.New("case-insensitive pattern")
	errMalformed = errors.New("malformed pattern")
)

type quant int

const (
	quantNone quant = iota
	// quantOptional marks an atom that may be absent: ?, *, {0,n}.
	quantOptional
	// quantRepeat marks an atom present at least once: +, {m,n} with m >= 1.
	quantRepeat
)

// Compile derives the StringIndex of pattern for encoder params p. Every
// column is a literal of at least p.Chars bytes that any match of its row's
// branch must contain. When any branch has no such literal, or the pattern
// cannot be analysed, the empty index is returned.
func Compile(pattern string, p gram.Params, syntax Syntax) StringIndex {
	if syntax == Basic {
		pattern = TranslateBasic(pattern)
	}
	rows, err := compileAlternation(pattern, p.Chars)
	if err != nil || len(rows) == 0 {
		return EmptyIndex()
	}
	return StringIndex{Rows: rows}
}

// compileAlternation returns nil rows (and no error) when some branch has
// no qualifying literal.
func compileAlternation(pattern string, minLen int) ([][]string, error) {
	branches, err := splitTopLevel(pattern)
	if err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(branches))
	for _, br := range branches {
		cols, err := compileBranch(br, minLen)
		if err != nil {
			return nil, err
		}
		if len(cols) == 0 {
			return nil, nil
		}
		rows = append(rows, cols)
	}
	return rows, nil
}

// splitTopLevel splits pattern on | outside groups, classes and escapes.
func splitTopLevel(pattern string) ([]string, error) {
	var out []string
	depth, start := 0, 0
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			n, err := escapeLen(pattern, i)
			if err != nil {
				return nil, err
			}
			i += n - 1
		case '[':
			end, err := classEnd(pattern, i)
			if err != nil {
				return nil, err
			}
			i = end
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, errMalformed
			}
		case '|':
			if depth == 0 {
				out = append(out, pattern[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, errMalformed
	}
	return append(out, pattern[start:]), nil
}

// branchScanner accumulates the guaranteed literal runs of one branch.
type branchScanner struct {
	minLen int
	run    []byte
	cols   []string
}

func (s *branchScanner) flush() {
	if len(s.run) >= s.minLen {
		s.cols = append(s.cols, string(s.run))
	}
	s.run = s.run[:0]
}

// atom adds one literal character (all bytes of one rune) under q.
func (s *branchScanner) atom(lit string, q quant) {
	switch q {
	case quantNone:
		s.run = append(s.run, lit...)
	case quantOptional:
		s.flush()
	case quantRepeat:
		s.run = append(s.run, lit...)
		s.flush()
	}
}

// quantifyLast applies q to the last rune already in the run.
func (s *branchScanner) quantifyLast(q quant) {
	switch q {
	case quantOptional:
		_, size := utf8.DecodeLastRune(s.run)
		s.run = s.run[:len(s.run)-size]
		s.flush()
	case quantRepeat:
		s.flush()
	}
}

func compileBranch(branch string, minLen int) ([]string, error) {
	s := &branchScanner{minLen: minLen}
	for i := 0; i < len(branch); {
		c := branch[i]
		switch {
		case c == '\\':
			n, err := escapeLen(branch, i)
			if err != nil {
				return nil, err
			}
			next := branch[i+1]
			q, qn := parseQuantifier(branch, i+n)
			switch {
			case next == 'Q':
				text := strings.TrimSuffix(branch[i+2:i+n], `\E`)
				if text == "" && q != quantNone {
					// an empty quote is invisible: q binds to whatever precedes it
					if len(s.run) == 0 {
						return nil, errMalformed
					}
					s.quantifyLast(q)
				}
				for len(text) > 0 {
					_, size := utf8.DecodeRuneInString(text)
					if size == len(text) {
						s.atom(text, q)
					} else {
						s.atom(text[:size], quantNone)
					}
					text = text[size:]
				}
			case n == 2 && isPunct(next):
				s.atom(branch[i+1:i+2], q)
			default:
				// character class escape, assertion or control character
				s.flush()
			}
			i += n + qn

		case c == '[':
			end, err := classEnd(branch, i)
			if err != nil {
				return nil, err
			}
			s.flush()
			_, qn := parseQuantifier(branch, end+1)
			i = end + 1 + qn

		case c == '(':
			end, err := groupEnd(branch, i)
			if err != nil {
				return nil, err
			}
			body, flagsOnly, fold := groupBody(branch[i+1 : end])
			if fold {
				return nil, errCaseFold
			}
			s.flush()
			q, qn := parseQuantifier(branch, end+1)
			i = end + 1 + qn
			if flagsOnly || q == quantOptional {
				continue
			}
			sub, err := compileAlternation(body, minLen)
			if err != nil {
				return nil, err
			}
			// a group with alternation guarantees none of its branches
			if len(sub) == 1 {
				s.cols = append(s.cols, sub[0]...)
			}

		case c == '.' || c == '^' || c == '$':
			s.flush()
			_, qn := parseQuantifier(branch, i+1)
			i += 1 + qn

		case c == '*' || c == '+' || c == '?':
			s.flush()
			i++

		case c == '{':
			if _, qn := parseQuantifier(branch, i); qn > 0 {
				s.flush()
				i += qn
				continue
			}
			q, qn := parseQuantifier(branch, i+1)
			s.atom("{", q)
			i += 1 + qn

		default:
			_, size := utf8.DecodeRuneInString(branch[i:])
			q, qn := parseQuantifier(branch, i+size)
			s.atom(branch[i:i+size], q)
			i += size + qn
		}
	}
	s.flush()
	return s.cols, nil
}

// parseQuantifier reads a quantifier starting at i, including a trailing
// lazy or possessive marker. n is 0 when there is none.
func parseQuantifier(p string, i int) (q quant, n int) {
	if i >= len(p) {
		return quantNone, 0
	}
	switch p[i] {
	case '*', '?':
		q, n = quantOptional, 1
	case '+':
		q, n = quantRepeat, 1
	case '{':
		min, size, ok := parseInterval(p[i:])
		if !ok {
			return quantNone, 0
		}
		q, n = quantRepeat, size
		if min == 0 {
			q = quantOptional
		}
	default:
		return quantNone, 0
	}
	if i+n < len(p) && (p[i+n] == '?' || p[i+n] == '+') {
		n++
	}
	return q, n
}

// parseInterval parses {m}, {m,} or {m,n} at the start of s.
func parseInterval(s string) (min, size int, ok bool) {
	end := strings.IndexByte(s, '}')
	if end < 2 {
		return 0, 0, false
	}
	body := s[1:end]
	lo, hi, hasComma := strings.Cut(body, ",")
	if !isDigits(lo) || (hasComma && hi != "" && !isDigits(hi)) {
		return 0, 0, false
	}
	for _, d := range lo {
		min = min*10 + int(d-'0')
		if min > 1000 {
			return 0, 0, false
		}
	}
	return min, end + 1, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isPunct(c byte) bool {
	if c >= utf8.RuneSelf {
		return false
	}
	return !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9')
}

// escapeLen returns the byte length of the escape sequence at i.
func escapeLen(p string, i int) (int, error) {
	if i+1 >= len(p) {
		return 0, errMalformed
	}
	switch p[i+1] {
	case 'Q':
		if end := strings.Index(p[i+2:], `\E`); end >= 0 {
			return 2 + end + 2, nil
		}
		return len(p) - i, nil
	case 'p', 'P', 'x':
		if i+2 < len(p) && p[i+2] == '{' {
			end := strings.IndexByte(p[i+2:], '}')
			if end < 0 {
				return 0, errMalformed
			}
			return 2 + end + 1, nil
		}
		if p[i+1] == 'x' {
			return min(4, len(p)-i), nil
		}
		return min(3, len(p)-i), nil
	}
	return 2, nil
}

// classEnd returns the index of the ] closing the class opened at i.
func classEnd(p string, i int) (int, error) {
	j := i + 1
	if j < len(p) && p[j] == '^' {
		j++
	}
	if j < len(p) && p[j] == ']' {
		j++
	}
	for j < len(p) {
		switch {
		case p[j] == '\\':
			j += 2
			continue
		case p[j] == '[' && j+1 < len(p) && p[j+1] == ':':
			if end := strings.Index(p[j+2:], ":]"); end >= 0 {
				j += 2 + end + 2
				continue
			}
		case p[j] == ']':
			return j, nil
		}
		j++
	}
	return 0, errMalformed
}

// groupEnd returns the index of the ) closing the group opened at i.
func groupEnd(p string, i int) (int, error) {
	depth := 0
	for j := i; j < len(p); j++ {
		switch p[j] {
		case '\\':
			n, err := escapeLen(p, j)
			if err != nil {
				return 0, err
			}
			j += n - 1
		case '[':
			end, err := classEnd(p, j)
			if err != nil {
				return 0, err
			}
			j = end
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return j, nil
			}
		}
	}
	return 0, errMalformed
}

// groupBody strips the (?...) prefix of a group's content. flagsOnly is set
// for groups that match no text of their own (flag settings, lookarounds);
// fold is set when the group turns on case-insensitive matching.
func groupBody(inner string) (body string, flagsOnly, fold bool) {
	if !strings.HasPrefix(inner, "?") {
		return inner, false, false
	}
	rest := inner[1:]
	switch {
	case strings.HasPrefix(rest, ":"):
		return rest[1:], false, false
	case strings.HasPrefix(rest, "P<"), strings.HasPrefix(rest, "<") &&
		!strings.HasPrefix(rest, "<=") && !strings.HasPrefix(rest, "<!"):
		if gt := strings.IndexByte(rest, '>'); gt >= 0 {
			return rest[gt+1:], false, false
		}
		return "", true, false
	case strings.HasPrefix(rest, "="), strings.HasPrefix(rest, "!"),
		strings.HasPrefix(rest, "<"), strings.HasPrefix(rest, "P="):
		return "", true, false
	}

	flags, body, hasBody := strings.Cut(rest, ":")
	on := true
	for _, f := range flags {
		switch f {
		case '-':
			on = false
		case 'i':
			if on {
				fold = true
			}
		}
	}
	if !hasBody {
		return "", true, fold
	}
	return body, false, fold
}

// TranslateBasic rewrites a basic-syntax pattern into extended syntax.
func TranslateBasic(pattern string) string {
	var sb strings.Builder
	sb.Grow(len(pattern) + 8)
	atomStart := true
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '[':
			end, err := classEnd(pattern, i)
			if err != nil {
				sb.WriteString(pattern[i:])
				return sb.String()
			}
			sb.WriteString(pattern[i : end+1])
			i = end
			atomStart = false
		case c == '\\' && i+1 < len(pattern):
			next := pattern[i+1]
			if strings.IndexByte("(){}|+?", next) >= 0 {
				sb.WriteByte(next)
				atomStart = next == '(' || next == '|'
			} else {
				sb.WriteByte('\\')
				sb.WriteByte(next)
				atomStart = false
			}
			i++
		case strings.IndexByte("(){}|+?", c) >= 0:
			sb.WriteByte('\\')
			sb.WriteByte(c)
			atomStart = false
		case c == '*' && atomStart:
			sb.WriteString(`\*`)
			atomStart = false
		default:
			sb.WriteByte(c)
			atomStart = atomStart && c == '^'
		}
	}
	return sb.String()
}
