// Package gram maps fixed-length byte windows (n-grams) to addresses in a
// bit-addressable space.
//
// Each byte of a window is reduced to CharBits bits by masking and the
// reduced values are packed into a Fingerprint of Chars*CharBits bits. The
// first byte of the window ends up in the high-order bits and the last byte
// in the low-order bits, which lets a rolling state absorb one byte at a
// time with a shift and a mask.
package gram

import (
	"errors"
	"fmt"
)

const (
	// DefaultChars is the default n-gram length.
	DefaultChars = 5
	// DefaultCharBits is the default number of bits kept per byte.
	DefaultCharBits = 4

	// MaxCharBits is the largest per-byte width; a byte has no more bits to keep.
	MaxCharBits = 8
	// MaxAddressBits bounds the bitmap at 2^31 bits (256 MiB).
	MaxAddressBits = 31
)

// ErrInvalidParams is returned by Params.Validate.
var ErrInvalidParams = errors.New("invalid n-gram parameters")

// Fingerprint is the address of one n-gram.
type Fingerprint uint32

// Params are the two tunables of the encoder. Bitmaps built under different
// Params are bit-incompatible.
type Params struct {
	Chars    int `yaml:"ngram_chars"`
	CharBits int `yaml:"ngram_char_bits"`
}

// DefaultParams returns N=5, B=4.
func DefaultParams() Params {
	return Params{Chars: DefaultChars, CharBits: DefaultCharBits}
}

// Validate reports whether p describes a usable address space.
func (p Params) Validate() error {
	if p.Chars < 1 {
		return fmt.Errorf("%w: ngram chars must be >= 1, got %d", ErrInvalidParams, p.Chars)
	}
	if p.CharBits < 1 || p.CharBits > MaxCharBits {
		return fmt.Errorf("%w: ngram char bits must be in [1, %d], got %d", ErrInvalidParams, MaxCharBits, p.CharBits)
	}
	if p.Chars*p.CharBits > MaxAddressBits {
		return fmt.Errorf("%w: %d chars x %d bits exceeds %d address bits",
			ErrInvalidParams, p.Chars, p.CharBits, MaxAddressBits)
	}
	return nil
}

// String renders p as "N=5,B=4".
func (p Params) String() string {
	return fmt.Sprintf("N=%d,B=%d", p.Chars, p.CharBits)
}

// AddressBits returns A = Chars * CharBits.
func (p Params) AddressBits() uint {
	return uint(p.Chars * p.CharBits)
}

// NumBits returns the size of the address space, 2^A.
func (p Params) NumBits() uint64 {
	return uint64(1) << p.AddressBits()
}

// BitmapBytes returns the size in bytes of a dense bitmap over the address space.
func (p Params) BitmapBytes() int {
	return int((p.NumBits() + 7) / 8)
}

func (p Params) charMask() Fingerprint {
	return Fingerprint(1)<<uint(p.CharBits) - 1
}

func (p Params) mask() Fingerprint {
	return Fingerprint(p.NumBits() - 1)
}

// push shifts c into state, dropping the oldest byte.
func (p Params) push(state Fingerprint, c byte) Fingerprint {
	return ((state << uint(p.CharBits)) & p.mask()) + (Fingerprint(c) & p.charMask())
}

// Encode returns the fingerprint of window. Only the first Chars bytes are
// used; a shorter window is encoded as far as it goes.
func (p Params) Encode(window []byte) Fingerprint {
	var fp Fingerprint
	for i := 0; i < len(window) && i < p.Chars; i++ {
		fp = p.push(fp, window[i])
	}
	return fp
}

// EncodeString is Encode for a string window.
func (p Params) EncodeString(window string) Fingerprint {
	return p.Encode([]byte(window))
}

// Windows returns the fingerprint of every Chars-byte window of text, in
// order: len(text)-Chars+1 values, or nil if text is shorter than one window.
func (p Params) Windows(text []byte) []Fingerprint {
	if len(text) < p.Chars {
		return nil
	}
	out := make([]Fingerprint, 0, len(text)-p.Chars+1)
	r := p.NewRoller()
	for _, c := range text {
		if fp, ok := r.Push(c); ok {
			out = append(out, fp)
		}
	}
	return out
}

// Roller maintains the fingerprint of the last Chars bytes of a stream.
type Roller struct {
	p     Params
	state Fingerprint
	seen  int
}

// NewRoller returns a Roller with no bytes seen.
func (p Params) NewRoller() *Roller {
	return &Roller{p: p}
}

// Push absorbs c and returns the fingerprint of the window ending at c.
// ok is false until a full window has been seen.
func (r *Roller) Push(c byte) (fp Fingerprint, ok bool) {
	r.state = r.p.push(r.state, c)
	if r.seen < r.p.Chars {
		r.seen++
	}
	return r.state, r.seen >= r.p.Chars
}

// Reset forgets every byte seen so far.
func (r *Roller) Reset() {
	r.state = 0
	r.seen = 0
}
