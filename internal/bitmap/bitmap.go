// Package bitmap implements the dense n-gram presence bitmap of a file.
//
// A Bitmap has exactly 2^A bits for the gram.Params it was created with; bit
// f is set when the fingerprint f occurs anywhere in the indexed content.
package bitmap

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/bits-and-blooms/bitset"
	"github.com/kamusis/fourgrep/internal/gram"
)

const readBufSize = 64 * 1024

// ErrSizeMismatch is returned when two bitmaps (or a bitmap and a raw
// buffer) disagree on the address space.
var ErrSizeMismatch = errors.New("bitmap size mismatch")

// Bitmap is a dense bit array over the fingerprint address space.
type Bitmap struct {
	params gram.Params
	bits   *bitset.BitSet
}

// New returns an all-zero bitmap for p.
func New(p gram.Params) *Bitmap {
	return &Bitmap{params: p, bits: bitset.New(uint(p.NumBits()))}
}

// Params returns the encoder parameters the bitmap was built under.
func (b *Bitmap) Params() gram.Params { return b.params }

// Len returns the number of addressable bits.
func (b *Bitmap) Len() uint64 { return b.params.NumBits() }

// Set marks fp as present.
func (b *Bitmap) Set(fp gram.Fingerprint) { b.bits.Set(uint(fp)) }

// Test reports whether fp is present.
func (b *Bitmap) Test(fp gram.Fingerprint) bool { return b.bits.Test(uint(fp)) }

// TestAll reports whether every fingerprint in fps is present.
func (b *Bitmap) TestAll(fps []gram.Fingerprint) bool {
	for _, fp := range fps {
		if !b.bits.Test(uint(fp)) {
			return false
		}
	}
	return true
}

// Count returns the number of set bits.
func (b *Bitmap) Count() uint { return b.bits.Count() }

// Clone returns a deep copy.
func (b *Bitmap) Clone() *Bitmap {
	return &Bitmap{params: b.params, bits: b.bits.Clone()}
}

// Equal reports whether b and o have the same params and the same bits set.
func (b *Bitmap) Equal(o *Bitmap) bool {
	if o == nil {
		return false
	}
	return b.params == o.params && b.bits.Equal(o.bits)
}

// Union sets every bit of o in b.
func (b *Bitmap) Union(o *Bitmap) error {
	if b.params != o.params {
		return fmt.Errorf("%w: %s vs %s", ErrSizeMismatch, b.params, o.params)
	}
	b.bits.InPlaceUnion(o.bits)
	return nil
}

// AddText sets the bit of every full window in text. Windows do not span
// separate calls.
func (b *Bitmap) AddText(text []byte) {
	r := b.params.NewRoller()
	for _, c := range text {
		if fp, ok := r.Push(c); ok {
			b.bits.Set(uint(fp))
		}
	}
}

// FromReader streams r through a rolling fingerprint and returns the bitmap
// of its content.
func FromReader(p gram.Params, r io.Reader) (*Bitmap, error) {
	b := New(p)
	roller := p.NewRoller()
	br := bufio.NewReaderSize(r, readBufSize)
	buf := make([]byte, readBufSize)
	for {
		n, err := br.Read(buf)
		for _, c := range buf[:n] {
			if fp, ok := roller.Push(c); ok {
				b.bits.Set(uint(fp))
			}
		}
		if errors.Is(err, io.EOF) {
			return b, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// MarshalRaw returns the bitmap as BitmapBytes() bytes: bit i is bit i%8 of
// byte i/8.
func (b *Bitmap) MarshalRaw() []byte {
	out := make([]byte, b.params.BitmapBytes())
	for i, ok := b.bits.NextSet(0); ok; i, ok = b.bits.NextSet(i + 1) {
		out[i/8] |= 1 << (i % 8)
	}
	return out
}

// UnmarshalRaw is the inverse of MarshalRaw.
func UnmarshalRaw(p gram.Params, data []byte) (*Bitmap, error) {
	if len(data) != p.BitmapBytes() {
		return nil, fmt.Errorf("%w: got %d bytes, want %d for %s", ErrSizeMismatch, len(data), p.BitmapBytes(), p)
	}
	b := New(p)
	for i, v := range data {
		if v == 0 {
			continue
		}
		for j := uint(0); j < 8; j++ {
			if v&(1<<j) != 0 {
				b.bits.Set(uint(i)*8 + j)
			}
		}
	}
	return b, nil
}

// WriteRaw writes the raw form of b to w.
func (b *Bitmap) WriteRaw(w io.Writer) error {
	_, err := w.Write(b.MarshalRaw())
	return err
}

// ReadRaw reads exactly one raw bitmap for p from r.
func ReadRaw(p gram.Params, r io.Reader) (*Bitmap, error) {
	data := make([]byte, p.BitmapBytes())
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: short raw bitmap", ErrSizeMismatch)
		}
		return nil, err
	}
	return UnmarshalRaw(p, data)
}
