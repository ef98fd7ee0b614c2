package gram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_Packing(t *testing.T) {
	p := DefaultParams()

	assert.Equal(t, Fingerprint(0b00010001000100010001), p.EncodeString("aaaaa"))
	assert.Equal(t, Fingerprint(0b00100010001000100010), p.EncodeString("bbbbb"))
	// first byte lands in the high-order bits
	assert.Equal(t, Fingerprint(0x12345), p.EncodeString("abcde"))
}

func TestEncode_IgnoresBytesPastWindow(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, p.EncodeString("abcde"), p.EncodeString("abcdefgh"))
}

func TestEncode_ReducesEveryByte(t *testing.T) {
	p := Params{Chars: 2, CharBits: 3}
	for c := 0; c < 256; c++ {
		fp := p.Encode([]byte{byte(c), byte(c)})
		assert.Less(t, uint64(fp), p.NumBits())
	}
}

func TestWindows(t *testing.T) {
	p := DefaultParams()

	assert.Nil(t, p.Windows([]byte("abcd")))

	got := p.Windows([]byte("abcdefg"))
	require.Len(t, got, 3)
	assert.Equal(t, p.EncodeString("abcde"), got[0])
	assert.Equal(t, p.EncodeString("bcdef"), got[1])
	assert.Equal(t, p.EncodeString("cdefg"), got[2])
}

func TestRoller(t *testing.T) {
	p := Params{Chars: 3, CharBits: 8}
	r := p.NewRoller()

	_, ok := r.Push('x')
	assert.False(t, ok)
	_, ok = r.Push('y')
	assert.False(t, ok)
	fp, ok := r.Push('z')
	require.True(t, ok)
	assert.Equal(t, p.EncodeString("xyz"), fp)

	fp, ok = r.Push('w')
	require.True(t, ok)
	assert.Equal(t, p.EncodeString("yzw"), fp)

	r.Reset()
	_, ok = r.Push('a')
	assert.False(t, ok)
}

func TestParams(t *testing.T) {
	p := DefaultParams()
	require.NoError(t, p.Validate())
	assert.Equal(t, uint(20), p.AddressBits())
	assert.Equal(t, uint64(1048576), p.NumBits())
	assert.Equal(t, 131072, p.BitmapBytes())
	assert.Equal(t, "N=5,B=4", p.String())

	for _, bad := range []Params{
		{Chars: 0, CharBits: 4},
		{Chars: 5, CharBits: 0},
		{Chars: 5, CharBits: 9},
		{Chars: 8, CharBits: 4},
	} {
		assert.ErrorIs(t, bad.Validate(), ErrInvalidParams, bad.String())
	}
}
