package bitmap

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kamusis/fourgrep/internal/gram"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies how a bitmap payload is compressed on disk. The value is
// persisted, so existing constants must not be renumbered.
type Codec uint8

const (
	// CodecNone stores the raw bitmap.
	CodecNone Codec = 0
	// CodecZstd compresses with zstd (best ratio, default).
	CodecZstd Codec = 1
	// CodecLZ4 compresses with LZ4 block compression (fastest decode).
	CodecLZ4 Codec = 2
)

// ErrUnknownCodec is returned for codec values this build cannot decode.
var ErrUnknownCodec = errors.New("unknown bitmap codec")

// ParseCodec maps a config string to a Codec. The empty string selects zstd.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	case "none", "raw":
		return CodecNone, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, s)
}

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	}
	return fmt.Sprintf("codec(%d)", uint8(c))
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// Encode compresses b with c. The returned codec is the one actually used:
// LZ4 falls back to CodecNone when the bitmap is incompressible.
func (b *Bitmap) Encode(c Codec) ([]byte, Codec, error) {
	raw := b.MarshalRaw()
	switch c {
	case CodecNone:
		return raw, CodecNone, nil
	case CodecZstd:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, 0, fmt.Errorf("zstd encoder: %w", err)
		}
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(raw, nil), CodecZstd, nil
	case CodecLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, dst, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 {
			return raw, CodecNone, nil
		}
		return dst[:n], CodecLZ4, nil
	}
	return nil, 0, fmt.Errorf("%w: %s", ErrUnknownCodec, c)
}

// Decode rebuilds a bitmap for p from a payload produced by Encode.
func Decode(p gram.Params, c Codec, payload []byte) (*Bitmap, error) {
	size := p.BitmapBytes()
	var raw []byte
	switch c {
	case CodecNone:
		raw = payload
	case CodecZstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		defer zstdDecoderPool.Put(dec)
		raw, err = dec.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
	case CodecLZ4:
		raw = make([]byte, size)
		n, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return nil, fmt.Errorf("lz4 decode: %w", err)
		}
		raw = raw[:n]
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, c)
	}
	return UnmarshalRaw(p, raw)
}
