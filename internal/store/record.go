package store

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kamusis/fourgrep/internal/bitmap"
)

const (
	flagTombstone uint8 = 1 << iota
)

// name length, mtime, codec, flags, payload length
const recordHeaderSize = 2 + 8 + 1 + 1 + 4

// record is one cache entry as stored on disk, big-endian:
//
//	u16 name length | name | i64 mtime (unix nanos) | u8 codec | u8 flags |
//	u32 payload length | payload
type record struct {
	name    string
	mtime   int64
	codec   bitmap.Codec
	flags   uint8
	payload []byte
}

func (r record) tombstone() bool { return r.flags&flagTombstone != 0 }

func (r record) size() int { return recordHeaderSize + len(r.name) + len(r.payload) }

func (r record) marshal() []byte {
	buf := make([]byte, 0, r.size())
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(r.name)))
	buf = append(buf, r.name...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.mtime))
	buf = append(buf, byte(r.codec), r.flags)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(r.payload)))
	return append(buf, r.payload...)
}

// parseRecord decodes a loose entry, which must hold exactly one record.
func parseRecord(data []byte, maxPayload int) (record, error) {
	if len(data) < recordHeaderSize {
		return record{}, fmt.Errorf("%w: %d bytes is shorter than a header", ErrCorrupt, len(data))
	}
	nameLen := int(binary.BigEndian.Uint16(data))
	if len(data) < recordHeaderSize+nameLen {
		return record{}, fmt.Errorf("%w: name runs past end of entry", ErrCorrupt)
	}
	var r record
	off := 2
	r.name = string(data[off : off+nameLen])
	off += nameLen
	r.mtime = int64(binary.BigEndian.Uint64(data[off:]))
	off += 8
	r.codec = bitmap.Codec(data[off])
	r.flags = data[off+1]
	off += 2
	payloadLen := int(binary.BigEndian.Uint32(data[off:]))
	off += 4
	if payloadLen > maxPayload || off+payloadLen != len(data) {
		return record{}, fmt.Errorf("%w: payload length %d, %d bytes left", ErrCorrupt, payloadLen, len(data)-off)
	}
	r.payload = data[off:]
	return r, nil
}

// readRecord decodes one record from a stream such as a pack file.
func readRecord(rd io.Reader, maxPayload int) (record, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(rd, lenBuf[:]); err != nil {
		return record{}, truncated(err)
	}
	nameLen := int(binary.BigEndian.Uint16(lenBuf[:]))
	body := make([]byte, nameLen+recordHeaderSize-2)
	if _, err := io.ReadFull(rd, body); err != nil {
		return record{}, truncated(err)
	}
	var r record
	r.name = string(body[:nameLen])
	rest := body[nameLen:]
	r.mtime = int64(binary.BigEndian.Uint64(rest))
	r.codec = bitmap.Codec(rest[8])
	r.flags = rest[9]
	payloadLen := int(binary.BigEndian.Uint32(rest[10:]))
	if payloadLen > maxPayload {
		return record{}, fmt.Errorf("%w: payload length %d exceeds %d", ErrCorrupt, payloadLen, maxPayload)
	}
	r.payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(rd, r.payload); err != nil {
		return record{}, truncated(err)
	}
	return r, nil
}

func truncated(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("%w: truncated record", ErrCorrupt)
	}
	return err
}
