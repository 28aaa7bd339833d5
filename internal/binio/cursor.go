// Package binio provides bounds-checked, big-endian cursor primitives over
// a borrowed byte slice. The CODE0 header parser and the jump-table entry
// use it; the resource-fork reader, CODEn headers and the A5Init and DATA00
// codecs read with encoding/binary or their own cursors instead.
package binio

import (
	"encoding/binary"
	"errors"
)

// ErrOutOfRange is returned whenever an advance, read, or write would step
// outside the bounds of the underlying buffer.
var ErrOutOfRange = errors.New("binio: access out of range")

// Reader is a position cursor over a byte slice it does not own. All reads
// are big-endian, matching the 68k executables this module decodes.
type Reader struct {
	buf []byte
	pos int
}

// NewReader creates a Reader starting at position 0 of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// require checks that n bytes are available to read at the cursor.
func (r *Reader) require(n int) error {
	if r.pos < 0 || n < 0 || r.pos+n > len(r.buf) {
		return ErrOutOfRange
	}
	return nil
}

// Uint32 reads a big-endian uint32 and advances the cursor.
func (r *Reader) Uint32() (uint32, error) {
	if err := r.require(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// Bytes reads n raw bytes and advances the cursor. The returned slice
// aliases the reader's buffer; callers that need an owned copy must copy
// it themselves.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if err := r.require(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// PeekUint16At reads a big-endian uint16 at an absolute offset without
// moving the cursor.
func PeekUint16At(buf []byte, off int) (uint16, error) {
	if off < 0 || off+2 > len(buf) {
		return 0, ErrOutOfRange
	}
	return binary.BigEndian.Uint16(buf[off:]), nil
}

// PutUint16 writes v as big-endian at buf[off:off+2].
func PutUint16(buf []byte, off int, v uint16) {
	binary.BigEndian.PutUint16(buf[off:], v)
}

// PutUint32 writes v as big-endian at buf[off:off+4].
func PutUint32(buf []byte, off int, v uint32) {
	binary.BigEndian.PutUint32(buf[off:], v)
}
