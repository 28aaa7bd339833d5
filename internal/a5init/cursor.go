package a5init

import "encoding/binary"

// cursor is a forward-only, bounds-checked read position over a borrowed
// byte slice, in the position-field style of internal/binio — no raw
// pointers, and every advance past the end of buf is rejected rather than
// silently read out of range.
type cursor struct {
	buf []byte
	pos int
}

func newCursor(buf []byte) *cursor {
	return &cursor{buf: buf}
}

func (c *cursor) byte() (byte, error) {
	if c.pos >= len(c.buf) {
		return 0, ErrDecoder
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

func (c *cursor) uint32() (uint32, error) {
	if c.pos+4 > len(c.buf) {
		return 0, ErrDecoder
	}
	v := binary.BigEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

// bytes returns the next n bytes and advances past them.
func (c *cursor) bytes(n int) ([]byte, error) {
	if c.pos+n > len(c.buf) {
		return nil, ErrDecoder
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// readRunLength decodes a variable-width run length, mirroring
// A5InitLoader::getRunLength. special is an out-parameter used only by the
// recursive (marker-bits 0x10) case, exactly as in the classic source.
func readRunLength(c *cursor, special *uint32) (uint32, error) {
	rl, err := c.byte()
	if err != nil {
		return 0, err
	}
	rv := uint32(rl)

	switch {
	case rv&0x80 == 0:
		return rv, nil
	case rv&0x40 == 0:
		b, err := c.byte()
		if err != nil {
			return 0, err
		}
		rv &= 0x3F
		rv = rv<<8 | uint32(b)
		return rv, nil
	case rv&0x20 == 0:
		b1, err := c.byte()
		if err != nil {
			return 0, err
		}
		b2, err := c.byte()
		if err != nil {
			return 0, err
		}
		rv &= 0x1F
		rv = rv<<8 | uint32(b1)
		rv = rv<<8 | uint32(b2)
		return rv, nil
	case rv&0x10 == 0:
		return c.uint32()
	default:
		rv, err = readRunLength(c, special)
		if err != nil {
			return 0, err
		}
		sp, err := readRunLength(c, special)
		if err != nil {
			return 0, err
		}
		*special = sp
		return rv, nil
	}
}
