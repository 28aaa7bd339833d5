// Package data00 implements the DATA00 static-data loader: a special
// CODE segment whose real job is to decompress three regions of the
// application-globals area (and, sometimes, part of the jump table)
// using a small byte-oriented template expander, rather than to carry
// executable code.
package data00

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/retro68/macimg/internal/segment"
	"github.com/retro68/macimg/resourcefork"
)

// Name identifies this loader in diagnostic output.
const Name = "DATA00 loader"

// resourceID is the DATA00 resource's id within its ("DATA", 0) slot.
const resourceID = 0x0000

// minSegmentSize is the smallest segment size IsSupported will consider;
// detection reads fixed offsets up to 0x44+4 into the segment.
const minSegmentSize = 0x210

// ErrDecoder is returned for any DATA00 structural problem: an opcode
// byte with no known meaning, or a write that would fall outside the
// destination image.
var ErrDecoder = errors.New("data00: invalid opcode stream or out-of-range write")

// Loader recognizes and expands a DATA00 segment. Mirrors Data00Loader.
type Loader struct {
	fork   *resourcefork.Fork
	code0  *segment.Code0
	memory []byte

	data []byte
}

// NewLoader builds a DATA00 loader bound to the given resource fork,
// parsed CODE0 segment, and the executable's (shared, mutable) in-memory
// image.
func NewLoader(fork *resourcefork.Fork, code0 *segment.Code0, memory []byte) *Loader {
	return &Loader{fork: fork, code0: code0, memory: memory}
}

func (l *Loader) Name() string { return Name }

// Reset clears the cached DATA00 resource bytes from a previous probe.
func (l *Loader) Reset() { l.data = nil }

// IsSupported detects a DATA00 segment by its fixed CODE/DATA tag layout
// and the presence of a ("DATA", 0) resource.
func (l *Loader) IsSupported(name string, offset, size uint32) bool {
	memory := l.memory
	if size < minSegmentSize || uint64(len(memory)) < uint64(offset)+minSegmentSize {
		return false
	}
	if binary.BigEndian.Uint16(memory[offset:]) != 0 {
		return false
	}
	if binary.BigEndian.Uint16(memory[offset+2:]) != 1 {
		return false
	}
	if binary.BigEndian.Uint32(memory[offset+0x0A:]) != resourcefork.TypeCODE {
		return false
	}
	if binary.BigEndian.Uint32(memory[offset+0x44:]) != resourcefork.TypeDATA {
		return false
	}

	data, err := l.fork.Fetch(resourcefork.TypeDATA, resourceID)
	if err != nil {
		return false
	}
	l.data = data
	return true
}

// Load expands the three DATA00 regions into the shared image starting at
// A5 base, and, if any region wrote into the jump table's uninitialized
// tail, refreshes Code0's own copy of those entries from the image so a
// later Code0.WriteToImage doesn't clobber them.
func (l *Loader) Load(offset, size uint32, out io.Writer) error {
	if l.data == nil {
		return fmt.Errorf("%w: Load called without a successful IsSupported probe", ErrDecoder)
	}
	return l.uncompress(out)
}

// uncompress expands the DATA00 resource's three region streams. Mirrors
// Data00Loader::uncompress.
func (l *Loader) uncompress(out io.Writer) error {
	memory := l.memory
	a5Base := int(l.code0.GlobalsSize)
	paramsSize := int32(l.code0.JumpTableOffsetFromA5)

	src := l.data
	if len(src) < 4 {
		return fmt.Errorf("%w: DATA00 resource too short for its region header", ErrDecoder)
	}
	pos := 4 // the first 4 bytes are a length/header field this loader doesn't use

	wroteToJumpTable := false

	for region := 0; region < 3; region++ {
		if pos+4 > len(src) {
			return fmt.Errorf("%w: region %d offset truncated", ErrDecoder, region)
		}
		regionOffset := int32(binary.BigEndian.Uint32(src[pos:]))
		pos += 4

		dst := a5Base + int(regionOffset)

		if regionOffset >= paramsSize+8 {
			fmt.Fprintf(out, "\tData write to jump table offset: %d\n", regionOffset)
			wroteToJumpTable = true
		}

	decode:
		for {
			if pos >= len(src) {
				return fmt.Errorf("%w: opcode stream truncated in region %d", ErrDecoder, region)
			}
			code := src[pos]
			pos++

			switch {
			case code&0x80 != 0:
				n := int(code&0x7F) + 1
				if pos+n > len(src) {
					return fmt.Errorf("%w: literal run truncated", ErrDecoder)
				}
				if err := checkRange(memory, dst, n); err != nil {
					return err
				}
				copy(memory[dst:], src[pos:pos+n])
				pos += n
				dst += n
			case code&0x40 != 0:
				n := int(code&0x3F) + 1
				if err := checkRange(memory, dst, n); err != nil {
					return err
				}
				clear(memory[dst : dst+n])
				dst += n
			case code&0x20 != 0:
				n := int(code&0x1F) + 2
				if pos >= len(src) {
					return fmt.Errorf("%w: fill run missing its value byte", ErrDecoder)
				}
				v := src[pos]
				pos++
				if err := checkRange(memory, dst, n); err != nil {
					return err
				}
				fill(memory[dst:dst+n], v)
				dst += n
			case code&0x10 != 0:
				n := int(code&0x0F) + 1
				if err := checkRange(memory, dst, n); err != nil {
					return err
				}
				fill(memory[dst:dst+n], 0xFF)
				dst += n
			default:
				switch code {
				case 0:
					break decode
				case 1:
					if err := writeTemplate(memory, dst, src, &pos, [8]int{0, 0, 0, 0, 0xFF, 0xFF, -1, -1}); err != nil {
						return err
					}
					dst += 8
				case 2:
					if err := writeTemplate(memory, dst, src, &pos, [8]int{0, 0, 0, 0, 0xFF, -1, -1, -1}); err != nil {
						return err
					}
					dst += 8
				case 3:
					if err := writeTemplate(memory, dst, src, &pos, [8]int{0xA9, 0xF0, 0, 0, -1, -1, 0, -1}); err != nil {
						return err
					}
					dst += 8
				case 4:
					if err := writeTemplate(memory, dst, src, &pos, [8]int{0xA9, 0xF0, 0, -1, -1, -1, 0, -1}); err != nil {
						return err
					}
					dst += 8
				default:
					return fmt.Errorf("%w: invalid opcode %d", ErrDecoder, code)
				}
			}
		}
	}

	if wroteToJumpTable {
		if err := l.code0.RefreshJumpTableFromImage(memory); err != nil {
			return err
		}
		outputJumpTable(l.code0, out)
	}

	return nil
}

// checkRange rejects any write that would leave [start, start+n) outside
// memory, in place of the classic loader's unchecked pointer arithmetic.
func checkRange(memory []byte, start, n int) error {
	if start < 0 || n < 0 || start+n > len(memory) {
		return fmt.Errorf("%w: write of %d bytes at offset %d falls outside a %d-byte image", ErrDecoder, n, start, len(memory))
	}
	return nil
}

func clear(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// writeTemplate writes one of the four literal 8-byte jump-table entry
// templates (opcodes 1-4): fixed bytes are copied as given, and slots
// marked -1 are filled from src in order, advancing *pos past each one
// consumed.
func writeTemplate(memory []byte, dst int, src []byte, pos *int, template [8]int) error {
	if err := checkRange(memory, dst, 8); err != nil {
		return err
	}
	for i, v := range template {
		if v >= 0 {
			memory[dst+i] = byte(v)
			continue
		}
		if *pos >= len(src) {
			return fmt.Errorf("%w: jump-table template ran out of source bytes", ErrDecoder)
		}
		memory[dst+i] = src[*pos]
		*pos++
	}
	return nil
}

// outputJumpTable writes a diagnostic dump of every jump-table entry.
func outputJumpTable(code0 *segment.Code0, out io.Writer) {
	fmt.Fprintln(out, "Jump table:")
	for i := 0; i < code0.JumpTableEntryCount(); i++ {
		e, err := code0.Entry(i)
		if err != nil {
			continue
		}
		fmt.Fprintf(out, "\t%d: % X\n", i, e[:])
	}
}
