// Package segment implements the CODE0/CODEn segment model: CODE0 carries
// the application globals layout and the jump table every other code
// segment patches into; CODEn carries a segment's executable payload and,
// in the "32-bit segment" variant, an extended header with relocation
// streams.
package segment

import (
	"errors"
	"fmt"

	"github.com/retro68/macimg/internal/binio"
	"github.com/retro68/macimg/internal/jumptable"
)

// ErrStructure is returned when a segment's header fields violate one of
// the layout invariants (misaligned offsets, size mismatches).
var ErrStructure = errors.New("segment: structure violation")

// ErrCrossReference is returned when a CODEn segment references a
// CODE0 jump-table slot that doesn't exist, or whose recorded owner
// disagrees with the segment doing the referencing.
var ErrCrossReference = errors.New("segment: jump-table cross-reference violation")

const code0HeaderSize = 16

// Code0 is the parsed CODE0 resource: the executable's application-globals
// layout plus its full jump table.
type Code0 struct {
	SizeAboveA5          uint32
	GlobalsSize          uint32
	JumpTableSize        uint32
	JumpTableOffsetFromA5 uint32

	entries []jumptable.Entry

	// onlyFirstInitialized records whether every jump-table entry except
	// index 0 is eight zero bytes — a hint that a static-data loader
	// (typically DATA00) will fill the rest of the table in later, rather
	// than it having been loaded from CODE0 itself.
	onlyFirstInitialized bool
}

// ParseCode0 parses a CODE0 resource blob and validates its invariants.
func ParseCode0(data []byte) (*Code0, error) {
	if len(data) < code0HeaderSize {
		return nil, fmt.Errorf("%w: CODE0 blob has only %d bytes, need at least %d", ErrStructure, len(data), code0HeaderSize)
	}

	r := binio.NewReader(data)
	sizeAboveA5, _ := r.Uint32()
	globalsSize, _ := r.Uint32()
	jumpTableSize, _ := r.Uint32()
	jumpTableOffset, _ := r.Uint32()

	if sizeAboveA5 != jumpTableSize+jumpTableOffset {
		return nil, fmt.Errorf("%w: sizeAboveA5 (%d) != jumpTableSize (%d) + jumpTableOffsetFromA5 (%d)", ErrStructure, sizeAboveA5, jumpTableSize, jumpTableOffset)
	}
	if jumpTableSize%8 != 0 {
		return nil, fmt.Errorf("%w: jumpTableSize %d is not a multiple of 8", ErrStructure, jumpTableSize)
	}
	if (globalsSize+jumpTableOffset+jumpTableSize)%2 != 0 {
		return nil, fmt.Errorf("%w: CODE0 segment size is odd", ErrStructure)
	}

	c := &Code0{
		SizeAboveA5:           sizeAboveA5,
		GlobalsSize:           globalsSize,
		JumpTableSize:         jumpTableSize,
		JumpTableOffsetFromA5: jumpTableOffset,
	}

	entryCount := int(jumpTableSize / 8)
	c.entries = make([]jumptable.Entry, entryCount)

	for i := 0; i < entryCount; i++ {
		raw, err := r.Bytes(8)
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("%w: CODE0 blob declares %d jump-table entries but carries none", ErrStructure, entryCount)
			}
			// Entry 0 was present but the resource was truncated after
			// it; everything past it stays zeroed, which the scan below
			// also recognizes as "only entry 0 initialized".
			break
		}
		copy(c.entries[i][:], raw)
	}

	c.onlyFirstInitialized = allZeroPastFirst(c.entries)

	return c, nil
}

// allZeroPastFirst reports whether every entry except index 0 is eight
// zero bytes, per spec.md's "only entry 0 initialized" definition.
func allZeroPastFirst(entries []jumptable.Entry) bool {
	var zero jumptable.Entry
	for i := 1; i < len(entries); i++ {
		if entries[i] != zero {
			return false
		}
	}
	return true
}

// JumpTableEntryCount returns the number of jump-table slots.
func (c *Code0) JumpTableEntryCount() int { return len(c.entries) }

// Entry returns a pointer to jump-table slot i for in-place mutation by a
// CODEn segment's patching pass.
func (c *Code0) Entry(i int) (*jumptable.Entry, error) {
	if i < 0 || i >= len(c.entries) {
		return nil, fmt.Errorf("%w: jump-table entry %d out of range [0,%d)", ErrCrossReference, i, len(c.entries))
	}
	return &c.entries[i], nil
}

// IsJumpTableUninitialized reports whether every jump-table entry except
// index 0 is eight zero bytes, per spec.md's "only entry 0 initialized"
// flag: a hint that a static-data loader will fill the rest of the table
// in before the image is written.
func (c *Code0) IsJumpTableUninitialized() bool { return c.onlyFirstInitialized }

// SegmentSize returns the total size, in bytes, of the CODE0 pre-image
// region (globals + parameters + jump table).
func (c *Code0) SegmentSize() uint32 {
	return c.GlobalsSize + c.JumpTableOffsetFromA5 + c.JumpTableSize
}

// JumpTableOffset returns the absolute offset of the jump table within the
// final image (GlobalsSize + JumpTableOffsetFromA5).
func (c *Code0) JumpTableOffset() uint32 {
	return c.GlobalsSize + c.JumpTableOffsetFromA5
}

// RefreshJumpTableFromImage re-reads jump-table entries [1, count) from
// image's current jump-table region, overwriting this Code0's in-memory
// copy of them. A static-data loader (DATA00) that writes jump-table
// bytes directly into the shared image must call this afterward, so a
// later WriteToImage reproduces what was just written instead of
// clobbering it with the stale entries parsed from the CODE0 resource.
// Entry 0 is left untouched: it is always supplied by CODE0 itself.
func (c *Code0) RefreshJumpTableFromImage(image []byte) error {
	tableStart := c.JumpTableOffset()
	for i := 1; i < len(c.entries); i++ {
		off := tableStart + uint32(i*8)
		if uint64(off)+8 > uint64(len(image)) {
			return fmt.Errorf("%w: jump-table entry %d at offset %d falls outside a %d-byte image", ErrStructure, i, off, len(image))
		}
		copy(c.entries[i][:], image[off:off+8])
	}
	return nil
}

// WriteToImage zeroes the globals and application-parameters regions and
// copies the current (fully patched) jump table into image. It must run
// after every CODEn and static-data patch has been applied, since it
// captures the jump table's final state.
func (c *Code0) WriteToImage(image []byte) error {
	size := c.SegmentSize()
	if uint32(len(image)) < size {
		return fmt.Errorf("%w: image has %d bytes, CODE0 segment needs %d", ErrStructure, len(image), size)
	}

	for i := uint32(0); i < c.GlobalsSize+c.JumpTableOffsetFromA5; i++ {
		image[i] = 0
	}

	tableStart := c.JumpTableOffset()
	for i, e := range c.entries {
		copy(image[tableStart+uint32(i*8):], e[:])
	}
	return nil
}
