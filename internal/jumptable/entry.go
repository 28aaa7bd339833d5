// Package jumptable implements the 8-byte jump-table entry used by the
// CODE0/CODEn segment model: a slot that starts out describing an
// unloaded reference (owning segment id, function offset) and is mutated
// in place into a loaded m68k JMP instruction once its segment is copied
// into the image.
package jumptable

import "github.com/retro68/macimg/internal/binio"

// unloadedSentinel is the 16-bit value found at bytes [6:8) of an entry
// that has not yet been patched to point at loaded code.
const unloadedSentinel = 0xA9F0

// jmpOpcode is the m68k "JMP absolute long" opcode written at bytes [2:4)
// once an entry is loaded.
const jmpOpcode = 0x4EF9

// Entry is the raw 8-byte jump-table record. Before Load is called it is
// read as funcOffset16 at [0:2), segmentID16 at [4:6) (or [2:4) in the
// 32-bit convention) and the sentinel at [6:8); after Load, bytes [2:4)
// hold 0x4EF9 and [4:8) the 32-bit target, while [0:2) are left as they
// were.
type Entry [8]byte

// IsLoaded reports whether the entry has already been patched to a JMP.
func (e Entry) IsLoaded() bool {
	v, _ := binio.PeekUint16At(e[:], 6)
	return v != unloadedSentinel
}

// SegmentID returns the segment id this entry references. Only meaningful
// before the entry is loaded.
func (e Entry) SegmentID() uint16 {
	v, _ := binio.PeekUint16At(e[:], 4)
	return v
}

// FuncOffset returns the function's offset within its owning segment.
// Only meaningful before the entry is loaded.
func (e Entry) FuncOffset() uint16 {
	v, _ := binio.PeekUint16At(e[:], 0)
	return v
}

// Load patches the entry in place into a JMP to offset+FuncOffset(). A
// call on an already-loaded entry is a no-op, mirroring
// JumpTableEntry::load in the classic source.
func (e *Entry) Load(offset uint32) {
	if e.IsLoaded() {
		return
	}
	target := offset + uint32(e.FuncOffset())
	binio.PutUint16(e[:], 2, jmpOpcode)
	binio.PutUint32(e[:], 4, target)
}

// IsLoaded32Bit reports whether a 32-bit-segment jump-table entry has
// already been patched.
//
// DESIGN NOTE (open question, resolved deliberately — see DESIGN.md): the
// classic source distinguishes IsLoaded32Bit/SegmentID32Bit from their
// non-32-bit counterparts but never defines the byte layout for the 32-bit
// case. Absent trace data, this implementation reuses the same [6:8)
// sentinel for "loaded" (the JMP patch always lands at bytes [2:8) in both
// conventions) and reads the pre-load segment id from bytes [2:4) instead
// of [4:6). This is a documented guess, not a verified fact.
func (e Entry) IsLoaded32Bit() bool {
	return e.IsLoaded()
}

// SegmentID32Bit returns the segment id recorded in a 32-bit-segment
// jump-table entry before it is loaded. See the open-question note on
// IsLoaded32Bit.
func (e Entry) SegmentID32Bit() uint16 {
	v, _ := binio.PeekUint16At(e[:], 2)
	return v
}

// Load32Bit patches the entry for the 32-bit jump-table convention. The
// target offset is the raw segment offset; unlike the standard Load there
// is no per-function offset added, since 32-bit segments address their
// exported functions directly at the segment's load offset (the header's
// own offset/count hunks already select which entries are in play).
func (e *Entry) Load32Bit(offset uint32) {
	if e.IsLoaded32Bit() {
		return
	}
	binio.PutUint16(e[:], 2, jmpOpcode)
	binio.PutUint32(e[:], 4, offset)
}
