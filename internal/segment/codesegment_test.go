package segment

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestParseAndWriteStandardSegment(t *testing.T) {
	// CODE0: one jump-table entry owned by segment 1, unloaded.
	entry := [8]byte{0, 0, 0, 0, 0, 1, 0xA9, 0xF0}
	code0Data := buildCode0Bytes(16, 0, 8, 8, [][8]byte{entry})
	code0, err := ParseCode0(code0Data)
	if err != nil {
		t.Fatalf("ParseCode0: %v", err)
	}

	// CODE1: jumpTableOffset=0, jumpTableEntryCount=1, 12 bytes of payload.
	segData := make([]byte, 4+12)
	binary.BigEndian.PutUint16(segData[0:2], 0)
	binary.BigEndian.PutUint16(segData[2:4], 1)

	seg, err := ParseCodeSegment(code0, 1, "Seg1", segData)
	if err != nil {
		t.Fatalf("ParseCodeSegment: %v", err)
	}
	if seg.Is32Bit {
		t.Fatal("expected a standard segment, got 32-bit")
	}
	if seg.SegmentSize() != 16 {
		t.Errorf("SegmentSize() = %d, want 16", seg.SegmentSize())
	}

	image := make([]byte, 32) // 16 (CODE0) + 16 (CODE1)
	const off = 16
	if err := seg.WriteToImage(code0, image, off); err != nil {
		t.Fatalf("WriteToImage: %v", err)
	}

	patched, err := code0.Entry(0)
	if err != nil {
		t.Fatalf("Entry(0): %v", err)
	}
	if !patched.IsLoaded() {
		t.Fatal("expected entry to be loaded after WriteToImage")
	}
	if patched[2] != 0x4E || patched[3] != 0xF9 {
		t.Errorf("jmp opcode = %02x %02x, want 4E F9", patched[2], patched[3])
	}
	wantTarget := uint32(off + 4)
	gotTarget := binary.BigEndian.Uint32(patched[4:8])
	if gotTarget != wantTarget {
		t.Errorf("target = 0x%08x, want 0x%08x", gotTarget, wantTarget)
	}
}

func TestWriteToImageRejectsCrossReference(t *testing.T) {
	// Entry owned by segment 2, but we try to load it as segment 1.
	entry := [8]byte{0, 0, 0, 0, 0, 2, 0xA9, 0xF0}
	code0Data := buildCode0Bytes(8, 0, 8, 0, [][8]byte{entry})
	code0, err := ParseCode0(code0Data)
	if err != nil {
		t.Fatalf("ParseCode0: %v", err)
	}

	segData := make([]byte, 4)
	binary.BigEndian.PutUint16(segData[0:2], 0)
	binary.BigEndian.PutUint16(segData[2:4], 1)

	seg, err := ParseCodeSegment(code0, 1, "Seg1", segData)
	if err != nil {
		t.Fatalf("ParseCodeSegment: %v", err)
	}

	image := make([]byte, 8+4)
	if err := seg.WriteToImage(code0, image, 8); !errors.Is(err, ErrCrossReference) {
		t.Errorf("WriteToImage error = %v, want ErrCrossReference", err)
	}
}

func TestParseCodeSegmentRejectsOutOfRangeOffset(t *testing.T) {
	code0Data := buildCode0Bytes(8, 0, 8, 0, [][8]byte{{0, 0, 0, 0, 0, 1, 0xA9, 0xF0}})
	code0, err := ParseCode0(code0Data)
	if err != nil {
		t.Fatalf("ParseCode0: %v", err)
	}

	segData := make([]byte, 4)
	binary.BigEndian.PutUint16(segData[0:2], 8) // only one entry (size 8), offset 8 is out of range
	binary.BigEndian.PutUint16(segData[2:4], 1)

	if _, err := ParseCodeSegment(code0, 1, "Seg1", segData); !errors.Is(err, ErrCrossReference) {
		t.Errorf("ParseCodeSegment error = %v, want ErrCrossReference", err)
	}
}

// build32BitSegmentData assembles a synthetic 32-bit CODEn blob: the
// 0xFFFF/0x0000 sentinel header, the 32-byte extended header (two jump
// table hunks plus the global and segment relocation data offsets, both
// relocation *offset* fields left zero as ParseCodeSegment requires), an
// 8-byte body holding one pointer for each relocation pass, and the two
// relocation streams themselves. Layout (byte offsets into the blob):
//
//	 0: FF FF 00 00                 jump table sentinel
//	 4: offsetA(4) countA(4)        first jump table hunk
//	12: offsetB(4) countB(4)        second jump table hunk
//	20: globalRelocData(4)          -> 44
//	24: globalRelocOffsetField(4)   -> 0
//	28: segmentRelocData(4)         -> 47
//	32: segmentRelocOffsetField(4)  -> 0
//	36: pointer P1 (4 bytes)        globally relocated
//	40: pointer P2 (4 bytes)        segment relocated
//	44: global relocation stream (3 bytes): 0x12 0x00 0x00
//	47: segment relocation stream (3 bytes): 0x14 0x00 0x00
func build32BitSegmentData(offsetA, countA, offsetB, countB uint32, p1, p2 uint32) []byte {
	data := make([]byte, 50)
	binary.BigEndian.PutUint16(data[0:2], 0xFFFF)
	binary.BigEndian.PutUint16(data[2:4], 0x0000)

	putU32(data, 4, offsetA)
	putU32(data, 8, countA)
	putU32(data, 12, offsetB)
	putU32(data, 16, countB)
	putU32(data, 20, 44) // globalRelocData
	putU32(data, 24, 0)  // globalRelocOffsetField
	putU32(data, 28, 47) // segmentRelocData
	putU32(data, 32, 0)  // segmentRelocOffsetField

	putU32(data, 36, p1)
	putU32(data, 40, p2)

	data[44], data[45], data[46] = 0x12, 0x00, 0x00
	data[47], data[48], data[49] = 0x14, 0x00, 0x00

	return data
}

func TestParseAndWrite32BitSegment(t *testing.T) {
	const segID = uint16(5)

	// CODE0: 3 jump-table entries. Entry 0 is untouched by the 32-bit
	// segment; entries 1 and 2 are owned by segID and patched by the
	// segment's two jump table hunks (offset 8 and offset 16).
	var entry0 [8]byte
	entry1 := [8]byte{0, 0, 0, 5, 0, 0, 0xA9, 0xF0} // SegmentID32Bit() reads [2:4)
	entry2 := [8]byte{0, 0, 0, 5, 0, 0, 0xA9, 0xF0}
	const globalsSize = 100
	code0Data := buildCode0Bytes(24, globalsSize, 24, 0, [][8]byte{entry0, entry1, entry2})

	code0, err := ParseCode0(code0Data)
	if err != nil {
		t.Fatalf("ParseCode0: %v", err)
	}

	const p1Initial, p2Initial = 16, 32
	segData := build32BitSegmentData(8, 1, 16, 1, p1Initial, p2Initial)

	seg, err := ParseCodeSegment(code0, segID, "Seg5", segData)
	if err != nil {
		t.Fatalf("ParseCodeSegment: %v", err)
	}
	if !seg.Is32Bit {
		t.Fatal("expected a 32-bit segment")
	}
	if seg.SegmentSize() != uint32(len(segData)) {
		t.Errorf("SegmentSize() = %d, want %d", seg.SegmentSize(), len(segData))
	}

	const off = 124 // code0.SegmentSize(): 100 + 0 + 24
	if code0.SegmentSize() != off {
		t.Fatalf("code0.SegmentSize() = %d, want %d", code0.SegmentSize(), off)
	}

	image := make([]byte, off+uint32(len(segData)))
	if err := seg.WriteToImage(code0, image, off); err != nil {
		t.Fatalf("WriteToImage: %v", err)
	}

	for _, entryNum := range []int{1, 2} {
		entry, err := code0.Entry(entryNum)
		if err != nil {
			t.Fatalf("Entry(%d): %v", entryNum, err)
		}
		if !entry.IsLoaded32Bit() {
			t.Errorf("entry %d not loaded after WriteToImage", entryNum)
		}
		if entry[2] != 0x4E || entry[3] != 0xF9 {
			t.Errorf("entry %d jmp opcode = %02x %02x, want 4E F9", entryNum, entry[2], entry[3])
		}
		if got := binary.BigEndian.Uint32(entry[4:8]); got != off {
			t.Errorf("entry %d target = 0x%08x, want 0x%08x", entryNum, got, off)
		}
	}

	wantP1 := uint32(p1Initial + globalsSize) // global reloc delta is GlobalsSize, since the offset field is 0
	gotP1 := binary.BigEndian.Uint32(image[off+36:])
	if gotP1 != wantP1 {
		t.Errorf("global-relocated pointer = 0x%08x, want 0x%08x", gotP1, wantP1)
	}

	wantP2 := uint32(p2Initial) + off + 40 // segment reloc delta is off+40, since the offset field is 0
	gotP2 := binary.BigEndian.Uint32(image[off+40:])
	if gotP2 != wantP2 {
		t.Errorf("segment-relocated pointer = 0x%08x, want 0x%08x", gotP2, wantP2)
	}
}

func TestParseCodeSegmentRejects32BitNonZeroRelocOffsetField(t *testing.T) {
	code0Data := buildCode0Bytes(24, 100, 24, 0, [][8]byte{{}, {0, 0, 0, 9, 0, 0, 0xA9, 0xF0}})
	code0, err := ParseCode0(code0Data)
	if err != nil {
		t.Fatalf("ParseCode0: %v", err)
	}

	segData := build32BitSegmentData(8, 1, 0, 0, 0, 0)
	putU32(segData, 24, 1) // non-zero globalRelocOffsetField

	if _, err := ParseCodeSegment(code0, 9, "Seg9", segData); !errors.Is(err, ErrStructure) {
		t.Errorf("ParseCodeSegment(non-zero globalRelocOffsetField) error = %v, want ErrStructure", err)
	}
}
