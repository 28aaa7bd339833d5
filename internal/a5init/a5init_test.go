package a5init

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildSegment lays out a minimal %A5Init CODE segment at image[offset:]:
// 4-byte standard CODE header (jumpTableOffset=0, exportedCount=1), then an
// info table at offset+infoOffset where infoOffset = u16(header+10)+10.
func buildSegment(infoRel uint16, dataSize uint32, needLoad uint16, dataOff, relocOff uint32, tail []byte) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint16(buf[0:], 0)        // jumpTableOffset
	binary.BigEndian.PutUint16(buf[2:], 1)        // exported function count
	binary.BigEndian.PutUint16(buf[4:], 0)        // unused
	binary.BigEndian.PutUint16(buf[10:], infoRel) // so infoOffset = infoRel+10

	info := make([]byte, 16)
	binary.BigEndian.PutUint32(info[0:], dataSize)
	binary.BigEndian.PutUint16(info[4:], needLoad)
	binary.BigEndian.PutUint32(info[8:], dataOff)
	binary.BigEndian.PutUint32(info[12:], relocOff)

	out := append(buf, info...)
	out = append(out, tail...)
	return out
}

func TestIsSupportedRejectsWrongName(t *testing.T) {
	seg := buildSegment(2, 0, 0, 16, 16, nil)
	if IsSupported("CODE", seg, 0, uint32(len(seg))) {
		t.Fatal("expected rejection for non-%A5Init name")
	}
}

func TestIsSupportedRejectsMultipleExports(t *testing.T) {
	seg := buildSegment(2, 0, 0, 16, 16, nil)
	binary.BigEndian.PutUint16(seg[2:], 2)
	if IsSupported(Name, seg, 0, uint32(len(seg))) {
		t.Fatal("expected rejection for exported count != 1")
	}
}

func TestIsSupportedAccepts(t *testing.T) {
	seg := buildSegment(2, 0, 0, 16, 16, nil)
	if !IsSupported(Name, seg, 0, uint32(len(seg))) {
		t.Fatal("expected a well-formed %A5Init segment to be supported")
	}
}

// TestLoadMinimalNoLoadNeeded covers the no-op case: needLoadBit clear means
// Load must not touch memory outside the segment itself.
func TestLoadMinimalNoLoadNeeded(t *testing.T) {
	seg := buildSegment(2, 0, 0, 16, 16, nil)
	image := make([]byte, len(seg)+32)
	copy(image, seg)
	baseline := append([]byte(nil), image...)

	var out bytes.Buffer
	if err := Load(image, 0, 32, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(image, baseline) {
		t.Fatal("Load mutated memory even though needLoadBit was clear")
	}
}

func TestLoadDecompressesAndRelocates(t *testing.T) {
	const globalsSize = 16
	const dataSize = 4

	// compressed stream: one literal run of 4 bytes at offset 0 from dst,
	// encoded via the low nibble (size=2 -> 2*2=4 bytes) and high nibble
	// (offset=0x08 -> 0x08>>3=1... use explicit offset=0 path instead).
	// size nibble: 0x02 means size=2, doubled to 4. offset nibble 0 forces
	// a run-length read for offset; encode offset=0 directly as a single
	// byte (0x00, top bit clear -> value 0).
	compressed := []byte{0x02, 0x00, 0xAA, 0xBB, 0xCC, 0xDD, 0x00, 0x00}

	// relocation stream: one entry at offset 0 (two-byte form 0x80 0x00,
	// since a leading 0x00 byte starts the escape/terminator), then
	// terminator 0x00 0x00.
	relocated := []byte{0x80, 0x00, 0x00, 0x00}

	seg := buildSegment(2, dataSize, 1, 16, 16+uint32(len(compressed)), append(append([]byte{}, compressed...), relocated...))

	// The globals region occupies image[0:globalsSize]; the %A5Init
	// segment itself, like any other CODE segment, is placed elsewhere in
	// the image (here, right after the globals region).
	const segOffset = int(globalsSize)
	image := make([]byte, segOffset+len(seg))
	copy(image[segOffset:], seg)

	var out bytes.Buffer
	if err := Load(image, uint32(segOffset), globalsSize, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Decompressed AA BB CC DD, then relocated by adding the A5 base
	// (globalsSize = 0x10) to that 32-bit value.
	dst := globalsSize - dataSize
	want := []byte{0xAA, 0xBB, 0xCC, 0xED}
	if !bytes.Equal(image[dst:dst+4], want) {
		t.Fatalf("decompressed and relocated bytes = % X, want % X", image[dst:dst+4], want)
	}

	info := image[segOffset+12:]
	if binary.BigEndian.Uint16(info[4:]) != 0 {
		t.Fatal("needLoadBit was not cleared after Load")
	}
}

func TestLoadRejectsTruncatedInfoTable(t *testing.T) {
	seg := make([]byte, 8)
	var out bytes.Buffer
	if err := Load(seg, 0, 16, &out); err == nil {
		t.Fatal("expected error for a segment too short to hold an info table")
	}
}
