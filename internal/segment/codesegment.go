package segment

import (
	"encoding/binary"
	"fmt"
)

const (
	standardHeaderSize = 4
	extendedHeaderSize = 32 // the 8 32-bit fields following the first 4 header bytes
)

// CodeSegment is a parsed CODEn resource: one segment's raw payload plus
// enough header information to patch CODE0's jump table when the segment
// is written into the image.
type CodeSegment struct {
	ID   uint16
	Name string

	JumpTableOffset uint16
	JumpTableCount  uint16
	Is32Bit         bool

	payload []byte

	// 32-bit extended header fields, valid only when Is32Bit.
	offsetA, countA             uint32
	offsetB, countB             uint32
	globalRelocData             uint32
	globalRelocOffsetField      uint32
	segmentRelocData            uint32
	segmentRelocOffsetField     uint32
}

// ParseCodeSegment parses a CODEn resource blob, validating its header
// against code0's jump table.
func ParseCodeSegment(code0 *Code0, id uint16, name string, data []byte) (*CodeSegment, error) {
	if len(data) < standardHeaderSize {
		return nil, fmt.Errorf("%w: CODE%d segment has only %d bytes, need at least %d", ErrStructure, id, len(data), standardHeaderSize)
	}

	jumpTableOffset := binary.BigEndian.Uint16(data[0:2])
	jumpTableCount := binary.BigEndian.Uint16(data[2:4])

	s := &CodeSegment{
		ID:      id,
		Name:    name,
		payload: data,
	}

	if jumpTableOffset == 0xFFFF && jumpTableCount == 0x0000 {
		s.Is32Bit = true
		if err := s.parse32BitHeader(code0, data); err != nil {
			return nil, err
		}
	} else {
		s.JumpTableOffset = jumpTableOffset
		s.JumpTableCount = jumpTableCount
		if err := s.validateStandardHeader(code0); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *CodeSegment) validateStandardHeader(code0 *Code0) error {
	if s.JumpTableOffset%8 != 0 {
		return fmt.Errorf("%w: CODE%d segment has invalid jump table offset %d", ErrStructure, s.ID, s.JumpTableOffset)
	}
	if uint32(s.JumpTableOffset) >= code0.JumpTableSize {
		return fmt.Errorf("%w: CODE%d segment specifies offset %d into jump table, but CODE0's jump table only has size %d", ErrCrossReference, s.ID, s.JumpTableOffset, code0.JumpTableSize)
	}
	if uint32(s.JumpTableOffset)+uint32(s.JumpTableCount)*8 > code0.JumpTableSize {
		return fmt.Errorf("%w: CODE%d segment specifies %d entries but CODE0's jump table only contains %d entries after the offset", ErrCrossReference, s.ID, s.JumpTableCount, (code0.JumpTableSize-uint32(s.JumpTableOffset))/8)
	}
	return nil
}

func (s *CodeSegment) parse32BitHeader(code0 *Code0, data []byte) error {
	if len(data) < standardHeaderSize+extendedHeaderSize {
		return fmt.Errorf("%w: CODE%d 32-bit segment has only %d bytes, need at least %d", ErrStructure, s.ID, len(data), standardHeaderSize+extendedHeaderSize)
	}

	h := data[standardHeaderSize:]
	s.offsetA = binary.BigEndian.Uint32(h[0:4])
	s.countA = binary.BigEndian.Uint32(h[4:8])
	s.offsetB = binary.BigEndian.Uint32(h[8:12])
	s.countB = binary.BigEndian.Uint32(h[12:16])
	s.globalRelocData = binary.BigEndian.Uint32(h[16:20])
	s.globalRelocOffsetField = binary.BigEndian.Uint32(h[20:24])
	s.segmentRelocData = binary.BigEndian.Uint32(h[24:28])
	s.segmentRelocOffsetField = binary.BigEndian.Uint32(h[28:32])

	if err := validate32BitHunk(s.ID, code0, "first", s.offsetA, s.countA); err != nil {
		return err
	}
	if err := validate32BitHunk(s.ID, code0, "second", s.offsetB, s.countB); err != nil {
		return err
	}

	if s.globalRelocOffsetField != 0 {
		return fmt.Errorf("%w: CODE%d 32-bit segment has non-zero global relocation offset %d", ErrStructure, s.ID, s.globalRelocOffsetField)
	}
	if s.globalRelocData != 0 && s.globalRelocData+2 > uint32(len(data)) {
		return fmt.Errorf("%w: CODE%d 32-bit segment has invalid global relocation data offset %d", ErrStructure, s.ID, s.globalRelocData)
	}
	if s.segmentRelocOffsetField != 0 {
		return fmt.Errorf("%w: CODE%d 32-bit segment has non-zero segment relocation offset %d", ErrStructure, s.ID, s.segmentRelocOffsetField)
	}
	if s.segmentRelocData != 0 && s.segmentRelocData+2 > uint32(len(data)) {
		return fmt.Errorf("%w: CODE%d 32-bit segment has invalid segment relocation data offset %d", ErrStructure, s.ID, s.segmentRelocData)
	}

	return nil
}

func validate32BitHunk(id uint16, code0 *Code0, which string, offset, count uint32) error {
	if offset%8 != 0 {
		return fmt.Errorf("%w: CODE%d 32-bit segment has invalid %s jump table offset %d", ErrStructure, id, which, offset)
	}
	if offset+count*8 > code0.JumpTableSize {
		return fmt.Errorf("%w: CODE%d 32-bit segment specifies %d entries in the %s hunk but CODE0's jump table only contains %d entries after the offset", ErrCrossReference, id, count, which, (code0.JumpTableSize-offset)/8)
	}
	return nil
}

// SegmentSize returns the size this segment occupies in the image,
// including one byte of zero padding if the raw payload length is odd.
func (s *CodeSegment) SegmentSize() uint32 {
	n := uint32(len(s.payload))
	return n + (n & 1)
}

// WriteToImage copies the segment's payload into image at off, pads it to
// an even size, then patches CODE0's jump table (and, for 32-bit
// segments, runs the relocation passes).
func (s *CodeSegment) WriteToImage(code0 *Code0, image []byte, off uint32) error {
	size := s.SegmentSize()
	if uint32(len(image))-off < size {
		return fmt.Errorf("%w: CODE%d segment has size %d, but only %d bytes remain in the image", ErrStructure, s.ID, size, uint32(len(image))-off)
	}

	copy(image[off:], s.payload)
	if size > uint32(len(s.payload)) {
		image[off+uint32(len(s.payload))] = 0
	}

	if s.Is32Bit {
		return s.patch32Bit(code0, image, off)
	}
	return s.patchStandard(code0, off)
}

func (s *CodeSegment) patchStandard(code0 *Code0, off uint32) error {
	for i := uint16(0); i < s.JumpTableCount; i++ {
		entryNum := int(s.JumpTableOffset/8) + int(i)
		entry, err := code0.Entry(entryNum)
		if err != nil {
			return fmt.Errorf("CODE%d segment could not load: %w", s.ID, err)
		}
		if entry.IsLoaded() {
			return fmt.Errorf("%w: jump table entry %d is loaded already", ErrCrossReference, entryNum)
		}
		if entry.SegmentID() != s.ID {
			return fmt.Errorf("%w: jump table entry %d references segment %d, not segment %d", ErrCrossReference, entryNum, entry.SegmentID(), s.ID)
		}
		entry.Load(off + 4)
	}
	return nil
}

func (s *CodeSegment) patch32Bit(code0 *Code0, image []byte, off uint32) error {
	if err := s.patchJumpTableBlock32Bit(code0, s.offsetA, s.countA, off); err != nil {
		return err
	}
	if err := s.patchJumpTableBlock32Bit(code0, s.offsetB, s.countB, off); err != nil {
		return err
	}

	header := image[off+standardHeaderSize:]

	relOffsetG := int64(code0.GlobalsSize) - int64(binary.BigEndian.Uint32(header[20:24]))
	relDataG := binary.BigEndian.Uint32(header[16:20])
	if relOffsetG != 0 && relDataG != 0 {
		if err := relocate32Bit(image, off, off+relDataG, int32(relOffsetG)); err != nil {
			return fmt.Errorf("CODE%d global relocation: %w", s.ID, err)
		}
	}

	relOffsetFieldS := binary.BigEndian.Uint32(header[28:32])
	var deltaS int32
	if relOffsetFieldS == 0 {
		deltaS = int32(off + 40)
	} else {
		deltaS = int32(off) - int32(relOffsetFieldS)
	}
	relDataS := binary.BigEndian.Uint32(header[24:28])
	if deltaS != 0 && relDataS != 0 {
		if err := relocate32Bit(image, off, off+relDataS, deltaS); err != nil {
			return fmt.Errorf("CODE%d segment relocation: %w", s.ID, err)
		}
	}

	return nil
}

func (s *CodeSegment) patchJumpTableBlock32Bit(code0 *Code0, startOffset, count, off uint32) error {
	if count == 0 {
		return nil
	}
	for i := uint32(0); i < count; i++ {
		entryNum := int(startOffset/8) + int(i)
		entry, err := code0.Entry(entryNum)
		if err != nil {
			return fmt.Errorf("CODE%d 32-bit segment could not load: %w", s.ID, err)
		}
		if entry.IsLoaded32Bit() {
			return fmt.Errorf("%w: jump table entry %d is loaded already", ErrCrossReference, entryNum)
		}
		if entry.SegmentID32Bit() != s.ID {
			return fmt.Errorf("%w: jump table entry %d references segment %d, not segment %d", ErrCrossReference, entryNum, entry.SegmentID32Bit(), s.ID)
		}
		entry.Load32Bit(off)
	}
	return nil
}

// relocate32Bit walks the byte-oriented relocation stream starting at
// src within image, adding delta to each referenced 32-bit big-endian
// pointer. base is the segment's own image offset, against which decoded
// pointer offsets are relative. A stream byte or pointer that would lie
// outside image is reported as ErrStructure.
func relocate32Bit(image []byte, base, src uint32, delta int32) error {
	n := uint64(len(image))
	pos := src
	ptr := base
	for {
		if uint64(pos)+2 > n {
			return fmt.Errorf("%w: relocation stream runs past the image at %d", ErrStructure, pos)
		}
		b := image[pos]
		pos++

		var off uint32
		if b == 0 {
			if image[pos] == 0 {
				return nil
			}
			if uint64(pos)+4 > n {
				return fmt.Errorf("%w: relocation stream runs past the image at %d", ErrStructure, pos)
			}
			off = binary.BigEndian.Uint32(image[pos:])
			pos += 4
		} else if b&0x80 != 0 {
			off = uint32(b&0x7F) << 8
			off |= uint32(image[pos])
			pos++
		} else {
			off = uint32(b)
		}

		off *= 2
		ptr += off
		if uint64(ptr)+4 > n {
			return fmt.Errorf("%w: relocated pointer at %d lies outside the image", ErrStructure, ptr)
		}

		v := binary.BigEndian.Uint32(image[ptr:])
		binary.BigEndian.PutUint32(image[ptr:], uint32(int32(v)+delta))
	}
}
