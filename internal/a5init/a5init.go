// Package a5init implements the %A5Init loader: a static-data loader that
// recognizes the special CODE segment named "%A5Init" and, when it carries
// a pending load flag, decompresses and relocates the A5-world (the
// executable's global-data region) into the image.
package a5init

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Name is the CODE segment name this loader activates for.
const Name = "%A5Init"

// ErrDecoder is returned when the %A5Init info table or its referenced
// data falls outside the image.
var ErrDecoder = errors.New("a5init: %A5Init segment data out of range")

// IsSupported reports whether the CODE segment named name, located at
// offset within memory with the given size, is a valid %A5Init segment:
// exactly one exported function and an info table that stays within
// bounds.
func IsSupported(name string, memory []byte, offset, size uint32) bool {
	if name != Name {
		return false
	}
	if uint64(offset)+12 > uint64(len(memory)) {
		return false
	}
	if binary.BigEndian.Uint16(memory[offset+2:]) != 0x0001 {
		return false
	}

	infoOffset := uint32(binary.BigEndian.Uint16(memory[offset+10:])) + 10
	if uint64(offset)+uint64(infoOffset)+16 > uint64(len(memory)) {
		return false
	}

	dataOffset := binary.BigEndian.Uint32(memory[offset+infoOffset+8:])
	relocationDataOffset := binary.BigEndian.Uint32(memory[offset+infoOffset+12:])

	if uint64(offset)+uint64(dataOffset) >= uint64(len(memory)) {
		return false
	}
	if uint64(offset)+uint64(relocationDataOffset) >= uint64(len(memory)) {
		return false
	}
	return true
}

// Load decompresses and relocates the A5-world described by the %A5Init
// segment at offset, writing diagnostic information to out. globalsSize is
// Code0's application-globals size (the A5 base address). A segment whose
// needLoad flag is already clear is a no-op.
func Load(memory []byte, offset, globalsSize uint32, out io.Writer) error {
	if uint64(offset)+12 > uint64(len(memory)) {
		return fmt.Errorf("%w: segment header truncated", ErrDecoder)
	}
	infoOffset := uint32(binary.BigEndian.Uint16(memory[offset+10:])) + 10
	if uint64(offset)+uint64(infoOffset)+16 > uint64(len(memory)) {
		return fmt.Errorf("%w: info table out of range", ErrDecoder)
	}

	info := memory[offset+infoOffset:]
	dataSize := binary.BigEndian.Uint32(info[0:])
	needLoadBit := binary.BigEndian.Uint16(info[4:])
	dataOffset := binary.BigEndian.Uint32(info[8:])
	relocationDataOffset := binary.BigEndian.Uint32(info[12:])

	fmt.Fprintf(out, "%%A5Init info data:\n\tData size: %d\n\tNeed to load: %d\n\tData offset: %d\n\tRelocation offset: %d\n",
		dataSize, needLoadBit, dataOffset, relocationDataOffset)

	if needLoadBit != 1 {
		fmt.Fprintln(out, "A5 data does not need any initialization")
		return nil
	}

	if dataSize > globalsSize {
		return fmt.Errorf("%w: data size %d exceeds globals size %d", ErrDecoder, dataSize, globalsSize)
	}
	dstStart := int(globalsSize - dataSize)

	if err := uncompressA5World(memory, dstStart, newCursor(memory[offset+infoOffset+dataOffset:])); err != nil {
		return fmt.Errorf("a5init: decompressing A5 world: %w", err)
	}
	if err := relocateWorld(memory, globalsSize, dstStart, newCursor(memory[offset+infoOffset+relocationDataOffset:]), out); err != nil {
		return fmt.Errorf("a5init: relocating A5 world: %w", err)
	}

	binary.BigEndian.PutUint16(info[4:], 0)
	return nil
}
