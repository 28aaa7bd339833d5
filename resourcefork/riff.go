package resourcefork

import (
	"encoding/binary"
	"fmt"
	"io"
)

// entry is one numbered, optionally named resource of a given type.
type entry struct {
	id      uint16
	name    string
	hasName bool
	offset  uint32 // absolute file offset of the 4-byte length prefix
}

// forkHeader is the 16-byte structure at the start of every resource fork,
// relative to whatever startOffset the containing wrapper resolved to.
type forkHeader struct {
	dataOffset uint32
	mapOffset  uint32
}

// readForkHeader reads and validates the fork header at startOffset within
// r, given the total size of the underlying file.
func readForkHeader(r io.ReaderAt, startOffset uint32, fileSize int64) (forkHeader, error) {
	var buf [8]byte
	if _, err := r.ReadAt(buf[:], int64(startOffset)); err != nil {
		return forkHeader{}, fmt.Errorf("resourcefork: reading fork header: %w", err)
	}

	h := forkHeader{
		dataOffset: binary.BigEndian.Uint32(buf[0:4]) + startOffset,
		mapOffset:  binary.BigEndian.Uint32(buf[4:8]) + startOffset,
	}

	if h.dataOffset == 0 || h.mapOffset == 0 {
		return forkHeader{}, ErrBounds
	}
	if int64(h.dataOffset) >= fileSize || int64(h.mapOffset) >= fileSize {
		return forkHeader{}, ErrBounds
	}
	return h, nil
}

// mapHeader is the fixed-layout prefix of the resource map that precedes
// the type list.
type mapHeader struct {
	typeListOffset uint32 // absolute
	nameListOffset uint32 // absolute, only meaningful if hasNames
	hasNames       bool
	typeCount      int
}

// readMapHeader reads the type/name list offsets and type count starting
// at mapOffset+24, the 24 reserved bytes preceding them.
func readMapHeader(r io.ReaderAt, mapOffset uint32, fileSize int64) (mapHeader, error) {
	var buf [6]byte
	pos := int64(mapOffset) + mapHeaderSize
	if _, err := r.ReadAt(buf[:], pos); err != nil {
		return mapHeader{}, fmt.Errorf("resourcefork: reading map header: %w", err)
	}

	typeOffset := binary.BigEndian.Uint16(buf[0:2])
	nameOffset := binary.BigEndian.Uint16(buf[2:4])
	typeCount := int(binary.BigEndian.Uint16(buf[4:6])) + 1

	if typeOffset == 0 || int64(mapOffset)+int64(typeOffset) >= fileSize {
		return mapHeader{}, ErrBounds
	}

	h := mapHeader{
		typeListOffset: mapOffset + uint32(typeOffset),
		typeCount:      typeCount,
	}
	if nameOffset != noNameOffset {
		h.hasNames = true
		h.nameListOffset = mapOffset + uint32(nameOffset)
	}
	return h, nil
}

// readTypeList walks the type list starting at mh.typeListOffset, and for
// each type walks its id list, returning the fully populated type->entries
// map. dataOffset is added to each entry's masked 24-bit data offset.
func readTypeList(r io.ReaderAt, mh mapHeader, dataOffset uint32) (map[Type][]entry, error) {
	result := make(map[Type][]entry, mh.typeCount)

	for i := 0; i < mh.typeCount; i++ {
		teOff := mh.typeListOffset + 2 + uint32(i*typeEntrySize)
		var te [typeEntrySize]byte
		if _, err := r.ReadAt(te[:], int64(teOff)); err != nil {
			return nil, fmt.Errorf("resourcefork: reading type entry %d: %w", i, err)
		}

		tag := Type(binary.BigEndian.Uint32(te[0:4]))
		idCount := int(binary.BigEndian.Uint16(te[4:6])) + 1
		idListOffset := mh.typeListOffset + uint32(binary.BigEndian.Uint16(te[6:8]))

		ids, err := readIDList(r, idListOffset, idCount, dataOffset, mh)
		if err != nil {
			return nil, fmt.Errorf("resourcefork: reading id list for type %s: %w", TagString(tag), err)
		}
		result[tag] = append(result[tag], ids...)
	}
	return result, nil
}

// readIDList walks one type's id list, resolving names via mh's name list
// when present.
func readIDList(r io.ReaderAt, idListOffset uint32, idCount int, dataOffset uint32, mh mapHeader) ([]entry, error) {
	out := make([]entry, 0, idCount)

	for j := 0; j < idCount; j++ {
		off := idListOffset + uint32(j*idEntrySize)
		var ie [idEntrySize]byte
		if _, err := r.ReadAt(ie[:], int64(off)); err != nil {
			return nil, fmt.Errorf("reading id entry %d: %w", j, err)
		}

		e := entry{
			id:     binary.BigEndian.Uint16(ie[0:2]),
			offset: (binary.BigEndian.Uint32(ie[4:8]) & 0xFFFFFF) + dataOffset,
		}

		nameOffset := binary.BigEndian.Uint16(ie[2:4])
		if mh.hasNames && nameOffset != noNameOffset {
			name, err := readPascalStringAt(r, int64(mh.nameListOffset)+int64(nameOffset))
			if err != nil {
				return nil, fmt.Errorf("reading resource name: %w", err)
			}
			e.name = name
			e.hasName = true
		}

		out = append(out, e)
	}
	return out, nil
}

// readPascalStringAt reads a 1-byte-length-prefixed byte string at pos.
func readPascalStringAt(r io.ReaderAt, pos int64) (string, error) {
	var lenByte [1]byte
	if _, err := r.ReadAt(lenByte[:], pos); err != nil {
		return "", err
	}
	n := int(lenByte[0])
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := r.ReadAt(buf, pos+1); err != nil {
		return "", err
	}
	return string(buf), nil
}

// readBlobAt reads a length-prefixed resource blob: a 4-byte big-endian
// length followed by that many bytes of data.
func readBlobAt(r io.ReaderAt, offset uint32) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := r.ReadAt(lenBuf[:], int64(offset)); err != nil {
		return nil, fmt.Errorf("resourcefork: reading blob length: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])

	blob := make([]byte, length)
	if length > 0 {
		if _, err := r.ReadAt(blob, int64(offset)+4); err != nil {
			return nil, fmt.Errorf("resourcefork: reading blob body: %w", err)
		}
	}
	return blob, nil
}
