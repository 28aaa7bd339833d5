package resourcefork

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
)

// Fork is a parsed, immutable view of one resource fork: an ordered set of
// typed resource groups, each holding an ordered list of numbered,
// optionally named resources. It owns the underlying reader for as long as
// it was opened via OpenFile; a Fork built over a caller-supplied
// io.ReaderAt (for tests, or an in-memory buffer) leaves closing to the
// caller.
type Fork struct {
	r      io.ReaderAt
	closer io.Closer
	types  map[Type][]entry
}

// OpenFile opens the resource fork carried by the file at path, trying in
// turn: the raw fork format, a platform-native side channel, a MacBinary
// envelope, and an AppleDouble sidecar. It returns ErrFormat if none of
// them recognize the file.
func OpenFile(path string) (*Fork, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("resourcefork: opening %s: %w", path, err)
	}

	fork, err := Open(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	fork.closer = f
	return fork, nil
}

// readerAtSizer is satisfied by *os.File and anything else that can report
// its own length alongside ReadAt.
type readerAtSizer interface {
	io.ReaderAt
	Stat() (os.FileInfo, error)
}

// Open parses a resource fork from r, trying each supported wrapper format
// in the order the classic loader does: raw fork, platform side channel,
// MacBinary, AppleDouble. The returned Fork does not take ownership of r;
// callers using OpenFile get automatic Close behavior instead.
func Open(r io.ReaderAt) (*Fork, error) {
	size, err := sizeOf(r)
	if err != nil {
		return nil, fmt.Errorf("resourcefork: determining file size: %w", err)
	}

	if fork, err := tryRawFork(r, size); err == nil {
		return fork, nil
	}

	if fork, err := tryPlatformSideChannel(r, size); err == nil {
		return fork, nil
	}

	if fork, err := tryMacBinary(r, size); err == nil {
		return fork, nil
	}

	if fork, err := tryAppleDouble(r, size); err == nil {
		return fork, nil
	}

	return nil, ErrFormat
}

func sizeOf(r io.ReaderAt) (int64, error) {
	if s, ok := r.(readerAtSizer); ok {
		info, err := s.Stat()
		if err != nil {
			return 0, err
		}
		return info.Size(), nil
	}
	if s, ok := r.(interface{ Size() int64 }); ok {
		return s.Size(), nil
	}
	return 0, fmt.Errorf("resourcefork: reader does not expose a size")
}

// tryRawFork attempts to parse r as a bare resource fork starting at
// offset 0.
func tryRawFork(r io.ReaderAt, size int64) (*Fork, error) {
	return loadInternal(r, 0, size)
}

// tryPlatformSideChannel is where a build with native OS support would
// attempt to open a file's resource fork through an OS-specific side
// channel (e.g. "path/..namedfork/rsrc" on Darwin). This module runs the
// same way on every platform it targets, so it always declines, and Open
// falls through to the on-disk wrapper formats.
func tryPlatformSideChannel(r io.ReaderAt, size int64) (*Fork, error) {
	return nil, errUnsupportedPlatform
}

// tryMacBinary attempts to parse r as a MacBinary envelope: a 128-byte
// info header whose zero-guard bytes are zero and whose declared data- and
// resource-fork lengths, each padded to 128 bytes, exactly account for the
// remainder of the file.
func tryMacBinary(r io.ReaderAt, size int64) (*Fork, error) {
	var hdr [macBinaryHeaderSize]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, err
	}

	const (
		zero1   = 0
		nameLen = 1
		zero2   = 74
		zero3   = 82
		dataLen = 83
		rsrcLen = 87
	)

	if hdr[zero1] != 0 || hdr[zero2] != 0 || hdr[zero3] != 0 || hdr[nameLen] > macBinaryMaxName {
		return nil, ErrFormat
	}

	dataSize := binary.BigEndian.Uint32(hdr[dataLen:])
	rsrcSize := binary.BigEndian.Uint32(hdr[rsrcLen:])
	dataSizePad := pad128(dataSize)
	rsrcSizePad := pad128(rsrcSize)

	if int64(macBinaryHeaderSize)+int64(dataSizePad)+int64(rsrcSizePad) != size {
		return nil, ErrFormat
	}

	return loadInternal(r, macBinaryHeaderSize+dataSizePad, size)
}

// tryAppleDouble attempts to parse r as an AppleDouble sidecar: magic
// 0x00051607, 20 skipped bytes (version + home filesystem), a 16-bit entry
// count, then that many 12-byte (id, offset, length) entries. Entry id 2
// is the resource fork.
func tryAppleDouble(r io.ReaderAt, size int64) (*Fork, error) {
	var magic [4]byte
	if _, err := r.ReadAt(magic[:], 0); err != nil {
		return nil, err
	}
	if binary.BigEndian.Uint32(magic[:]) != appleDoubleMagic {
		return nil, ErrFormat
	}

	var countBuf [2]byte
	countPos := int64(4 + appleDoubleSkipAfterTag)
	if _, err := r.ReadAt(countBuf[:], countPos); err != nil {
		return nil, err
	}
	entryCount := binary.BigEndian.Uint16(countBuf[:])

	entriesPos := countPos + 2
	for i := 0; i < int(entryCount); i++ {
		var e [appleDoubleEntrySize]byte
		if _, err := r.ReadAt(e[:], entriesPos+int64(i*appleDoubleEntrySize)); err != nil {
			return nil, err
		}
		id := binary.BigEndian.Uint32(e[0:4])
		if id != appleDoubleResourceFork {
			continue
		}
		offset := binary.BigEndian.Uint32(e[4:8])
		return loadInternal(r, offset, size)
	}

	return nil, ErrFormat
}

// loadInternal parses the fork header and resource map at startOffset and
// builds the type->entries index.
func loadInternal(r io.ReaderAt, startOffset uint32, size int64) (*Fork, error) {
	fh, err := readForkHeader(r, startOffset, size)
	if err != nil {
		return nil, err
	}

	mh, err := readMapHeader(r, fh.mapOffset, size)
	if err != nil {
		return nil, err
	}

	types, err := readTypeList(r, mh, fh.dataOffset)
	if err != nil {
		return nil, err
	}

	return &Fork{r: r, types: types}, nil
}

// Close releases the underlying file handle if this Fork was obtained
// through OpenFile. It is a no-op for a Fork built over a caller-supplied
// reader.
func (f *Fork) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

// Types returns every resource type tag present in the fork.
func (f *Fork) Types() []Type {
	out := make([]Type, 0, len(f.types))
	for t := range f.types {
		out = append(out, t)
	}
	return out
}

// IDs returns the numeric ids of every resource of the given type.
func (f *Fork) IDs(tag Type) []uint16 {
	entries := f.types[tag]
	out := make([]uint16, len(entries))
	for i, e := range entries {
		out[i] = e.id
	}
	return out
}

// Fetch returns the blob for the resource of the given type and numeric
// id, or ErrNotFound if no such resource exists.
func (f *Fork) Fetch(tag Type, id uint16) ([]byte, error) {
	for _, e := range f.types[tag] {
		if e.id == id {
			return readBlobAt(f.r, e.offset)
		}
	}
	return nil, ErrNotFound
}

// FetchNamed returns the blob for the resource of the given type whose
// name matches (case-insensitively), or ErrNotFound.
func (f *Fork) FetchNamed(tag Type, name string) ([]byte, error) {
	for _, e := range f.types[tag] {
		if e.hasName && strings.EqualFold(e.name, name) {
			return readBlobAt(f.r, e.offset)
		}
	}
	return nil, ErrNotFound
}

// FetchByName returns the blob for the first resource, of any type, whose
// name matches name case-insensitively, or ErrNotFound.
func (f *Fork) FetchByName(name string) ([]byte, error) {
	for _, entries := range f.types {
		for _, e := range entries {
			if e.hasName && strings.EqualFold(e.name, name) {
				return readBlobAt(f.r, e.offset)
			}
		}
	}
	return nil, ErrNotFound
}

// NameOf returns the name of the resource (tag, id), and whether it has
// one.
func (f *Fork) NameOf(tag Type, id uint16) (string, bool) {
	for _, e := range f.types[tag] {
		if e.id == id {
			return e.name, e.hasName
		}
	}
	return "", false
}
