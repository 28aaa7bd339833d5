// Package macloader reconstructs the in-memory image of a classic Mac OS
// m68k executable from its resource fork: it opens the fork, parses the
// CODE0 globals/jump-table segment and every CODEn payload segment, then
// assembles them into one flat byte image the way the system loader would
// have, including running any recognized static-data segment (%A5Init,
// DATA00) that initializes application globals rather than carrying code.
package macloader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/retro68/macimg/internal/a5init"
	"github.com/retro68/macimg/internal/data00"
	"github.com/retro68/macimg/internal/segment"
	"github.com/retro68/macimg/internal/staticdata"
	"github.com/retro68/macimg/resourcefork"
)

// ErrNoCode0 is returned when a resource fork carries no CODE 0 resource;
// without it there is no globals layout or jump table to build an image
// around, so the fork cannot be a valid executable.
var ErrNoCode0 = errors.New("macloader: resource fork contains no CODE 0 segment")

// Executable is a parsed, not-yet-assembled classic Mac executable: its
// resource fork, CODE0 segment, and every other CODE segment keyed by id.
// Mirrors Executable from macexe.h/.cpp.
type Executable struct {
	// Strict controls how a static-data loader failure (e.g. a %A5Init or
	// DATA00 segment whose byte stream doesn't decode) is handled while
	// assembling the image. When false (the default) the failure is
	// logged to the info sink and loading continues without that
	// segment's static data; when true it aborts LoadImage entirely.
	// CODE0/CODEn structural errors are always fatal regardless.
	Strict bool

	fork  *resourcefork.Fork
	code0 *segment.Code0

	segments   map[uint16]*segment.CodeSegment
	segmentIDs []uint16 // ascending, excludes 0
}

// Open opens the resource fork at path and parses its CODE0 and CODEn
// segments. The caller must Close the returned Executable when done.
func Open(path string) (*Executable, error) {
	fork, err := resourcefork.OpenFile(path)
	if err != nil {
		return nil, err
	}

	exe, err := newExecutable(fork)
	if err != nil {
		fork.Close()
		return nil, err
	}
	return exe, nil
}

// NewFromFork builds an Executable over an already-open fork, transferring
// ownership of it: Close on the returned Executable closes fork too.
func NewFromFork(fork *resourcefork.Fork) (*Executable, error) {
	return newExecutable(fork)
}

func newExecutable(fork *resourcefork.Fork) (*Executable, error) {
	data, err := fork.Fetch(resourcefork.TypeCODE, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCode0, err)
	}

	code0, err := segment.ParseCode0(data)
	if err != nil {
		return nil, fmt.Errorf("macloader: parsing CODE0: %w", err)
	}

	exe := &Executable{
		fork:     fork,
		code0:    code0,
		segments: make(map[uint16]*segment.CodeSegment),
	}

	for _, id := range fork.IDs(resourcefork.TypeCODE) {
		// Segment 0 is loaded already, skip it.
		if id == 0 {
			continue
		}

		blob, err := fork.Fetch(resourcefork.TypeCODE, id)
		if err != nil {
			return nil, fmt.Errorf("macloader: fetching CODE%d: %w", id, err)
		}

		name, _ := fork.NameOf(resourcefork.TypeCODE, id)
		seg, err := segment.ParseCodeSegment(code0, id, name, blob)
		if err != nil {
			return nil, fmt.Errorf("macloader: CODE%d loading error: %w", id, err)
		}

		exe.segments[id] = seg
		exe.segmentIDs = append(exe.segmentIDs, id)
	}

	sort.Slice(exe.segmentIDs, func(i, j int) bool { return exe.segmentIDs[i] < exe.segmentIDs[j] })

	return exe, nil
}

// Close releases the underlying resource fork.
func (e *Executable) Close() error { return e.fork.Close() }

// Code0 returns the parsed CODE0 segment.
func (e *Executable) Code0() *segment.Code0 { return e.code0 }

// OutputInfo writes a header summary of CODE0, its jump table, and every
// CODEn segment's header to out. Mirrors Executable::outputInfo.
func (e *Executable) OutputInfo(out io.Writer) {
	fmt.Fprintf(out, "Size above A5: %d\n", e.code0.SizeAboveA5)
	fmt.Fprintf(out, "Application globals size: %d\n", e.code0.GlobalsSize)
	fmt.Fprintf(out, "Jump table size: %d\n", e.code0.JumpTableSize)
	fmt.Fprintf(out, "Jump table offset from A5: %d\n", e.code0.JumpTableOffsetFromA5)
	if e.code0.IsJumpTableUninitialized() {
		fmt.Fprintln(out, "Jump table: only entry 0 initialized; expecting a static-data loader to fill the rest")
	}

	fmt.Fprintln(out, "Jump table:")
	for i := 0; i < e.code0.JumpTableEntryCount(); i++ {
		entry, err := e.code0.Entry(i)
		if err != nil {
			continue
		}
		fmt.Fprintf(out, "\t%d: % X\n", i, entry[:])
	}

	for _, id := range e.segmentIDs {
		seg := e.segments[id]
		fmt.Fprintf(out, "Segment %d %q: size %d, 32-bit: %t\n", id, seg.Name, seg.SegmentSize(), seg.Is32Bit)
	}
}

// LoadImage assembles the full in-memory image: CODE0's own region
// (globals, application parameters, jump table) occupies the image's
// first SegmentSize() bytes, followed by every CODEn segment's payload in
// ascending id order. Each segment patches CODE0's jump table as it is
// written, and any recognized static-data segment runs immediately after
// its own bytes land; CODE0 itself is written into the image last, since
// it is the only thing that captures the jump table's final, fully
// patched state. Diagnostic progress is written to out. Mirrors
// Executable::loadIntoMemory.
func (e *Executable) LoadImage(out io.Writer) ([]byte, error) {
	memorySize := e.code0.SegmentSize()
	for _, id := range e.segmentIDs {
		memorySize += e.segments[id].SegmentSize()
	}
	memory := make([]byte, memorySize)

	fmt.Fprintf(out, "A5 base is at 0x%08X\n", e.code0.GlobalsSize)
	fmt.Fprintf(out, "Jump table starts at 0x%08X\n", e.code0.JumpTableOffset())
	fmt.Fprintf(out, "Number of jump table entries %d\n", e.code0.JumpTableEntryCount())

	loaders := staticdata.NewManager(
		a5init.NewLoader(e.code0, memory),
		data00.NewLoader(e.fork, e.code0, memory),
	)

	offset := e.code0.SegmentSize()
	for _, id := range e.segmentIDs {
		seg := e.segments[id]

		if err := seg.WriteToImage(e.code0, memory, offset); err != nil {
			return nil, fmt.Errorf("macloader: writing CODE%d to image: %w", id, err)
		}

		fmt.Fprintf(out, "Segment %d %q starts at offset 0x%08X\n", id, seg.Name, offset)

		if _, err := loaders.LoadFromSegment(seg.Name, offset, seg.SegmentSize(), out); err != nil {
			if e.Strict {
				return nil, fmt.Errorf("macloader: static data for segment %d: %w", id, err)
			}
			fmt.Fprintf(out, "warning: static data for segment %d failed: %v\n", id, err)
		}

		offset += seg.SegmentSize()
	}

	if err := e.code0.WriteToImage(memory); err != nil {
		return nil, fmt.Errorf("macloader: writing CODE0 to image: %w", err)
	}

	return memory, nil
}

// WriteMemoryDump assembles the image and writes it to path. Mirrors
// Executable::writeMemoryDump.
func (e *Executable) WriteMemoryDump(path string, out io.Writer) error {
	memory, err := e.LoadImage(out)
	if err != nil {
		return err
	}
	return os.WriteFile(path, memory, 0o644)
}
