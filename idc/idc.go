// Package idc emits an IDA Pro IDC script that marks up a reconstructed
// executable image's jump table for disassembly: each entry's function
// offset gets marked as code, then as a procedure.
package idc

import (
	"fmt"
	"io"

	"github.com/retro68/macimg/internal/segment"
)

const scriptTemplate = `#include <idc.idc>

static main() {
	auto num = %d;
	auto offset = 0x%08X;
	auto a5offset = 0x%08X;

	auto i;
	for (i = 0; i < num; ++i) {
		// Calculate the jumptable entry offset
		auto entryOff = offset + i * 8;

		// Mark offset entry as dword
		MakeDword(entryOff + 4);
		// Read the function offset
		auto funcOff = Dword(entryOff + 4);

		// Mark the function as code
		AutoMark(funcOff, AU_CODE);
		// Finally mark the function as procedure. Doing this after marking it
		// as code, should allow IDA to mark more functions successfully.
		AutoMark(funcOff, AU_PROC);
	}
}
`

// WriteJumpTableScript writes an IDC script describing code0's jump table
// to out. Mirrors IDC::writeJumpMarkTableScript.
func WriteJumpTableScript(code0 *segment.Code0, out io.Writer) error {
	_, err := fmt.Fprintf(out, scriptTemplate,
		code0.JumpTableEntryCount(),
		code0.JumpTableOffset(),
		code0.GlobalsSize,
	)
	return err
}
