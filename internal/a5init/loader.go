package a5init

import (
	"io"

	"github.com/retro68/macimg/internal/segment"
)

// loaderName identifies this loader in diagnostic output.
const loaderName = "%A5Init loader"

// Loader adapts the package-level IsSupported/Load functions to
// staticdata.Loader, binding them to one executable's shared image and
// parsed CODE0 segment.
type Loader struct {
	code0  *segment.Code0
	memory []byte
}

// NewLoader builds an %A5Init loader bound to the given parsed CODE0
// segment and the executable's (shared, mutable) in-memory image.
func NewLoader(code0 *segment.Code0, memory []byte) *Loader {
	return &Loader{code0: code0, memory: memory}
}

func (l *Loader) Name() string { return loaderName }

// Reset is a no-op: this loader carries no state between probes.
func (l *Loader) Reset() {}

func (l *Loader) IsSupported(name string, offset, size uint32) bool {
	return IsSupported(name, l.memory, offset, size)
}

func (l *Loader) Load(offset, size uint32, out io.Writer) error {
	return Load(l.memory, offset, l.code0.GlobalsSize, out)
}
