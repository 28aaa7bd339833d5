// Package staticdata defines the pluggable static-data loader interface
// used to initialize the parts of a segment's in-memory image that the
// resource data alone doesn't fully specify — application globals and
// jump-table entries left blank by CODE 0, filled in by a named CODE
// segment recognized by one of the registered loaders.
package staticdata

import "io"

// Loader recognizes and initializes static data carried by a special CODE
// segment, such as one named "%A5Init" or one with the DATA00 layout (the
// DATA00 loader detects its segment by content, not by name). Mirrors
// StaticDataLoader.
type Loader interface {
	// Name identifies the loader in diagnostic output.
	Name() string

	// Reset clears any state left over from a previous segment, so the
	// same loader instance can be probed against segment after segment.
	Reset()

	// IsSupported reports whether the named segment at offset/size is one
	// this loader knows how to initialize.
	IsSupported(name string, offset, size uint32) bool

	// Load performs the initialization, writing diagnostic information to
	// out.
	Load(offset, size uint32, out io.Writer) error
}

// Manager tries each registered loader, in order, against a segment and
// dispatches to the first one that claims it. Mirrors
// StaticDataLoaderManager.
type Manager struct {
	loaders []Loader
}

// NewManager builds a Manager trying loaders in the given order.
func NewManager(loaders ...Loader) *Manager {
	return &Manager{loaders: loaders}
}

// LoadFromSegment tries each loader in order: Reset, then IsSupported. The
// first loader to accept performs the load and LoadFromSegment returns
// true; it returns false if none recognizes the segment.
func (m *Manager) LoadFromSegment(name string, offset, size uint32, out io.Writer) (bool, error) {
	for _, l := range m.loaders {
		l.Reset()
		if !l.IsSupported(name, offset, size) {
			continue
		}
		io.WriteString(out, "Loading data from segment \""+name+"\" with loader: \""+l.Name()+"\"\n")
		if err := l.Load(offset, size, out); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}
