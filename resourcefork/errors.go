package resourcefork

import "errors"

// Sentinel errors of this package. They correspond to the InputFormat class
// of spec.md's error taxonomy: wrapper unrecognized, map offsets out of
// range, truncated blob, wrong magic. Open reports every wrapper failure as
// ErrFormat; Fetch reports ErrNotFound or a wrapped read error.
var (
	// ErrFormat is returned when none of the three supported wrapper
	// formats (raw fork, MacBinary, AppleDouble) could be parsed.
	ErrFormat = errors.New("resourcefork: not a recognized resource fork container")

	// ErrTruncated names the truncated-data case. No function of this
	// package returns it: a read that runs past the end of the underlying
	// file is reported as the wrapped io error instead.
	ErrTruncated = errors.New("resourcefork: truncated data")

	// ErrBounds is returned by the fork-header and map-header readers when
	// a parsed offset is zero or falls outside the file; Open then tries
	// the next wrapper format and, if none parses, returns ErrFormat.
	ErrBounds = errors.New("resourcefork: offset out of bounds")

	// ErrNotFound is returned by Fetch when no resource matches the
	// requested type/id/name.
	ErrNotFound = errors.New("resourcefork: resource not found")

	// errUnsupportedPlatform is returned by the platform side-channel
	// probe on every OS this module runs on; see tryPlatformSideChannel in
	// parser.go.
	errUnsupportedPlatform = errors.New("resourcefork: native resource-fork access unavailable on this platform")
)
