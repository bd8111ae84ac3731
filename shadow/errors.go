package shadow

import "errors"

// Sentinel errors for the shadow-file codec and end-of-tick engines.
// Call sites wrap these with fmt.Errorf("...: %w", err) to attach context.
var (
	// ErrShadowIO covers open/seek/read/write/truncate/unlink failures
	// against the shadow file.
	ErrShadowIO = errors.New("shadow: i/o error")

	// ErrShadowFull is returned when the index has no room for another
	// entry, or the shadow free-space manager cannot satisfy an alloc.
	ErrShadowFull = errors.New("shadow: index or shadow space exhausted")

	// ErrCorruption is returned by readers when a frame's CRC or magic
	// fails to validate.
	ErrCorruption = errors.New("shadow: corruption detected")

	// ErrPageBuffer wraps failures surfaced by the PageBuffer collaborator.
	ErrPageBuffer = errors.New("shadow: page buffer error")

	// ErrMetaCache wraps failures surfaced by the MetaCache collaborator.
	ErrMetaCache = errors.New("shadow: metadata cache error")

	// ErrShadowFreeSpace wraps failures surfaced by the ShadowFreeSpace
	// collaborator.
	ErrShadowFreeSpace = errors.New("shadow: free space manager error")

	// ErrOutOfRange is returned when the delay-write oracle would return
	// a tick outside [currentTick, currentTick+maxLag].
	ErrOutOfRange = errors.New("shadow: delay-write tick out of range")

	// ErrTimeError covers clock read or sleep failures.
	ErrTimeError = errors.New("shadow: clock error")

	// ErrAlloc covers allocation failures not specific to shadow space
	// (e.g. index capacity exhaustion reported separately from
	// ErrShadowFull for a tmp allocation).
	ErrAlloc = errors.New("shadow: allocation error")
)
