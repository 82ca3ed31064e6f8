package player

import (
	"errors"
	"fmt"
)

// Errors reported by the scheduler.
var (
	ErrManifestUnavailable = errors.New("manifest unavailable")
	ErrEmptyManifest       = errors.New("manifest has no chunks")
	ErrAlreadyPlaying      = errors.New("playback already active")
	ErrChunkUnavailable    = errors.New("chunk unavailable")
)

// LoadErrorText is the user-facing message shown while a chunk failure is outstanding.
const LoadErrorText = "Failed to load frames chunk"

// ChunkUnavailableError reports a chunk that could not be fetched or decoded.
type ChunkUnavailableError struct {
	Index int
	File  string
	Err   error
}

func (e *ChunkUnavailableError) Error() string {
	return fmt.Sprintf("chunk %d (%s) unavailable: %v", e.Index, e.File, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *ChunkUnavailableError) Unwrap() []error {
	return []error{ErrChunkUnavailable, e.Err}
}
