// Package reel defines the on-disk format of a compiled ASCII animation:
// a manifest describing playback order plus fixed-size chunks of frames.
package reel

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// ManifestFile is the well-known name of the manifest within a reel directory.
const ManifestFile = "index.json"

// Default compile parameters.
const (
	DefaultFPS       = 30
	DefaultWidth     = 60
	DefaultHeight    = 20
	DefaultChunkSize = 300
)

// Errors returned by validation.
var (
	ErrInvalidManifest = errors.New("invalid manifest")
	ErrInvalidChunk    = errors.New("invalid chunk")
)

// ChunkRef points at one chunk resource and records how many frames it holds.
type ChunkRef struct {
	File  string `json:"file"`
	Count int    `json:"count"`
}

// Manifest describes a whole animation. Chunk order is playback order.
type Manifest struct {
	FPS         int        `json:"fps"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	TotalFrames int        `json:"totalFrames"`
	Chunks      []ChunkRef `json:"chunks"`
}

// Frame is one picture: Height rows of Width characters.
type Frame []string

// Chunk is a contiguous, independently fetchable group of frames.
type Chunk struct {
	Frames []Frame `json:"frames"`
}

// ChunkFileName returns the file name for the chunk with the given 1-based sequence number.
func ChunkFileName(seq int) string {
	return fmt.Sprintf("chunk_%04d.json", seq)
}

// VersionedChunkFileName returns the file name for chunk seq of the compile
// identified by version. Each compile gets its own names so a republish never
// replaces a chunk that an earlier manifest still references.
func VersionedChunkFileName(version string, seq int) string {
	if version == "" {
		return ChunkFileName(seq)
	}
	return fmt.Sprintf("chunk_%s_%04d.json", version, seq)
}

// IsChunkFile reports whether name looks like a chunk produced by the compiler.
func IsChunkFile(name string) bool {
	return strings.HasPrefix(name, "chunk_") && strings.HasSuffix(name, ".json")
}

// Validate checks the manifest invariants.
func (m *Manifest) Validate() error {
	if m.FPS <= 0 {
		return fmt.Errorf("%w: fps must be positive, got %d", ErrInvalidManifest, m.FPS)
	}
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("%w: dimensions must be positive, got %dx%d", ErrInvalidManifest, m.Width, m.Height)
	}

	seen := make(map[string]struct{}, len(m.Chunks))
	sum := 0
	for i, c := range m.Chunks {
		if c.File == "" {
			return fmt.Errorf("%w: chunk %d has no file", ErrInvalidManifest, i)
		}
		if _, dup := seen[c.File]; dup {
			return fmt.Errorf("%w: duplicate chunk file %q", ErrInvalidManifest, c.File)
		}
		seen[c.File] = struct{}{}
		if c.Count < 0 {
			return fmt.Errorf("%w: chunk %q has negative count", ErrInvalidManifest, c.File)
		}
		sum += c.Count
	}
	if sum != m.TotalFrames {
		return fmt.Errorf("%w: chunk counts sum to %d, totalFrames is %d", ErrInvalidManifest, sum, m.TotalFrames)
	}
	return nil
}

// Validate checks that the chunk holds count frames of the given dimensions.
// A count below zero skips the count check.
func (c *Chunk) Validate(width, height, count int) error {
	if count >= 0 && len(c.Frames) != count {
		return fmt.Errorf("%w: expected %d frames, got %d", ErrInvalidChunk, count, len(c.Frames))
	}
	for i, f := range c.Frames {
		if len(f) != height {
			return fmt.Errorf("%w: frame %d has %d rows, expected %d", ErrInvalidChunk, i, len(f), height)
		}
		for y, row := range f {
			if n := utf8.RuneCountInString(row); n != width {
				return fmt.Errorf("%w: frame %d row %d has width %d, expected %d", ErrInvalidChunk, i, y, n, width)
			}
		}
	}
	return nil
}

// DecodeManifest reads a manifest from r, which may be compressed.
func DecodeManifest(r io.Reader) (*Manifest, error) {
	plain, err := Decompress(r)
	if err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	var m Manifest
	if err := json.NewDecoder(plain).Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return &m, nil
}

// DecodeChunk reads a chunk from r. A missing frames key decodes as an empty chunk.
func DecodeChunk(r io.Reader) (*Chunk, error) {
	plain, err := Decompress(r)
	if err != nil {
		return nil, fmt.Errorf("decoding chunk: %w", err)
	}
	var c Chunk
	if err := json.NewDecoder(plain).Decode(&c); err != nil {
		return nil, fmt.Errorf("decoding chunk: %w", err)
	}
	return &c, nil
}

// MarshalManifest encodes the manifest in its published, indented form.
func MarshalManifest(m *Manifest) ([]byte, error) {
	if m.Chunks == nil {
		m.Chunks = []ChunkRef{}
	}
	return json.MarshalIndent(m, "", "  ")
}

// MarshalChunk encodes a chunk compactly.
func MarshalChunk(c *Chunk) ([]byte, error) {
	if c.Frames == nil {
		c.Frames = []Frame{}
	}
	return json.Marshal(c)
}
