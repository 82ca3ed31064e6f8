package reel

import (
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validManifest() *Manifest {
	return &Manifest{
		FPS:         30,
		Width:       2,
		Height:      1,
		TotalFrames: 3,
		Chunks: []ChunkRef{
			{File: "c1.json", Count: 2},
			{File: "c2.json", Count: 1},
		},
	}
}

func TestManifest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *Manifest)
		wantErr string
	}{
		{"valid", func(m *Manifest) {}, ""},
		{"zero fps", func(m *Manifest) { m.FPS = 0 }, "fps must be positive"},
		{"zero width", func(m *Manifest) { m.Width = 0 }, "dimensions must be positive"},
		{"count mismatch", func(m *Manifest) { m.TotalFrames = 4 }, "sum to 3"},
		{"duplicate file", func(m *Manifest) { m.Chunks[1].File = "c1.json" }, "duplicate chunk file"},
		{"empty file", func(m *Manifest) { m.Chunks[0].File = "" }, "has no file"},
		{"empty chunk list", func(m *Manifest) { m.Chunks = nil; m.TotalFrames = 0 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validManifest()
			tt.mutate(m)
			err := m.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidManifest)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDecodeManifest_WireFormat(t *testing.T) {
	raw := `{"fps":30,"width":60,"height":20,"totalFrames":3,
		"chunks":[{"file":"chunk_0001.json","count":2},{"file":"chunk_0002.json","count":1}]}`

	m, err := DecodeManifest(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 30, m.FPS)
	assert.Equal(t, 60, m.Width)
	assert.Equal(t, 20, m.Height)
	assert.Equal(t, 3, m.TotalFrames)
	require.Len(t, m.Chunks, 2)
	assert.Equal(t, ChunkRef{File: "chunk_0002.json", Count: 1}, m.Chunks[1])
}

func TestDecodeManifest_Malformed(t *testing.T) {
	_, err := DecodeManifest(strings.NewReader("{not json"))
	assert.Error(t, err)
}

func TestMarshalManifest_EmptyChunksIsArray(t *testing.T) {
	data, err := MarshalManifest(&Manifest{FPS: 30, Width: 1, Height: 1})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"chunks": []`)
}

func TestChunk_Validate(t *testing.T) {
	c := &Chunk{Frames: []Frame{{"ab"}, {"cd"}}}
	assert.NoError(t, c.Validate(2, 1, 2))
	assert.NoError(t, c.Validate(2, 1, -1))
	assert.ErrorIs(t, c.Validate(2, 1, 3), ErrInvalidChunk)
	assert.ErrorIs(t, c.Validate(3, 1, 2), ErrInvalidChunk)
	assert.ErrorIs(t, c.Validate(2, 2, 2), ErrInvalidChunk)
}

func TestDecodeChunk_MissingFrames(t *testing.T) {
	c, err := DecodeChunk(strings.NewReader(`{}`))
	require.NoError(t, err)
	assert.Empty(t, c.Frames)
}

func TestChunkFileName(t *testing.T) {
	assert.Equal(t, "chunk_0001.json", ChunkFileName(1))
	assert.Equal(t, "chunk_0123.json", ChunkFileName(123))
	assert.Equal(t, "chunk_01hx_0002.json", VersionedChunkFileName("01hx", 2))
	assert.Equal(t, "chunk_0002.json", VersionedChunkFileName("", 2))

	assert.True(t, IsChunkFile("chunk_01hx_0002.json"))
	assert.True(t, IsChunkFile(ChunkFileName(1)))
	assert.False(t, IsChunkFile(ManifestFile))
	assert.False(t, IsChunkFile(".chunk_0001.json.tmp"))
}

func TestPalette_Char(t *testing.T) {
	p := NewPalette("")
	assert.Equal(t, ' ', p.Char(0))
	assert.Equal(t, '#', p.Char(255))
	// floor(128/255 * 8) = 4
	assert.Equal(t, 'o', p.Char(128))
	assert.Equal(t, '.', p.Char(32))
}

func TestPalette_CharFloatClamps(t *testing.T) {
	p := NewPalette("")
	assert.Equal(t, ' ', p.CharFloat(-1))
	assert.Equal(t, '#', p.CharFloat(2))
	assert.Equal(t, ' ', p.CharFloat(0))

	var empty Palette
	assert.Equal(t, ' ', empty.CharFloat(0.5))
}

func TestPalette_FrameFromGray(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 2))
	img.SetGray(0, 0, color.Gray{Y: 0})
	img.SetGray(1, 0, color.Gray{Y: 128})
	img.SetGray(2, 0, color.Gray{Y: 255})
	img.SetGray(0, 1, color.Gray{Y: 255})
	img.SetGray(1, 1, color.Gray{Y: 255})
	img.SetGray(2, 1, color.Gray{Y: 255})

	frame := NewPalette("").FrameFromGray(img)
	assert.Equal(t, Frame{" o#", "###"}, frame)
}
