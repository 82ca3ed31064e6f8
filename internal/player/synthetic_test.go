package player

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/asciireel/internal/reel"
)

func TestSyntheticFrame_Dimensions(t *testing.T) {
	palette := reel.NewPalette(reel.DefaultPalette)
	frame := SyntheticFrame(0, 30, 60, 20, palette)

	require.Len(t, frame, 20)
	for _, row := range frame {
		assert.Len(t, row, 60)
		for _, r := range row {
			assert.True(t, strings.ContainsRune(reel.DefaultPalette, r), "unexpected rune %q", r)
		}
	}
}

func TestSyntheticFrame_Deterministic(t *testing.T) {
	palette := reel.NewPalette(reel.DefaultPalette)
	assert.Equal(t, SyntheticFrame(42, 30, 40, 10, palette), SyntheticFrame(42, 30, 40, 10, palette))
}

func TestSyntheticFrame_Scenes(t *testing.T) {
	palette := reel.NewPalette(reel.DefaultPalette)
	glow := SyntheticFrame(30, 30, 40, 10, palette)       // 1s
	waves := SyntheticFrame(15*30, 30, 40, 10, palette)   // 15s
	pattern := SyntheticFrame(45*30, 30, 40, 10, palette) // 45s

	// The glow fades to blank at the corners but not at the centre.
	assert.Equal(t, ' ', rune(glow[0][0]))
	assert.NotEqual(t, ' ', rune(glow[5][20]))

	// The wave scene never drops below the outline floor.
	for _, row := range waves {
		assert.NotContains(t, row, " ")
	}

	assert.NotEqual(t, glow, pattern)
	assert.NotEqual(t, waves, pattern)
}

func TestSyntheticFrame_CustomPalette(t *testing.T) {
	frame := SyntheticFrame(0, 30, 10, 5, reel.NewPalette("-+"))
	for _, row := range frame {
		assert.Empty(t, strings.Trim(row, "-+"))
	}
}

func TestSyntheticFrame_ZeroFPSUsesDefault(t *testing.T) {
	palette := reel.NewPalette(reel.DefaultPalette)
	assert.Equal(t, SyntheticFrame(5, reel.DefaultFPS, 8, 4, palette), SyntheticFrame(5, 0, 8, 4, palette))
}
