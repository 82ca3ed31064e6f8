package reel

import (
	"image"
	"math"
	"strings"
)

// DefaultPalette orders characters by increasing visual density.
// The trailing duplicate keeps full white on the densest glyph.
const DefaultPalette = " .:;ox%##"

// Palette maps intensities onto characters.
type Palette []rune

// NewPalette builds a palette from its characters, falling back to DefaultPalette when empty.
func NewPalette(chars string) Palette {
	if chars == "" {
		chars = DefaultPalette
	}
	return Palette([]rune(chars))
}

// Char maps an 8-bit intensity to a character.
func (p Palette) Char(intensity uint8) rune {
	return p.CharFloat(float64(intensity) / 255)
}

// CharFloat maps a normalized 0..1 intensity to a character. Out of range values are clamped.
func (p Palette) CharFloat(v float64) rune {
	if len(p) == 0 {
		return ' '
	}
	if math.IsNaN(v) {
		v = 0
	}
	idx := int(math.Floor(v * float64(len(p)-1)))
	idx = max(0, min(len(p)-1, idx))
	return p[idx]
}

// FrameFromGray renders a grayscale image as a frame, one character per pixel.
func (p Palette) FrameFromGray(img *image.Gray) Frame {
	b := img.Bounds()
	frame := make(Frame, 0, b.Dy())
	var sb strings.Builder
	for y := b.Min.Y; y < b.Max.Y; y++ {
		sb.Reset()
		for x := b.Min.X; x < b.Max.X; x++ {
			sb.WriteRune(p.Char(img.GrayAt(x, y).Y))
		}
		frame = append(frame, sb.String())
	}
	return frame
}
