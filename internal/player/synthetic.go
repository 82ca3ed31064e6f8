package player

import (
	"math"
	"strings"

	"github.com/jmylchreest/asciireel/internal/reel"
)

// SyntheticFrame renders frame n of the fallback animation. The scene depends
// only on n/fps, so output is deterministic:
//   - under 10s a pulsing radial glow,
//   - under 30s drifting waves behind a bright outline,
//   - afterwards an interference pattern.
func SyntheticFrame(n, fps, width, height int, palette reel.Palette) reel.Frame {
	if fps <= 0 {
		fps = reel.DefaultFPS
	}
	t := float64(n) / float64(fps)

	frame := make(reel.Frame, height)
	var sb strings.Builder
	for y := 0; y < height; y++ {
		sb.Reset()
		ny := float64(y) / float64(height)
		for x := 0; x < width; x++ {
			nx := float64(x) / float64(width)
			sb.WriteRune(palette.CharFloat(intensityAt(t, nx, ny)))
		}
		frame[y] = sb.String()
	}
	return frame
}

func intensityAt(t, x, y float64) float64 {
	switch {
	case t < 10:
		dist := math.Hypot(x-0.5, y-0.5)
		fade := math.Max(0, 1-dist*3)
		pulse := math.Sin(t*2)*0.3 + 0.7
		return fade * pulse
	case t < 30:
		wave1 := math.Sin((x+t*0.5)*math.Pi*2) * 0.3
		wave2 := math.Cos((y+t*0.3)*math.Pi*2) * 0.2
		combined := (wave1 + wave2 + 1) / 2
		outline := 0.2
		if math.Abs(x-0.5) < 0.3 && math.Abs(y-0.5) < 0.4 {
			outline = 0.8
		}
		return math.Max(combined, outline)
	default:
		p1 := math.Sin((x+t)*math.Pi*4) * math.Cos((y+t*0.7)*math.Pi*3)
		p2 := math.Sin((x-t*0.5)*math.Pi*2) * math.Sin((y-t*0.3)*math.Pi*2)
		return math.Abs(p1+p2) / 2
	}
}
