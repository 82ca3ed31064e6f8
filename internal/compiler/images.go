package compiler

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	// Register image format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp"}

// ImageDirSource plays a directory of stills in lexical file name order.
type ImageDirSource struct {
	files  []string
	pos    int
	width  int
	height int
}

// NewImageDirSource lists the supported images in dir.
func NewImageDirSource(dir string, width, height int) (*ImageDirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading image directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(files)

	return &ImageDirSource{files: files, width: width, height: height}, nil
}

// Len returns the number of frames the directory holds.
func (s *ImageDirSource) Len() int {
	return len(s.files)
}

// Next decodes, scales and converts the next still.
func (s *ImageDirSource) Next(ctx context.Context) (*image.Gray, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.files) {
		return nil, io.EOF
	}
	path := s.files[s.pos]
	s.pos++

	img, err := decodeImage(path)
	if err != nil {
		return nil, err
	}
	return ScaleToGray(img, s.width, s.height), nil
}

// Close is a no-op; files are opened per frame.
func (s *ImageDirSource) Close() error {
	return nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s (format=%s): %w", filepath.Base(path), format, err)
	}
	return img, nil
}

// ScaleToGray resamples img to width x height 8-bit luma.
func ScaleToGray(img image.Image, width, height int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
