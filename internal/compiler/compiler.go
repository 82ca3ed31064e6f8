// Package compiler converts video into chunked ASCII frame reels.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/asciireel/internal/observability"
	"github.com/jmylchreest/asciireel/internal/reel"
	"github.com/jmylchreest/asciireel/internal/storage"
)

// ErrNoFrames is returned when the source produced no frames.
var ErrNoFrames = errors.New("no frames extracted")

// Options describes one compile run.
type Options struct {
	Input     string
	Source    string // ffmpeg (default) or images
	FPS       int
	Width     int
	Height    int
	ChunkSize int
	// OutputDir is relative to the compiler's storage sandbox.
	OutputDir string
}

// Validate checks the numeric parameters.
func (o Options) Validate() error {
	var errs []error
	if o.Input == "" {
		errs = append(errs, errors.New("input is required"))
	}
	if o.FPS <= 0 {
		errs = append(errs, fmt.Errorf("fps must be positive, got %d", o.FPS))
	}
	if o.Width <= 0 || o.Height <= 0 {
		errs = append(errs, fmt.Errorf("frame size must be positive, got %dx%d", o.Width, o.Height))
	}
	if o.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk size must be positive, got %d", o.ChunkSize))
	}
	return errors.Join(errs...)
}

// Result summarises a successful compile.
type Result struct {
	// Version identifies this compile; it prefixes every chunk file name.
	Version   string
	Manifest  *reel.Manifest
	OutputDir string
	Duration  time.Duration
}

// Compiler turns a frame source into published reel files.
type Compiler struct {
	sandbox *storage.Sandbox
	open    SourceOpener
	palette reel.Palette
	tempDir string
	logger  *slog.Logger

	newVersion func() string
}

// New creates a compiler writing into sandbox.
func New(sandbox *storage.Sandbox, open SourceOpener) *Compiler {
	return &Compiler{
		sandbox: sandbox,
		open:    open,
		palette: reel.NewPalette(reel.DefaultPalette),
		tempDir: "temp",
		logger:  slog.Default(),

		newVersion: func() string { return strings.ToLower(ulid.Make().String()) },
	}
}

// WithLogger sets the logger for the compiler.
func (c *Compiler) WithLogger(logger *slog.Logger) *Compiler {
	c.logger = observability.WithComponent(logger, "compiler")
	return c
}

// WithPalette overrides the density palette.
func (c *Compiler) WithPalette(chars string) *Compiler {
	if chars != "" {
		c.palette = reel.NewPalette(chars)
	}
	return c
}

// WithTempDir sets the sandbox-relative staging root.
func (c *Compiler) WithTempDir(dir string) *Compiler {
	if dir != "" {
		c.tempDir = dir
	}
	return c
}

// Compile extracts, converts and chunks every frame, then publishes the
// chunks followed by the manifest. Nothing is published on failure. Chunk
// names carry a fresh version, so chunks of an earlier compile stay intact
// until Prune removes them.
func (c *Compiler) Compile(ctx context.Context, opts Options) (result *Result, err error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid compile options: %w", err)
	}

	logger := c.logger.With(slog.String("input", opts.Input), slog.String("output_dir", opts.OutputDir))
	done := observability.TimedOperationWithError(ctx, logger, "compile", &err)
	defer done()
	start := time.Now()

	src, err := c.open(ctx, opts)
	if err != nil {
		return nil, err
	}

	stage, err := c.sandbox.Stage(c.tempDir)
	if err != nil {
		_ = src.Close()
		return nil, err
	}

	version := c.newVersion()
	manifest, err := c.writeChunks(ctx, src, stage, version, opts)
	if closeErr := src.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("closing frame source: %w", closeErr)
	}
	if err != nil {
		_ = stage.Discard()
		return nil, err
	}

	data, err := reel.MarshalManifest(manifest)
	if err != nil {
		_ = stage.Discard()
		return nil, err
	}
	if err = stage.WriteFile(reel.ManifestFile, data); err != nil {
		_ = stage.Discard()
		return nil, err
	}
	if err = stage.Publish(opts.OutputDir); err != nil {
		_ = stage.Discard()
		return nil, err
	}

	logger.Info(fmt.Sprintf("Generated %d frames in %d chunks", manifest.TotalFrames, len(manifest.Chunks)),
		slog.Int("total_frames", manifest.TotalFrames),
		slog.Int("chunks", len(manifest.Chunks)),
		slog.String("version", version),
	)

	return &Result{
		Version:   version,
		Manifest:  manifest,
		OutputDir: opts.OutputDir,
		Duration:  time.Since(start),
	}, nil
}

// writeChunks drains src into staged chunk files and returns the manifest
// describing them.
func (c *Compiler) writeChunks(ctx context.Context, src FrameSource, stage *storage.Stage, version string, opts Options) (*reel.Manifest, error) {
	manifest := &reel.Manifest{
		FPS:    opts.FPS,
		Width:  opts.Width,
		Height: opts.Height,
		Chunks: []reel.ChunkRef{},
	}
	buf := make([]reel.Frame, 0, opts.ChunkSize)

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		name := reel.VersionedChunkFileName(version, len(manifest.Chunks)+1)
		data, err := reel.MarshalChunk(&reel.Chunk{Frames: buf})
		if err != nil {
			return err
		}
		if err := stage.WriteFile(name, data); err != nil {
			return err
		}
		manifest.Chunks = append(manifest.Chunks, reel.ChunkRef{File: name, Count: len(buf)})
		manifest.TotalFrames += len(buf)
		c.logger.Debug("chunk written", slog.String("file", name), slog.Int("frames", len(buf)))
		buf = make([]reel.Frame, 0, opts.ChunkSize)
		return nil
	}

	for {
		img, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", manifest.TotalFrames+len(buf), err)
		}
		if b := img.Bounds(); b.Dx() != opts.Width || b.Dy() != opts.Height {
			return nil, fmt.Errorf("frame %d: got %dx%d, want %dx%d",
				manifest.TotalFrames+len(buf), b.Dx(), b.Dy(), opts.Width, opts.Height)
		}

		buf = append(buf, c.palette.FrameFromGray(img))
		if len(buf) >= opts.ChunkSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if manifest.TotalFrames == 0 {
		return nil, ErrNoFrames
	}
	return manifest, nil
}
