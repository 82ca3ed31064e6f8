package compiler

import (
	"context"
	"fmt"
	"image"

	"github.com/jmylchreest/asciireel/internal/ffmpeg"
)

// Source kinds accepted in Options.Source.
const (
	SourceFFmpeg = "ffmpeg"
	SourceImages = "images"
)

// FrameSource yields grayscale frames already scaled to the target size.
// Next returns io.EOF once the source is exhausted.
type FrameSource interface {
	Next(ctx context.Context) (*image.Gray, error)
	Close() error
}

// SourceOpener opens the frame source described by opts.
type SourceOpener func(ctx context.Context, opts Options) (FrameSource, error)

// ffmpegSource adapts an ffmpeg raw frame stream.
type ffmpegSource struct {
	reader *ffmpeg.FrameReader
}

func (s *ffmpegSource) Next(ctx context.Context) (*image.Gray, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.reader.Next()
}

func (s *ffmpegSource) Close() error {
	return s.reader.Close()
}

// FFmpegOpener returns a SourceOpener that decodes video through ffmpeg.
func FFmpegOpener(detector *ffmpeg.BinaryDetector, logLevel string) SourceOpener {
	return func(ctx context.Context, opts Options) (FrameSource, error) {
		info, err := detector.Detect(ctx)
		if err != nil {
			return nil, err
		}
		reader, err := ffmpeg.Extract(ctx, info.FFmpegPath, ffmpeg.ExtractOptions{
			Input:    opts.Input,
			FPS:      opts.FPS,
			Width:    opts.Width,
			Height:   opts.Height,
			LogLevel: logLevel,
		})
		if err != nil {
			return nil, fmt.Errorf("starting frame extraction: %w", err)
		}
		return &ffmpegSource{reader: reader}, nil
	}
}

// DefaultOpener dispatches on Options.Source.
func DefaultOpener(detector *ffmpeg.BinaryDetector, logLevel string) SourceOpener {
	fromVideo := FFmpegOpener(detector, logLevel)
	return func(ctx context.Context, opts Options) (FrameSource, error) {
		switch opts.Source {
		case "", SourceFFmpeg:
			return fromVideo(ctx, opts)
		case SourceImages:
			return NewImageDirSource(opts.Input, opts.Width, opts.Height)
		default:
			return nil, fmt.Errorf("unknown frame source %q", opts.Source)
		}
	}
}
