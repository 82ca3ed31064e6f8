package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"
	"sync"
	"time"
)

const stderrTailLines = 20

// ErrTruncatedFrame is returned when the stream ends part way through a frame.
var ErrTruncatedFrame = errors.New("truncated raw frame")

// ExtractOptions describes how frames are sampled from the input.
type ExtractOptions struct {
	Input string
	// InputFormat forces the demuxer, e.g. "lavfi" for synthetic sources.
	InputFormat string
	FPS         int
	Width       int
	Height      int
	LogLevel    string
}

// FrameReader yields fixed-size 8-bit gray frames from a raw pixel stream.
type FrameReader struct {
	r      io.Reader
	width  int
	height int
	frames int

	cmd        *Command
	closer     io.Closer
	stderrDone chan struct{}

	tailMu sync.Mutex
	tail   []string
}

// NewFrameReader reads width*height byte frames from r.
func NewFrameReader(r io.Reader, width, height int) *FrameReader {
	return &FrameReader{r: r, width: width, height: height}
}

// Extract starts ffmpeg and returns a reader over its raw gray output.
// The caller must Close the reader to reap the process.
func Extract(ctx context.Context, ffmpegPath string, opts ExtractOptions) (*FrameReader, error) {
	if opts.Width <= 0 || opts.Height <= 0 || opts.FPS <= 0 {
		return nil, fmt.Errorf("invalid extract options: fps=%d size=%dx%d", opts.FPS, opts.Width, opts.Height)
	}

	b := NewCommandBuilder(ffmpegPath).
		LogLevel(opts.LogLevel).
		HideBanner().
		NoStdin()
	if opts.InputFormat != "" {
		b.InputArgs("-f", opts.InputFormat)
	}
	cmd := b.Input(opts.Input).
		Sample(opts.FPS, opts.Width, opts.Height).
		Grayscale().
		RawGrayOutput().
		Build()

	return startReader(ctx, cmd, opts.Width, opts.Height)
}

// startReader runs cmd and reads its stdout as raw gray frames.
func startReader(ctx context.Context, cmd *Command, width, height int) (*FrameReader, error) {
	stdout, stderr, err := cmd.startPiped(ctx)
	if err != nil {
		return nil, err
	}

	fr := NewFrameReader(bufio.NewReaderSize(stdout, width*height*4), width, height)
	fr.cmd = cmd
	fr.closer = stdout
	fr.stderrDone = make(chan struct{})
	go fr.captureStderr(stderr)
	return fr, nil
}

// Next returns the next frame, or io.EOF once the stream ends cleanly.
func (f *FrameReader) Next() (*image.Gray, error) {
	img := image.NewGray(image.Rect(0, 0, f.width, f.height))
	n, err := io.ReadFull(f.r, img.Pix)
	switch {
	case err == nil:
		f.frames++
		return img, nil
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, fmt.Errorf("%w: frame %d has %d of %d bytes", ErrTruncatedFrame, f.frames, n, len(img.Pix))
	default:
		return nil, fmt.Errorf("reading frame %d: %w", f.frames, err)
	}
}

// Frames reports how many complete frames have been read.
func (f *FrameReader) Frames() int {
	return f.frames
}

// Close releases the stream and waits for ffmpeg to exit. A non-zero exit is
// reported together with the tail of ffmpeg's stderr.
func (f *FrameReader) Close() error {
	if f.cmd == nil {
		return nil
	}
	if f.closer != nil {
		_ = f.closer.Close()
	}
	<-f.stderrDone

	if err := f.cmd.Wait(); err != nil {
		ran := f.cmd.Duration().Round(time.Millisecond)
		if tail := f.StderrTail(); len(tail) > 0 {
			return fmt.Errorf("ffmpeg exited after %s: %w: %s", ran, err, strings.Join(tail, "; "))
		}
		return fmt.Errorf("ffmpeg exited after %s: %w", ran, err)
	}
	return nil
}

// StderrTail returns the most recent ffmpeg diagnostic lines.
func (f *FrameReader) StderrTail() []string {
	f.tailMu.Lock()
	defer f.tailMu.Unlock()
	return append([]string(nil), f.tail...)
}

func (f *FrameReader) captureStderr(r io.Reader) {
	defer close(f.stderrDone)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		f.tailMu.Lock()
		if len(f.tail) >= stderrTailLines {
			f.tail = f.tail[1:]
		}
		f.tail = append(f.tail, line)
		f.tailMu.Unlock()
	}
}
