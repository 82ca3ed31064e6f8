package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Command represents an FFmpeg command to execute.
type Command struct {
	Binary   string
	Args     []string
	Input    string
	Output   string
	LogLevel string

	cmd      *exec.Cmd
	started  time.Time
	finished time.Time
	mu       sync.RWMutex
}

// CommandBuilder builds FFmpeg commands.
type CommandBuilder struct {
	binary     string
	globalArgs []string
	inputArgs  []string
	input      string
	filterArgs []string
	outputArgs []string
	output     string
	logLevel   string
}

// NewCommandBuilder creates a new FFmpeg command builder.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets the FFmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	if level != "" {
		b.logLevel = level
	}
	return b
}

// HideBanner hides the FFmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// NoStdin stops ffmpeg from reading the terminal.
func (b *CommandBuilder) NoStdin() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-nostdin")
	return b
}

// Input sets the input source.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// InputArgs adds arguments placed before -i.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// VideoFilter appends a filter to the -vf chain.
func (b *CommandBuilder) VideoFilter(filter string) *CommandBuilder {
	b.filterArgs = append(b.filterArgs, filter)
	return b
}

// Sample resamples the stream to fps and scales it to width x height.
func (b *CommandBuilder) Sample(fps, width, height int) *CommandBuilder {
	return b.
		VideoFilter("fps=" + strconv.Itoa(fps)).
		VideoFilter(fmt.Sprintf("scale=%d:%d", width, height))
}

// Grayscale converts the stream to 8-bit luma.
func (b *CommandBuilder) Grayscale() *CommandBuilder {
	return b.VideoFilter("format=gray")
}

// RawGrayOutput writes unframed 8-bit gray pixels to stdout.
func (b *CommandBuilder) RawGrayOutput() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-f", "rawvideo", "-pix_fmt", "gray")
	b.output = "pipe:1"
	return b
}

// Build builds the command.
func (b *CommandBuilder) Build() *Command {
	var args []string

	args = append(args, "-loglevel", b.logLevel)
	args = append(args, b.globalArgs...)

	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)

	if len(b.filterArgs) > 0 {
		args = append(args, "-vf", strings.Join(b.filterArgs, ","))
	}

	args = append(args, b.outputArgs...)
	args = append(args, b.output)

	return &Command{
		Binary:   b.binary,
		Args:     args,
		Input:    b.input,
		Output:   b.output,
		LogLevel: b.logLevel,
	}
}

// String returns the command as a string.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// prepare creates the underlying process without starting it.
func (c *Command) prepare(ctx context.Context) *exec.Cmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmd = exec.CommandContext(ctx, c.Binary, c.Args...)
	return c.cmd
}

// Wait waits for the command to complete.
func (c *Command) Wait() error {
	c.mu.RLock()
	cmd := c.cmd
	c.mu.RUnlock()

	if cmd == nil {
		return fmt.Errorf("command not started")
	}
	err := cmd.Wait()

	c.mu.Lock()
	c.finished = time.Now()
	c.mu.Unlock()
	return err
}

// Duration returns how long the command has been running, or ran for once
// it has been waited on.
func (c *Command) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case c.started.IsZero():
		return 0
	case !c.finished.IsZero():
		return c.finished.Sub(c.started)
	default:
		return time.Since(c.started)
	}
}

// startPiped starts the process with stdout and stderr pipes attached.
func (c *Command) startPiped(ctx context.Context) (stdout, stderr io.ReadCloser, err error) {
	cmd := c.prepare(ctx)

	if stdout, err = cmd.StdoutPipe(); err != nil {
		return nil, nil, fmt.Errorf("getting stdout pipe: %w", err)
	}
	if stderr, err = cmd.StderrPipe(); err != nil {
		return nil, nil, fmt.Errorf("getting stderr pipe: %w", err)
	}
	if err = cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	c.mu.Lock()
	c.started = time.Now()
	c.mu.Unlock()
	return stdout, stderr, nil
}
