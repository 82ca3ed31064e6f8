// Package ffmpeg provides FFmpeg binary detection and the raw frame extraction
// used by the frame compiler.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/asciireel/internal/util"
)

// BinaryEnvVar overrides the ffmpeg binary location.
const BinaryEnvVar = "ASCIIREEL_FFMPEG_BINARY"

// ErrNotFound is returned when no usable ffmpeg binary could be located.
var ErrNotFound = errors.New("ffmpeg not found")

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// BinaryInfo contains information about the FFmpeg installation.
type BinaryInfo struct {
	FFmpegPath    string `json:"ffmpeg_path"`
	Version       string `json:"version"`
	MajorVersion  int    `json:"major_version"`
	MinorVersion  int    `json:"minor_version"`
	BuildDate     string `json:"build_date,omitempty"`
	Configuration string `json:"configuration,omitempty"`
}

// BinaryDetector handles detection and caching of the ffmpeg binary.
type BinaryDetector struct {
	configured string

	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector creates a new binary detector. A non-empty configured path
// takes precedence over the environment and PATH lookup.
func NewBinaryDetector(configured string) *BinaryDetector {
	return &BinaryDetector{
		configured: configured,
		cacheTTL:   5 * time.Minute,
	}
}

// Detect locates ffmpeg and probes its version.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	path, err := util.FindBinary("ffmpeg", BinaryEnvVar, d.configured)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}

	info, err := parseVersionOutput(string(out))
	if err != nil {
		return nil, err
	}
	info.FFmpegPath = path

	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// parseVersionOutput extracts version details from `ffmpeg -version`.
func parseVersionOutput(output string) (*BinaryInfo, error) {
	info := &BinaryInfo{}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "ffmpeg version"):
			// "ffmpeg version 6.0 Copyright..." or "ffmpeg version n6.0-2-g..."
			parts := strings.Fields(line)
			if len(parts) < 3 {
				continue
			}
			info.Version = parts[2]
			if m := versionRegex.FindStringSubmatch(parts[2]); len(m) >= 3 {
				info.MajorVersion, _ = strconv.Atoi(m[1])
				info.MinorVersion, _ = strconv.Atoi(m[2])
			}
		case strings.HasPrefix(line, "built with"):
			info.BuildDate = strings.TrimPrefix(line, "built with ")
		case strings.HasPrefix(line, "configuration:"):
			info.Configuration = strings.TrimSpace(strings.TrimPrefix(line, "configuration:"))
		}
	}

	if info.Version == "" {
		return nil, fmt.Errorf("failed to parse ffmpeg version")
	}
	return info, nil
}
