package compiler

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"time"

	"github.com/jmylchreest/asciireel/internal/reel"
)

// Prune removes chunk files in dir that the published manifest no longer
// references. Sessions started before a recompile keep reading the chunks
// of the manifest they loaded, so nothing is removed until the current
// manifest was published before cutoff. It returns the number of files removed.
func (c *Compiler) Prune(dir string, cutoff time.Time) (int, error) {
	manifestPath := path.Join(dir, reel.ManifestFile)
	info, err := c.sandbox.Stat(manifestPath)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !info.ModTime().Before(cutoff) {
		return 0, nil
	}

	f, err := c.sandbox.Open(manifestPath)
	if err != nil {
		return 0, err
	}
	m, err := reel.DecodeManifest(f)
	_ = f.Close()
	if err != nil {
		// An unreadable manifest gives no basis for deciding what is live.
		return 0, fmt.Errorf("reading %s: %w", manifestPath, err)
	}

	live := make(map[string]struct{}, len(m.Chunks))
	for _, ref := range m.Chunks {
		live[ref.File] = struct{}{}
	}

	entries, err := fs.ReadDir(c.sandbox.FS(), dir)
	if err != nil {
		return 0, fmt.Errorf("listing %s: %w", dir, err)
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !reel.IsChunkFile(name) {
			continue
		}
		if _, ok := live[name]; ok {
			continue
		}
		if err := c.sandbox.RemoveAll(path.Join(dir, name)); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		c.logger.Info("pruned superseded chunks", slog.String("dir", dir), slog.Int("count", removed))
	}
	return removed, errors.Join(errs...)
}
