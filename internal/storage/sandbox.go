// Package storage provides sandboxed file operations for asciireel.
// All file operations are restricted to configured directories to prevent
// path traversal and other security issues.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Sandbox provides sandboxed file operations within a base directory.
// It prevents path traversal attacks by ensuring all paths resolve within the sandbox.
type Sandbox struct {
	baseDir string
}

// NewSandbox creates a new Sandbox rooted at the given base directory.
// The base directory is created if it doesn't exist.
func NewSandbox(baseDir string) (*Sandbox, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0o750); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}

	return &Sandbox{baseDir: absPath}, nil
}

// BaseDir returns the absolute path to the sandbox base directory.
func (s *Sandbox) BaseDir() string {
	return s.baseDir
}

// ResolvePath resolves a relative path within the sandbox.
// Returns an error if the path would escape the sandbox or is an absolute path.
func (s *Sandbox) ResolvePath(relativePath string) (string, error) {
	if filepath.IsAbs(relativePath) {
		return "", fmt.Errorf("path escapes sandbox: %s (absolute paths not allowed)", relativePath)
	}

	absPath, err := filepath.Abs(filepath.Join(s.baseDir, filepath.Clean(relativePath)))
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}

	if !strings.HasPrefix(absPath, s.baseDir+string(filepath.Separator)) && absPath != s.baseDir {
		return "", fmt.Errorf("path escapes sandbox: %s", relativePath)
	}

	return absPath, nil
}

// Exists checks if a path exists within the sandbox.
func (s *Sandbox) Exists(relativePath string) (bool, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking path: %w", err)
	}
	return true, nil
}

// ReadFile reads a file from within the sandbox.
func (s *Sandbox) ReadFile(relativePath string) ([]byte, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Open opens a file within the sandbox for reading.
func (s *Sandbox) Open(relativePath string) (*os.File, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return f, nil
}

// Stat returns file info for a path within the sandbox.
func (s *Sandbox) Stat(relativePath string) (os.FileInfo, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("getting file info: %w", err)
	}
	return info, nil
}

// RemoveAll removes a path and all its contents within the sandbox.
func (s *Sandbox) RemoveAll(relativePath string) error {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return err
	}

	if path == s.baseDir {
		return fmt.Errorf("cannot remove sandbox base directory")
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing path: %w", err)
	}
	return nil
}

// FS exposes the sandbox as a read-only fs.FS.
func (s *Sandbox) FS() fs.FS {
	return os.DirFS(s.baseDir)
}

// Stage creates a private staging directory under tempDir. Files written to the
// stage stay invisible until Publish moves them into place.
func (s *Sandbox) Stage(tempDir string) (*Stage, error) {
	if tempDir == "" {
		tempDir = "temp"
	}
	rel := filepath.Join(tempDir, stagePrefix+randomHex(12))
	path, err := s.ResolvePath(rel)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("creating stage directory: %w", err)
	}
	return &Stage{sandbox: s, rel: rel, dir: path}, nil
}

// Stage is a staging directory owned by one writer.
type Stage struct {
	sandbox *Sandbox
	rel     string
	dir     string
	files   []string
}

// Dir returns the absolute path of the staging directory.
func (st *Stage) Dir() string {
	return st.dir
}

// Files returns the staged file names in write order.
func (st *Stage) Files() []string {
	return append([]string(nil), st.files...)
}

// WriteFile stages a file under a flat name.
func (st *Stage) WriteFile(name string, data []byte) error {
	if name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("invalid staged file name %q", name)
	}
	if err := os.WriteFile(filepath.Join(st.dir, name), data, 0o640); err != nil {
		return fmt.Errorf("writing staged file %s: %w", name, err)
	}
	st.files = append(st.files, name)
	return nil
}

// Publish moves staged files into destDir in write order, each by atomic
// rename, then removes the stage. Writers stage their index file last so
// readers never observe it before the files it references.
func (st *Stage) Publish(destDir string) error {
	destPath, err := st.sandbox.ResolvePath(destDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(destPath, 0o750); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}

	for _, name := range st.files {
		if err := publishFile(filepath.Join(st.dir, name), filepath.Join(destPath, name)); err != nil {
			return fmt.Errorf("publishing %s: %w", name, err)
		}
	}
	return st.Discard()
}

// Discard removes the stage and anything still in it.
func (st *Stage) Discard() error {
	if err := os.RemoveAll(st.dir); err != nil {
		return fmt.Errorf("removing stage: %w", err)
	}
	return nil
}

// stagePrefix names staging directories created by Stage.
const stagePrefix = "stage-"

// SweepStages removes staging directories under tempDir last modified before
// cutoff. Stages left behind by interrupted writers are never published, so
// they are safe to delete. It returns the number of stages removed.
func (s *Sandbox) SweepStages(tempDir string, cutoff time.Time) (int, error) {
	if tempDir == "" {
		tempDir = "temp"
	}
	dir, err := s.ResolvePath(tempDir)
	if err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading temp directory: %w", err)
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), stagePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, fmt.Errorf("removing %s: %w", e.Name(), err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// publishFile renames src over dst, falling back to copy-then-rename across filesystems.
func publishFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	tempPath := filepath.Join(filepath.Dir(dst), fmt.Sprintf(".%s.%s.tmp", filepath.Base(dst), randomHex(8)))

	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer srcFile.Close()

	tempFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	_, err = io.Copy(tempFile, srcFile)
	closeErr := tempFile.Close()
	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("copying to temp file: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err := os.Rename(tempPath, dst); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("renaming to target: %w", err)
	}
	return nil
}

// randomHex generates a random hex string of the specified length.
func randomHex(n int) string {
	b := make([]byte, n/2+1)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", os.Getpid())
	}
	return hex.EncodeToString(b)[:n]
}
