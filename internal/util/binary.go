// Package util provides shared utility functions.
package util

import (
	"fmt"
	"os"
	"os/exec"
)

// FindBinary locates an executable.
// Search order:
//  1. configured (an explicit path from configuration, if non-empty)
//  2. Environment variable envVar (if non-empty and set)
//  3. ./name (current directory, useful for development)
//  4. name on PATH
//
// An explicit configured path that is not executable is an error rather than
// silently falling through to the other candidates.
func FindBinary(name, envVar, configured string) (string, error) {
	if configured != "" {
		if !isExecutable(configured) {
			return "", fmt.Errorf("configured %s binary %q is not executable", name, configured)
		}
		return configured, nil
	}

	if envVar != "" {
		if envPath := os.Getenv(envVar); envPath != "" && isExecutable(envPath) {
			return envPath, nil
		}
	}

	if localPath := "./" + name; isExecutable(localPath) {
		return localPath, nil
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("binary %s not found", name)
}

// isExecutable checks if a path is a regular file with any executable bit set.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
