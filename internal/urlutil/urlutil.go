// Package urlutil resolves where a reel is published: a web server base URL
// or a local directory, given as a path or a file:// URL.
package urlutil

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// URL scheme constants.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeFile  = "file"
)

// ErrEmptyLocation is returned for a blank reel location.
var ErrEmptyLocation = errors.New("reel location is required")

// Location is a parsed reel location. Exactly one of BaseURL and Dir is set.
type Location struct {
	// BaseURL is an http(s) directory URL ending in "/", ready for
	// resolving chunk names against.
	BaseURL string
	// Dir is an absolute local directory.
	Dir string
}

// Remote reports whether the reel is fetched over HTTP.
func (l Location) Remote() bool {
	return l.BaseURL != ""
}

func (l Location) String() string {
	if l.Remote() {
		return l.BaseURL
	}
	return l.Dir
}

// ParseLocation accepts an http(s) URL, a file:// URL or a plain path.
// Host-only URLs such as "example.com/frames" are treated as http.
func ParseLocation(s string) (Location, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Location{}, ErrEmptyLocation
	}

	switch {
	case IsFileURL(s):
		p, err := FilePathFromURL(s)
		if err != nil {
			return Location{}, err
		}
		return Location{Dir: filepath.Clean(p)}, nil
	case IsRemoteURL(s):
		return remoteLocation(s)
	case strings.Contains(s, "://"):
		return Location{}, fmt.Errorf("unsupported URL scheme %q (supported: http, https, file)", GetScheme(s))
	case looksLikeHost(s):
		return remoteLocation("http://" + s)
	default:
		abs, err := filepath.Abs(s)
		if err != nil {
			return Location{}, fmt.Errorf("resolving %s: %w", s, err)
		}
		return Location{Dir: abs}, nil
	}
}

func remoteLocation(s string) (Location, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Location{}, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Host == "" {
		return Location{}, fmt.Errorf("URL %q has no host", s)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return Location{BaseURL: u.String()}, nil
}

// looksLikeHost reports whether a scheme-less string starts with a host
// name rather than a relative path: a dotted or ported first segment.
func looksLikeHost(s string) bool {
	if strings.HasPrefix(s, ".") || strings.HasPrefix(s, "/") {
		return false
	}
	first, _, _ := strings.Cut(s, "/")
	return strings.Contains(first, ":") || (strings.Count(first, ".") >= 1 && !strings.Contains(first, "\\"))
}

// IsRemoteURL reports whether u is an http or https URL.
func IsRemoteURL(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// IsFileURL reports whether u uses the file:// scheme.
func IsFileURL(u string) bool {
	return strings.HasPrefix(u, "file://")
}

// GetScheme returns the lower-cased scheme of u, or "" when unparsable.
func GetScheme(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Scheme)
}

// FilePathFromURL extracts the path of a file:// URL. Both file:///path and
// file://localhost/path are accepted.
func FilePathFromURL(u string) (string, error) {
	if !IsFileURL(u) {
		return "", fmt.Errorf("not a file:// URL: %s", u)
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Host != "" && parsed.Host != "localhost" {
		return "", fmt.Errorf("file URL host must be empty or localhost, got %q", parsed.Host)
	}
	if parsed.Path == "" {
		return "", fmt.Errorf("empty path in file URL: %s", u)
	}
	return parsed.Path, nil
}
