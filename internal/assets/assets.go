// Package assets provides the embedded web player and the fetchers that load
// reel manifests and chunks from disk or over HTTP.
package assets

import (
	"embed"
	"io/fs"
	"mime"
	"path/filepath"
	"strings"
)

// StaticFS embeds the browser player.
//
//go:embed all:static
var StaticFS embed.FS

// GetStaticFS returns a sub-filesystem rooted at "static/".
func GetStaticFS() (fs.FS, error) {
	return fs.Sub(StaticFS, "static")
}

// GetContentType returns the MIME type for a given file path based on extension.
func GetContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case "":
		return "application/octet-stream"
	case ".json":
		return "application/json; charset=utf-8"
	case ".html":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "application/javascript; charset=utf-8"
	}
	if mimeType := mime.TypeByExtension(ext); mimeType != "" {
		return mimeType
	}
	return "application/octet-stream"
}
