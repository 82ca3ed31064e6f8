package handlers

import (
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/jmylchreest/asciireel/internal/assets"
)

// StaticHandler serves the embedded browser player.
type StaticHandler struct {
	fsys       fs.FS
	fileServer http.Handler
}

// NewStaticHandler creates a new static asset handler.
func NewStaticHandler() (*StaticHandler, error) {
	staticFS, err := assets.GetStaticFS()
	if err != nil {
		return nil, err
	}
	return &StaticHandler{
		fsys:       staticFS,
		fileServer: http.FileServer(http.FS(staticFS)),
	}, nil
}

// ServeHTTP serves index.html at the root and assets under /static/.
func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		http.NotFound(w, r)
		return
	}

	urlPath := path.Clean("/" + r.URL.Path)
	filePath := strings.TrimPrefix(strings.TrimPrefix(urlPath, "/static"), "/")
	if urlPath == "/" {
		filePath = "index.html"
	}

	info, err := fs.Stat(h.fsys, filePath)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	h.setHeaders(w, filePath)
	req := r.Clone(r.Context())
	req.URL.Path = "/" + filePath
	if filePath == "index.html" {
		// FileServer redirects explicit index.html requests to the directory.
		req.URL.Path = "/"
	}
	h.fileServer.ServeHTTP(w, req)
}

func (h *StaticHandler) setHeaders(w http.ResponseWriter, filePath string) {
	w.Header().Set("Content-Type", assets.GetContentType(filePath))
	if strings.HasSuffix(filePath, ".html") {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=3600")
	}
}
