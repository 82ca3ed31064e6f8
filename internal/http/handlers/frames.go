package handlers

import (
	"errors"
	"io/fs"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/asciireel/internal/assets"
	"github.com/jmylchreest/asciireel/internal/reel"
	"github.com/jmylchreest/asciireel/internal/storage"
)

// FramesHandler serves the published manifest and chunk files.
type FramesHandler struct {
	sandbox *storage.Sandbox
	dir     string
}

// NewFramesHandler serves files from dir inside sandbox.
func NewFramesHandler(sandbox *storage.Sandbox, dir string) *FramesHandler {
	return &FramesHandler{sandbox: sandbox, dir: dir}
}

// RegisterFileServer registers the reel file routes.
func (h *FramesHandler) RegisterFileServer(router chi.Router) {
	router.Get("/frames/{file}", h.ServeFrameFile)
	router.Head("/frames/{file}", h.ServeFrameFile)
}

// ServeFrameFile serves one reel file by name.
func (h *FramesHandler) ServeFrameFile(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	if err := assets.CheckName(file); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f, err := h.sandbox.Open(path.Join(h.dir, file))
	if errors.Is(err, fs.ErrNotExist) {
		http.Error(w, "reel file not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to open reel file", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.Error(w, "reel file not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", assets.GetContentType(file))
	if file == reel.ManifestFile {
		// The manifest changes when a reel is recompiled.
		w.Header().Set("Cache-Control", "no-cache")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=3600")
	}
	http.ServeContent(w, r, file, info.ModTime(), f)
}
