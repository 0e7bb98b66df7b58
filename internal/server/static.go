package server

import (
	"io/fs"
	"net/http"
	"path"
	"strings"
)

// RootHandler serves files from the document root and falls back to
// index.html for any extensionless path that doesn't match a file, enabling
// SPA client-side routing while returning 404 for missing files with
// extensions.
type RootHandler struct {
	fileServer http.Handler
	filesystem fs.FS
}

// NewRootHandler creates a handler serving fsys, typically os.DirFS(root).
func NewRootHandler(fsys fs.FS) *RootHandler {
	return &RootHandler{
		fileServer: http.FileServer(http.FS(fsys)),
		filesystem: fsys,
	}
}

func (h *RootHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Sources change while the dev server runs; never let the browser reuse them.
	w.Header().Set("Cache-Control", "no-cache")

	urlPath := r.URL.Path
	if urlPath == "/" {
		h.fileServer.ServeHTTP(w, r)
		return
	}

	filePath := strings.TrimSuffix(strings.TrimPrefix(urlPath, "/"), "/")
	if _, err := fs.Stat(h.filesystem, filePath); err == nil {
		h.fileServer.ServeHTTP(w, r)
		return
	}

	// Paths with extensions (.css, .js, .png) are real file requests and get
	// a 404 rather than index.html to avoid MIME-type mismatches.
	if path.Ext(urlPath) != "" {
		http.NotFound(w, r)
		return
	}

	r2 := r.Clone(r.Context())
	r2.URL.Path = "/"
	r2.URL.RawPath = ""
	h.fileServer.ServeHTTP(w, r2)
}
