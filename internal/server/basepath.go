package server

import (
	"net/http"
	"strings"

	"github.com/rathix/devserver/internal/config"
)

// BasePathHandler serves the document root under a public base path.
// Requests under the base have it stripped before reaching the inner handler,
// "/" redirects to the base and anything else is not found.
type BasePathHandler struct {
	basePath string
	inner    http.Handler
}

// NewBasePathHandler wraps inner so it is served below basePath. If basePath
// normalizes to "/", inner is returned directly.
func NewBasePathHandler(basePath string, inner http.Handler) http.Handler {
	bp := config.NormalizeBase(basePath)
	if bp == "/" {
		return inner
	}
	return &BasePathHandler{
		basePath: bp,
		inner:    inner,
	}
}

func (h *BasePathHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasPrefix(r.URL.Path, h.basePath):
		h.serveStripped(w, r, "/"+strings.TrimPrefix(r.URL.Path, h.basePath))
	case r.URL.Path+"/" == h.basePath:
		h.serveStripped(w, r, "/")
	case r.URL.Path == "/" || r.URL.Path == "/index.html":
		http.Redirect(w, r, h.basePath, http.StatusFound)
	default:
		http.Error(w, "not found: the server is configured with a public base of "+h.basePath, http.StatusNotFound)
	}
}

func (h *BasePathHandler) serveStripped(w http.ResponseWriter, r *http.Request, p string) {
	r2 := r.Clone(r.Context())
	r2.URL.Path = p
	r2.URL.RawPath = ""
	h.inner.ServeHTTP(w, r2)
}
