package server

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/rathix/devserver/internal/config"
)

// NewHandler wires a Config into a single handler: proxy rules first, then
// the document root served below the public base path.
func NewHandler(cfg *config.Config, rootDir string, logger *slog.Logger) (http.Handler, error) {
	static := NewBasePathHandler(cfg.Base, NewRootHandler(os.DirFS(rootDir)))
	proxy, err := NewProxyHandler(cfg.Server, static, logger)
	if err != nil {
		return nil, err
	}
	return proxy, nil
}

type route struct {
	handler http.Handler
}

// Router serves requests with the handler built from the Config held in its
// Store. Update publishes a new Config and swaps the handler atomically so
// in-flight requests finish on the handler they started with.
type Router struct {
	store   *config.Store
	current atomic.Pointer[route]
	logger  *slog.Logger
}

// NewRouter builds a Router for the Config active in store. If logger is nil,
// a no-op logger is used.
func NewRouter(store *config.Store, rootDir string, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Router{store: store, logger: logger}
	h, err := NewHandler(store.Load(), rootDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build handler: %w", err)
	}
	r.current.Store(&route{handler: h})
	return r, nil
}

// Config returns the Config the Router currently serves.
func (r *Router) Config() *config.Config {
	return r.store.Load()
}

// Update rebuilds the handler for cfg and publishes both, returning the
// previously active Config. On error nothing changes.
func (r *Router) Update(cfg *config.Config, rootDir string) (*config.Config, error) {
	h, err := NewHandler(cfg, rootDir, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build handler: %w", err)
	}
	r.current.Store(&route{handler: h})
	prev := r.store.Swap(cfg)
	r.logger.Debug("router updated", "root", rootDir, "base", cfg.Base, "proxyRules", len(cfg.Server.Proxy))
	return prev, nil
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.current.Load().handler.ServeHTTP(w, req)
}
