package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rathix/devserver/internal/config"
	"github.com/rathix/devserver/internal/server"
)

const (
	maxPortAttempts = 10
	shutdownTimeout = 10 * time.Second
)

func newServeCmd(opts *commonOptions) *cobra.Command {
	flags := &overrideFlags{}
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"dev"},
		Short:   "Start the development server",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, flags.overrides(cmd))
		},
	}
	flags.register(cmd)
	return cmd
}

// runServe starts the server and handles hot reload and graceful shutdown.
func runServe(ctx context.Context, opts *commonOptions, o config.Overrides) error {
	logger := setupLogger(opts.settings, opts.out)

	resolved, err := resolveConfig(opts, o)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg := resolved.cfg
	if resolved.path == "" {
		logger.Info("No config file found, using defaults", "dir", resolved.dir)
	} else {
		logger.Info("Config loaded", "path", resolved.path, "proxyRules", len(cfg.Server.Proxy))
	}

	rootDir, err := config.VerifyRoot(cfg, resolved.dir)
	if err != nil {
		return err
	}

	router, err := server.NewRouter(config.NewStore(cfg), rootDir, logger)
	if err != nil {
		return err
	}

	ln, err := listen(ctx, cfg.Server, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if resolved.path != "" {
		watcher := config.NewWatcher(resolved.path, func(newCfg *config.Config, err error) {
			applyReload(router, resolved.dir, newCfg, err, logger)
		}, logger, config.WithLoader(loaderFor(o)))
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil && gctx.Err() == nil {
				logger.Warn("config watcher stopped with error", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("Listening", "url", "http://"+ln.Addr().String()+router.Config().Base, "root", rootDir)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		logger.Info("Server stopped")
		return nil
	})

	return g.Wait()
}

// applyReload publishes a reloaded config. Failed reloads keep the
// last-known-good config active.
func applyReload(router *server.Router, dir string, cfg *config.Config, err error, logger *slog.Logger) {
	if err != nil {
		logger.Error("Config reload failed, keeping previous config", "error", err)
		return
	}
	rootDir, err := config.VerifyRoot(cfg, dir)
	if err != nil {
		logger.Error("Config reload failed, keeping previous config", "error", err)
		return
	}
	prev, err := router.Update(cfg, rootDir)
	if err != nil {
		logger.Error("Config reload failed, keeping previous config", "error", err)
		return
	}

	logger.Info("Config reloaded", "root", rootDir, "base", cfg.Base, "proxyRules", len(cfg.Server.Proxy))
	if prev.Server.Addr() != cfg.Server.Addr() {
		logger.Warn("Listen address changed; restart the server to apply it",
			"current", prev.Server.Addr(),
			"configured", cfg.Server.Addr(),
		)
	}
}

// listen binds the configured address. Unless strictPort is set, a port in
// use is skipped in favour of the next one, up to maxPortAttempts.
func listen(ctx context.Context, sc config.ServerConfig, logger *slog.Logger) (net.Listener, error) {
	attempts := maxPortAttempts
	if sc.StrictPort {
		attempts = 1
	}

	var lc net.ListenConfig
	var lastErr error
	for i := 0; i < attempts && sc.Port+i <= 65535; i++ {
		addr := net.JoinHostPort(sc.Host, strconv.Itoa(sc.Port+i))
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err == nil {
			return ln, nil
		}
		lastErr = err
		if !errors.Is(err, syscall.EADDRINUSE) {
			break
		}
		if sc.StrictPort {
			return nil, fmt.Errorf("port %d is already in use", sc.Port)
		}
		logger.Info("Port in use, trying another one", "port", sc.Port+i)
	}
	return nil, fmt.Errorf("failed to listen on %s: %w", sc.Addr(), lastErr)
}
