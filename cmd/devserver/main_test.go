package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rathix/devserver/internal/config"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a running server.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func execute(t *testing.T, ctx context.Context, s settings, args ...string) (string, error) {
	t.Helper()
	out := &syncBuffer{}
	cmd := newRootCmd(s, out)
	cmd.SetArgs(args)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func defaultSettings() settings {
	return settings{LogFormat: "text", LogLevel: "info"}
}

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping network-bound test: cannot bind loopback socket: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestSettingsPrecedence(t *testing.T) {
	cases := []struct {
		name     string
		envs     map[string]string
		expected string
	}{
		{"default value", map[string]string{}, "text"},
		{"env var", map[string]string{"DEVSERVER_LOG_FORMAT": "json"}, "json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.envs {
				t.Setenv(k, v)
			}
			s, err := loadSettings()
			require.NoError(t, err)
			assert.Equal(t, tc.expected, s.LogFormat)
			assert.Equal(t, "info", s.LogLevel)
		})
	}
}

func TestFlagOverridesEnvSetting(t *testing.T) {
	t.Setenv("DEVSERVER_LOG_FORMAT", "json")
	s, err := loadSettings()
	require.NoError(t, err)

	_, err = execute(t, context.Background(), s, "--log-format", "yaml", "version")
	assert.ErrorContains(t, err, `unsupported log format "yaml"`)
}

func TestLogFormatSelection(t *testing.T) {
	cases := []struct {
		format string
		isJSON bool
	}{
		{"json", true},
		{"text", false},
	}
	for _, tc := range cases {
		t.Run(tc.format, func(t *testing.T) {
			logger := setupLogger(settings{LogFormat: tc.format, LogLevel: "info"}, io.Discard)
			_, ok := logger.Handler().(*slog.JSONHandler)
			assert.Equal(t, tc.isJSON, ok)
		})
	}
}

func TestLogLevel(t *testing.T) {
	logger := setupLogger(settings{LogFormat: "text", LogLevel: "warn"}, io.Discard)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))

	assert.Error(t, settings{LogFormat: "text", LogLevel: "verbose"}.validate())
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, context.Background(), defaultSettings(), "version")
	require.NoError(t, err)
	assert.Equal(t, "devserver version (unknown)\n", out)
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "static"), 0o755))

	t.Run("valid", func(t *testing.T) {
		path := writeConfig(t, dir, "valid.yaml", fmt.Sprintf(`
root: %s
server:
  port: 3000
  proxy:
    /api: http://127.0.0.1:8000
`, filepath.Join(dir, "static")))
		out, err := execute(t, context.Background(), defaultSettings(), "check", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "ok: "+path)
		assert.Contains(t, out, "listen localhost:3000, 1 proxy rules")
		assert.NotContains(t, out, "warning")
	})

	t.Run("invalid reports every field", func(t *testing.T) {
		path := writeConfig(t, dir, "invalid.yaml", `
server:
  port: 70000
  proxy:
    /api: not-a-url
`)
		out, err := execute(t, context.Background(), defaultSettings(), "check", "--config", path)
		require.Error(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], "server.port")
		assert.Contains(t, lines[0], "range error")
		assert.Contains(t, lines[1], "server.proxy[/api]")
		assert.Contains(t, lines[1], "target format error")
	})

	t.Run("missing root is a warning", func(t *testing.T) {
		path := writeConfig(t, dir, "noroot.yaml", "root: "+filepath.Join(dir, "missing")+"\n")
		out, err := execute(t, context.Background(), defaultSettings(), "check", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "warning:")
	})
}

func TestCheckCommandProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping network-bound test: cannot bind loopback socket: %v", err)
	}
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("warming up"))
	})}
	go srv.Serve(ln)
	defer srv.Close()

	dir := t.TempDir()
	path := writeConfig(t, dir, "devserver.config.yaml", fmt.Sprintf(`
root: %s
server:
  proxy:
    /api: http://%s
`, dir, ln.Addr().String()))

	out, err := execute(t, context.Background(), defaultSettings(), "check", "--config", path, "--probe", "--timeout", "2s")
	require.Error(t, err)
	assert.ErrorContains(t, err, "1 proxy target(s) unhealthy")
	assert.Contains(t, out, "503 Service Unavailable")
	assert.Contains(t, out, "warming up")
}

func TestPrintCommandRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "devserver.config.toml", `
root = "static"

[server]
port = 3000

[server.proxy]
"/api" = "http://127.0.0.1:8000"

[server.proxy."/ws"]
target = "ws://127.0.0.1:8001"
ws = true
`)

	for _, format := range []config.Format{config.FormatYAML, config.FormatJSON} {
		t.Run(string(format), func(t *testing.T) {
			out, err := execute(t, context.Background(), defaultSettings(), "print", "--config", path, "-o", string(format), "--port", "4000")
			require.NoError(t, err)

			raw, err := config.Decode([]byte(out), format)
			require.NoError(t, err)
			cfg, err := config.Load(raw)
			require.NoError(t, err)

			assert.Equal(t, "static", cfg.Root)
			assert.Equal(t, 4000, cfg.Server.Port)
			assert.True(t, cfg.Server.Proxy["/api"].Shorthand)
			assert.True(t, cfg.Server.Proxy["/ws"].WS)
		})
	}
}

func TestPrintCommandRejectsUnknownOutput(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "devserver.config.yaml", "")
	_, err := execute(t, context.Background(), defaultSettings(), "print", "--config", path, "-o", "xml")
	assert.ErrorContains(t, err, "unsupported output")
}

func TestListenSkipsBusyPort(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping network-bound test: cannot bind loopback socket: %v", err)
	}
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port
	logger := setupLogger(defaultSettings(), io.Discard)

	_, err = listen(context.Background(), config.ServerConfig{Host: "127.0.0.1", Port: port, StrictPort: true}, logger)
	assert.ErrorContains(t, err, "already in use")

	ln, err := listen(context.Background(), config.ServerConfig{Host: "127.0.0.1", Port: port}, logger)
	if err != nil {
		t.Skipf("no free port near %d: %v", port, err)
	}
	defer ln.Close()
	assert.Greater(t, ln.Addr().(*net.TCPAddr).Port, port)
}

func TestServeEndToEnd(t *testing.T) {
	backend, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping network-bound test: cannot bind loopback socket: %v", err)
	}
	api := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("api" + r.URL.Path))
	})}
	go api.Serve(backend)
	defer api.Close()

	dir := t.TempDir()
	static := filepath.Join(dir, "static")
	require.NoError(t, os.Mkdir(static, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("hello"), 0o644))

	port := freePort(t)
	path := writeConfig(t, dir, "devserver.config.yaml", fmt.Sprintf(`
root: %s
server:
  host: 127.0.0.1
  port: %d
  strictPort: true
  proxy:
    /api: http://%s
`, static, port, backend.Addr().String()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		_, err := execute(t, ctx, defaultSettings(), "serve", "--config", path)
		errCh <- err
	}()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	body := waitForBody(t, base+"/")
	assert.Equal(t, "hello", body)
	assert.Equal(t, "api/api/videos", waitForBody(t, base+"/api/videos"))

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not return after context cancellation")
	}
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "devserver.config.yaml", "server:\n  port: 70000\n")
	_, err := execute(t, context.Background(), defaultSettings(), "serve", "--config", path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrRange))
}

func waitForBody(t *testing.T, url string) string {
	t.Helper()
	client := &http.Client{Timeout: time.Second}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			data, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr == nil && resp.StatusCode == http.StatusOK {
				return string(data)
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", url)
	return ""
}
