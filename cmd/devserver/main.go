package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/caarlos0/env/v11"
)

// Version is injected at build time using ldflags.
var Version = "(unknown)"

// settings are the process-level options read from the environment. Flags
// override them.
type settings struct {
	ConfigFile string `env:"DEVSERVER_CONFIG"`
	LogFormat  string `env:"DEVSERVER_LOG_FORMAT" envDefault:"text"`
	LogLevel   string `env:"DEVSERVER_LOG_LEVEL"  envDefault:"info"`
}

func main() {
	s, err := loadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(s, os.Stdout)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadSettings() (settings, error) {
	var s settings
	if err := env.Parse(&s); err != nil {
		return settings{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return s, nil
}

func (s settings) validate() error {
	if s.LogFormat != "json" && s.LogFormat != "text" {
		return fmt.Errorf("unsupported log format %q: must be \"json\" or \"text\"", s.LogFormat)
	}
	if _, err := parseLevel(s.LogLevel); err != nil {
		return err
	}
	return nil
}

func parseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return 0, fmt.Errorf("unsupported log level %q: must be debug, info, warn or error", level)
	}
	return l, nil
}

func setupLogger(s settings, writer io.Writer) *slog.Logger {
	level, err := parseLevel(s.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if s.LogFormat == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	return slog.New(handler)
}
