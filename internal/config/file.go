package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format identifies the serialization of a config source.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// ErrNotFound is returned by Find when no config file exists in a directory.
var ErrNotFound = errors.New("config file not found")

// FileNames lists the config file names Find looks for, in order.
var FileNames = []string{
	"devserver.config.yaml",
	"devserver.config.yml",
	"devserver.config.json",
	"devserver.config.toml",
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
}

// Decode parses source bytes into the raw form consumed by Load.
// Empty or whitespace-only input decodes to an empty mapping.
func Decode(data []byte, format Format) (map[string]any, error) {
	raw := map[string]any{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return raw, nil
	}

	switch format {
	case FormatYAML, FormatJSON:
		// JSON is a subset of YAML 1.2, so one decoder serves both.
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", strings.ToUpper(string(format)), err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// ReadRaw reads and decodes the file at path without validating it.
func ReadRaw(path string) (map[string]any, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Decode(data, format)
}

// LoadFile reads, decodes and validates the config file at path.
func LoadFile(path string) (*Config, error) {
	raw, err := ReadRaw(path)
	if err != nil {
		return nil, err
	}
	return Load(raw)
}

// Find returns the first config file from FileNames present in dir.
func Find(dir string) (string, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNotFound, dir)
}

// VerifyRoot checks that the configured root is an existing directory.
// Relative roots are resolved against dir. It returns the absolute root.
func VerifyRoot(c *Config, dir string) (string, error) {
	root := c.Root
	if !filepath.IsAbs(root) {
		root = filepath.Join(dir, root)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root %q: %w", c.Root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("root %q is not accessible: %w", c.Root, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("root %q is not a directory", c.Root)
	}
	return abs, nil
}
