package config

import (
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Default values applied when fields are absent from the config source.
const (
	DefaultRoot = "."
	DefaultBase = "/"
	DefaultHost = "localhost"
	DefaultPort = 5173
)

// Config is the validated dev server configuration. A Config returned by Load
// is never modified afterwards; reloads publish a new value through Store.
type Config struct {
	Root   string       `yaml:"root"   json:"root"`
	Base   string       `yaml:"base"   json:"base"`
	Server ServerConfig `yaml:"server" json:"server"`
}

// ServerConfig holds the listener and proxy settings.
type ServerConfig struct {
	Host       string                 `yaml:"host"       json:"host"`
	Port       int                    `yaml:"port"       json:"port"`
	StrictPort bool                   `yaml:"strictPort" json:"strictPort"`
	Proxy      map[string]ProxyTarget `yaml:"proxy"      json:"proxy"`
}

// ProxyTarget describes where requests under a path prefix are forwarded.
// Shorthand is true when the source used the plain URL string form.
type ProxyTarget struct {
	Target       string        `yaml:"target"       json:"target"`
	ChangeOrigin bool          `yaml:"changeOrigin" json:"changeOrigin"`
	WS           bool          `yaml:"ws"           json:"ws"`
	Secure       bool          `yaml:"secure"       json:"secure"`
	Rewrite      []RewriteRule `yaml:"rewrite"      json:"rewrite"`
	Shorthand    bool          `yaml:"-"            json:"-"`
}

// RewriteRule replaces matches of Pattern in the request path with Replacement.
type RewriteRule struct {
	Pattern     string `yaml:"pattern"     json:"pattern"`
	Replacement string `yaml:"replacement" json:"replacement"`

	re *regexp.Regexp
}

// Defaults returns the configuration produced by loading an empty source.
func Defaults() *Config {
	return &Config{
		Root: DefaultRoot,
		Base: DefaultBase,
		Server: ServerConfig{
			Host:  DefaultHost,
			Port:  DefaultPort,
			Proxy: map[string]ProxyTarget{},
		},
	}
}

// Addr returns the host:port listen address.
func (s *ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Prefixes returns the proxy keys ordered longest first, so the most specific
// rule wins when prefixes overlap.
func (s *ServerConfig) Prefixes() []string {
	prefixes := make([]string, 0, len(s.Proxy))
	for p := range s.Proxy {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool {
		if len(prefixes[i]) != len(prefixes[j]) {
			return len(prefixes[i]) > len(prefixes[j])
		}
		return prefixes[i] < prefixes[j]
	})
	return prefixes
}

// Match returns the proxy prefix and target for a request path.
func (s *ServerConfig) Match(path string) (string, ProxyTarget, bool) {
	for _, prefix := range s.Prefixes() {
		if strings.HasPrefix(path, prefix) {
			return prefix, s.Proxy[prefix], true
		}
	}
	return "", ProxyTarget{}, false
}

// CompileRewrite compiles every rewrite pattern and reports the first one
// that is invalid. Rules produced by Load are already compiled.
func (t ProxyTarget) CompileRewrite() error {
	for i := range t.Rewrite {
		if _, err := t.Rewrite[i].compiled(); err != nil {
			return fmt.Errorf("invalid rewrite pattern %q: %w", t.Rewrite[i].Pattern, err)
		}
	}
	return nil
}

// RewritePath applies the rewrite rules to p in order. Rules whose pattern
// does not compile are skipped; call CompileRewrite first to reject them.
func (t ProxyTarget) RewritePath(p string) string {
	for _, rule := range t.Rewrite {
		re, err := rule.compiled()
		if err != nil {
			continue
		}
		p = re.ReplaceAllString(p, rule.Replacement)
	}
	return p
}

func (r RewriteRule) compiled() (*regexp.Regexp, error) {
	if r.re != nil {
		return r.re, nil
	}
	return regexp.Compile(r.Pattern)
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.Server.Proxy = make(map[string]ProxyTarget, len(c.Server.Proxy))
	for k, v := range c.Server.Proxy {
		if v.Rewrite != nil {
			v.Rewrite = append([]RewriteRule(nil), v.Rewrite...)
		}
		out.Server.Proxy[k] = v
	}
	return &out
}
