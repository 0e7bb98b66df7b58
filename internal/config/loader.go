package config

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"dario.cat/mergo"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Load validates a raw configuration value and fills defaults for every
// omitted field. Unknown keys are ignored. A null server, proxy or rewrite
// value, as YAML produces for an empty key, counts as omitted. All problems are collected and
// returned together as a *ValidationError; Load never returns a partially
// valid Config.
//
// Load performs no I/O: raw usually comes from Decode.
func Load(raw map[string]any) (*Config, error) {
	var errs errorList
	var cfg Config

	if v, ok := raw["root"]; ok {
		cfg.Root = loadRoot(field.NewPath("root"), v, &errs)
	}
	if v, ok := raw["base"]; ok {
		cfg.Base = loadBase(field.NewPath("base"), v, &errs)
	}
	if v, ok := raw["server"]; ok && v != nil {
		cfg.Server = loadServer(field.NewPath("server"), v, &errs)
	}

	if err := errs.err(); err != nil {
		return nil, err
	}

	if err := mergo.Merge(&cfg, *Defaults()); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}
	return &cfg, nil
}

func loadRoot(path *field.Path, v any, errs *errorList) string {
	s, ok := v.(string)
	if !ok {
		errs.schema(path, v, "must be a string")
		return ""
	}
	if strings.TrimSpace(s) == "" {
		errs.required(path, "must not be empty")
		return ""
	}
	return s
}

func loadBase(path *field.Path, v any, errs *errorList) string {
	s, ok := v.(string)
	if !ok {
		errs.schema(path, v, "must be a string")
		return ""
	}
	return NormalizeBase(s)
}

// NormalizeBase ensures the public base path starts and ends with '/'.
func NormalizeBase(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return "/"
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	if !strings.HasSuffix(base, "/") {
		base = base + "/"
	}
	return base
}

func loadServer(path *field.Path, v any, errs *errorList) ServerConfig {
	var sc ServerConfig
	m, ok := asMap(v)
	if !ok {
		errs.schema(path, v, "must be a mapping")
		return sc
	}

	if hv, ok := m["host"]; ok {
		host, isString := hv.(string)
		switch {
		case !isString:
			errs.schema(path.Child("host"), hv, "must be a string")
		case strings.TrimSpace(host) == "":
			errs.required(path.Child("host"), "must not be empty")
		default:
			sc.Host = host
		}
	}

	if pv, ok := m["port"]; ok {
		sc.Port = loadPort(path.Child("port"), pv, errs)
	}

	if sv, ok := m["strictPort"]; ok {
		b, isBool := sv.(bool)
		if !isBool {
			errs.schema(path.Child("strictPort"), sv, "must be a boolean")
		}
		sc.StrictPort = b
	}

	if xv, ok := m["proxy"]; ok && xv != nil {
		sc.Proxy = loadProxy(path.Child("proxy"), xv, errs)
	}
	return sc
}

func loadPort(path *field.Path, v any, errs *errorList) int {
	n, ok := asInt(v)
	if !ok {
		errs.schema(path, v, "must be an integer")
		return 0
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		errs.invalid(ErrRange, path, v, validation.InclusiveRangeError(1, 65535))
		return 0
	}
	if msgs := validation.IsValidPortNum(int(n)); len(msgs) > 0 {
		errs.invalid(ErrRange, path, v, strings.Join(msgs, "; "))
		return 0
	}
	return int(n)
}

func loadProxy(path *field.Path, v any, errs *errorList) map[string]ProxyTarget {
	m, ok := asMap(v)
	if !ok {
		errs.schema(path, v, "must be a mapping")
		return nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]ProxyTarget, len(m))
	for _, prefix := range keys {
		entryPath := path.Key(prefix)
		if strings.TrimSpace(prefix) == "" {
			errs.required(entryPath, "proxy prefix must not be empty")
			continue
		}
		if !strings.HasPrefix(prefix, "/") {
			errs.schema(entryPath, prefix, "proxy prefix must start with '/'")
			continue
		}
		if t, ok := loadProxyTarget(entryPath, m[prefix], errs); ok {
			out[prefix] = t
		}
	}
	return out
}

func loadProxyTarget(path *field.Path, v any, errs *errorList) (ProxyTarget, bool) {
	if s, ok := v.(string); ok {
		if !checkTarget(path, s, errs) {
			return ProxyTarget{}, false
		}
		return ProxyTarget{Target: s, Secure: true, Shorthand: true}, true
	}

	m, ok := asMap(v)
	if !ok {
		errs.schema(path, v, "must be a URL string or a target descriptor")
		return ProxyTarget{}, false
	}

	before := len(*errs)
	t := ProxyTarget{Secure: true}

	tv, ok := m["target"]
	switch s, isString := tv.(string); {
	case !ok:
		errs.required(path.Child("target"), "descriptor must define a target")
	case !isString:
		errs.schema(path.Child("target"), tv, "must be a string")
	case checkTarget(path.Child("target"), s, errs):
		t.Target = s
	}

	t.ChangeOrigin = loadBool(path.Child("changeOrigin"), m, "changeOrigin", false, errs)
	t.WS = loadBool(path.Child("ws"), m, "ws", false, errs)
	t.Secure = loadBool(path.Child("secure"), m, "secure", true, errs)

	if rv, ok := m["rewrite"]; ok && rv != nil {
		t.Rewrite = loadRewrite(path.Child("rewrite"), rv, errs)
	}

	return t, len(*errs) == before
}

func loadBool(path *field.Path, m map[string]any, key string, def bool, errs *errorList) bool {
	v, ok := m[key]
	if !ok {
		return def
	}
	b, isBool := v.(bool)
	if !isBool {
		errs.schema(path, v, "must be a boolean")
		return def
	}
	return b
}

func loadRewrite(path *field.Path, v any, errs *errorList) []RewriteRule {
	m, ok := asMap(v)
	if !ok {
		errs.schema(path, v, "must be a mapping of pattern to replacement")
		return nil
	}
	if len(m) == 0 {
		return nil
	}

	patterns := make([]string, 0, len(m))
	for p := range m {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	rules := make([]RewriteRule, 0, len(m))
	for _, pattern := range patterns {
		repl, isString := m[pattern].(string)
		if !isString {
			errs.schema(path.Key(pattern), m[pattern], "replacement must be a string")
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			errs.schema(path.Key(pattern), pattern, fmt.Sprintf("invalid pattern: %v", err))
			continue
		}
		rules = append(rules, RewriteRule{Pattern: pattern, Replacement: repl, re: re})
	}
	return rules
}

// checkTarget reports whether s is an absolute URL with a host.
func checkTarget(path *field.Path, s string, errs *errorList) bool {
	u, err := url.Parse(s)
	if err != nil {
		errs.invalid(ErrTargetFormat, path, s, fmt.Sprintf("not a valid URL: %v", err))
		return false
	}
	if !u.IsAbs() || u.Host == "" {
		errs.invalid(ErrTargetFormat, path, s, "must be an absolute URL with scheme and host")
		return false
	}
	return true
}

// asMap accepts the mapping shapes produced by the YAML and TOML decoders.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return clampUint(uint64(n)), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return clampUint(n), true
	case float32:
		return asInt(float64(n))
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		if n > math.MaxInt64 || n < math.MinInt64 {
			return math.MaxInt64, true
		}
		return int64(n), true
	default:
		return 0, false
	}
}

func clampUint(n uint64) int64 {
	if n > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}
