package config

// ToRaw converts a Config back into the raw form accepted by Load. Shorthand
// proxy targets are emitted as plain URL strings, descriptors as mappings.
func ToRaw(c *Config) map[string]any {
	proxy := make(map[string]any, len(c.Server.Proxy))
	for prefix, t := range c.Server.Proxy {
		if t.Shorthand {
			proxy[prefix] = t.Target
			continue
		}
		desc := map[string]any{
			"target":       t.Target,
			"changeOrigin": t.ChangeOrigin,
			"ws":           t.WS,
			"secure":       t.Secure,
		}
		if len(t.Rewrite) > 0 {
			rewrite := make(map[string]any, len(t.Rewrite))
			for _, r := range t.Rewrite {
				rewrite[r.Pattern] = r.Replacement
			}
			desc["rewrite"] = rewrite
		}
		proxy[prefix] = desc
	}

	return map[string]any{
		"root": c.Root,
		"base": c.Base,
		"server": map[string]any{
			"host":       c.Server.Host,
			"port":       c.Server.Port,
			"strictPort": c.Server.StrictPort,
			"proxy":      proxy,
		},
	}
}

// Overrides are command-line values layered over a raw config source.
// Zero values leave the source untouched.
type Overrides struct {
	Root       string
	Host       string
	Port       int
	StrictPort *bool
}

// Apply returns a copy of raw with the overrides set. raw is not modified.
// A server value that is not a mapping is kept as-is so Load can report it.
func Apply(raw map[string]any, o Overrides) map[string]any {
	out := make(map[string]any, len(raw)+1)
	for k, v := range raw {
		out[k] = v
	}
	if o.Root != "" {
		out["root"] = o.Root
	}

	if o.Host == "" && o.Port == 0 && o.StrictPort == nil {
		return out
	}

	server := map[string]any{}
	if sv, ok := out["server"]; ok && sv != nil {
		m, isMap := asMap(sv)
		if !isMap {
			return out
		}
		for k, v := range m {
			server[k] = v
		}
	}
	if o.Host != "" {
		server["host"] = o.Host
	}
	if o.Port != 0 {
		server["port"] = o.Port
	}
	if o.StrictPort != nil {
		server["strictPort"] = *o.StrictPort
	}
	out["server"] = server
	return out
}
