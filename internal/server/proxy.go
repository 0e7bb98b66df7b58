package server

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/rathix/devserver/internal/config"
)

type proxyRule struct {
	prefix string
	target config.ProxyTarget
	proxy  *httputil.ReverseProxy
}

// ProxyHandler forwards requests whose path matches a configured prefix to
// the associated backend and passes everything else to next.
type ProxyHandler struct {
	rules  []proxyRule
	next   http.Handler
	logger *slog.Logger
}

// NewProxyHandler builds one reverse proxy per rule in sc.Proxy. Rules are
// matched longest prefix first. If logger is nil, a no-op logger is used.
func NewProxyHandler(sc config.ServerConfig, next http.Handler, logger *slog.Logger) (*ProxyHandler, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if next == nil {
		next = http.NotFoundHandler()
	}

	secure := http.DefaultTransport.(*http.Transport).Clone()
	insecure := http.DefaultTransport.(*http.Transport).Clone()
	insecure.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	h := &ProxyHandler{next: next, logger: logger}
	for _, prefix := range sc.Prefixes() {
		target := sc.Proxy[prefix]
		u, err := url.Parse(target.Target)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy target for %s: %w", prefix, err)
		}
		if err := target.CompileRewrite(); err != nil {
			return nil, fmt.Errorf("proxy %s: %w", prefix, err)
		}

		transport := secure
		if !target.Secure {
			transport = insecure
		}
		h.rules = append(h.rules, proxyRule{
			prefix: prefix,
			target: target,
			proxy:  newReverseProxy(prefix, u, target, transport, logger),
		})
	}
	return h, nil
}

func newReverseProxy(prefix string, u *url.URL, target config.ProxyTarget, transport http.RoundTripper, logger *slog.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = target.RewritePath(pr.In.URL.Path)
			pr.Out.URL.RawPath = ""
			pr.SetURL(u)
			pr.SetXForwarded()
			if !target.ChangeOrigin {
				pr.Out.Host = pr.In.Host
			}
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("proxy request failed",
				"prefix", prefix,
				"target", target.Target,
				"path", r.URL.Path,
				"error", err,
			)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, rule := range h.rules {
		if !strings.HasPrefix(r.URL.Path, rule.prefix) {
			continue
		}
		if isUpgrade(r) && !rule.target.WS {
			http.Error(w, "websocket proxying is disabled for "+rule.prefix, http.StatusBadRequest)
			return
		}
		h.logger.Debug("proxying request", "prefix", rule.prefix, "target", rule.target.Target, "path", r.URL.Path)
		rule.proxy.ServeHTTP(w, r)
		return
	}
	h.next.ServeHTTP(w, r)
}

func isUpgrade(r *http.Request) bool {
	if r.Header.Get("Upgrade") == "" {
		return false
	}
	for _, v := range r.Header.Values("Connection") {
		for _, token := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
				return true
			}
		}
	}
	return false
}
