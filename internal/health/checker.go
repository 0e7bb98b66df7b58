package health

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rathix/devserver/internal/config"
)

// Status classifies the outcome of probing a proxy target.
type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusAuthBlocked Status = "authBlocked"
	StatusUnhealthy   Status = "unhealthy"
)

// HTTPProber abstracts *http.Client for testability.
type HTTPProber interface {
	Do(req *http.Request) (*http.Response, error)
}

// Result is the outcome of probing one proxy rule's target.
type Result struct {
	Prefix         string
	Target         string
	Status         Status
	HTTPCode       *int
	ResponseTimeMs int64
	ErrorSnippet   *string
}

// Checker probes the backends named by a configuration's proxy rules.
type Checker struct {
	secure      HTTPProber
	insecure    HTTPProber
	concurrency int
	logger      *slog.Logger
}

// NewChecker creates a checker using client for targets that verify TLS and
// insecureClient for targets with secure: false. Nil clients get a default
// client with timeout. If logger is nil, a no-op logger is used.
func NewChecker(client, insecureClient HTTPProber, timeout time.Duration, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if insecureClient == nil {
		insecureClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: true,
				},
			},
		}
	}
	return &Checker{
		secure:      client,
		insecure:    insecureClient,
		concurrency: 8,
		logger:      logger,
	}
}

// Probe checks every proxy target in cfg concurrently and returns one
// Result per rule, ordered longest prefix first.
func (c *Checker) Probe(ctx context.Context, cfg *config.Config) []Result {
	prefixes := cfg.Server.Prefixes()
	results := make([]Result, len(prefixes))
	if len(prefixes) == 0 {
		return results
	}

	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, prefix := range prefixes {
		target := cfg.Server.Proxy[prefix]
		g.Go(func() error {
			client := c.secure
			if !target.Secure {
				client = c.insecure
			}
			res := probeTarget(gctx, client, target.Target)
			res.Prefix = prefix
			res.Target = target.Target
			results[i] = res

			logArgs := []any{
				"prefix", prefix,
				"target", target.Target,
				"status", string(res.Status),
				"responseTimeMs", res.ResponseTimeMs,
			}
			if res.HTTPCode != nil {
				logArgs = append(logArgs, "httpCode", *res.HTTPCode)
			}
			c.logger.Debug("proxy target probed", logArgs...)
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info("proxy target probe complete",
		"targets", len(prefixes),
		"durationMs", time.Since(start).Milliseconds(),
	)
	return results
}

const maxSnippetLen = 256

// probeTarget performs a single HTTP GET against a target URL.
func probeTarget(ctx context.Context, client HTTPProber, url string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{
			Status:       StatusUnhealthy,
			ErrorSnippet: ptrString(err.Error()),
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	responseTimeMs := time.Since(start).Milliseconds()

	if err != nil {
		return Result{
			Status:         StatusUnhealthy,
			ResponseTimeMs: responseTimeMs,
			ErrorSnippet:   ptrString(err.Error()),
		}
	}
	defer resp.Body.Close()

	code := resp.StatusCode
	status := classifyStatus(code)

	var snippet *string
	if status == StatusUnhealthy {
		snippet = readSnippet(resp.Body)
	}

	return Result{
		Status:         status,
		HTTPCode:       &code,
		ResponseTimeMs: responseTimeMs,
		ErrorSnippet:   snippet,
	}
}

// classifyStatus maps an HTTP status code to a Status. A backend answering
// 404 for its bare origin is still up, so only 5xx counts as unhealthy.
func classifyStatus(code int) Status {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return StatusAuthBlocked
	case code >= 500:
		return StatusUnhealthy
	default:
		return StatusHealthy
	}
}

// readSnippet reads the first line of the response body, truncated to maxSnippetLen.
func readSnippet(body io.Reader) *string {
	lr := &io.LimitedReader{R: body, N: maxSnippetLen}
	data, err := io.ReadAll(lr)
	if err != nil || len(data) == 0 {
		return nil
	}

	s := string(data)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func ptrString(s string) *string {
	return &s
}
