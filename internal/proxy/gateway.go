// Package proxy forwards caller requests to registry-listed servers with
// origin, method and size restrictions.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mcpgateway/gateway/internal/domain"
	"github.com/mcpgateway/gateway/internal/middleware"
	"github.com/mcpgateway/gateway/internal/ratelimit"
	"github.com/mcpgateway/gateway/internal/registry"
	"github.com/mcpgateway/gateway/internal/store"
)

// Rejection reasons surfaced to the caller.
var (
	ErrServerOffline    = errors.New("server is offline")
	ErrMethodNotAllowed = errors.New("method not allowed for proxying")
	ErrOriginMismatch   = errors.New("resolved target origin differs from registered server origin")
	ErrBodyTooLarge     = errors.New("request body exceeds size ceiling")
)

// allowedMethods is the explicit allow-list of forwardable methods.
var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
	http.MethodHead:   true,
}

// bodyMethods are the methods a request body is attached for.
var bodyMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// passthroughHeaders is the allow-list of caller headers copied through:
// caching, conditional and range headers only.
var passthroughHeaders = []string{
	"Cache-Control",
	"If-Match",
	"If-Modified-Since",
	"If-None-Match",
	"If-Unmodified-Since",
	"Range",
}

// hopByHopHeaders are stripped regardless of what was copied in.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// logTTL bounds how long forward logs and rolling stats are retained.
const logTTL = 24 * time.Hour

// Request describes one forward through the gateway.
type Request struct {
	ServerID  string            `json:"serverId"`
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      any               `json:"body,omitempty"`
	ClientKey string            `json:"-"`
}

// Response carries the upstream reply verbatim plus gateway metadata.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	ServerID   string
	Duration   time.Duration
}

// Gateway validates and forwards requests to registered servers.
type Gateway struct {
	registry *registry.Store
	limiter  *ratelimit.Limiter
	cache    *store.Cache
	client   *http.Client
	timeout  time.Duration
	maxBody  int64
	logger   *slog.Logger
}

// Config holds gateway configuration
type Config struct {
	Registry *registry.Store
	Limiter  *ratelimit.Limiter
	Cache    *store.Cache
	Timeout  time.Duration
	MaxBody  int64
	Logger   *slog.Logger
}

// New creates a new proxy gateway instance
func New(cfg Config) (*Gateway, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Limiter == nil {
		return nil, errors.New("limiter is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 10 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Gateway{
		registry: cfg.Registry,
		limiter:  cfg.Limiter,
		cache:    cfg.Cache,
		client:   &http.Client{},
		timeout:  cfg.Timeout,
		maxBody:  cfg.MaxBody,
		logger:   cfg.Logger,
	}, nil
}

// MaxBody reports the configured body size ceiling.
func (g *Gateway) MaxBody() int64 {
	return g.maxBody
}

// Forward sends one request to a registered server. Rejections are errors,
// never silent drops. The upstream response is returned verbatim; upstream
// failures are surfaced to the caller since the caller asked to reach that
// server.
func (g *Gateway) Forward(ctx context.Context, req *Request) (*Response, error) {
	srv, err := g.registry.GetByID(ctx, req.ServerID)
	if err != nil {
		middleware.ProxyForwardsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	// Unknown health is tolerated: if the store is down we cannot guess,
	// so the gateway proceeds optimistically. Only a known-offline server
	// is refused.
	if srv.HealthStatus == domain.StatusOffline {
		middleware.ProxyForwardsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("server %q: %w", srv.ID, ErrServerOffline)
	}

	method := strings.ToUpper(req.Method)
	if !allowedMethods[method] {
		middleware.ProxyForwardsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%q: %w", req.Method, ErrMethodNotAllowed)
	}

	// Defense in depth: the router already rate-limits, but the gateway
	// checks again under its own key.
	if res := g.limiter.Check(ctx, "proxy:"+req.ClientKey); !res.Allowed {
		middleware.ProxyForwardsTotal.WithLabelValues("rejected").Inc()
		return nil, &domain.RateLimitError{Limit: res.Limit, Remaining: 0, Reset: res.Reset}
	}

	target, err := resolveTarget(srv.URL, req.Path)
	if err != nil {
		middleware.ProxyForwardsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	body, err := encodeBody(req.Body, method, g.maxBody)
	if err != nil {
		middleware.ProxyForwardsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	outbound, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build outbound request: %w", err)
	}
	buildHeaders(outbound.Header, req.Headers, srv, body != nil)

	start := time.Now()
	resp, err := g.client.Do(outbound)
	duration := time.Since(start)

	if err != nil {
		uerr := classifyTransportError(ctx, srv.ID, err)
		g.record(srv.ID, method, target.String(), 0, duration, outbound.Header, uerr)
		middleware.ProxyForwardsTotal.WithLabelValues("failure").Inc()
		return nil, uerr
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		uerr := &domain.UpstreamError{Kind: domain.UpstreamNetworkError, ServerID: srv.ID, Err: err}
		g.record(srv.ID, method, target.String(), resp.StatusCode, duration, outbound.Header, uerr)
		middleware.ProxyForwardsTotal.WithLabelValues("failure").Inc()
		return nil, uerr
	}

	g.record(srv.ID, method, target.String(), resp.StatusCode, duration, outbound.Header, nil)
	middleware.ProxyForwardsTotal.WithLabelValues("success").Inc()

	headers := resp.Header.Clone()
	for _, h := range hopByHopHeaders {
		headers.Del(h)
	}
	headers.Set("X-Proxy-Response-Time", fmt.Sprintf("%dms", duration.Milliseconds()))
	headers.Set("X-Proxy-Server-Id", srv.ID)

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       respBody,
		ServerID:   srv.ID,
		Duration:   duration,
	}, nil
}

// resolveTarget resolves path against the registered URL and enforces the
// same-origin restriction: one registered server's trust must not reach an
// arbitrary third-party origin.
func resolveTarget(registeredURL, path string) (*url.URL, error) {
	base, err := url.Parse(registeredURL)
	if err != nil {
		return nil, fmt.Errorf("invalid registered url: %w", err)
	}

	target, err := base.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy path: %w", err)
	}

	if target.Scheme != base.Scheme || target.Host != base.Host {
		return nil, fmt.Errorf("%s resolves outside %s://%s: %w",
			path, base.Scheme, base.Host, ErrOriginMismatch)
	}

	return target, nil
}

// encodeBody serializes the body to text if it is not already a string and
// enforces the size ceiling. Bodies are only attached for methods that
// conventionally carry one.
func encodeBody(body any, method string, maxBody int64) ([]byte, error) {
	if body == nil || !bodyMethods[method] {
		return nil, nil
	}

	var data []byte
	if s, ok := body.(string); ok {
		data = []byte(s)
	} else {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize proxy body: %w", err)
		}
	}

	if int64(len(data)) > maxBody {
		return nil, fmt.Errorf("%d bytes: %w", len(data), ErrBodyTooLarge)
	}
	return data, nil
}

// buildHeaders assembles the outbound header set: a minimal fixed base, an
// allow-list of caller headers, the optional Authorization passthrough,
// then the hop-by-hop strip regardless of what was copied in.
func buildHeaders(h http.Header, caller map[string]string, srv *domain.ServerRecord, hasBody bool) {
	h.Set("User-Agent", "mcp-gateway/1.0")
	h.Set("Accept", "application/json, */*")
	if hasBody {
		h.Set("Content-Type", "application/json")
	}

	for _, allowed := range passthroughHeaders {
		for name, value := range caller {
			if strings.EqualFold(name, allowed) && value != "" {
				h.Set(allowed, value)
			}
		}
	}

	if srv.Authentication != nil && srv.Authentication.Required {
		for name, value := range caller {
			if strings.EqualFold(name, "Authorization") && value != "" {
				h.Set("Authorization", value)
			}
		}
	}

	for _, hop := range hopByHopHeaders {
		h.Del(hop)
	}
}

func classifyTransportError(ctx context.Context, serverID string, err error) *domain.UpstreamError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.UpstreamError{Kind: domain.UpstreamTimeout, ServerID: serverID, Err: err}
	}
	return &domain.UpstreamError{Kind: domain.UpstreamNetworkError, ServerID: serverID, Err: err}
}

// record persists a log entry and updates the per-server rolling stats.
// Failures here are swallowed; they must never fail the proxied call.
func (g *Gateway) record(serverID, method, target string, status int, duration time.Duration, sent http.Header, uerr error) {
	// Detached context: the caller's deadline may already have fired.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry := domain.ProxyLogEntry{
		ServerID:   serverID,
		Method:     method,
		TargetURL:  target,
		StatusCode: status,
		DurationMs: duration.Milliseconds(),
		Headers:    truncateHeaders(sent),
		Timestamp:  time.Now().UTC(),
	}
	if uerr != nil {
		entry.Error = uerr.Error()
	}

	key := store.ProxyLogKey(serverID, entry.Timestamp.UnixMilli(), uuid.NewString()[:8])
	if err := g.cache.Set(ctx, key, &entry, logTTL); err != nil {
		g.logger.Debug("failed to persist proxy log", "error", err)
	}

	// Non-atomic read-modify-write; concurrent forwards may under-count.
	var stats domain.ProxyStats
	if _, err := g.cache.Get(ctx, store.ProxyStatsKey(serverID), &stats); err != nil {
		g.logger.Debug("proxy stats unavailable", "error", err)
		return
	}
	stats.ServerID = serverID
	stats.TotalRequests++
	if uerr != nil {
		stats.FailureCount++
	} else {
		stats.SuccessCount++
	}
	sample := float64(duration.Milliseconds())
	if stats.AvgResponseTimeMs == 0 {
		stats.AvgResponseTimeMs = sample
	} else {
		// Running (old+new)/2, an exponentially-weighted approximation.
		stats.AvgResponseTimeMs = (stats.AvgResponseTimeMs + sample) / 2
	}
	stats.LastRequestAt = entry.Timestamp

	if err := g.cache.Set(ctx, store.ProxyStatsKey(serverID), &stats, logTTL); err != nil {
		g.logger.Debug("failed to persist proxy stats", "error", err)
	}
}

// truncateHeaders keeps a short, non-sensitive view of what was sent.
func truncateHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if strings.EqualFold(name, "Authorization") {
			out[name] = "[redacted]"
			continue
		}
		v := strings.Join(values, ", ")
		if len(v) > 100 {
			v = v[:100]
		}
		out[name] = v
	}
	return out
}
