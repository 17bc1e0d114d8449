package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpgateway/gateway/internal/domain"
	"github.com/mcpgateway/gateway/internal/federation"
	"github.com/mcpgateway/gateway/internal/health"
	"github.com/mcpgateway/gateway/internal/proxy"
	"github.com/mcpgateway/gateway/internal/ratelimit"
	"github.com/mcpgateway/gateway/internal/registry"
	"github.com/mcpgateway/gateway/internal/store"
)

type staticSource struct {
	doc []byte
}

func (s *staticSource) Fetch(context.Context) ([]byte, error) { return s.doc, nil }
func (s *staticSource) Describe() string                      { return "static" }

// newTestAPI wires the full stack behind the router: one upstream serving
// both pings and a schema document, two registered servers, miniredis.
func newTestAPI(t *testing.T, rateLimitMax int) (http.Handler, *store.Cache) {
	t.Helper()
	return newTestAPIWithProxyLimit(t, rateLimitMax, 0)
}

func newTestAPIWithProxyLimit(t *testing.T, rateLimitMax int, proxyMaxBody int64) (http.Handler, *store.Cache) {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/.well-known/mcp.json" {
			_, _ = w.Write([]byte(`{"tools": [{"name": "echo"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(upstream.Close)

	doc := fmt.Sprintf(`{"version": "1.0.0", "servers": [
		{"id": "alpha", "name": "Alpha", "description": "first server", "url": %q,
		 "version": "1.0.0", "tags": ["tools"], "author": {"name": "t"}, "verified": true},
		{"id": "beta", "name": "Beta", "description": "second server", "url": %q,
		 "version": "1.0.0", "tags": ["search"], "author": {"name": "t"}}
	]}`, upstream.URL, upstream.URL)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache, err := store.New(store.Config{Client: client, LocalSize: 16})
	require.NoError(t, err)

	reg, err := registry.New(registry.Config{
		Cache:  cache,
		Source: &staticSource{doc: []byte(doc)},
		TTL:    time.Minute,
	})
	require.NoError(t, err)

	ctx := context.Background()
	for _, id := range []string{"alpha", "beta"} {
		result := domain.HealthCheckResult{ServerID: id, Status: domain.StatusOnline, Timestamp: time.Now().UTC()}
		require.NoError(t, cache.Set(ctx, store.HealthKey(id), &result, time.Minute))
	}

	limiter := ratelimit.New(ratelimit.Config{Cache: cache, Window: time.Minute, Max: rateLimitMax})

	monitor, err := health.New(health.Config{Registry: reg, Cache: cache})
	require.NoError(t, err)

	federator, err := federation.New(federation.Config{Registry: reg, Cache: cache})
	require.NoError(t, err)

	gateway, err := proxy.New(proxy.Config{Registry: reg, Limiter: limiter, Cache: cache, MaxBody: proxyMaxBody})
	require.NoError(t, err)

	router := NewRouter(Config{
		Registry:  reg,
		Monitor:   monitor,
		Federator: federator,
		Gateway:   gateway,
		Limiter:   limiter,
	})

	return router, cache
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "10.0.0.1:54321"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) domain.Envelope {
	t.Helper()
	var env domain.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestLiveness(t *testing.T) {
	router, _ := newTestAPI(t, 100)

	for _, path := range []string{"/", "/health"} {
		rec := doRequest(t, router, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		env := decodeEnvelope(t, rec)
		assert.True(t, env.Success)

		data, ok := env.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "ok", data["status"])
		assert.Equal(t, Version, data["version"])
		assert.Equal(t, GitCommit, data["commit"])
	}
}

func TestListServers(t *testing.T) {
	router, _ := newTestAPI(t, 100)

	rec := doRequest(t, router, http.MethodGet, "/api/servers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	env := decodeEnvelope(t, rec)
	require.True(t, env.Success)

	var result domain.ServerListResult
	raw, _ := json.Marshal(env.Data)
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, 2, result.Total)
	assert.Len(t, result.Servers, 2)
	assert.False(t, result.HasMore)
}

func TestListServersWithFilters(t *testing.T) {
	router, _ := newTestAPI(t, 100)

	rec := doRequest(t, router, http.MethodGet, "/api/servers?q=second&tags=search&verified=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	var result domain.ServerListResult
	raw, _ := json.Marshal(env.Data)
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Servers, 1)
	assert.Equal(t, "beta", result.Servers[0].ID)
}

func TestGetServer(t *testing.T) {
	router, _ := newTestAPI(t, 100)

	rec := doRequest(t, router, http.MethodGet, "/api/servers/alpha", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)

	rec = doRequest(t, router, http.MethodGet, "/api/servers/ghost", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	env = decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "ghost")
}

func TestGetServerSchema(t *testing.T) {
	router, _ := newTestAPI(t, 100)

	rec := doRequest(t, router, http.MethodGet, "/api/servers/alpha/schema", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	require.True(t, env.Success)
	stub, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alpha", stub["serverId"])
	assert.Equal(t, "alpha", stub["namespace"])
	assert.Contains(t, stub["schemaUrl"], "/.well-known/mcp.json")
}

func TestHealthSummaryEndpoint(t *testing.T) {
	router, _ := newTestAPI(t, 100)

	rec := doRequest(t, router, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	require.True(t, env.Success)
	var summary domain.HealthSummary
	raw, _ := json.Marshal(env.Data)
	require.NoError(t, json.Unmarshal(raw, &summary))
	assert.Equal(t, 2, summary.Total)
}

func TestFederatedSchemaEndpoint(t *testing.T) {
	router, _ := newTestAPI(t, 100)

	rec := doRequest(t, router, http.MethodGet, "/api/schema", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	require.True(t, env.Success)
	var fed domain.FederatedSchema
	raw, _ := json.Marshal(env.Data)
	require.NoError(t, json.Unmarshal(raw, &fed))
	assert.Equal(t, 2, fed.ServerCount)
	// Both servers publish the same tool, so it conflicts and is renamed.
	require.Len(t, fed.Conflicts, 1)
	assert.Equal(t, "echo", fed.Conflicts[0].Name)
}

func TestProxyEndpoint(t *testing.T) {
	router, _ := newTestAPI(t, 100)

	rec := doRequest(t, router, http.MethodPost, "/api/proxy", map[string]any{
		"serverId": "alpha",
		"method":   "GET",
		"path":     "/rpc",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	// Proxied responses bypass the envelope.
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, "alpha", rec.Header().Get("X-Proxy-Server-Id"))
}

func TestProxyEndpointValidation(t *testing.T) {
	router, _ := newTestAPI(t, 100)

	rec := doRequest(t, router, http.MethodPost, "/api/proxy", map[string]any{
		"serverId": "alpha",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
}

func TestProxyEndpointErrorMapping(t *testing.T) {
	router, _ := newTestAPI(t, 100)

	tests := []struct {
		name     string
		body     map[string]any
		wantCode int
	}{
		{"unknown server", map[string]any{"serverId": "ghost", "method": "GET", "path": "/"}, http.StatusNotFound},
		{"bad method", map[string]any{"serverId": "alpha", "method": "TRACE", "path": "/"}, http.StatusBadRequest},
		{"origin escape", map[string]any{"serverId": "alpha", "method": "GET", "path": "https://evil.example.com/"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, "/api/proxy", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			env := decodeEnvelope(t, rec)
			assert.False(t, env.Success)
		})
	}
}

func TestSubmitValid(t *testing.T) {
	router, _ := newTestAPI(t, 100)

	rec := doRequest(t, router, http.MethodPost, "/api/submit", map[string]any{
		"id":          "new-server",
		"name":        "New Server",
		"description": "A new server",
		"url":         "https://new.example.com",
		"version":     "1.0.0",
		"tags":        []string{"tools"},
		"author":      map[string]any{"name": "Submitter"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	require.True(t, env.Success)
	var result domain.ValidationResult
	raw, _ := json.Marshal(env.Data)
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.True(t, result.Valid)
	assert.Equal(t, "pending-review", result.Status)
}

func TestSubmitInvalid(t *testing.T) {
	router, _ := newTestAPI(t, 100)

	rec := doRequest(t, router, http.MethodPost, "/api/submit", map[string]any{
		"id":  "Bad ID",
		"url": "http://insecure.example.com",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)

	var result domain.ValidationResult
	raw, _ := json.Marshal(env.Data)
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}

func TestStatsEndpoint(t *testing.T) {
	router, _ := newTestAPI(t, 100)

	// Each list request bumps the counter.
	doRequest(t, router, http.MethodGet, "/api/servers", nil)
	doRequest(t, router, http.MethodGet, "/api/servers", nil)

	rec := doRequest(t, router, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	var stats domain.RegistryStats
	raw, _ := json.Marshal(env.Data)
	require.NoError(t, json.Unmarshal(raw, &stats))
	assert.Equal(t, 2, stats.TotalServers)
	assert.Equal(t, int64(2), stats.TotalRequests)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	router, _ := newTestAPI(t, 100)

	rec := doRequest(t, router, http.MethodGet, "/api/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, decodeEnvelope(t, rec).Success)

	rec = doRequest(t, router, http.MethodDelete, "/api/servers", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, decodeEnvelope(t, rec).Success)
}

func TestRateLimitHeadersAndRejection(t *testing.T) {
	router, _ := newTestAPI(t, 2)

	rec := doRequest(t, router, http.MethodGet, "/api/servers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

	doRequest(t, router, http.MethodGet, "/api/servers", nil)

	rec = doRequest(t, router, http.MethodGet, "/api/servers", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "rate limit")

	// Other clients are unaffected.
	req := httptest.NewRequest(http.MethodGet, "/api/servers", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	other := httptest.NewRecorder()
	router.ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		want       string
	}{
		{"ipv4 with port", "10.0.0.1:54321", "10.0.0.1"},
		{"ipv4 bare", "10.0.0.1", "10.0.0.1"},
		{"ipv6 with port", "[2001:db8::1]:54321", "2001:db8::1"},
		{"ipv6 bare", "2001:db8::1", "2001:db8::1"},
		{"ipv6 bare bracketed", "[2001:db8::1]", "2001:db8::1"},
		{"loopback ipv6", "::1", "::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			assert.Equal(t, tt.want, clientKey(req))
		})
	}
}

// Distinct IPv6 clients must land in separate rate-limit buckets.
func TestRateLimitIsolatesIPv6Clients(t *testing.T) {
	router, _ := newTestAPI(t, 1)

	get := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/servers", nil)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, get("2001:db8::1").Code)
	require.Equal(t, http.StatusTooManyRequests, get("2001:db8::1").Code)

	// A different address in the same /32 is a different client.
	assert.Equal(t, http.StatusOK, get("2001:db8::2").Code)
}

func TestProxyEndpointRefusesOversizedBody(t *testing.T) {
	router, _ := newTestAPIWithProxyLimit(t, 100, 128)

	rec := doRequest(t, router, http.MethodPost, "/api/proxy", map[string]any{
		"serverId": "alpha",
		"method":   "POST",
		"path":     "/rpc",
		"body":     strings.Repeat("x", int(proxyEnvelopeAllowance)+1024),
	})
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "too large")
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestAPI(t, 100)

	rec := doRequest(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
