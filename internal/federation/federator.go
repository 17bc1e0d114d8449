// Package federation fetches per-server capability schemas and merges them
// into one federated schema with namespace-based conflict resolution.
package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mcpgateway/gateway/internal/domain"
	"github.com/mcpgateway/gateway/internal/middleware"
	"github.com/mcpgateway/gateway/internal/registry"
	"github.com/mcpgateway/gateway/internal/store"
)

// schemaPath is the fixed sub-path each server publishes its schema at.
const schemaPath = "/.well-known/mcp.json"

// Federator builds the merged capability schema across online servers.
type Federator struct {
	registry     *registry.Store
	cache        *store.Cache
	client       *http.Client
	fetchTimeout time.Duration
	maxBytes     int64
	ttl          time.Duration
	logger       *slog.Logger
}

// Config holds federator configuration
type Config struct {
	Registry     *registry.Store
	Cache        *store.Cache
	FetchTimeout time.Duration
	MaxBytes     int64
	TTL          time.Duration
	Logger       *slog.Logger
}

// New creates a new federator instance
func New(cfg Config) (*Federator, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 1 << 20
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Federator{
		registry:     cfg.Registry,
		cache:        cfg.Cache,
		client:       &http.Client{},
		fetchTimeout: cfg.FetchTimeout,
		maxBytes:     cfg.MaxBytes,
		ttl:          cfg.TTL,
		logger:       cfg.Logger,
	}, nil
}

// FetchOne returns a server's normalized schema, from cache when fresh.
func (f *Federator) FetchOne(ctx context.Context, srv *domain.ServerRecord) (*domain.ServerSchema, error) {
	key := store.SchemaKey(srv.ID)

	var cached domain.ServerSchema
	found, err := f.cache.Get(ctx, key, &cached)
	if err != nil {
		f.logger.Warn("schema cache unavailable", "server_id", srv.ID, "error", err)
	}
	if found {
		return &cached, nil
	}

	schema, err := f.fetch(ctx, srv)
	if err != nil {
		return nil, err
	}

	if err := f.cache.Set(ctx, key, schema, f.ttl); err != nil {
		f.logger.Warn("failed to cache server schema", "server_id", srv.ID, "error", err)
	}

	return schema, nil
}

// fetch GETs and normalizes one schema document, enforcing the size
// ceiling before parsing.
func (f *Federator) fetch(ctx context.Context, srv *domain.ServerRecord) (*domain.ServerSchema, error) {
	ctx, cancel := context.WithTimeout(ctx, f.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+schemaPath, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid schema url for %s: %w", srv.ID, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &domain.UpstreamError{Kind: domain.UpstreamTimeout, ServerID: srv.ID, Err: err}
		}
		return nil, &domain.UpstreamError{Kind: domain.UpstreamNetworkError, ServerID: srv.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.UpstreamError{Kind: domain.UpstreamHTTPError, ServerID: srv.ID, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &domain.UpstreamError{Kind: domain.UpstreamNetworkError, ServerID: srv.ID, Err: err}
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("schema from %s exceeds %d bytes", srv.ID, f.maxBytes)
	}

	return normalize(srv, body)
}

// normalize tolerantly decodes a raw schema document. Entries without a
// usable name are skipped; only a structurally unreadable document fails.
func normalize(srv *domain.ServerRecord, body []byte) (*domain.ServerSchema, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("unparseable schema from %s: %w", srv.ID, err)
	}

	ns := srv.SchemaNamespace()
	if declared, ok := doc["namespace"].(string); ok && declared != "" {
		ns = declared
	}

	schema := &domain.ServerSchema{
		ServerID:  srv.ID,
		Namespace: ns,
		FetchedAt: time.Now().UTC(),
	}

	if caps, ok := doc["capabilities"].([]any); ok {
		for _, c := range caps {
			if s, ok := c.(string); ok && s != "" {
				schema.Capabilities = append(schema.Capabilities, s)
			}
		}
	}

	for _, raw := range entries(doc, "tools") {
		name, _ := raw["name"].(string)
		if name == "" {
			continue
		}
		tool := domain.ToolDef{Name: name, Namespace: ns}
		tool.Description, _ = raw["description"].(string)
		if in, ok := raw["inputSchema"].(map[string]any); ok {
			tool.InputSchema = in
		}
		schema.Tools = append(schema.Tools, tool)
	}

	for _, raw := range entries(doc, "resources") {
		name, _ := raw["name"].(string)
		if name == "" {
			continue
		}
		res := domain.ResourceDef{Name: name, Namespace: ns}
		res.URI, _ = raw["uri"].(string)
		res.Description, _ = raw["description"].(string)
		res.MimeType, _ = raw["mimeType"].(string)
		schema.Resources = append(schema.Resources, res)
	}

	for _, raw := range entries(doc, "prompts") {
		name, _ := raw["name"].(string)
		if name == "" {
			continue
		}
		prompt := domain.PromptDef{Name: name, Namespace: ns}
		prompt.Description, _ = raw["description"].(string)
		if args, ok := raw["arguments"].([]any); ok {
			for _, a := range args {
				am, ok := a.(map[string]any)
				if !ok {
					continue
				}
				argName, _ := am["name"].(string)
				if argName == "" {
					continue
				}
				arg := domain.PromptArgument{Name: argName}
				arg.Description, _ = am["description"].(string)
				arg.Required, _ = am["required"].(bool)
				prompt.Arguments = append(prompt.Arguments, arg)
			}
		}
		schema.Prompts = append(schema.Prompts, prompt)
	}

	return schema, nil
}

func entries(doc map[string]any, field string) []map[string]any {
	list, ok := doc[field].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, e := range list {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// Federate merges the schemas of all currently-online servers. Fetches run
// concurrently and are best-effort: a failing server contributes nothing
// and never aborts the merge. With refresh the cache entry is cleared
// first so the result is recomputed from scratch.
func (f *Federator) Federate(ctx context.Context, refresh bool) (*domain.FederatedSchema, error) {
	if refresh {
		if err := f.cache.Delete(ctx, store.KeyFederatedSchema); err != nil {
			f.logger.Warn("failed to invalidate federated schema", "error", err)
		}
	} else {
		var cached domain.FederatedSchema
		found, err := f.cache.Get(ctx, store.KeyFederatedSchema, &cached)
		if err != nil {
			f.logger.Warn("federated schema cache unavailable", "error", err)
		}
		if found {
			return &cached, nil
		}
	}

	snap := f.registry.Snapshot(ctx)
	var online []domain.ServerRecord
	for _, srv := range snap.Servers {
		if srv.HealthStatus == domain.StatusOnline {
			online = append(online, srv)
		}
	}

	schemas := make([]*domain.ServerSchema, len(online))
	var wg sync.WaitGroup
	for i := range online {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			schema, err := f.FetchOne(ctx, &online[i])
			if err != nil {
				f.logger.Warn("skipping schema contribution",
					"server_id", online[i].ID,
					"error", err,
				)
				return
			}
			schemas[i] = schema
		}(i)
	}
	wg.Wait()

	contributed := schemas[:0]
	for _, s := range schemas {
		if s != nil {
			contributed = append(contributed, s)
		}
	}

	merged := merge(contributed)

	middleware.FederationConflicts.Set(float64(len(merged.Conflicts)))
	middleware.FederationServers.Set(float64(merged.ServerCount))

	if err := f.cache.Set(ctx, store.KeyFederatedSchema, merged, f.ttl); err != nil {
		f.logger.Warn("failed to cache federated schema", "error", err)
	}

	f.logger.Info("schema federation completed",
		"servers", merged.ServerCount,
		"tools", len(merged.Tools),
		"resources", len(merged.Resources),
		"prompts", len(merged.Prompts),
		"conflicts", len(merged.Conflicts),
	)

	return merged, nil
}

// Refresh invalidates the per-server schema cache entry.
func (f *Federator) Refresh(ctx context.Context, serverID string) error {
	return f.cache.Delete(ctx, store.SchemaKey(serverID))
}
