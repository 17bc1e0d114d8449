// Package registry implements the server catalog with cache-or-fetch
// semantics against the external source of truth.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mcpgateway/gateway/internal/domain"
	"github.com/mcpgateway/gateway/internal/middleware"
	"github.com/mcpgateway/gateway/internal/source"
	"github.com/mcpgateway/gateway/internal/store"
)

// Store provides access to the registry snapshot.
type Store struct {
	cache    *store.Cache
	source   source.Source
	ttl      time.Duration
	validate *validator.Validate
	logger   *slog.Logger
}

// Config holds registry store configuration
type Config struct {
	Cache  *store.Cache
	Source source.Source
	TTL    time.Duration
	Logger *slog.Logger
}

// New creates a new registry store instance
func New(cfg Config) (*Store, error) {
	if cfg.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("source is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Store{
		cache:    cfg.Cache,
		source:   cfg.Source,
		ttl:      cfg.TTL,
		validate: domain.NewValidator(),
		logger:   cfg.Logger,
	}, nil
}

// Snapshot returns the current registry snapshot: the cached copy while
// fresh, otherwise a fetch from the source. On any failure it degrades to
// the built-in fallback snapshot instead of failing the request. Health
// statuses are overlaid from the monitor's most recent results.
func (s *Store) Snapshot(ctx context.Context) *domain.RegistrySnapshot {
	var snap domain.RegistrySnapshot
	found, err := s.cache.Get(ctx, store.KeyRegistry, &snap)
	if err != nil {
		s.logger.Warn("registry cache unavailable", "error", err)
	}

	if !found {
		fetched, err := s.fetch(ctx)
		if err != nil {
			s.logger.Error("registry fetch failed, serving fallback",
				"source", s.source.Describe(),
				"error", err,
			)
			snap = fallbackSnapshot()
		} else {
			snap = *fetched
			if err := s.cache.Set(ctx, store.KeyRegistry, &snap, s.ttl); err != nil {
				s.logger.Warn("failed to cache registry snapshot", "error", err)
			}
		}
	}

	s.applyHealth(ctx, snap.Servers)
	snap.Stats.TotalServers = len(snap.Servers)
	snap.Stats.OnlineServers = 0
	for i := range snap.Servers {
		if snap.Servers[i].HealthStatus == domain.StatusOnline {
			snap.Stats.OnlineServers++
		}
	}
	if n, err := s.cache.GetCounter(ctx, store.KeyRequestCounter); err == nil {
		snap.Stats.TotalRequests = n
	}
	middleware.RegistryServersTotal.Set(float64(snap.Stats.TotalServers))

	return &snap
}

// Refresh invalidates the cached snapshot so the next read refetches.
func (s *Store) Refresh(ctx context.Context) error {
	return s.cache.Delete(ctx, store.KeyRegistry)
}

// GetByID looks a server up in the snapshot. A legitimate miss is reported
// as domain.ErrNotFound, not a failure.
func (s *Store) GetByID(ctx context.Context, id string) (*domain.ServerRecord, error) {
	snap := s.Snapshot(ctx)
	for i := range snap.Servers {
		if snap.Servers[i].ID == id {
			return &snap.Servers[i], nil
		}
	}
	return nil, fmt.Errorf("server %q: %w", id, domain.ErrNotFound)
}

// SearchParams are the ANDed filters for Search.
type SearchParams struct {
	Query    string
	Tags     []string
	Verified *bool
	Limit    int
	Offset   int
}

// Search filters the snapshot. Query matches name/description/tags
// case-insensitively; the tag filter includes a server when any requested
// tag is present; verified is an exact match. Result order follows the
// snapshot, so repeated calls over the same snapshot are order-stable.
func (s *Store) Search(ctx context.Context, p SearchParams) *domain.ServerListResult {
	if p.Limit <= 0 {
		p.Limit = 30
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}

	snap := s.Snapshot(ctx)

	var matched []domain.ServerRecord
	for _, srv := range snap.Servers {
		if !matches(&srv, p) {
			continue
		}
		matched = append(matched, srv)
	}

	total := len(matched)
	start := p.Offset
	if start > total {
		start = total
	}
	end := start + p.Limit
	if end > total {
		end = total
	}

	return &domain.ServerListResult{
		Servers: matched[start:end],
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.Offset+p.Limit < total,
	}
}

// Validate runs structural validation on a submitted candidate record.
func (s *Store) Validate(candidate *domain.ServerRecord) []domain.FieldError {
	return domain.ValidateServer(s.validate, candidate)
}

// Stats returns the aggregate counters for the current snapshot.
func (s *Store) Stats(ctx context.Context) domain.RegistryStats {
	return s.Snapshot(ctx).Stats
}

// CountRequest bumps the aggregate request counter. Best-effort.
func (s *Store) CountRequest(ctx context.Context) {
	if _, err := s.cache.Incr(ctx, store.KeyRequestCounter); err != nil {
		s.logger.Debug("request counter unavailable", "error", err)
	}
}

func matches(srv *domain.ServerRecord, p SearchParams) bool {
	if p.Query != "" {
		q := strings.ToLower(p.Query)
		hit := strings.Contains(strings.ToLower(srv.Name), q) ||
			strings.Contains(strings.ToLower(srv.Description), q)
		if !hit {
			for _, tag := range srv.Tags {
				if strings.Contains(strings.ToLower(tag), q) {
					hit = true
					break
				}
			}
		}
		if !hit {
			return false
		}
	}

	if len(p.Tags) > 0 {
		hit := false
		for _, want := range p.Tags {
			for _, have := range srv.Tags {
				if strings.EqualFold(want, have) {
					hit = true
					break
				}
			}
			if hit {
				break
			}
		}
		if !hit {
			return false
		}
	}

	if p.Verified != nil && srv.Verified != *p.Verified {
		return false
	}

	return true
}

// fetch pulls the registry document from the source and decodes it
// tolerantly: the document is rejected only on structural violation, and
// individual malformed server entries are skipped with a warning.
func (s *Store) fetch(ctx context.Context) (*domain.RegistrySnapshot, error) {
	raw, err := s.source.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse registry document: %w", err)
	}

	version, _ := doc["version"].(string)
	if version == "" {
		return nil, errors.New("registry document missing version")
	}
	rawServers, ok := doc["servers"].([]any)
	if !ok {
		return nil, errors.New("registry document missing servers list")
	}

	snap := &domain.RegistrySnapshot{
		Version:   version,
		UpdatedAt: time.Now().UTC(),
	}

	seen := make(map[string]bool, len(rawServers))
	for i, rawSrv := range rawServers {
		buf, err := yaml.Marshal(rawSrv)
		if err != nil {
			s.logger.Warn("skipping unreadable server entry", "index", i, "error", err)
			continue
		}
		var srv domain.ServerRecord
		if err := yaml.Unmarshal(buf, &srv); err != nil {
			s.logger.Warn("skipping malformed server entry", "index", i, "error", err)
			continue
		}
		if srv.ID == "" {
			s.logger.Warn("skipping server entry without id", "index", i)
			continue
		}
		if seen[srv.ID] {
			s.logger.Warn("skipping duplicate server id", "id", srv.ID)
			continue
		}
		seen[srv.ID] = true
		if srv.HealthStatus == "" {
			srv.HealthStatus = domain.StatusUnknown
		}
		snap.Servers = append(snap.Servers, srv)
	}

	s.logger.Info("registry snapshot fetched",
		"source", s.source.Describe(),
		"version", snap.Version,
		"server_count", len(snap.Servers),
	)

	return snap, nil
}

// applyHealth overlays the most recent probe result per server, leaving
// unknown where none exists.
func (s *Store) applyHealth(ctx context.Context, servers []domain.ServerRecord) {
	for i := range servers {
		var result domain.HealthCheckResult
		found, err := s.cache.Get(ctx, store.HealthKey(servers[i].ID), &result)
		if err != nil || !found {
			if servers[i].HealthStatus == "" {
				servers[i].HealthStatus = domain.StatusUnknown
			}
			continue
		}
		servers[i].HealthStatus = result.Status
		ts := result.Timestamp
		servers[i].LastChecked = &ts
	}
}

// fallbackSnapshot is served when neither the cache nor the source can
// produce a snapshot, so the gateway degrades instead of failing.
func fallbackSnapshot() domain.RegistrySnapshot {
	now := time.Now().UTC()
	return domain.RegistrySnapshot{
		Version:   "fallback",
		UpdatedAt: now,
		Servers: []domain.ServerRecord{
			{
				ID:           "mcp-reference",
				Name:         "MCP Reference Server",
				Description:  "Built-in fallback entry served while the registry source is unreachable.",
				URL:          "https://reference.mcp.example",
				Version:      "1.0.0",
				Tags:         []string{"reference"},
				Author:       domain.Author{Name: "MCP Gateway"},
				Verified:     true,
				HealthStatus: domain.StatusUnknown,
				CreatedAt:    now,
				UpdatedAt:    now,
			},
		},
		Stats: domain.RegistryStats{TotalServers: 1},
	}
}
