// Package health probes registered servers and classifies their liveness.
package health

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mcpgateway/gateway/internal/domain"
	"github.com/mcpgateway/gateway/internal/middleware"
	"github.com/mcpgateway/gateway/internal/registry"
	"github.com/mcpgateway/gateway/internal/store"
)

// probePayload is the minimal JSON-RPC ping sent to each server.
const probePayload = `{"jsonrpc":"2.0","id":1,"method":"ping"}`

// Monitor probes servers from the registry and persists results through
// the cache layer.
type Monitor struct {
	registry          *registry.Store
	cache             *store.Cache
	client            *http.Client
	probeTimeout      time.Duration
	degradedThreshold time.Duration
	concurrency       int
	resultTTL         time.Duration
	logger            *slog.Logger
}

// Config holds monitor configuration
type Config struct {
	Registry          *registry.Store
	Cache             *store.Cache
	ProbeTimeout      time.Duration
	DegradedThreshold time.Duration
	Concurrency       int
	PollInterval      time.Duration
	Logger            *slog.Logger
}

// New creates a new health monitor instance
func New(cfg Config) (*Monitor, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}
	if cfg.DegradedThreshold <= 0 {
		cfg.DegradedThreshold = 10 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Monitor{
		registry:          cfg.Registry,
		cache:             cfg.Cache,
		client:            &http.Client{},
		probeTimeout:      cfg.ProbeTimeout,
		degradedThreshold: cfg.DegradedThreshold,
		concurrency:       cfg.Concurrency,
		// Results outlive one sweep so the last known status stays
		// visible between polls.
		resultTTL: 2 * cfg.PollInterval,
		logger:    cfg.Logger,
	}, nil
}

// Probe issues one bounded health check against a server and classifies
// the outcome. It never returns an error; every failure mode maps to a
// status.
func (m *Monitor) Probe(ctx context.Context, srv *domain.ServerRecord) domain.HealthCheckResult {
	result := domain.HealthCheckResult{
		ServerID:  srv.ID,
		Timestamp: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL, bytes.NewReader([]byte(probePayload)))
	if err != nil {
		result.Status = domain.StatusOffline
		result.Error = fmt.Sprintf("invalid server url: %v", err)
		return result
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := m.client.Do(req)
	elapsed := time.Since(start)
	result.ResponseTimeMs = elapsed.Milliseconds()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result.Status = domain.StatusDegraded
			result.Error = "timeout"
		} else {
			result.Status = domain.StatusOffline
			result.Error = "network error"
		}
		return result
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		result.Status = domain.StatusDegraded
		result.Error = fmt.Sprintf("server error: status %d", resp.StatusCode)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if elapsed > m.degradedThreshold {
			result.Status = domain.StatusDegraded
		} else {
			result.Status = domain.StatusOnline
		}
	default:
		result.Status = domain.StatusOffline
		result.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}

	return result
}

// SweepAll probes every server in the registry in batches of at most the
// configured concurrency: full parallelism inside a batch, strictly
// sequential across batches to cap concurrent outbound load. A single
// misbehaving probe records that server as offline and never aborts the
// sweep. Results and an aggregate summary are persisted afterwards.
func (m *Monitor) SweepAll(ctx context.Context) (*domain.HealthSummary, []domain.HealthCheckResult) {
	snap := m.registry.Snapshot(ctx)
	servers := snap.Servers

	start := time.Now()
	results := make([]domain.HealthCheckResult, len(servers))

	for batchStart := 0; batchStart < len(servers); batchStart += m.concurrency {
		batchEnd := batchStart + m.concurrency
		if batchEnd > len(servers) {
			batchEnd = len(servers)
		}

		var wg sync.WaitGroup
		for i := batchStart; i < batchEnd; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						results[i] = domain.HealthCheckResult{
							ServerID:  servers[i].ID,
							Status:    domain.StatusOffline,
							Error:     fmt.Sprintf("probe panic: %v", r),
							Timestamp: time.Now().UTC(),
						}
					}
				}()
				results[i] = m.Probe(ctx, &servers[i])
			}(i)
		}
		wg.Wait()
	}

	summary := &domain.HealthSummary{
		Total:     len(results),
		Timestamp: time.Now().UTC(),
	}
	for i := range results {
		switch results[i].Status {
		case domain.StatusOnline:
			summary.Online++
		case domain.StatusDegraded:
			summary.Degraded++
		default:
			summary.Offline++
		}
		middleware.HealthProbesTotal.WithLabelValues(string(results[i].Status)).Inc()

		if err := m.cache.Set(ctx, store.HealthKey(results[i].ServerID), &results[i], m.resultTTL); err != nil {
			m.logger.Warn("failed to persist health result",
				"server_id", results[i].ServerID,
				"error", err,
			)
		}
	}

	if err := m.cache.Set(ctx, store.KeyHealthSummary, summary, m.resultTTL); err != nil {
		m.logger.Warn("failed to persist health summary", "error", err)
	}

	m.logger.Info("health sweep completed",
		"total", summary.Total,
		"online", summary.Online,
		"degraded", summary.Degraded,
		"offline", summary.Offline,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return summary, results
}

// Summary returns the cached sweep summary, or runs a live sweep when
// forced or when no summary is cached.
func (m *Monitor) Summary(ctx context.Context, force bool) *domain.HealthSummary {
	if !force {
		var summary domain.HealthSummary
		found, err := m.cache.Get(ctx, store.KeyHealthSummary, &summary)
		if err != nil {
			m.logger.Warn("health summary unavailable from store", "error", err)
		}
		if found {
			return &summary
		}
	}

	summary, _ := m.SweepAll(ctx)
	return summary
}

// LastResult returns the most recent probe result for a server, if any.
func (m *Monitor) LastResult(ctx context.Context, serverID string) (*domain.HealthCheckResult, bool) {
	var result domain.HealthCheckResult
	found, err := m.cache.Get(ctx, store.HealthKey(serverID), &result)
	if err != nil || !found {
		return nil, false
	}
	return &result, true
}

// Run re-runs the full sweep on a fixed interval until ctx is cancelled,
// independent of any client request.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("health sweeper started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health sweeper stopped")
			return
		case <-ticker.C:
			m.SweepAll(ctx)
		}
	}
}
