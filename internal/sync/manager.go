// Package sync keeps the git-backed registry source current and exposes a
// webhook trigger for immediate refreshes.
package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mcpgateway/gateway/internal/registry"
	"github.com/mcpgateway/gateway/internal/source"
)

// Manager polls the registry repository and invalidates the cached
// snapshot when the source changes.
type Manager struct {
	source       *source.GitSource
	registry     *registry.Store
	pollInterval time.Duration
	debounce     time.Duration
	logger       *slog.Logger

	triggerChan chan struct{}
	mu          sync.Mutex
	lastSync    time.Time
	syncing     bool
}

// Config holds sync manager configuration
type Config struct {
	Source       *source.GitSource
	Registry     *registry.Store
	PollInterval time.Duration
	Debounce     time.Duration
	Logger       *slog.Logger
}

// NewManager creates a new sync manager
func NewManager(cfg Config) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		source:       cfg.Source,
		registry:     cfg.Registry,
		pollInterval: cfg.PollInterval,
		debounce:     cfg.Debounce,
		logger:       cfg.Logger,
		triggerChan:  make(chan struct{}, 1),
	}
}

// Start begins the sync manager polling loop
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	m.logger.Info("sync manager started",
		"poll_interval", m.pollInterval,
		"debounce", m.debounce,
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("sync manager stopped")
			return

		case <-ticker.C:
			m.doSync(ctx, "poll")

		case <-m.triggerChan:
			// Debounce webhook triggers
			m.debounceSync(ctx)
		}
	}
}

// Trigger initiates a sync (called by webhook handler)
func (m *Manager) Trigger() {
	select {
	case m.triggerChan <- struct{}{}:
		m.logger.Debug("sync triggered")
	default:
		m.logger.Debug("sync already pending")
	}
}

// Branch returns the tracked registry branch.
func (m *Manager) Branch() string {
	return m.source.Branch()
}

// LastSyncTime returns the last successful sync time
func (m *Manager) LastSyncTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSync
}

func (m *Manager) debounceSync(ctx context.Context) {
	m.mu.Lock()
	if time.Since(m.lastSync) < m.debounce {
		m.mu.Unlock()
		m.logger.Debug("sync debounced", "last_sync", m.lastSync)
		return
	}
	m.mu.Unlock()

	m.doSync(ctx, "webhook")
}

func (m *Manager) doSync(ctx context.Context, trigger string) {
	m.mu.Lock()
	if m.syncing {
		m.mu.Unlock()
		m.logger.Debug("sync already in progress")
		return
	}
	m.syncing = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.syncing = false
		m.mu.Unlock()
	}()

	start := time.Now()

	changed, err := m.source.Pull(ctx)
	if err != nil {
		m.logger.Error("sync failed",
			"trigger", trigger,
			"error", err,
			"duration", time.Since(start),
		)
		return
	}

	m.mu.Lock()
	m.lastSync = time.Now()
	m.mu.Unlock()

	if !changed {
		m.logger.Debug("no registry changes detected", "trigger", trigger)
		return
	}

	// Invalidate the cached snapshot so the next read refetches from the
	// updated checkout.
	if err := m.registry.Refresh(ctx); err != nil {
		m.logger.Error("failed to invalidate registry snapshot",
			"trigger", trigger,
			"error", err,
		)
		return
	}

	m.logger.Info("registry source updated",
		"trigger", trigger,
		"commit", m.source.CurrentCommit(),
		"duration", time.Since(start),
	)
}
