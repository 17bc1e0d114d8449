package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcpgateway/gateway/internal/api"
	"github.com/mcpgateway/gateway/internal/config"
	"github.com/mcpgateway/gateway/internal/federation"
	"github.com/mcpgateway/gateway/internal/gitauth"
	"github.com/mcpgateway/gateway/internal/health"
	"github.com/mcpgateway/gateway/internal/middleware"
	"github.com/mcpgateway/gateway/internal/proxy"
	"github.com/mcpgateway/gateway/internal/ratelimit"
	"github.com/mcpgateway/gateway/internal/registry"
	"github.com/mcpgateway/gateway/internal/source"
	"github.com/mcpgateway/gateway/internal/store"
	syncmgr "github.com/mcpgateway/gateway/internal/sync"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("starting MCP gateway",
		"source_mode", cfg.SourceMode,
		"redis_addr", cfg.RedisAddr,
		"registry_ttl", cfg.RegistryTTL,
		"sweep_concurrency", cfg.SweepConcurrency,
	)

	// The gateway degrades rather than fails when the store is down
	// (fallback snapshot, fail-open limiter), so a failed ping is a
	// warning, not a startup error.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable at startup, continuing degraded", "error", err)
	}
	pingCancel()

	cache, err := store.New(store.Config{
		Client:    redisClient,
		LocalSize: cfg.LocalCacheSize,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}

	src, gitSrc, err := buildSource(cfg, logger)
	if err != nil {
		return err
	}

	reg, err := registry.New(registry.Config{
		Cache:  cache,
		Source: src,
		TTL:    cfg.RegistryTTL,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize registry: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		Cache:  cache,
		Window: cfg.RateLimitWindow,
		Max:    cfg.RateLimitMax,
		Logger: logger,
	})

	monitor, err := health.New(health.Config{
		Registry:          reg,
		Cache:             cache,
		ProbeTimeout:      cfg.ProbeTimeout,
		DegradedThreshold: cfg.DegradedThreshold,
		Concurrency:       cfg.SweepConcurrency,
		PollInterval:      cfg.HealthPollInterval,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize health monitor: %w", err)
	}

	federator, err := federation.New(federation.Config{
		Registry:     reg,
		Cache:        cache,
		FetchTimeout: cfg.SchemaFetchTimeout,
		MaxBytes:     cfg.SchemaMaxBytes,
		TTL:          cfg.SchemaTTL,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize federator: %w", err)
	}

	gateway, err := proxy.New(proxy.Config{
		Registry: reg,
		Limiter:  limiter,
		Cache:    cache,
		Timeout:  cfg.ProxyTimeout,
		MaxBody:  cfg.ProxyMaxBodyBytes,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize proxy gateway: %w", err)
	}

	// Initialize observability
	shutdownTracer, err := middleware.InitTracer(cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("failed to initialize tracer, continuing without tracing", "error", err)
	}

	var syncManager *syncmgr.Manager
	if gitSrc != nil {
		syncManager = syncmgr.NewManager(syncmgr.Config{
			Source:       gitSrc,
			Registry:     reg,
			PollInterval: cfg.RegistryTTL,
			Debounce:     10 * time.Second,
			Logger:       logger,
		})
	}

	router := api.NewRouter(api.Config{
		Registry:      reg,
		Monitor:       monitor,
		Federator:     federator,
		Gateway:       gateway,
		Limiter:       limiter,
		SyncManager:   syncManager,
		WebhookSecret: cfg.WebhookSecret,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      middleware.Chain(router, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Background loops: health sweeps and (git mode) source polling.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go monitor.Run(bgCtx, cfg.HealthPollInterval)
	if syncManager != nil {
		go syncManager.Start(bgCtx)
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	bgCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if shutdownTracer != nil {
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown error", "error", err)
		}
	}

	if err := redisClient.Close(); err != nil {
		logger.Warn("redis close error", "error", err)
	}

	logger.Info("gateway stopped gracefully")
	return nil
}

// buildSource constructs the registry source for the configured mode. In
// git mode the initial clone happens here so the gateway starts with a
// usable checkout.
func buildSource(cfg *config.Config, logger *slog.Logger) (source.Source, *source.GitSource, error) {
	switch cfg.SourceMode {
	case config.SourceGit:
		var auth *gitauth.AppAuth
		if cfg.GitHubAppID != 0 {
			var err error
			auth, err = gitauth.New(cfg.GitHubAppID, cfg.GitHubAppPrivateKey, cfg.GitHubInstallationID)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to initialize GitHub App auth: %w", err)
			}
		}

		gitSrc, err := source.NewGit(source.GitConfig{
			RepoURL:   cfg.RegistryRepoURL,
			Branch:    cfg.RegistryBranch,
			FilePath:  cfg.RegistryFilePath,
			LocalPath: cfg.DataPath,
			Auth:      auth,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create git source: %w", err)
		}

		cloneCtx, cloneCancel := context.WithTimeout(context.Background(), cfg.CloneTimeout)
		defer cloneCancel()
		if err := gitSrc.Clone(cloneCtx); err != nil {
			return nil, nil, fmt.Errorf("failed to clone registry repository within %s: %w", cfg.CloneTimeout, err)
		}
		logger.Info("registry repository cloned", "commit", gitSrc.CurrentCommit())

		return gitSrc, gitSrc, nil

	default:
		return source.NewHTTP(cfg.RegistrySourceURL, cfg.FetchTimeout), nil, nil
	}
}
