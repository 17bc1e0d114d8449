package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// SourceMode selects where the registry snapshot is fetched from.
type SourceMode string

const (
	SourceHTTP SourceMode = "http"
	SourceGit  SourceMode = "git"
)

// Config holds all application configuration. Every TTL, limit and timeout
// the gateway uses lives here and is passed into components at construction.
type Config struct {
	// Registry source settings
	SourceMode        SourceMode
	RegistrySourceURL string
	RegistryRepoURL   string
	RegistryBranch    string
	RegistryFilePath  string
	DataPath          string
	CloneTimeout      time.Duration
	FetchTimeout      time.Duration

	// GitHub App authentication (git source only, optional)
	GitHubAppID          int64
	GitHubAppPrivateKey  []byte
	GitHubInstallationID int64
	WebhookSecret        string

	// Cache settings
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	LocalCacheSize int
	RegistryTTL    time.Duration

	// Health monitor settings
	ProbeTimeout       time.Duration
	DegradedThreshold  time.Duration
	SweepConcurrency   int
	HealthPollInterval time.Duration

	// Schema federation settings
	SchemaFetchTimeout time.Duration
	SchemaMaxBytes     int64
	SchemaTTL          time.Duration

	// Proxy settings
	ProxyTimeout      time.Duration
	ProxyMaxBodyBytes int64

	// Rate limiter settings
	RateLimitWindow time.Duration
	RateLimitMax    int

	// Server settings
	Port int

	// Observability
	OTLPEndpoint string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		// Defaults
		SourceMode:         SourceHTTP,
		RegistryBranch:     "main",
		RegistryFilePath:   "registry.yaml",
		DataPath:           "/data",
		CloneTimeout:       2 * time.Minute,
		FetchTimeout:       30 * time.Second,
		LocalCacheSize:     1000,
		RegistryTTL:        5 * time.Minute,
		ProbeTimeout:       30 * time.Second,
		DegradedThreshold:  10 * time.Second,
		SweepConcurrency:   10,
		HealthPollInterval: 5 * time.Minute,
		SchemaFetchTimeout: 15 * time.Second,
		SchemaMaxBytes:     1 << 20,
		SchemaTTL:          time.Hour,
		ProxyTimeout:       30 * time.Second,
		ProxyMaxBodyBytes:  10 << 20,
		RateLimitWindow:    60 * time.Second,
		RateLimitMax:       100,
		Port:               8080,
		RedisAddr:          "localhost:6379",
	}

	if v := os.Getenv("SOURCE_MODE"); v != "" {
		switch SourceMode(v) {
		case SourceHTTP, SourceGit:
			cfg.SourceMode = SourceMode(v)
		default:
			return nil, fmt.Errorf("invalid SOURCE_MODE: %q", v)
		}
	}

	switch cfg.SourceMode {
	case SourceHTTP:
		cfg.RegistrySourceURL = os.Getenv("REGISTRY_SOURCE_URL")
		if cfg.RegistrySourceURL == "" {
			return nil, fmt.Errorf("REGISTRY_SOURCE_URL is required in http source mode")
		}
	case SourceGit:
		cfg.RegistryRepoURL = os.Getenv("REGISTRY_REPO_URL")
		if cfg.RegistryRepoURL == "" {
			return nil, fmt.Errorf("REGISTRY_REPO_URL is required in git source mode")
		}
		if err := loadGitHubAuth(cfg); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("REGISTRY_BRANCH"); v != "" {
		cfg.RegistryBranch = v
	}
	if v := os.Getenv("REGISTRY_FILE_PATH"); v != "" {
		cfg.RegistryFilePath = v
	}
	if v := os.Getenv("DATA_PATH"); v != "" {
		cfg.DataPath = v
	}
	cfg.WebhookSecret = os.Getenv("WEBHOOK_SECRET")

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = db
	}

	for _, d := range []struct {
		env string
		dst *time.Duration
	}{
		{"CLONE_TIMEOUT", &cfg.CloneTimeout},
		{"FETCH_TIMEOUT", &cfg.FetchTimeout},
		{"REGISTRY_TTL", &cfg.RegistryTTL},
		{"PROBE_TIMEOUT", &cfg.ProbeTimeout},
		{"DEGRADED_THRESHOLD", &cfg.DegradedThreshold},
		{"HEALTH_POLL_INTERVAL", &cfg.HealthPollInterval},
		{"SCHEMA_FETCH_TIMEOUT", &cfg.SchemaFetchTimeout},
		{"SCHEMA_TTL", &cfg.SchemaTTL},
		{"PROXY_TIMEOUT", &cfg.ProxyTimeout},
		{"RATE_LIMIT_WINDOW", &cfg.RateLimitWindow},
	} {
		if v := os.Getenv(d.env); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", d.env, err)
			}
			*d.dst = parsed
		}
	}

	for _, n := range []struct {
		env string
		dst *int
	}{
		{"LOCAL_CACHE_SIZE", &cfg.LocalCacheSize},
		{"SWEEP_CONCURRENCY", &cfg.SweepConcurrency},
		{"RATE_LIMIT_MAX", &cfg.RateLimitMax},
		{"PORT", &cfg.Port},
	} {
		if v := os.Getenv(n.env); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", n.env, err)
			}
			*n.dst = parsed
		}
	}

	if v := os.Getenv("SCHEMA_MAX_BYTES"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEMA_MAX_BYTES: %w", err)
		}
		cfg.SchemaMaxBytes = parsed
	}
	if v := os.Getenv("PROXY_MAX_BODY_BYTES"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid PROXY_MAX_BODY_BYTES: %w", err)
		}
		cfg.ProxyMaxBodyBytes = parsed
	}

	cfg.OTLPEndpoint = os.Getenv("OTLP_ENDPOINT")

	return cfg, nil
}

// loadGitHubAuth reads the optional GitHub App credentials used to reach a
// private registry repository. All three values must be set together.
func loadGitHubAuth(cfg *Config) error {
	appIDStr := os.Getenv("GITHUB_APP_ID")
	if appIDStr == "" {
		return nil // public repository, no auth
	}

	appID, err := strconv.ParseInt(appIDStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid GITHUB_APP_ID: %w", err)
	}
	cfg.GitHubAppID = appID

	privateKeyPath := os.Getenv("GITHUB_APP_PRIVATE_KEY_PATH")
	privateKeyValue := os.Getenv("GITHUB_APP_PRIVATE_KEY")
	if privateKeyPath != "" {
		key, err := os.ReadFile(privateKeyPath)
		if err != nil {
			return fmt.Errorf("failed to read private key file: %w", err)
		}
		cfg.GitHubAppPrivateKey = key
	} else if privateKeyValue != "" {
		cfg.GitHubAppPrivateKey = []byte(privateKeyValue)
	} else {
		return fmt.Errorf("GITHUB_APP_PRIVATE_KEY or GITHUB_APP_PRIVATE_KEY_PATH is required with GITHUB_APP_ID")
	}

	installIDStr := os.Getenv("GITHUB_INSTALLATION_ID")
	if installIDStr == "" {
		return fmt.Errorf("GITHUB_INSTALLATION_ID is required with GITHUB_APP_ID")
	}
	installID, err := strconv.ParseInt(installIDStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid GITHUB_INSTALLATION_ID: %w", err)
	}
	cfg.GitHubInstallationID = installID

	return nil
}
