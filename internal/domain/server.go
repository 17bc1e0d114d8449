package domain

import "time"

// HealthStatus describes the last known reachability of a server.
type HealthStatus string

const (
	StatusOnline   HealthStatus = "online"
	StatusDegraded HealthStatus = "degraded"
	StatusOffline  HealthStatus = "offline"
	StatusUnknown  HealthStatus = "unknown"
)

// AuthType describes how a server expects callers to authenticate.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthAPIKey AuthType = "api-key"
	AuthOAuth  AuthType = "oauth"
)

// Author identifies who publishes a server.
type Author struct {
	Name   string `json:"name" yaml:"name" validate:"required,min=1,max=100"`
	URL    string `json:"url,omitempty" yaml:"url,omitempty" validate:"omitempty,url"`
	GitHub string `json:"github,omitempty" yaml:"github,omitempty" validate:"omitempty,max=100"`
}

// Authentication declares a server's auth requirements. The gateway never
// verifies credentials itself; it only decides whether to pass them through.
type Authentication struct {
	Type     AuthType `json:"type" yaml:"type" validate:"omitempty,oneof=none api-key oauth"`
	Required bool     `json:"required" yaml:"required"`
}

// ServerRecord is a single registry entry for an MCP server.
type ServerRecord struct {
	ID             string          `json:"id" yaml:"id" validate:"required,server_id"`
	Name           string          `json:"name" yaml:"name" validate:"required,min=1,max=100"`
	Description    string          `json:"description" yaml:"description" validate:"required,min=1,max=200"`
	URL            string          `json:"url" yaml:"url" validate:"required,https_url"`
	Version        string          `json:"version" yaml:"version" validate:"required,semver"`
	Tags           []string        `json:"tags" yaml:"tags" validate:"required,min=1,max=10,dive,server_tag"`
	Author         Author          `json:"author" yaml:"author" validate:"required"`
	Verified       bool            `json:"verified" yaml:"verified"`
	HealthStatus   HealthStatus    `json:"healthStatus" yaml:"healthStatus"`
	LastChecked    *time.Time      `json:"lastChecked,omitempty" yaml:"lastChecked,omitempty"`
	Capabilities   []string        `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Authentication *Authentication `json:"authentication,omitempty" yaml:"authentication,omitempty"`
	Namespace      string          `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	RateLimit      int             `json:"rateLimit,omitempty" yaml:"rateLimit,omitempty"`
	CreatedAt      time.Time       `json:"createdAt" yaml:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt" yaml:"updatedAt"`
}

// SchemaNamespace returns the namespace capabilities from this server are
// tagged with: a declared override, or the server id.
func (s *ServerRecord) SchemaNamespace() string {
	if s.Namespace != "" {
		return s.Namespace
	}
	return s.ID
}

// RegistryStats carries aggregate counters for the snapshot.
type RegistryStats struct {
	TotalServers  int   `json:"totalServers" yaml:"totalServers"`
	OnlineServers int   `json:"onlineServers" yaml:"onlineServers"`
	TotalRequests int64 `json:"totalRequests" yaml:"totalRequests"`
}

// RegistrySnapshot is the versioned server catalog. It is replaced
// wholesale on each refresh; there are no partial updates.
type RegistrySnapshot struct {
	Version   string         `json:"version" yaml:"version"`
	UpdatedAt time.Time      `json:"updatedAt" yaml:"updatedAt"`
	Servers   []ServerRecord `json:"servers" yaml:"servers"`
	Stats     RegistryStats  `json:"stats" yaml:"stats"`
}

// HealthCheckResult is one probe outcome. Results are never mutated, only
// superseded by a newer result for the same server id.
type HealthCheckResult struct {
	ServerID       string       `json:"serverId"`
	Status         HealthStatus `json:"status"`
	ResponseTimeMs int64        `json:"responseTimeMs"`
	Error          string       `json:"error,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

// HealthSummary aggregates one full sweep.
type HealthSummary struct {
	Online    int       `json:"online"`
	Degraded  int       `json:"degraded"`
	Offline   int       `json:"offline"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// ProxyStats tracks per-server forwarding counters. AvgResponseTimeMs is a
// running (old+new)/2 approximation, not a true mean.
type ProxyStats struct {
	ServerID          string    `json:"serverId"`
	TotalRequests     int64     `json:"totalRequests"`
	SuccessCount      int64     `json:"successCount"`
	FailureCount      int64     `json:"failureCount"`
	AvgResponseTimeMs float64   `json:"avgResponseTimeMs"`
	LastRequestAt     time.Time `json:"lastRequestAt"`
}

// ProxyLogEntry records one forwarded call.
type ProxyLogEntry struct {
	ServerID   string            `json:"serverId"`
	Method     string            `json:"method"`
	TargetURL  string            `json:"targetUrl"`
	StatusCode int               `json:"statusCode,omitempty"`
	DurationMs int64             `json:"durationMs"`
	Headers    map[string]string `json:"headers,omitempty"`
	Error      string            `json:"error,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}
