package store

import "fmt"

// Persisted key layout. Every cross-request piece of state the gateway
// keeps lives under one of these logical namespaces.
const (
	KeyRegistry        = "registry"
	KeyRequestCounter  = "registry:requests"
	KeyHealthSummary   = "health:summary"
	KeyFederatedSchema = "federated_schema"
)

// HealthKey returns the key holding the last probe result for a server.
func HealthKey(serverID string) string {
	return "health:" + serverID
}

// SchemaKey returns the key holding a server's normalized schema.
func SchemaKey(serverID string) string {
	return "schema:" + serverID
}

// ProxyStatsKey returns the key holding rolling forward statistics.
func ProxyStatsKey(serverID string) string {
	return "proxy_stats:" + serverID
}

// ProxyLogKey returns a unique key for one forwarded-call log entry.
func ProxyLogKey(serverID string, unixMillis int64, rand string) string {
	return fmt.Sprintf("proxy_log:%s:%d:%s", serverID, unixMillis, rand)
}

// RateLimitKey returns the key holding a client's request timestamps.
func RateLimitKey(clientKey string) string {
	return "rate_limit:" + clientKey
}
