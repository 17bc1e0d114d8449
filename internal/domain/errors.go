package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the gateway error taxonomy. Handlers map these onto
// HTTP status codes at the router boundary.
var (
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// FieldError is one structural validation failure on user input.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// RateLimitError is returned when a client exceeds its sliding window.
type RateLimitError struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: limit %d, resets at %s", e.Limit, e.Reset.Format(time.RFC3339))
}

// UpstreamErrorKind classifies outbound call failures.
type UpstreamErrorKind string

const (
	UpstreamTimeout      UpstreamErrorKind = "timeout"
	UpstreamNetworkError UpstreamErrorKind = "network_error"
	UpstreamHTTPError    UpstreamErrorKind = "http_error"
)

// UpstreamError describes a failed call to a registered server.
type UpstreamError struct {
	Kind       UpstreamErrorKind
	ServerID   string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Kind == UpstreamHTTPError {
		return fmt.Sprintf("upstream %s returned status %d", e.ServerID, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s: %s: %v", e.ServerID, e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
