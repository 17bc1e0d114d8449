package domain

import "time"

// Envelope is the uniform response body: success with data, or failure with
// an error message. Proxied responses bypass it.
type Envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// OK wraps data in a success envelope.
func OK(data any) Envelope {
	return Envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Fail wraps an error message in a failure envelope.
func Fail(msg string) Envelope {
	return Envelope{
		Success:   false,
		Error:     msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// ServerListResult is the payload for list/search responses.
type ServerListResult struct {
	Servers []ServerRecord `json:"servers"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	HasMore bool           `json:"hasMore"`
}

// ValidationResult is the payload for submission responses.
type ValidationResult struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
	Status string       `json:"status,omitempty"`
}
