package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxDocumentBytes caps the registry document size.
const maxDocumentBytes = 5 << 20

// HTTPSource fetches the registry document from a fixed URL.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTP creates a new HTTP source
func NewHTTP(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSource{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch performs a single GET against the source URL. One attempt only;
// the caller falls back on failure.
func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build source request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/yaml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("source returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read source body: %w", err)
	}
	if int64(len(body)) > maxDocumentBytes {
		return nil, fmt.Errorf("source document exceeds %d bytes", int64(maxDocumentBytes))
	}

	return body, nil
}

// Describe names the source for logs.
func (s *HTTPSource) Describe() string {
	return "http:" + s.url
}
