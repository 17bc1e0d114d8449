// Package source fetches the raw registry document from its external source
// of truth. Two sources are supported: a plain HTTP endpoint and a git
// repository holding the registry file.
package source

import "context"

// Source fetches the raw registry document. The registry store decides how
// to decode and validate it.
type Source interface {
	// Fetch returns the current registry document.
	Fetch(ctx context.Context) ([]byte, error)

	// Describe names the source for logs.
	Describe() string
}
