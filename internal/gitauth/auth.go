// Package gitauth provides GitHub App installation authentication for the
// git-backed registry source.
package gitauth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bradleyfalzon/ghinstallation/v2"
)

// AppAuth provides GitHub App installation tokens. ghinstallation refreshes
// tokens automatically when they expire.
type AppAuth struct {
	transport *ghinstallation.Transport
}

// New creates a new GitHub App authenticator
func New(appID int64, privateKey []byte, installationID int64) (*AppAuth, error) {
	transport, err := ghinstallation.New(
		http.DefaultTransport,
		appID,
		installationID,
		privateKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub App transport: %w", err)
	}

	return &AppAuth{transport: transport}, nil
}

// Token returns a valid installation access token
func (a *AppAuth) Token(ctx context.Context) (string, error) {
	token, err := a.transport.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get installation token: %w", err)
	}
	return token, nil
}
