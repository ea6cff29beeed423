package auth

import (
	"context"
	"net/http"
)

// Basic authenticates with a Confluence username and API token. This is the
// fallback mode when OAuth is not configured.
type Basic struct {
	Username string
	APIToken string
}

// NewBasic returns a basic-auth Authenticator.
func NewBasic(username, apiToken string) *Basic {
	return &Basic{Username: username, APIToken: apiToken}
}

// Authorize sets the basic auth header on the request.
func (b *Basic) Authorize(_ context.Context, req *http.Request) error {
	req.SetBasicAuth(b.Username, b.APIToken)

	return nil
}
