package jira

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/linnemanlabs/warden/internal/policy"
	"github.com/linnemanlabs/warden/internal/restclient"
	"github.com/linnemanlabs/warden/internal/secrets"
	"github.com/linnemanlabs/warden/internal/tracker"
)

// Provider builds a Client for a tenant's tracker settings, resolving the
// credential reference through a secret store.
type Provider struct {
	secrets secrets.Store
	opts    []restclient.Option
}

// NewProvider returns a Provider. opts are applied to every client before
// the credential.
func NewProvider(s secrets.Store, opts ...restclient.Option) *Provider {
	return &Provider{secrets: s, opts: opts}
}

// For returns a client for t. A credential of the form "email:token" uses
// basic auth; anything else is sent as a bearer token.
func (p *Provider) For(ctx context.Context, t policy.Tracker) (tracker.Client, error) {
	if t.BaseURL == "" {
		return nil, errors.New("tracker base_url not configured")
	}
	if t.CredentialRef == "" {
		return nil, errors.New("tracker credential_ref not configured")
	}
	cred, err := p.secrets.Get(ctx, t.CredentialRef)
	if err != nil {
		return nil, fmt.Errorf("tracker credential: %w", err)
	}

	opts := append([]restclient.Option(nil), p.opts...)
	if user, token, ok := strings.Cut(cred, ":"); ok && strings.Contains(user, "@") {
		opts = append(opts, restclient.WithAuth(restclient.Basic(user, token)))
	} else {
		opts = append(opts, restclient.WithAuth(restclient.Bearer(cred)))
	}
	return New(t.BaseURL, opts...), nil
}
