package graph

import (
	"context"

	"github.com/jun/drivechat/internal/drive"
)

// TokenProvider returns a currently valid access token for a user.
type TokenProvider interface {
	ValidTokenForUser(ctx context.Context, userID string) (string, error)
}

// Provider implements drive.Provider for Microsoft Graph.
type Provider struct {
	tokens TokenProvider
	opts   []Option
}

// NewProvider creates a new Graph provider.
func NewProvider(tokens TokenProvider, opts ...Option) *Provider {
	return &Provider{tokens: tokens, opts: opts}
}

// Client refreshes the user's token if needed and returns a bound Client.
func (p *Provider) Client(ctx context.Context, userID string) (drive.Client, error) {
	token, err := p.tokens.ValidTokenForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return NewClient(token, p.opts...), nil
}
