package googledrive

import (
	"context"

	"github.com/jun/drivechat/internal/drive"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

// TokenSourceProvider returns a refreshing token source for a user.
type TokenSourceProvider interface {
	TokenSource(ctx context.Context, userID string) oauth2.TokenSource
}

// Provider implements drive.Provider for Google Drive.
type Provider struct {
	tokens   TokenSourceProvider
	maxBytes int64
	opts     []option.ClientOption
}

// NewProvider creates a new Google Drive provider. Extra client options are
// appended after the user's token source.
func NewProvider(tokens TokenSourceProvider, maxBytes int64, opts ...option.ClientOption) *Provider {
	return &Provider{tokens: tokens, maxBytes: maxBytes, opts: opts}
}

// Client returns a DriveAdapter for the given user ID.
func (p *Provider) Client(ctx context.Context, userID string) (drive.Client, error) {
	ts := p.tokens.TokenSource(ctx, userID)
	// Surface missing or revoked credentials now rather than on first use.
	if _, err := ts.Token(); err != nil {
		return nil, err
	}

	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, p.opts...)
	return NewDriveAdapter(ctx, p.maxBytes, opts...)
}
