package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jun/drivechat/internal/credential"
	"github.com/jun/drivechat/internal/model"
	"golang.org/x/oauth2"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// DefaultExpiresIn is assumed when the token response carries no expires_in.
const DefaultExpiresIn = 3600 * time.Second

// Identity is the signed-in account returned by a successful link.
type Identity struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Linker runs the authorization-code flow that connects a drive account and
// creates the user's CredentialRecord.
type Linker struct {
	config   *oauth2.Config
	store    credential.Store
	provider string
	now      func() time.Time

	// Overrides the Google userinfo endpoint (tests).
	userinfoEndpoint string
}

// NewLinker creates a Linker for the given provider config.
func NewLinker(config *oauth2.Config, provider string, store credential.Store) *Linker {
	return &Linker{
		config:   config,
		store:    store,
		provider: provider,
		now:      time.Now,
	}
}

func (l *Linker) withRedirect(redirectURI string) *oauth2.Config {
	cfg := *l.config
	cfg.RedirectURL = redirectURI
	return &cfg
}

// AuthURL returns the provider login URL that redirects back to redirectURI.
func (l *Linker) AuthURL(state, redirectURI string) string {
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if l.provider == ProviderGoogle {
		// Google only returns a refresh token on explicit consent.
		opts = append(opts, oauth2.ApprovalForce)
	}
	return l.withRedirect(redirectURI).AuthCodeURL(state, opts...)
}

// Link exchanges the authorization code, resolves the account identity and
// stores the resulting credentials.
func (l *Linker) Link(ctx context.Context, code, redirectURI string) (*Identity, error) {
	cfg := l.withRedirect(redirectURI)

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		desc := err.Error()
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorDescription != "" {
			desc = re.ErrorDescription
		}
		return nil, &AuthError{Description: desc, Err: err}
	}

	id, err := l.identity(ctx, cfg, tok)
	if err != nil {
		return nil, err
	}

	expiresAt := l.now().Add(DefaultExpiresIn).UTC()
	if !tok.Expiry.IsZero() {
		expiresAt = tok.Expiry.UTC()
	}

	rec := &model.CredentialRecord{
		UserID:       id.UserID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    &expiresAt,
	}
	if rec.RefreshToken == "" {
		// Re-consent may omit the refresh token; keep the one we have.
		if existing, err := l.store.Get(ctx, id.UserID); err == nil {
			rec.RefreshToken = existing.RefreshToken
		}
	}
	if err := l.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store credentials: %w", err)
	}

	return id, nil
}

func (l *Linker) identity(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token) (*Identity, error) {
	if raw, ok := tok.Extra("id_token").(string); ok && raw != "" {
		if id := identityFromIDToken(raw); id != nil {
			return id, nil
		}
	}

	if l.provider == ProviderGoogle {
		opts := []option.ClientOption{option.WithTokenSource(cfg.TokenSource(ctx, tok))}
		if l.userinfoEndpoint != "" {
			opts = append(opts, option.WithEndpoint(l.userinfoEndpoint))
		}
		svc, err := oauth2api.NewService(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create userinfo service: %w", err)
		}
		info, err := svc.Userinfo.Get().Context(ctx).Do()
		if err != nil {
			return nil, &AuthError{Description: "failed to read user info", Err: err}
		}
		if info.Email != "" {
			return &Identity{UserID: strings.ToLower(info.Email), Username: info.Email, Email: info.Email}, nil
		}
	}

	return nil, &AuthError{Description: "identity provider returned no user identity"}
}

// identityFromIDToken reads preferred_username/email from the id_token. The
// token came straight from the token endpoint over TLS, so the signature is
// not re-verified.
func identityFromIDToken(raw string) *Identity {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil
	}

	username, _ := claims["preferred_username"].(string)
	email, _ := claims["email"].(string)
	if username == "" {
		username = email
	}
	if email == "" {
		email = username
	}
	if username == "" {
		return nil
	}
	return &Identity{
		UserID:   strings.ToLower(username),
		Username: username,
		Email:    email,
	}
}
