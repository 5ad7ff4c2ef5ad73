package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jun/drivechat/internal/credential"
	"github.com/jun/drivechat/internal/logger"
	"github.com/jun/drivechat/internal/model"
	"github.com/jun/drivechat/internal/session"
	"golang.org/x/oauth2"
)

// DefaultSkew is how long before expiry an access token is considered stale.
const DefaultSkew = 5 * time.Minute

// TokenExchanger trades a refresh token for a new token set.
type TokenExchanger interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// OAuthExchanger performs the refresh_token grant against an OAuth2 token endpoint.
type OAuthExchanger struct {
	Config *oauth2.Config
}

// Refresh performs exactly one token request.
func (e *OAuthExchanger) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return e.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

// Refresher hands out usable access tokens, refreshing and persisting them
// when they are about to expire.
type Refresher struct {
	store     credential.Store
	exchanger TokenExchanger
	locker    session.Locker
	skew      time.Duration
	now       func() time.Time

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithSkew overrides DefaultSkew.
func WithSkew(d time.Duration) RefresherOption {
	return func(r *Refresher) { r.skew = d }
}

// WithLocker serializes refreshes across processes with a lease.
func WithLocker(l session.Locker) RefresherOption {
	return func(r *Refresher) { r.locker = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RefresherOption {
	return func(r *Refresher) { r.now = now }
}

// NewRefresher creates a Refresher.
func NewRefresher(store credential.Store, exchanger TokenExchanger, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		store:     store,
		exchanger: exchanger,
		skew:      DefaultSkew,
		now:       time.Now,
		userLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Refresher) userLock(userID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		r.userLocks[userID] = l
	}
	return l
}

// ValidToken returns an access token for rec that stays valid for at least
// the configured skew. When a refresh is needed, rec is updated in place and
// persisted. On failure rec is left untouched and an *AuthError is returned,
// or ErrRefreshInProgress when another process is refreshing the same user.
func (r *Refresher) ValidToken(ctx context.Context, rec *model.CredentialRecord) (string, error) {
	if !rec.ExpiresWithin(r.now(), r.skew) {
		return rec.AccessToken, nil
	}

	l := r.userLock(rec.UserID)
	l.Lock()
	defer l.Unlock()

	// A concurrent request may have refreshed while we waited.
	if r.reuseStored(ctx, rec) {
		return rec.AccessToken, nil
	}

	if r.locker != nil {
		key := "refresh:" + rec.UserID
		owner := uuid.NewString()
		if _, err := r.locker.Acquire(ctx, key, owner); err != nil {
			if errors.Is(err, session.ErrLocked) {
				return "", fmt.Errorf("user %s: %w", rec.UserID, ErrRefreshInProgress)
			}
			return "", fmt.Errorf("failed to acquire refresh lease: %w", err)
		}
		defer func() {
			if err := r.locker.Release(context.WithoutCancel(ctx), key, owner); err != nil {
				logger.FromContext(ctx).Warn("failed to release refresh lease", "error", err)
			}
		}()

		// The previous lease holder may have finished a refresh.
		if r.reuseStored(ctx, rec) {
			return rec.AccessToken, nil
		}
	}

	return r.refresh(ctx, rec)
}

// reuseStored copies the stored record into rec when it is still fresh.
func (r *Refresher) reuseStored(ctx context.Context, rec *model.CredentialRecord) bool {
	stored, err := r.store.Get(ctx, rec.UserID)
	if err != nil || stored.ExpiresWithin(r.now(), r.skew) {
		return false
	}
	*rec = *stored
	return true
}

func (r *Refresher) refresh(ctx context.Context, rec *model.CredentialRecord) (string, error) {
	if rec.RefreshToken == "" {
		return "", &AuthError{Description: ErrNoRefreshToken.Error(), Err: ErrNoRefreshToken}
	}

	tok, err := r.exchanger.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		desc := err.Error()
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			switch {
			case re.ErrorDescription != "":
				desc = re.ErrorDescription
			case re.ErrorCode != "":
				desc = re.ErrorCode
			}
		}
		logger.FromContext(ctx).Warn("token refresh rejected", "user_id", rec.UserID, "error", desc)
		return "", &AuthError{Description: desc, Err: err}
	}

	updated := *rec
	updated.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		updated.RefreshToken = tok.RefreshToken
	}
	updated.ExpiresAt = nil
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		updated.ExpiresAt = &exp
	}

	if err := r.store.Put(ctx, &updated); err != nil {
		return "", fmt.Errorf("failed to persist refreshed credentials: %w", err)
	}

	*rec = updated
	logger.FromContext(ctx).Info("access token refreshed", "user_id", rec.UserID)
	return rec.AccessToken, nil
}

// ValidTokenForUser loads the user's record and returns a valid access token.
func (r *Refresher) ValidTokenForUser(ctx context.Context, userID string) (string, error) {
	rec, err := r.validRecord(ctx, userID)
	if err != nil {
		return "", err
	}
	return rec.AccessToken, nil
}

func (r *Refresher) validRecord(ctx context.Context, userID string) (*model.CredentialRecord, error) {
	rec, err := r.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, &AuthError{Description: ErrNotLinked.Error(), Err: ErrNotLinked}
		}
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	if _, err := r.ValidToken(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// TokenSource adapts the refresher for SDK clients that take an oauth2.TokenSource.
func (r *Refresher) TokenSource(ctx context.Context, userID string) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &refresherSource{ctx: ctx, r: r, userID: userID})
}

type refresherSource struct {
	ctx    context.Context
	r      *Refresher
	userID string
}

func (s *refresherSource) Token() (*oauth2.Token, error) {
	rec, err := s.r.validRecord(s.ctx, s.userID)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{AccessToken: rec.AccessToken, TokenType: "Bearer"}
	if rec.ExpiresAt != nil {
		// Hand the SDK the same skew so it re-asks before we would refresh.
		tok.Expiry = rec.ExpiresAt.Add(-s.r.skew)
	}
	return tok, nil
}
