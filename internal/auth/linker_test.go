package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jun/drivechat/internal/credential"
	"github.com/jun/drivechat/internal/crypto"
	"github.com/jun/drivechat/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("issuer-key"))
	require.NoError(t, err)
	return s
}

func newTestLinker(ts *tokenServer, provider string) (*Linker, *credential.DynamoStore) {
	store := credential.NewDynamoStore(nil, "creds", crypto.NewMockEncryptor())
	return NewLinker(ts.config(), provider, store), store
}

func TestLinker_AuthURL(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, okBody)
	l, _ := newTestLinker(ts, ProviderGraph)

	raw := l.AuthURL("state-1", "http://localhost:3000/callback")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "client", q.Get("client_id"))
	assert.Equal(t, "http://localhost:3000/callback", q.Get("redirect_uri"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Empty(t, l.config.RedirectURL, "shared config must not be mutated")
}

func TestLinker_Link(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, "")
	ts.body = fmt.Sprintf(`{"access_token":"at","token_type":"Bearer","expires_in":1800,"refresh_token":"rt","id_token":%q}`,
		idToken(t, jwt.MapClaims{"preferred_username": "Alice@Contoso.com", "email": "alice@contoso.com"}))
	l, store := newTestLinker(ts, ProviderGraph)
	ctx := context.Background()

	id, err := l.Link(ctx, "auth-code", "http://localhost:3000/callback")
	require.NoError(t, err)
	assert.Equal(t, "alice@contoso.com", id.UserID)
	assert.Equal(t, "Alice@Contoso.com", id.Username)
	assert.Equal(t, "alice@contoso.com", id.Email)

	rec, err := store.Get(ctx, "alice@contoso.com")
	require.NoError(t, err)
	assert.Equal(t, "at", rec.AccessToken)
	assert.Equal(t, "rt", rec.RefreshToken)
	require.NotNil(t, rec.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), *rec.ExpiresAt, time.Minute)
}

func TestLinker_Link_DefaultExpiry(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, "")
	ts.body = fmt.Sprintf(`{"access_token":"at","token_type":"Bearer","refresh_token":"rt","id_token":%q}`,
		idToken(t, jwt.MapClaims{"email": "bob@example.com"}))
	l, store := newTestLinker(ts, ProviderGraph)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	_, err := l.Link(context.Background(), "code", "http://x/cb")
	require.NoError(t, err)

	rec, err := store.Get(context.Background(), "bob@example.com")
	require.NoError(t, err)
	require.NotNil(t, rec.ExpiresAt)
	assert.True(t, rec.ExpiresAt.Equal(now.Add(time.Hour)), "got %v", rec.ExpiresAt)
}

func TestLinker_Link_KeepsExistingRefreshToken(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, "")
	ts.body = fmt.Sprintf(`{"access_token":"at2","token_type":"Bearer","expires_in":3600,"id_token":%q}`,
		idToken(t, jwt.MapClaims{"email": "bob@example.com"}))
	l, store := newTestLinker(ts, ProviderGraph)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &model.CredentialRecord{UserID: "bob@example.com", AccessToken: "at1", RefreshToken: "rt1"}))

	_, err := l.Link(ctx, "code", "http://x/cb")
	require.NoError(t, err)

	rec, _ := store.Get(ctx, "bob@example.com")
	assert.Equal(t, "at2", rec.AccessToken)
	assert.Equal(t, "rt1", rec.RefreshToken)
}

func TestLinker_Link_ProviderError(t *testing.T) {
	ts := newTokenServer(t, http.StatusBadRequest,
		`{"error":"invalid_grant","error_description":"AADSTS54005: OAuth2 Authorization code was already redeemed."}`)
	l, _ := newTestLinker(ts, ProviderGraph)

	_, err := l.Link(context.Background(), "used-code", "http://x/cb")

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Description, "AADSTS54005")
	assert.Equal(t, int32(1), ts.calls.Load())
}

func TestLinker_Link_NoIdentity(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"at","token_type":"Bearer","expires_in":3600}`)
	l, _ := newTestLinker(ts, ProviderGraph)

	_, err := l.Link(context.Background(), "code", "http://x/cb")

	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestLinker_Link_GoogleUserinfoFallback(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"at","token_type":"Bearer","expires_in":3600,"refresh_token":"rt"}`)
	userinfo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1234","email":"Carol@gmail.com"}`))
	}))
	defer userinfo.Close()

	l, store := newTestLinker(ts, ProviderGoogle)
	l.userinfoEndpoint = userinfo.URL + "/"

	id, err := l.Link(context.Background(), "code", "http://x/cb")
	require.NoError(t, err)
	assert.Equal(t, "carol@gmail.com", id.UserID)

	_, err = store.Get(context.Background(), "carol@gmail.com")
	assert.NoError(t, err)
}

func TestIdentityFromIDToken(t *testing.T) {
	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   *Identity
	}{
		{"preferred username", jwt.MapClaims{"preferred_username": "a@b.com"}, &Identity{UserID: "a@b.com", Username: "a@b.com", Email: "a@b.com"}},
		{"email only", jwt.MapClaims{"email": "E@x.io"}, &Identity{UserID: "e@x.io", Username: "E@x.io", Email: "E@x.io"}},
		{"no identity", jwt.MapClaims{"sub": "123"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, identityFromIDToken(idToken(t, tt.claims)))
		})
	}
	assert.Nil(t, identityFromIDToken("not-a-jwt"))
}

func TestNewOAuthConfig(t *testing.T) {
	cfg, err := NewOAuthConfig(OAuthSettings{Provider: ProviderGraph, TenantID: "contoso", ClientID: "c", ClientSecret: "s"})
	require.NoError(t, err)
	assert.Contains(t, cfg.Endpoint.TokenURL, "contoso")
	assert.Contains(t, cfg.Scopes, "offline_access")
	assert.Contains(t, cfg.Scopes, "Files.Read")

	cfg, err = NewOAuthConfig(OAuthSettings{Provider: ProviderGoogle, ClientID: "c"})
	require.NoError(t, err)
	assert.Contains(t, cfg.Endpoint.TokenURL, "google")

	_, err = NewOAuthConfig(OAuthSettings{Provider: "dropbox"})
	assert.Error(t, err)
}
