package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jun/drivechat/internal/auth"
	"github.com/jun/drivechat/internal/credential"
	"github.com/jun/drivechat/internal/logger"
)

const (
	sessionTTL = 24 * time.Hour

	stateCookie = "oauth_state"
	stateTTL    = 10 * time.Minute
)

// AccountLinker runs the OAuth authorization-code flow for a drive account.
type AccountLinker interface {
	AuthURL(state, redirectURI string) string
	Link(ctx context.Context, code, redirectURI string) (*auth.Identity, error)
}

// AuthHandler handles drive linking and session requests.
type AuthHandler struct {
	linker    AccountLinker
	store     credential.Store
	jwtSecret string
	devMode   bool
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(linker AccountLinker, store credential.Store, jwtSecret string, devMode bool) *AuthHandler {
	return &AuthHandler{linker: linker, store: store, jwtSecret: jwtSecret, devMode: devMode}
}

// LoginURL returns the provider authorization URL for the given redirect.
func (h *AuthHandler) LoginURL(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	redirectURI := req.QueryStringParameters["redirect_uri"]
	if redirectURI == "" {
		return errorResponse(http.StatusBadRequest, "redirect_uri is required"), nil
	}

	// The state is bound to this browser by cookie; the callback must echo
	// it back before the code is exchanged.
	state := uuid.NewString()
	resp := jsonResponse(http.StatusOK, map[string]string{
		"url":   h.linker.AuthURL(state, redirectURI),
		"state": state,
	})
	resp.MultiValueHeaders = map[string][]string{
		"Set-Cookie": {h.cookie(stateCookie, state, int(stateTTL.Seconds()))},
	}
	return resp, nil
}

type callbackRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
	State       string `json:"state"`
}

// Callback exchanges the authorization code, stores the drive credentials
// and starts a session.
func (h *AuthHandler) Callback(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var body callbackRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return errorResponse(http.StatusBadRequest, "Invalid request body"), nil
	}
	if body.Code == "" || body.RedirectURI == "" {
		return errorResponse(http.StatusBadRequest, "code and redirect_uri are required"), nil
	}
	expected := cookieValue(req, stateCookie)
	if body.State == "" || expected == "" || subtle.ConstantTimeCompare([]byte(body.State), []byte(expected)) != 1 {
		logger.FromContext(ctx).Warn("oauth state mismatch")
		return errorResponse(http.StatusBadRequest, "Invalid OAuth state"), nil
	}

	id, err := h.linker.Link(ctx, body.Code, body.RedirectURI)
	if err != nil {
		var aErr *auth.AuthError
		if errors.As(err, &aErr) {
			logger.FromContext(ctx).Warn("drive link rejected", "error", err)
			msg := aErr.Description
			if msg == "" {
				msg = aErr.Error()
			}
			return errorResponse(http.StatusBadRequest, msg), nil
		}
		return failure(ctx, "link drive", err), nil
	}
	ctx = logger.WithUserID(ctx, id.UserID)

	claims := jwt.MapClaims{
		"sub":   id.UserID,
		"email": id.Email,
		"name":  id.Username,
		"exp":   time.Now().Add(sessionTTL).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(h.jwtSecret))
	if err != nil {
		return failure(ctx, "sign session", err), nil
	}
	logger.FromContext(ctx).Info("drive linked")

	resp := jsonResponse(http.StatusOK, map[string]string{
		"token":    signed,
		"username": id.Username,
		"email":    id.Email,
	})
	resp.MultiValueHeaders = map[string][]string{
		"Set-Cookie": {
			h.cookie(sessionCookie, signed, int(sessionTTL.Seconds())),
			h.cookie(stateCookie, "", -1),
		},
	}
	return resp, nil
}

// cookie builds an HttpOnly cookie. Production serves the frontend from a
// different origin, which needs SameSite=None.
func (h *AuthHandler) cookie(name, value string, maxAge int) string {
	sameSite := "None"
	if h.devMode {
		sameSite = "Lax"
	}
	return fmt.Sprintf("%s=%s; HttpOnly; Path=/; Max-Age=%d; SameSite=%s; Secure", name, value, maxAge, sameSite)
}

// GetUser reports the session user and whether a drive is linked.
func (h *AuthHandler) GetUser(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized(), nil
	}
	ctx = logger.WithUserID(ctx, userID)

	resp := map[string]any{"id": userID, "drive_linked": false}
	rec, err := h.store.Get(ctx, userID)
	switch {
	case errors.Is(err, credential.ErrNotFound):
	case err != nil:
		return failure(ctx, "get user", err), nil
	default:
		resp["drive_linked"] = true
		if rec.ExpiresAt != nil {
			resp["expires_at"] = rec.ExpiresAt.UTC().Format(time.RFC3339)
		}
	}
	return jsonResponse(http.StatusOK, resp), nil
}

// UnlinkDrive deletes the stored drive credentials.
func (h *AuthHandler) UnlinkDrive(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized(), nil
	}
	ctx = logger.WithUserID(ctx, userID)

	if err := h.store.Delete(ctx, userID); err != nil {
		return failure(ctx, "unlink drive", err), nil
	}
	logger.FromContext(ctx).Info("drive unlinked")
	return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}, nil
}

// Logout clears the session cookie.
func (h *AuthHandler) Logout(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Body:       `{"message":"Logged out"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
		MultiValueHeaders: map[string][]string{
			"Set-Cookie": {h.cookie(sessionCookie, "", -1)},
		},
	}, nil
}
