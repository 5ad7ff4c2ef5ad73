package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jun/drivechat/internal/auth"
	"github.com/jun/drivechat/internal/chat"
	"github.com/jun/drivechat/internal/logger"
)

const sessionCookie = "session_token"

// GetUserID extracts the user ID from the Authorization header or session cookie.
func GetUserID(req events.APIGatewayProxyRequest, jwtSecret string) (string, error) {
	tokenString := ""
	authHeader := Header(req, "Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		tokenString = strings.TrimPrefix(authHeader, "Bearer ")
	}

	if tokenString == "" {
		tokenString = cookieValue(req, sessionCookie)
	}

	if tokenString == "" {
		return "", fmt.Errorf("no authorization token found")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			return sub, nil
		}
	}

	return "", fmt.Errorf("invalid token claims")
}

// Header is a case-insensitive lookup; API Gateway preserves client casing.
func Header(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// cookieValue returns the named cookie from a "a=1; b=2" Cookie header.
func cookieValue(req events.APIGatewayProxyRequest, name string) string {
	for _, part := range strings.Split(Header(req, "Cookie"), ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, name+"=") {
			return strings.TrimPrefix(part, name+"=")
		}
	}
	return ""
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"failed to encode response"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

func errorResponse(status int, msg string) events.APIGatewayProxyResponse {
	return jsonResponse(status, map[string]string{"error": msg})
}

func unauthorized() events.APIGatewayProxyResponse {
	return errorResponse(http.StatusUnauthorized, "Unauthorized")
}

// statusFor classifies an error from the chat pipeline.
func statusFor(err error) int {
	var vErr *chat.ValidationError
	var aErr *auth.AuthError
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrRefreshInProgress):
		return http.StatusServiceUnavailable
	case errors.As(err, &aErr):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// failure logs err and maps it to a JSON error response.
func failure(ctx context.Context, op string, err error) events.APIGatewayProxyResponse {
	status := statusFor(err)
	log := logger.FromContext(ctx)
	if status == http.StatusInternalServerError {
		log.Error(op+" failed", "error", err)
		return errorResponse(status, fmt.Sprintf("%s failed: %v", op, err))
	}
	log.Warn(op+" rejected", "status", status, "error", err)
	if status == http.StatusServiceUnavailable {
		resp := errorResponse(status, "Drive token refresh in progress, retry shortly")
		resp.Headers["Retry-After"] = "1"
		return resp
	}
	var vErr *chat.ValidationError
	if errors.As(err, &vErr) {
		return errorResponse(status, vErr.Message)
	}
	return errorResponse(status, err.Error())
}
