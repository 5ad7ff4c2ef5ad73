package app

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jun/drivechat/internal/auth"
	"github.com/jun/drivechat/internal/drive"
	"github.com/jun/drivechat/internal/llm"
	"github.com/jun/drivechat/internal/logger"
	"github.com/jun/drivechat/internal/secret"
)

const devJWTSecret = "default-dev-secret"

// Config is the resolved runtime configuration.
type Config struct {
	DevMode bool

	OAuth auth.OAuthSettings
	LLM   llm.Config

	JWTSecret        string
	APIGatewaySecret string

	CredentialsTable string
	LeasesTable      string
	KMSKeyID         string

	FrontendURL      string
	MaxDownloadBytes int64
}

func devMode() bool {
	return os.Getenv("DEV_MODE") == "true"
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// LoadConfig reads the environment and resolves secrets through resolver.
func LoadConfig(ctx context.Context, resolver secret.Resolver) (*Config, error) {
	log := logger.FromContext(ctx)
	cfg := &Config{
		DevMode:          devMode(),
		CredentialsTable: os.Getenv("USER_CREDENTIALS_TABLE"),
		LeasesTable:      os.Getenv("REFRESH_LEASES_TABLE"),
		KMSKeyID:         getenv("KMS_KEY_ID", "alias/drivechat-token-key"),
		FrontendURL:      getenv("FRONTEND_URL", "http://localhost:3000"),
		MaxDownloadBytes: drive.DefaultMaxDownloadBytes,
	}
	if !cfg.DevMode {
		if cfg.CredentialsTable == "" {
			cfg.CredentialsTable = "UserCredentials"
		}
		if cfg.LeasesTable == "" {
			cfg.LeasesTable = "RefreshLeases"
		}
	}

	if v := os.Getenv("MAX_DOWNLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid MAX_DOWNLOAD_BYTES %q", v)
		}
		cfg.MaxDownloadBytes = n
	}

	provider := strings.ToLower(getenv("DRIVE_PROVIDER", auth.ProviderGraph))
	cfg.OAuth = auth.OAuthSettings{Provider: provider}
	switch provider {
	case auth.ProviderGraph:
		cfg.OAuth.TenantID = os.Getenv("MS_TENANT_ID")
		cfg.OAuth.ClientID = os.Getenv("MS_CLIENT_ID")
		cfg.OAuth.ClientSecret = resolveOptional(ctx, resolver, "MS_CLIENT_SECRET_PARAM", "/drivechat/ms-client-secret")
	case auth.ProviderGoogle:
		cfg.OAuth.ClientID = os.Getenv("GOOGLE_CLIENT_ID")
		cfg.OAuth.ClientSecret = resolveOptional(ctx, resolver, "GOOGLE_CLIENT_SECRET_PARAM", "/drivechat/google-client-secret")
	default:
		return nil, fmt.Errorf("unsupported DRIVE_PROVIDER %q", provider)
	}

	cfg.JWTSecret = resolveOptional(ctx, resolver, "JWT_SECRET_PARAM", "/drivechat/jwt-secret")
	if cfg.JWTSecret == "" {
		if !cfg.DevMode {
			return nil, fmt.Errorf("jwt secret is not configured")
		}
		log.Warn("using default JWT secret (DEV_MODE=true)")
		cfg.JWTSecret = devJWTSecret
	}
	cfg.APIGatewaySecret = resolveOptional(ctx, resolver, "API_GATEWAY_SECRET_PARAM", "/drivechat/api-gateway-secret")
	if cfg.APIGatewaySecret == "" && !cfg.DevMode {
		return nil, fmt.Errorf("api gateway origin secret is not configured")
	}

	apiKey, err := resolver.GetSecret(ctx, getenv("LLM_API_KEY_PARAM", "/drivechat/llm-api-key"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve LLM API key: %w", err)
	}
	cfg.LLM = llm.Config{
		Provider:     getenv("LLM_PROVIDER", llm.ProviderGemini),
		Model:        os.Getenv("LLM_MODEL"),
		APIKey:       apiKey,
		BaseURL:      os.Getenv("LLM_BASE_URL"),
		SystemPrompt: os.Getenv("LLM_SYSTEM_PROMPT"),
	}

	return cfg, nil
}

// resolveOptional resolves the parameter named by paramEnv, logging and
// returning "" when it is unavailable.
func resolveOptional(ctx context.Context, resolver secret.Resolver, paramEnv, fallback string) string {
	name := getenv(paramEnv, fallback)
	v, err := resolver.GetSecret(ctx, name)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to resolve secret", "param", name, "error", err)
		return ""
	}
	return v
}
