package app

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/google/uuid"

	"github.com/jun/drivechat/internal/auth"
	"github.com/jun/drivechat/internal/chat"
	"github.com/jun/drivechat/internal/credential"
	"github.com/jun/drivechat/internal/crypto"
	"github.com/jun/drivechat/internal/drive"
	"github.com/jun/drivechat/internal/drive/googledrive"
	"github.com/jun/drivechat/internal/drive/graph"
	"github.com/jun/drivechat/internal/handler"
	"github.com/jun/drivechat/internal/llm"
	"github.com/jun/drivechat/internal/logger"
	"github.com/jun/drivechat/internal/markdown"
	"github.com/jun/drivechat/internal/normalize"
	"github.com/jun/drivechat/internal/secret"
	"github.com/jun/drivechat/internal/session"
)

// Clients are the AWS service clients the app persists through. A nil
// client selects the in-memory or mock variant.
type Clients struct {
	Dynamo *dynamodb.Client
	KMS    crypto.KMSAPI
}

// App holds the dependencies for the Lambda function.
type App struct {
	authHandler      *handler.AuthHandler
	chatHandler      *handler.ChatHandler
	devMode          bool
	apiGatewaySecret string
	frontendURL      string
}

// NewApp loads the AWS SDK config and runtime configuration and wires the app.
func NewApp(ctx context.Context) (*App, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	log := logger.FromContext(ctx)
	var resolver secret.Resolver
	if devMode() {
		resolver = secret.NewEnvResolver()
		log.Info("using EnvResolver (DEV_MODE=true)")
	} else {
		resolver = secret.NewSSMResolver(ssm.NewFromConfig(awsCfg))
		log.Info("using SSMResolver (SSM Parameter Store)")
	}

	cfg, err := LoadConfig(ctx, secret.NewCachedResolver(resolver))
	if err != nil {
		return nil, err
	}

	var clients Clients
	if cfg.CredentialsTable != "" || cfg.LeasesTable != "" {
		clients.Dynamo = dynamodb.NewFromConfig(awsCfg)
	}
	if !cfg.DevMode {
		clients.KMS = kms.NewFromConfig(awsCfg)
	}
	return Build(ctx, cfg, clients)
}

// Build wires the app from a resolved configuration.
func Build(ctx context.Context, cfg *Config, clients Clients) (*App, error) {
	log := logger.FromContext(ctx)

	var enc crypto.Encryptor
	if clients.KMS == nil {
		enc = crypto.NewMockEncryptor()
		log.Info("using MockEncryptor")
	} else {
		enc = crypto.NewKMSService(clients.KMS, cfg.KMSKeyID)
	}

	var store credential.Store
	if clients.Dynamo != nil && cfg.CredentialsTable != "" {
		store = credential.NewDynamoStore(clients.Dynamo, cfg.CredentialsTable, enc)
	} else {
		store = credential.NewDynamoStore(nil, "", enc)
		log.Info("using in-memory credential store")
	}

	var locker session.Locker
	if clients.Dynamo != nil && cfg.LeasesTable != "" {
		locker = session.NewDynamoLocker(clients.Dynamo, cfg.LeasesTable)
	} else {
		locker = session.NewMemoryLocker()
	}

	if !cfg.DevMode && cfg.APIGatewaySecret == "" {
		return nil, fmt.Errorf("api gateway origin secret is not configured")
	}

	oauthCfg, err := auth.NewOAuthConfig(cfg.OAuth)
	if err != nil {
		return nil, err
	}
	refresher := auth.NewRefresher(store, &auth.OAuthExchanger{Config: oauthCfg}, auth.WithLocker(locker))
	linker := auth.NewLinker(oauthCfg, cfg.OAuth.Provider, store)

	var drives drive.Provider
	switch cfg.OAuth.Provider {
	case auth.ProviderGoogle:
		drives = googledrive.NewProvider(refresher, cfg.MaxDownloadBytes)
	default:
		drives = graph.NewProvider(refresher, graph.WithMaxDownloadBytes(cfg.MaxDownloadBytes))
	}

	backend, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, err
	}
	svc := chat.NewService(drives, normalize.New(), backend)

	log.Info("app configured",
		"drive_provider", cfg.OAuth.Provider,
		"llm_provider", cfg.LLM.Provider,
		"dev_mode", cfg.DevMode,
	)

	return &App{
		authHandler:      handler.NewAuthHandler(linker, store, cfg.JWTSecret, cfg.DevMode),
		chatHandler:      handler.NewChatHandler(svc, drives, markdown.NewRenderer(), cfg.JWTSecret),
		devMode:          cfg.DevMode,
		apiGatewaySecret: cfg.APIGatewaySecret,
		frontendURL:      cfg.FrontendURL,
	}, nil
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	requestID := req.RequestContext.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx = logger.WithRequestID(ctx, requestID)
	log := logger.FromContext(ctx)

	start := time.Now()
	resp := app.route(ctx, req)
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["X-Request-Id"] = requestID

	log.Info("request",
		"method", req.HTTPMethod,
		"path", req.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return app.corsResponse(resp), nil
}

func (app *App) route(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	method := req.HTTPMethod

	if method == http.MethodOptions {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}
	}

	// Requests must come through CloudFront, which adds the origin secret.
	if !app.devMode {
		got := handler.Header(req, "X-Origin-Verify")
		if app.apiGatewaySecret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(app.apiGatewaySecret)) != 1 {
			logger.FromContext(ctx).Warn("missing or invalid X-Origin-Verify header")
			return events.APIGatewayProxyResponse{
				StatusCode: http.StatusForbidden,
				Body:       "Forbidden: Access denied",
			}
		}
	}

	// Strip /api prefix if present (for CloudFront proxying)
	path := strings.TrimPrefix(req.Path, "/api")
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}

	switch {
	case path == "/chat/message" && method == http.MethodPost:
		return must(ctx)(app.chatHandler.SendMessage(ctx, req))
	case path == "/chat/stream" && method == http.MethodPost:
		return must(ctx)(app.chatHandler.StreamMessage(ctx, req))
	case (path == "/chat/files" || path == "/chat/sharepoint/files") && method == http.MethodGet:
		return must(ctx)(app.chatHandler.ListFiles(ctx, req))
	case path == "/auth/ms-url" && method == http.MethodGet:
		return must(ctx)(app.authHandler.LoginURL(ctx, req))
	case path == "/auth/callback" && method == http.MethodPost:
		return must(ctx)(app.authHandler.Callback(ctx, req))
	case path == "/auth/user" && method == http.MethodGet:
		return must(ctx)(app.authHandler.GetUser(ctx, req))
	case path == "/auth/drive" && method == http.MethodDelete:
		return must(ctx)(app.authHandler.UnlinkDrive(ctx, req))
	case path == "/auth/logout" && method == http.MethodPost:
		return must(ctx)(app.authHandler.Logout(ctx, req))
	}

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusNotFound,
		Body:       fmt.Sprintf("Not Found: %s %s", method, path),
	}
}

// corsResponse adds CORS headers to an API Gateway response.
func (app *App) corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = app.frontendURL
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,DELETE,OPTIONS"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	return resp
}

// must unwraps a handler response, turning a returned error into a 500.
func must(ctx context.Context) func(events.APIGatewayProxyResponse, error) events.APIGatewayProxyResponse {
	return func(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
		if err != nil {
			logger.FromContext(ctx).Error("handler error", "error", err)
			return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
		}
		return resp
	}
}
