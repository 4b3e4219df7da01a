package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dashboard-gateway/pkg/adapters/warehouse"
	_ "github.com/ekaya-inc/dashboard-gateway/pkg/adapters/warehouse/bigquery"
	_ "github.com/ekaya-inc/dashboard-gateway/pkg/adapters/warehouse/mssql"
	_ "github.com/ekaya-inc/dashboard-gateway/pkg/adapters/warehouse/postgres"
	"github.com/ekaya-inc/dashboard-gateway/pkg/audit"
	"github.com/ekaya-inc/dashboard-gateway/pkg/auth"
	"github.com/ekaya-inc/dashboard-gateway/pkg/cache"
	"github.com/ekaya-inc/dashboard-gateway/pkg/catalog"
	"github.com/ekaya-inc/dashboard-gateway/pkg/config"
	"github.com/ekaya-inc/dashboard-gateway/pkg/database"
	"github.com/ekaya-inc/dashboard-gateway/pkg/handlers"
	"github.com/ekaya-inc/dashboard-gateway/pkg/llm"
	"github.com/ekaya-inc/dashboard-gateway/pkg/mcp"
	"github.com/ekaya-inc/dashboard-gateway/pkg/middleware"
	"github.com/ekaya-inc/dashboard-gateway/pkg/repositories"
	"github.com/ekaya-inc/dashboard-gateway/pkg/services"
	"github.com/ekaya-inc/dashboard-gateway/pkg/share"
	"github.com/ekaya-inc/dashboard-gateway/pkg/sql"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("warehouse", cfg.Warehouse.Type),
		zap.String("cache", cfg.Cache.Backend),
		zap.Bool("auth", cfg.Auth.Enabled),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.Bool("history_db", cfg.Database.Enabled()),
		zap.Bool("llm", cfg.LLM.IsAvailable()),
		zap.Bool("share", cfg.Share.Enabled()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	executor, err := warehouse.New(ctx, &warehouse.Config{
		Type:            cfg.Warehouse.Type,
		Project:         cfg.Warehouse.Project,
		Location:        cfg.Warehouse.Location,
		CredentialsFile: cfg.Warehouse.CredentialsFile,
		MaxBytesBilled:  cfg.Warehouse.MaxBytesBilled,
		DSN:             cfg.Warehouse.DSN,
		Host:            cfg.Warehouse.Host,
		Port:            cfg.Warehouse.Port,
		User:            cfg.Warehouse.User,
		Password:        cfg.Warehouse.Password,
		Database:        cfg.Warehouse.Database,
		SSLMode:         cfg.Warehouse.SSLMode,
		MaxConns:        cfg.Warehouse.MaxConns,
		MaxRows:         cfg.Warehouse.MaxRows,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to warehouse: %w", err)
	}
	defer func() { _ = executor.Close() }()

	if cat.Dialect != "" && cat.Dialect != executor.Dialect() {
		return fmt.Errorf("catalog is written for %s but the warehouse is %s", cat.Dialect, executor.Dialect())
	}

	builder := sql.NewBuilder()
	if err := cat.Register(builder); err != nil {
		return fmt.Errorf("failed to register report templates: %w", err)
	}

	allowed := cfg.Access.AllowedRelations
	if len(allowed) == 0 {
		allowed = cat.TableNames()
	}
	validator, err := sql.NewAccessValidator(sql.AccessPolicy{
		Dialect:           executor.Dialect(),
		AllowedRelations:  allowed,
		DefaultQualifier:  cfg.Access.DefaultQualifier,
		ForbiddenKeywords: cfg.Access.ForbiddenKeywords,
	})
	if err != nil {
		return fmt.Errorf("failed to build access policy: %w", err)
	}

	store, closeStore, err := newCacheStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	gateway := services.NewGateway(
		builder,
		validator,
		cache.NewResultCache(store, cache.SystemClock{}, logger),
		executor,
		audit.NewSecurityAuditor(logger),
		services.GatewayConfig{
			QueryTimeout:      cfg.Warehouse.QueryTimeout,
			CandidateRowLimit: cfg.Warehouse.CandidateRowLimit,
		},
		logger,
	)

	repo, closeRepo, err := newConversationRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	sink, closeSink, err := newShareSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	mux := http.NewServeMux()

	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewReportsHandler(cat, gateway, logger).RegisterRoutes(mux)

	if cfg.LLM.IsAvailable() {
		model, err := llm.NewChatModel(
			llm.Config{
				Provider: cfg.LLM.Provider,
				Endpoint: cfg.LLM.Endpoint,
				Model:    cfg.LLM.Model,
				APIKey:   cfg.LLM.APIKey,
			},
			llm.CircuitBreakerConfig{
				Threshold:  cfg.LLM.BreakerThreshold,
				ResetAfter: cfg.LLM.BreakerResetAfter,
			},
			logger,
		)
		if err != nil {
			return fmt.Errorf("failed to create chat model: %w", err)
		}

		chat := services.NewChatService(model, gateway, cat, repo, services.ChatConfig{
			MaxRejections:     cfg.Chat.MaxRejections,
			MaxToolIterations: cfg.Chat.MaxToolIterations,
			MaxResultRows:     cfg.Chat.MaxResultRows,
			MaxHistory:        cfg.Chat.MaxHistory,
			Temperature:       cfg.LLM.Temperature,
			MaxTokens:         cfg.LLM.MaxTokens,
		}, logger)
		reports := services.NewAIReportService(chat, repo, sink, logger)
		handlers.NewAIReportsHandler(chat, reports, logger).RegisterRoutes(mux)
	} else {
		logger.Warn("LLM is not configured; AI report routes are disabled")
	}

	if cfg.MCP.Enabled {
		mcpServer := mcp.NewServer(handlers.ServiceName, cfg.Version, logger)
		mcpServer.RegisterGatewayTools(handlers.ServiceName, cfg.Version, mcp.Deps{
			Catalog:       cat,
			Reports:       gateway,
			SQL:           gateway,
			MaxResultRows: cfg.Chat.MaxResultRows,
		})
		handlers.NewMCPHandler(mcpServer, logger).RegisterRoutes(mux)
	}

	authMiddleware, closeAuth, err := newAuthMiddleware(cfg, logger)
	if err != nil {
		return err
	}
	defer closeAuth()

	var handler http.Handler = mux
	if authMiddleware != nil {
		handler = authMiddleware.Handler(handler)
	} else {
		logger.Warn("Authentication is disabled; every route is public")
	}
	handler = middleware.Chain(handler,
		middleware.Recover(logger),
		middleware.RequestLogger(logger),
		cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "If-None-Match", "Mcp-Session-Id"},
			ExposedHeaders:   []string{"ETag", "X-Cache", "X-Result-Truncated"},
			AllowCredentials: false,
			MaxAge:           300,
		}),
	)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Report queries can run for the full warehouse timeout.
		WriteTimeout: cfg.Warehouse.QueryTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting dashboard-gateway",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version),
			zap.Int("reports", len(cat.Endpoints)))

		var err error
		if cfg.TLSCertPath != "" {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// newCacheStore returns the result cache backend named by cache.backend.
func newCacheStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Store, func(), error) {
	if cfg.Cache.Backend == "redis" {
		client, err := database.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		if client == nil {
			return nil, nil, errors.New("cache.backend is redis but redis.host is empty")
		}
		logger.Info("Using Redis result cache", zap.String("host", cfg.Redis.Host))
		return cache.NewRedisStore(client, cfg.Cache.KeyPrefix), func() { _ = client.Close() }, nil
	}

	store, err := cache.NewMemoryStore(cfg.Cache.MaxEntries)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create result cache: %w", err)
	}
	return store, func() {}, nil
}

// newConversationRepository stores chat history in Postgres when a history
// database is configured and in memory otherwise.
func newConversationRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.ConversationRepository, func(), error) {
	if !cfg.Database.Enabled() {
		logger.Warn("No history database configured; chat history is kept in memory")
		return repositories.NewMemoryConversationRepository(), func() {}, nil
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to history database: %w", err)
	}
	if err := database.RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return repositories.NewConversationRepository(db), db.Close, nil
}

func newShareSink(ctx context.Context, cfg *config.Config, logger *zap.Logger) (share.Sink, func(), error) {
	if !cfg.Share.Enabled() {
		return share.Disabled{}, func() {}, nil
	}
	sink, err := share.NewGCSSink(ctx, share.GCSConfig{
		Bucket:          cfg.Share.Bucket,
		Prefix:          cfg.Share.Prefix,
		CredentialsFile: cfg.Share.CredentialsFile,
		Expiry:          cfg.Share.Expiry,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create share sink: %w", err)
	}
	return sink, func() { _ = sink.Close() }, nil
}

// newAuthMiddleware returns nil when authentication is disabled.
func newAuthMiddleware(cfg *config.Config, logger *zap.Logger) (*auth.Middleware, func(), error) {
	if !cfg.Auth.Enabled {
		return nil, func() {}, nil
	}

	jwksClient, err := auth.NewJWKSClient(auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSURL:            cfg.Auth.JWKSURL,
		Audience:           cfg.Auth.ClientID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create JWKS client: %w", err)
	}

	authService := auth.NewAuthService(jwksClient, cfg.Auth.AllowedEmails, logger)
	return auth.NewMiddleware(authService, []string{"/", "/ping"}, logger), jwksClient.Close, nil
}
