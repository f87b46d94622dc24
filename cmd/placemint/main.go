package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sponsorlabs/placemint/internal/analytics"
	"github.com/sponsorlabs/placemint/internal/audit"
	"github.com/sponsorlabs/placemint/internal/auth"
	"github.com/sponsorlabs/placemint/internal/config"
	"github.com/sponsorlabs/placemint/internal/embedding"
	"github.com/sponsorlabs/placemint/internal/index"
	"github.com/sponsorlabs/placemint/internal/ingest"
	"github.com/sponsorlabs/placemint/internal/match"
	"github.com/sponsorlabs/placemint/internal/mcp"
	"github.com/sponsorlabs/placemint/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("PLACEMINT_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	// stdout carries the MCP stdio transport; logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("placemint starting", "version", version, "mode", cfg.Mode)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	embedder := embedding.NewCachedProvider(
		newEmbeddingProvider(cfg, logger),
		cfg.EmbeddingModel,
		cfg.EmbeddingCacheSize,
	)

	idx, err := index.NewQdrantIndex(index.QdrantConfig{
		URL:        cfg.QdrantURL,
		APIKey:     cfg.QdrantAPIKey,
		Collection: cfg.QdrantCollection,
		Namespace:  cfg.CreativeIDNamespace,
	}, logger)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	defer func() { _ = idx.Close() }()

	var store *analytics.Store
	if cfg.AnalyticsDBPath != "" {
		store, err = analytics.Open(cfg.AnalyticsDBPath)
		if err != nil {
			return fmt.Errorf("analytics: %w", err)
		}
		defer func() { _ = store.Close() }()
		logger.Info("analytics: enabled", "path", cfg.AnalyticsDBPath)
	} else {
		logger.Info("analytics: disabled (pacing and reporting off)")
	}

	traces := audit.NewStore(audit.DefaultCapacity)

	deps := mcp.Deps{
		Index:      idx,
		Analytics:  store,
		Audit:      traces,
		EmbedStats: embedder.Stats,
		Logger:     logger,
		MaxTopK:    cfg.MaxTopK,
	}

	var srv *mcp.Server
	switch cfg.Mode {
	case "studio":
		scope, err := studioScope(cfg)
		if err != nil {
			return err
		}
		deps.Ingest = ingest.NewService(idx, embedder, logger, ingest.Options{
			MaxBatchSize:  cfg.MaxBatchSize,
			ModelID:       cfg.EmbeddingModel,
			SchemaVersion: "v1",
		})
		srv = mcp.NewStudioServer(deps, scope)

	default: // engine
		var matchAnalytics match.AnalyticsStore
		if store != nil {
			matchAnalytics = store
		}
		svc := match.NewService(match.Deps{
			Embedder:  embedder,
			Index:     idx,
			Analytics: matchAnalytics,
			Audit:     traces,
			Logger:    logger,
		}, match.Options{
			MaxTopK:        cfg.MaxTopK,
			RequestTimeout: cfg.RequestTimeout,
			DefaultCPM:     cfg.DefaultCPM,
		})
		deps.Matcher = match.NewCachedService(svc, cfg.ResultCacheSize)
		srv = mcp.NewEngineServer(deps, auth.ScopeEngine)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ServeStdio()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("mcp serve: %w", err)
		}
	}

	slog.Info("placemint stopped")
	return nil
}

// studioScope grants the studio scope from either a signed studio token
// (hosts fronting the studio remotely) or the shared operator key.
func studioScope(cfg config.Config) (auth.Scope, error) {
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath)
	if err != nil {
		return "", err
	}
	return auth.StudioAccess(
		jwtMgr,
		os.Getenv("PLACEMINT_STUDIO_TOKEN"),
		os.Getenv("PLACEMINT_STUDIO_KEY"),
		cfg.StudioKeyHash,
		cfg.RequireStudioKey,
	)
}

// newEmbeddingProvider selects a provider: "ollama", "openai", "noop", or
// "auto" (default). Auto prefers Ollama if reachable, then OpenAI if a key
// is present, else noop.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when PLACEMINT_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)

	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)

	case "noop":
		logger.Info("embedding provider: noop (semantic matching disabled)")
		return embedding.NewNoopProvider(dims)

	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		}
		logger.Warn("no embedding provider available, using noop (semantic matching disabled)")
		return embedding.NewNoopProvider(dims)
	}
}

// ollamaReachable checks if an Ollama server is responding.
func ollamaReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
