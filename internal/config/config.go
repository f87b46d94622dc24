// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Config holds all application configuration.
type Config struct {
	// Mode selects the tool surface: "engine" (matching, read-only) or
	// "studio" (catalog administration).
	Mode string

	// Qdrant settings.
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string
	// CreativeIDNamespace seeds deterministic point ids so re-upserts
	// of the same creative overwrite instead of duplicating.
	CreativeIDNamespace uuid.UUID

	// Embedding provider settings.
	EmbeddingProvider   string // "auto", "openai", "ollama", or "noop"
	OpenAIAPIKey        string
	EmbeddingModel      string
	EmbeddingDimensions int // Vector dimensions; must match the chosen model's output.
	OllamaURL           string
	OllamaModel         string
	EmbeddingCacheSize  int

	// Analytics settings.
	AnalyticsDBPath string // SQLite file; empty disables pacing and reporting.

	// Matching limits.
	MaxTopK         int
	MaxBatchSize    int
	RequestTimeout  time.Duration
	DefaultCPM      float64
	ResultCacheSize int

	// JWT settings.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.

	// Studio access.
	StudioKeyHash    string // argon2id hash; empty disables key checks.
	RequireStudioKey bool

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Mode:                envStr("PLACEMINT_MODE", "engine"),
		QdrantURL:           envStr("QDRANT_URL", "http://localhost:6334"),
		QdrantAPIKey:        envStr("QDRANT_API_KEY", ""),
		QdrantCollection:    envStr("PLACEMINT_COLLECTION", "creatives"),
		EmbeddingProvider:   envStr("PLACEMINT_EMBEDDING_PROVIDER", "auto"),
		OpenAIAPIKey:        envStr("OPENAI_API_KEY", ""),
		EmbeddingModel:      envStr("PLACEMINT_EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: envInt("PLACEMINT_EMBEDDING_DIMENSIONS", 1536),
		OllamaURL:           envStr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:         envStr("OLLAMA_MODEL", "mxbai-embed-large"),
		EmbeddingCacheSize:  envInt("PLACEMINT_EMBEDDING_CACHE_SIZE", 500),
		AnalyticsDBPath:     envStr("PLACEMINT_ANALYTICS_DB", "placemint.db"),
		MaxTopK:             envInt("PLACEMINT_MAX_TOP_K", 100),
		MaxBatchSize:        envInt("PLACEMINT_MAX_BATCH_SIZE", 500),
		RequestTimeout:      envDuration("PLACEMINT_REQUEST_TIMEOUT", 10*time.Second),
		DefaultCPM:          envFloat("PLACEMINT_DEFAULT_CPM", 10.0),
		ResultCacheSize:     envInt("PLACEMINT_RESULT_CACHE_SIZE", 100),
		JWTPrivateKeyPath:   envStr("PLACEMINT_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:    envStr("PLACEMINT_JWT_PUBLIC_KEY", ""),
		StudioKeyHash:       envStr("PLACEMINT_STUDIO_KEY_HASH", ""),
		RequireStudioKey:    envBool("PLACEMINT_REQUIRE_STUDIO_KEY", false),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "placemint"),
		LogLevel:            envStr("PLACEMINT_LOG_LEVEL", "info"),
	}

	ns := envStr("PLACEMINT_CREATIVE_NAMESPACE", "")
	if ns == "" {
		cfg.CreativeIDNamespace = uuid.NameSpaceOID
	} else {
		parsed, err := uuid.Parse(ns)
		if err != nil {
			return Config{}, fmt.Errorf("config: PLACEMINT_CREATIVE_NAMESPACE is not a UUID: %w", err)
		}
		cfg.CreativeIDNamespace = parsed
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.Mode != "engine" && c.Mode != "studio" {
		return fmt.Errorf("config: PLACEMINT_MODE must be \"engine\" or \"studio\", got %q", c.Mode)
	}
	if c.QdrantURL == "" {
		return fmt.Errorf("config: QDRANT_URL is required")
	}
	if c.QdrantCollection == "" {
		return fmt.Errorf("config: PLACEMINT_COLLECTION is required")
	}
	switch c.EmbeddingProvider {
	case "auto", "openai", "ollama", "noop":
	default:
		return fmt.Errorf("config: unknown embedding provider %q", c.EmbeddingProvider)
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("config: PLACEMINT_EMBEDDING_DIMENSIONS must be positive")
	}
	if c.MaxTopK <= 0 {
		return fmt.Errorf("config: PLACEMINT_MAX_TOP_K must be positive")
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("config: PLACEMINT_MAX_BATCH_SIZE must be positive")
	}
	if c.RequireStudioKey && c.StudioKeyHash == "" {
		return fmt.Errorf("config: PLACEMINT_REQUIRE_STUDIO_KEY is set but PLACEMINT_STUDIO_KEY_HASH is empty")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
