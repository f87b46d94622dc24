package config

import (
	"strings"
	"testing"
	"time"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "hello")
	if v := envStr("TEST_STR", "x"); v != "hello" {
		t.Fatalf("expected hello, got %s", v)
	}
	if v := envStr("TEST_STR_MISSING", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %s", v)
	}

	t.Setenv("TEST_INT", "42")
	if v := envInt("TEST_INT", 0); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
	t.Setenv("TEST_INT_BAD", "abc")
	if v := envInt("TEST_INT_BAD", 7); v != 7 {
		t.Fatalf("expected fallback 7 for invalid int, got %d", v)
	}

	t.Setenv("TEST_FLOAT", "2.5")
	if v := envFloat("TEST_FLOAT", 0); v != 2.5 {
		t.Fatalf("expected 2.5, got %f", v)
	}

	t.Setenv("TEST_BOOL", "true")
	if !envBool("TEST_BOOL", false) {
		t.Fatal("expected true")
	}

	t.Setenv("TEST_DUR", "5s")
	if v := envDuration("TEST_DUR", 0); v != 5*time.Second {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Mode != "engine" {
		t.Fatalf("expected default mode engine, got %s", cfg.Mode)
	}
	if cfg.MaxTopK != 100 {
		t.Fatalf("expected default max top_k 100, got %d", cfg.MaxTopK)
	}
	if cfg.CreativeIDNamespace.String() == "00000000-0000-0000-0000-000000000000" {
		t.Fatal("expected a non-nil default creative namespace")
	}
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	t.Setenv("PLACEMINT_MODE", "hybrid")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with unknown mode")
	}
	if !strings.Contains(err.Error(), "PLACEMINT_MODE") {
		t.Fatalf("error should mention PLACEMINT_MODE, got: %s", err)
	}
}

func TestLoadRejectsBadNamespace(t *testing.T) {
	t.Setenv("PLACEMINT_CREATIVE_NAMESPACE", "not-a-uuid")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid namespace UUID")
	}
}

func TestValidateStudioKeyRequirement(t *testing.T) {
	t.Setenv("PLACEMINT_REQUIRE_STUDIO_KEY", "true")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail when a studio key is required but no hash is set")
	}

	t.Setenv("PLACEMINT_STUDIO_KEY_HASH", "c2FsdA$aGFzaA")
	if _, err := Load(); err != nil {
		t.Fatalf("expected Load() to succeed with a key hash, got: %v", err)
	}
}

func TestValidateRejectsUnknownEmbeddingProvider(t *testing.T) {
	t.Setenv("PLACEMINT_EMBEDDING_PROVIDER", "bert")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with unknown embedding provider")
	}
}
