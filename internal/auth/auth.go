// Package auth provides scope-gated access to the Placemint tool
// surfaces.
//
// Uses Ed25519 (EdDSA) for JWT signing. Keys can be loaded from PEM
// files or auto-generated for development.
package auth

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sponsorlabs/placemint/internal/fault"
)

// Scope names a tool-surface tier.
type Scope string

const (
	// ScopeEngine covers the read-only, LLM-facing match tools.
	ScopeEngine Scope = "engine"
	// ScopeStudio covers the administrative catalog tools. Studio
	// implies engine.
	ScopeStudio Scope = "studio"
)

// ParseScope validates a scope string.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeEngine, ScopeStudio:
		return Scope(s), nil
	default:
		return "", fmt.Errorf("auth: unknown scope %q", s)
	}
}

// Allows reports whether a granted scope covers a required one.
func (s Scope) Allows(required Scope) bool {
	if s == ScopeStudio {
		return true
	}
	return s == required
}

// Claims extends jwt.RegisteredClaims with the granted scope.
type Claims struct {
	jwt.RegisteredClaims
	Scope Scope `json:"scope"`
}

// MaxStudioTokenTTL is the maximum lifetime of a studio token.
const MaxStudioTokenTTL = time.Hour

// JWTManager handles JWT creation and validation using Ed25519.
type JWTManager struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// NewJWTManager creates a JWTManager from PEM key files. If paths are
// empty, generates an ephemeral key pair (for development).
func NewJWTManager(privateKeyPath, publicKeyPath string) (*JWTManager, error) {
	if privateKeyPath == "" || publicKeyPath == "" {
		slog.Warn("auth: no JWT key files configured, generating ephemeral key pair (not for production)")
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("auth: generate key pair: %w", err)
		}
		return &JWTManager{privateKey: priv, publicKey: pub}, nil
	}

	privPEM, err := os.ReadFile(privateKeyPath) //nolint:gosec // paths come from validated config, not user input
	if err != nil {
		return nil, fmt.Errorf("auth: read private key: %w", err)
	}
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, fmt.Errorf("auth: decode private key PEM")
	}
	privKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	edPriv, ok := privKey.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("auth: private key is not Ed25519")
	}

	pubPEM, err := os.ReadFile(publicKeyPath) //nolint:gosec // paths come from validated config, not user input
	if err != nil {
		return nil, fmt.Errorf("auth: read public key: %w", err)
	}
	pubBlock, _ := pem.Decode(pubPEM)
	if pubBlock == nil {
		return nil, fmt.Errorf("auth: decode public key PEM")
	}
	pubKey, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	edPub, ok := pubKey.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("auth: public key is not Ed25519")
	}

	// Verify the public key matches the private key to catch
	// misconfiguration (e.g., keys from two different environments).
	derivedPub := edPriv.Public().(ed25519.PublicKey)
	if !bytes.Equal(derivedPub, edPub) {
		return nil, fmt.Errorf("auth: public key does not match private key")
	}

	return &JWTManager{privateKey: edPriv, publicKey: edPub}, nil
}

// IssueToken creates a signed JWT granting the given scope. Studio
// token lifetimes are capped at MaxStudioTokenTTL regardless of the
// requested value.
func (m *JWTManager) IssueToken(subject string, scope Scope, ttl time.Duration) (string, time.Time, error) {
	if scope == ScopeStudio && (ttl <= 0 || ttl > MaxStudioTokenTTL) {
		ttl = MaxStudioTokenTTL
	}
	if ttl <= 0 {
		ttl = MaxStudioTokenTTL
	}

	now := time.Now().UTC()
	exp := now.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "placemint",
			Audience:  jwt.ClaimStrings{"placemint"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		Scope: scope,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(m.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return m.publicKey, nil
		},
		jwt.WithAudience("placemint"),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}

	if claims.Issuer != "placemint" {
		return nil, fmt.Errorf("auth: invalid issuer: %s", claims.Issuer)
	}
	if _, err := ParseScope(string(claims.Scope)); err != nil {
		return nil, err
	}

	return claims, nil
}

// StudioAccess resolves the studio grant from the two supported
// credentials. A signed token takes precedence: it must validate and
// carry the studio scope. Without a token the shared operator key is
// checked when one is required; with requireKey false and no token the
// grant is unconditional (local stdio deployments). The dummy
// verification keeps rejection timing independent of whether a key
// hash is configured.
func StudioAccess(m *JWTManager, token, key, keyHash string, requireKey bool) (Scope, error) {
	if token != "" {
		claims, err := m.ValidateToken(token)
		if err != nil {
			return "", err
		}
		if err := RequireScope(claims.Scope, ScopeStudio); err != nil {
			return "", err
		}
		return ScopeStudio, nil
	}

	if !requireKey {
		return ScopeStudio, nil
	}
	if keyHash == "" {
		DummyVerify()
		return "", fmt.Errorf("auth: studio key required but no hash configured")
	}
	if !VerifyStudioKey(key, keyHash) {
		return "", fmt.Errorf("auth: studio key verification failed")
	}
	return ScopeStudio, nil
}

// RequireScope checks a granted scope against a required one and
// returns a typed permission error on mismatch.
func RequireScope(granted, required Scope) error {
	if granted.Allows(required) {
		return nil
	}
	return fault.Newf(fault.PermissionDenied, "auth: scope %q does not allow %q operations", granted, required)
}
