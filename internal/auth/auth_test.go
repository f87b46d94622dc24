package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sponsorlabs/placemint/internal/fault"
)

func TestIssueAndValidate(t *testing.T) {
	m, err := NewJWTManager("", "")
	require.NoError(t, err)

	token, exp, err := m.IssueToken("ops@example.com", ScopeEngine, 10*time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), exp, 5*time.Second)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.Equal(t, ScopeEngine, claims.Scope)
	assert.Equal(t, "placemint", claims.Issuer)
}

func TestStudioTokenTTLCapped(t *testing.T) {
	m, err := NewJWTManager("", "")
	require.NoError(t, err)

	_, exp, err := m.IssueToken("admin", ScopeStudio, 48*time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(MaxStudioTokenTTL), exp, 5*time.Second)
}

func TestValidateRejectsForeignKey(t *testing.T) {
	issuer, err := NewJWTManager("", "")
	require.NoError(t, err)
	verifier, err := NewJWTManager("", "")
	require.NoError(t, err)

	token, _, err := issuer.IssueToken("ops", ScopeEngine, time.Minute)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateRejectsExpired(t *testing.T) {
	m, err := NewJWTManager("", "")
	require.NoError(t, err)

	token, _, err := m.IssueToken("ops", ScopeEngine, -time.Minute)
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateRejectsGarbage(t *testing.T) {
	m, err := NewJWTManager("", "")
	require.NoError(t, err)

	_, err = m.ValidateToken("not.a.token")
	require.Error(t, err)
}

func TestScopeAllows(t *testing.T) {
	assert.True(t, ScopeStudio.Allows(ScopeEngine))
	assert.True(t, ScopeStudio.Allows(ScopeStudio))
	assert.True(t, ScopeEngine.Allows(ScopeEngine))
	assert.False(t, ScopeEngine.Allows(ScopeStudio))
}

func TestRequireScope(t *testing.T) {
	require.NoError(t, RequireScope(ScopeStudio, ScopeEngine))

	err := RequireScope(ScopeEngine, ScopeStudio)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.PermissionDenied))
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("studio")
	require.NoError(t, err)
	assert.Equal(t, ScopeStudio, s)

	_, err = ParseScope("root")
	require.Error(t, err)
}

func TestStudioAccess_TokenGrants(t *testing.T) {
	m, err := NewJWTManager("", "")
	require.NoError(t, err)

	token, _, err := m.IssueToken("admin", ScopeStudio, time.Minute)
	require.NoError(t, err)

	// A valid studio token is sufficient even when a key is required.
	scope, err := StudioAccess(m, token, "", "", true)
	require.NoError(t, err)
	assert.Equal(t, ScopeStudio, scope)
}

func TestStudioAccess_EngineTokenDenied(t *testing.T) {
	m, err := NewJWTManager("", "")
	require.NoError(t, err)

	token, _, err := m.IssueToken("ops", ScopeEngine, time.Minute)
	require.NoError(t, err)

	_, err = StudioAccess(m, token, "", "", false)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.PermissionDenied))
}

func TestStudioAccess_ForeignTokenRejected(t *testing.T) {
	issuer, err := NewJWTManager("", "")
	require.NoError(t, err)
	verifier, err := NewJWTManager("", "")
	require.NoError(t, err)

	token, _, err := issuer.IssueToken("admin", ScopeStudio, time.Minute)
	require.NoError(t, err)

	_, err = StudioAccess(verifier, token, "", "", false)
	require.Error(t, err)
}

func TestStudioAccess_KeyFallback(t *testing.T) {
	m, err := NewJWTManager("", "")
	require.NoError(t, err)
	hash, err := HashStudioKey("sk-studio-secret")
	require.NoError(t, err)

	scope, err := StudioAccess(m, "", "sk-studio-secret", hash, true)
	require.NoError(t, err)
	assert.Equal(t, ScopeStudio, scope)

	_, err = StudioAccess(m, "", "sk-studio-wrong", hash, true)
	require.Error(t, err)

	// Required key with no configured hash can never be satisfied.
	_, err = StudioAccess(m, "", "sk-studio-secret", "", true)
	require.Error(t, err)
}

func TestStudioAccess_Unconditional(t *testing.T) {
	m, err := NewJWTManager("", "")
	require.NoError(t, err)

	scope, err := StudioAccess(m, "", "", "", false)
	require.NoError(t, err)
	assert.Equal(t, ScopeStudio, scope)
}

func TestStudioKeyHashing(t *testing.T) {
	hash, err := HashStudioKey("sk-studio-secret")
	require.NoError(t, err)
	assert.Contains(t, hash, "$")

	assert.True(t, VerifyStudioKey("sk-studio-secret", hash))
	assert.False(t, VerifyStudioKey("sk-studio-wrong", hash))
	assert.False(t, VerifyStudioKey("sk-studio-secret", "malformed"))
}

func TestHashIsSalted(t *testing.T) {
	h1, err := HashStudioKey("same-key")
	require.NoError(t, err)
	h2, err := HashStudioKey("same-key")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
