package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// HashStudioKey hashes a studio API key with argon2id. The result
// embeds the salt: base64(salt)$base64(hash).
func HashStudioKey(key string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(key), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.RawStdEncoding.EncodeToString(salt) + "$" + base64.RawStdEncoding.EncodeToString(hash), nil
}

// VerifyStudioKey checks a presented key against a stored hash in
// constant time.
func VerifyStudioKey(key, stored string) bool {
	salt64, hash64, ok := strings.Cut(stored, "$")
	if !ok {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(salt64)
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(hash64)
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(key), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// DummyVerify burns the same work as a real verification. Called when
// no key is on record so the response time does not reveal whether a
// studio key exists.
func DummyVerify() {
	salt := make([]byte, saltLen)
	argon2.IDKey([]byte("dummy"), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}
