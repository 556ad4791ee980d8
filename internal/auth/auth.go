// Package auth provides password hashing and a minimal opaque bearer-token
// scheme for resolving the current user on a request.
//
// Full identity management — registration flows, password reset, OAuth,
// JWT signing/rotation — is out of scope; this package is a deliberately
// thin boundary a real auth provider could replace without touching the
// domain layer above it.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mclima/stock-intel-service/internal/domain"
)

// HashPassword hashes a plaintext password for storage in User.PasswordHash.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("op=auth.HashPassword: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether plaintext matches a hash produced by
// HashPassword.
func VerifyPassword(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// TokenIssuer issues and verifies opaque bearer tokens of the form
// "{userID}.{expiryUnix}.{hmac}", where hmac = HMAC-SHA256(key, userID+"."+expiryUnix).
// Tokens are not JWTs: no header/claims structure, just enough to authenticate
// a userID with an expiry, matching the thin boundary this package commits to.
type TokenIssuer struct {
	key []byte
	ttl time.Duration
}

// NewTokenIssuer builds a TokenIssuer. An empty signingKey still produces
// internally-consistent tokens (useful for local dev) but must never be used
// in production; callers should refuse to start if AdminEnabled-style checks
// apply.
func NewTokenIssuer(signingKey string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{key: []byte(signingKey), ttl: ttl}
}

// Issue produces a bearer token authenticating userID until the configured
// TTL elapses.
func (t *TokenIssuer) Issue(userID string) string {
	expiry := time.Now().Add(t.ttl).Unix()
	payload := fmt.Sprintf("%s.%d", userID, expiry)
	mac := t.sign(payload)
	return fmt.Sprintf("%s.%s", payload, mac)
}

// Verify parses and authenticates a bearer token, returning its userID.
func (t *TokenIssuer) Verify(token string) (string, error) {
	parts := strings.SplitN(token, ".", 3)
	if len(parts) != 3 {
		return "", domain.NewValidationError("op=auth.Verify: malformed token")
	}
	userID, expiryStr, mac := parts[0], parts[1], parts[2]
	payload := userID + "." + expiryStr

	expected := t.sign(payload)
	if subtle.ConstantTimeCompare([]byte(mac), []byte(expected)) != 1 {
		return "", &domain.ServiceError{Code: domain.CodeAuthentication, Message: "invalid token signature", UserMessage: "invalid or expired token", Err: domain.ErrAuthentication}
	}

	var expiry int64
	if _, err := fmt.Sscanf(expiryStr, "%d", &expiry); err != nil {
		return "", domain.NewValidationError("op=auth.Verify: malformed expiry")
	}
	if time.Now().Unix() > expiry {
		return "", &domain.ServiceError{Code: domain.CodeAuthentication, Message: "token expired", UserMessage: "invalid or expired token", Err: domain.ErrAuthentication}
	}
	return userID, nil
}

func (t *TokenIssuer) sign(payload string) string {
	mac := hmac.New(sha256.New, t.key)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// BearerToken extracts the token from an "Authorization: Bearer {token}" header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if tok == "" {
		return "", false
	}
	return tok, true
}
