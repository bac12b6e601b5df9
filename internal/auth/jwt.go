// Package auth implements the thin session pre-admission check: verifying
// an HS256 bearer token before a websocket connection is handed to
// broker.Core.RegisterSession. Grounded on the teacher's
// internal/relay/jwt.go (Issue/Validate-claims idiom), adapted from ES256
// wing-device tokens to a single shared-secret HS256 scheme since session
// admission here has no per-device keypair to verify against.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims identifies the editor session a bearer token admits.
type SessionClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid,omitempty"`
}

// Validator checks bearer tokens against a single shared HS256 secret.
// The broker core never imports this package; only internal/gateway's
// Authenticate calls it, during the websocket upgrade and before a
// connection is ever registered.
type Validator struct {
	secret []byte
}

// NewValidator constructs a Validator from a shared secret. An empty
// secret is rejected: callers must not accidentally run with auth
// disabled by a missing config value.
func NewValidator(secret string) (*Validator, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: shared secret must not be empty")
	}
	return &Validator{secret: []byte(secret)}, nil
}

// Issue creates an HS256 bearer token for userID, valid for ttl.
func (v *Validator) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Validate verifies tokenString's signature and expiry and returns its
// claims. Any non-HS256 token is rejected outright.
func (v *Validator) Validate(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session token claims")
	}
	return claims, nil
}
