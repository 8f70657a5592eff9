package rpc

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidHandle is returned by TokenService.Validate for any malformed,
// expired, or wrong-signature handle — deliberately undifferentiated so a
// client cannot distinguish "expired" from "forged" by the error text.
var ErrInvalidHandle = errors.New("rpc: invalid session handle")

// handleClaims scopes a signed handle to exactly one session id, so a
// stolen handle cannot be replayed indefinitely or against another
// session.
type handleClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenService issues and validates the session handles presented by RPC
// clients in lieu of re-authenticating every call: HMAC-SHA256 signing,
// ParseWithClaims validation with a signing-method check, one session id
// as the subject.
type TokenService struct {
	secret []byte
	expiry time.Duration
}

// NewTokenService builds a TokenService signing with secret and issuing
// handles valid for expiry. A zero expiry means handles never expire.
func NewTokenService(secret string, expiry time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), expiry: expiry}
}

// Issue signs a handle scoped to sessionID.
func (s *TokenService) Issue(sessionID string) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("rpc: token service has no signing secret")
	}
	if strings.TrimSpace(sessionID) == "" {
		return "", errors.New("rpc: session id required")
	}

	claims := handleClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  sessionID,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if s.expiry != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(s.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses handle and returns the session id it is scoped to.
func (s *TokenService) Validate(handle string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrInvalidHandle
	}

	parsed, err := jwt.ParseWithClaims(handle, &handleClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidHandle
		}
		return s.secret, nil
	})
	if err != nil {
		return "", ErrInvalidHandle
	}

	claims, ok := parsed.Claims.(*handleClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.SessionID) == "" {
		return "", ErrInvalidHandle
	}
	return claims.SessionID, nil
}
