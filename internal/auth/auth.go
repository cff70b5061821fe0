// Package auth implements the Authenticator collaborator spec.md abstracts
// out of scope for the core subsystems but names explicitly at connect time
// (spec §2, §4.8): it maps a connection's bearer header to a resolved
// identity, or rejects the connection before any Session Lifecycle state is
// created. Grounded on the HMAC-JWT validation shape in the pack's
// Aidin1998-finalex/internal/auth/service.go, trimmed to the one thing this
// service needs: turning a header into a userId.
package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// AnonymousUserID is the literal identity spec §3 allows a Subscription to
// carry when no bearer token was presented.
const AnonymousUserID = "anonymous"

// ErrInvalidToken is returned for any bearer token that fails HMAC
// validation, is malformed, or is expired.
var ErrInvalidToken = errors.New("invalid bearer token")

// Identity is what the Authenticator resolves a connection to.
type Identity struct {
	UserID string
}

// Authenticator maps a connection's Authorization header to an Identity, or
// rejects the connection (spec §4.8: "Authentication failure at connect ->
// Reject the connection before any Lifecycle state is created").
type Authenticator interface {
	Authenticate(ctx context.Context, authorizationHeader string) (Identity, error)
}

// claims is the minimal JWT claim set this service reads. userId is read
// from either "sub" or "userId" for compatibility with either claim style
// seen across the pack's JWT issuers.
type claims struct {
	UserID string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates the bearer token against a shared HMAC secret
// (spec §6: jwt.secret, base64-encoded). A connection with no Authorization
// header at all is accepted as anonymous — spec §3 explicitly allows the
// literal "anonymous" userId — but a header that is present and invalid is
// rejected.
type JWTAuthenticator struct {
	secret []byte
	logger *zap.Logger
}

// NewJWTAuthenticator decodes secretB64 (spec §6: "Base64-encoded HMAC key")
// and builds the Authenticator.
func NewJWTAuthenticator(secretB64 string, logger *zap.Logger) (*JWTAuthenticator, error) {
	secret, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil {
		return nil, fmt.Errorf("decode jwt.secret: %w", err)
	}
	return &JWTAuthenticator{secret: secret, logger: logger}, nil
}

// Authenticate implements Authenticator.
func (a *JWTAuthenticator) Authenticate(ctx context.Context, authorizationHeader string) (Identity, error) {
	token := strings.TrimSpace(authorizationHeader)
	if token == "" {
		return Identity{UserID: AnonymousUserID}, nil
	}

	token, ok := strings.CutPrefix(token, "Bearer ")
	if !ok {
		return Identity{}, fmt.Errorf("%w: missing Bearer prefix", ErrInvalidToken)
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		a.logger.Warn("rejecting connection: invalid bearer token", zap.Error(err))
		return Identity{}, ErrInvalidToken
	}

	userID := c.UserID
	if userID == "" {
		userID = c.Subject
	}
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: token carries no subject", ErrInvalidToken)
	}
	return Identity{UserID: userID}, nil
}
