// Package auth verifies connection credentials and maps them to a stable
// user identity. The realtime layer consumes it through the Verifier
// interface; the concrete implementation validates HS256 JWTs.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/parley/chat-server/internal/errs"
)

// Identity is the result of a successful credential verification.
type Identity struct {
	UserID      string
	DisplayName string
}

// Verifier maps a presented credential to an identity. Implementations
// return an error wrapping errs.ErrAuthFailure for any rejected credential.
type Verifier interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

// UserDirectory answers whether a user id is known to the identity domain.
// The durable store satisfies this.
type UserDirectory interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

// Claims is the JWT payload carried by connection credentials.
type Claims struct {
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256-signed tokens and cross-checks the subject
// against the user directory.
type JWTVerifier struct {
	key    []byte
	issuer string
	users  UserDirectory
}

// NewJWTVerifier creates a verifier for tokens signed with key and issued
// by issuer. users may be nil to skip the directory check (tests).
func NewJWTVerifier(key []byte, issuer string, users UserDirectory) *JWTVerifier {
	return &JWTVerifier{key: key, issuer: issuer, users: users}
}

// Verify parses and validates the token, returning the embedded identity.
func (v *JWTVerifier) Verify(ctx context.Context, credential string) (Identity, error) {
	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, fmt.Errorf("auth: %v: %w", err, errs.ErrAuthFailure)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return Identity{}, fmt.Errorf("auth: invalid claims: %w", errs.ErrAuthFailure)
	}

	if v.users != nil {
		exists, err := v.users.UserExists(ctx, claims.Subject)
		if err != nil {
			return Identity{}, fmt.Errorf("auth: user lookup: %w", err)
		}
		if !exists {
			return Identity{}, fmt.Errorf("auth: unknown user %q: %w", claims.Subject, errs.ErrAuthFailure)
		}
	}

	return Identity{UserID: claims.Subject, DisplayName: claims.DisplayName}, nil
}

// TokenIssuer mints credentials accepted by JWTVerifier. Used by tests and
// ops tooling; the production issuer lives in the account service.
type TokenIssuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates an issuer signing with key for the given issuer
// name and token lifetime.
func NewTokenIssuer(key []byte, issuer string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{key: key, issuer: issuer, ttl: ttl}
}

// Issue signs a token for the given identity.
func (i *TokenIssuer) Issue(id Identity) (string, error) {
	now := time.Now()
	claims := &Claims{
		DisplayName: id.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}
