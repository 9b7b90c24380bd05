package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/parley/chat-server/internal/errs"
)

var testKey = []byte("test-signing-key")

// staticDirectory knows a fixed set of user ids.
type staticDirectory map[string]bool

func (d staticDirectory) UserExists(ctx context.Context, userID string) (bool, error) {
	return d[userID], nil
}

func TestVerify_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer(testKey, "parley", time.Hour)
	verifier := NewJWTVerifier(testKey, "parley", staticDirectory{"u1": true})

	token, err := issuer.Issue(Identity{UserID: "u1", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	id, err := verifier.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if id.UserID != "u1" {
		t.Errorf("expected user u1, got %q", id.UserID)
	}
	if id.DisplayName != "Alice" {
		t.Errorf("expected display name Alice, got %q", id.DisplayName)
	}
}

func TestVerify_Rejections(t *testing.T) {
	issuer := NewTokenIssuer(testKey, "parley", time.Hour)
	verifier := NewJWTVerifier(testKey, "parley", staticDirectory{"u1": true})

	goodToken := func(mutate func(*TokenIssuer)) string {
		i := *issuer
		if mutate != nil {
			mutate(&i)
		}
		tok, err := i.Issue(Identity{UserID: "u1", DisplayName: "Alice"})
		if err != nil {
			t.Fatalf("issue failed: %v", err)
		}
		return tok
	}

	cases := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"empty", ""},
		{"wrong key", goodToken(func(i *TokenIssuer) { i.key = []byte("other-key") })},
		{"wrong issuer", goodToken(func(i *TokenIssuer) { i.issuer = "impostor" })},
		{"expired", goodToken(func(i *TokenIssuer) { i.ttl = -time.Hour })},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := verifier.Verify(context.Background(), tc.token)
			if !errors.Is(err, errs.ErrAuthFailure) {
				t.Fatalf("expected ErrAuthFailure, got %v", err)
			}
		})
	}
}

func TestVerify_UnknownUser(t *testing.T) {
	issuer := NewTokenIssuer(testKey, "parley", time.Hour)
	verifier := NewJWTVerifier(testKey, "parley", staticDirectory{})

	token, _ := issuer.Issue(Identity{UserID: "deleted-user"})
	_, err := verifier.Verify(context.Background(), token)
	if !errors.Is(err, errs.ErrAuthFailure) {
		t.Fatalf("expected ErrAuthFailure for unknown user, got %v", err)
	}
}

// Tokens must carry an expiry and an HMAC signature; "none" and missing-exp
// tokens are rejected outright.
func TestVerify_RequiredClaims(t *testing.T) {
	verifier := NewJWTVerifier(testKey, "parley", nil)

	// Missing expiry.
	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", Issuer: "parley"},
	})
	signed, err := noExp.SignedString(testKey)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := verifier.Verify(context.Background(), signed); !errors.Is(err, errs.ErrAuthFailure) {
		t.Fatalf("expected ErrAuthFailure for missing exp, got %v", err)
	}

	// Missing subject.
	noSub := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "parley",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err = noSub.SignedString(testKey)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := verifier.Verify(context.Background(), signed); !errors.Is(err, errs.ErrAuthFailure) {
		t.Fatalf("expected ErrAuthFailure for missing subject, got %v", err)
	}
}
