package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestIsExpired(t *testing.T) {
	live := signedToken(t, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if IsExpired(live) {
		t.Fatalf("IsExpired(live) = true")
	}

	dead := signedToken(t, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	if !IsExpired(dead) {
		t.Fatalf("IsExpired(dead) = false")
	}

	if !IsExpired("not-a-token") {
		t.Fatalf("IsExpired(garbage) = false, want fail-safe true")
	}
}

func TestNeedsRenewal_ThresholdBoundary(t *testing.T) {
	threshold := 300 * time.Second

	soon := signedToken(t, jwt.MapClaims{"exp": time.Now().Add(299 * time.Second).Unix()})
	if !NeedsRenewal(soon, threshold) {
		t.Fatalf("NeedsRenewal(now+299s) = false, want true")
	}

	later := signedToken(t, jwt.MapClaims{"exp": time.Now().Add(301 * time.Second).Unix()})
	if NeedsRenewal(later, threshold) {
		t.Fatalf("NeedsRenewal(now+301s) = true, want false")
	}

	if !NeedsRenewal("garbage", threshold) {
		t.Fatalf("NeedsRenewal(garbage) = false, want fail-safe true")
	}
}

func TestExpiresAt_MissingClaimIsMalformed(t *testing.T) {
	tok := signedToken(t, jwt.MapClaims{"sub": "u1"})
	if _, err := ExpiresAt(tok); !errors.Is(err, ErrMalformedCredential) {
		t.Fatalf("ExpiresAt() error = %v, want ErrMalformedCredential", err)
	}
}

func TestDecodeIdentity(t *testing.T) {
	tok := signedToken(t, jwt.MapClaims{
		"sub":   "u1",
		"email": "ada@example.test",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	identity, err := DecodeIdentity(tok)
	if err != nil {
		t.Fatalf("DecodeIdentity() error = %v", err)
	}
	if identity.Subject != "u1" || identity.Email != "ada@example.test" {
		t.Fatalf("identity = %#v", identity)
	}

	if _, err := DecodeIdentity("garbage"); !errors.Is(err, ErrMalformedCredential) {
		t.Fatalf("DecodeIdentity(garbage) error = %v, want ErrMalformedCredential", err)
	}
}
