// Package token inspects access credentials issued by the auth service.
// Claims are decoded without signature verification: the issuing service is
// the trust boundary, the client only needs expiry and identity.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultRenewalThreshold is how close to expiry a token may get before the
// client renews it proactively.
const DefaultRenewalThreshold = 5 * time.Minute

var ErrMalformedCredential = errors.New("malformed credential")

type Identity struct {
	Subject string
	Email   string
	Name    string
}

var parser = jwt.NewParser()

// ExpiresAt decodes the expiry claim. Tokens that fail to decode or carry no
// expiry map to ErrMalformedCredential.
func ExpiresAt(tokenStr string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tokenStr, claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrMalformedCredential, err)
	}
	expiry, err := claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return time.Time{}, fmt.Errorf("%w: missing expiry claim", ErrMalformedCredential)
	}
	return expiry.Time, nil
}

// IsExpired fails safe: an undecodable token counts as expired.
func IsExpired(tokenStr string) bool {
	expiry, err := ExpiresAt(tokenStr)
	if err != nil {
		return true
	}
	return !expiry.After(time.Now())
}

// NeedsRenewal reports whether the token expires within threshold.
// A non-positive threshold selects DefaultRenewalThreshold. Decode failure
// fails safe to true.
func NeedsRenewal(tokenStr string, threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = DefaultRenewalThreshold
	}
	expiry, err := ExpiresAt(tokenStr)
	if err != nil {
		return true
	}
	return time.Until(expiry) < threshold
}

// DecodeIdentity extracts the user identity claims from an access token.
func DecodeIdentity(tokenStr string) (Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tokenStr, claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrMalformedCredential, err)
	}
	identity := Identity{}
	if subject, err := claims.GetSubject(); err == nil {
		identity.Subject = subject
	}
	if email, ok := claims["email"].(string); ok {
		identity.Email = email
	}
	if name, ok := claims["name"].(string); ok {
		identity.Name = name
	}
	if identity.Subject == "" && identity.Email == "" {
		return Identity{}, fmt.Errorf("%w: no identity claims", ErrMalformedCredential)
	}
	return identity, nil
}
