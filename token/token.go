// Package token reads claims out of bearer tokens the backend issues.
//
// Parsing here is deliberately unverified: the client never holds signing
// keys, so claims are read for UX purposes only (who is logged in, when the
// token lapses) and are never treated as proof of authenticity. The backend
// remains the sole authority on token validity.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func decodeClaims(rawToken string) (jwt.MapClaims, bool) {
	if rawToken == "" {
		return nil, false
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(rawToken, jwt.MapClaims{})
	if err != nil {
		return nil, false
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, false
	}

	return claims, true
}

// DecodeSubject extracts the subject identifier from the token payload.
// Malformed input yields ("", false) rather than an error, so callers never
// need an error path for display-only lookups.
func DecodeSubject(rawToken string) (string, bool) {
	claims, ok := decodeClaims(rawToken)
	if !ok {
		return "", false
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", false
	}

	return sub, true
}

// IssuedAt returns the instant the token was issued, if the claim is present.
func IssuedAt(rawToken string) (time.Time, bool) {
	return timeClaim(rawToken, "iat")
}

// ExpiresAt returns the instant the token expires, if the claim is present.
func ExpiresAt(rawToken string) (time.Time, bool) {
	return timeClaim(rawToken, "exp")
}

func timeClaim(rawToken, name string) (time.Time, bool) {
	claims, ok := decodeClaims(rawToken)
	if !ok {
		return time.Time{}, false
	}

	seconds, ok := claims[name].(float64)
	if !ok {
		return time.Time{}, false
	}

	return time.Unix(int64(seconds), 0), true
}

// IsValid reports whether the token decodes and has not yet expired. A token
// whose expiry equals the current instant is already expired.
func IsValid(rawToken string) bool {
	return IsValidAt(rawToken, time.Now())
}

// IsValidAt is IsValid against an explicit clock.
func IsValidAt(rawToken string, now time.Time) bool {
	exp, ok := ExpiresAt(rawToken)
	if !ok {
		return false
	}

	return now.Before(exp)
}
