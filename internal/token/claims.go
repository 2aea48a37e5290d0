package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoExpiry is returned for tokens without an exp claim.
var ErrNoExpiry = errors.New("token has no expiry claim")

// Claims represents the claims the storefront backend puts into its tokens.
type Claims struct {
	jwt.RegisteredClaims
	UserID    any    `json:"user_id,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

// Decode reads the claims of tokenString without verifying its signature.
// The client never holds the signing key; it only needs the embedded expiry.
func Decode(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return claims, nil
}

// ExpiresAt returns the embedded expiry of tokenString.
func ExpiresAt(tokenString string) (time.Time, error) {
	claims, err := Decode(tokenString)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}

// Subject returns the user the token was issued for.
func Subject(tokenString string) (string, error) {
	claims, err := Decode(tokenString)
	if err != nil {
		return "", err
	}
	if claims.Subject != "" {
		return claims.Subject, nil
	}
	if claims.UserID != nil {
		return fmt.Sprint(claims.UserID), nil
	}
	return "", nil
}

// IsExpired reports whether tokenString expires within skew from now.
// Tokens that cannot be decoded count as expired.
func IsExpired(tokenString string, skew time.Duration) bool {
	return IsExpiredAt(tokenString, skew, time.Now())
}

// IsExpiredAt is IsExpired with an explicit clock.
func IsExpiredAt(tokenString string, skew time.Duration, now time.Time) bool {
	exp, err := ExpiresAt(tokenString)
	if err != nil {
		return true
	}
	return !now.Before(exp.Add(-skew))
}
