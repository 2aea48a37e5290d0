package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// Issuer signs and verifies HS256 tokens the way the storefront backend does.
// The client uses it to stand in for the backend.
type Issuer struct {
	secretKey  string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewIssuer creates a new Issuer with the provided secret key and lifetimes.
func NewIssuer(secretKey string, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{
		secretKey:  secretKey,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// GenerateAccessToken creates a short-lived access token.
func (i *Issuer) GenerateAccessToken(subject string) (string, error) {
	token, _, err := i.sign(subject, typeAccess, i.accessTTL)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return token, nil
}

// GenerateRefreshToken creates a long-lived refresh token and returns its JTI.
func (i *Issuer) GenerateRefreshToken(subject string) (string, string, error) {
	token, jti, err := i.sign(subject, typeRefresh, i.refreshTTL)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return token, jti, nil
}

// GenerateExpiredAccessToken creates an access token that expired age ago.
func (i *Issuer) GenerateExpiredAccessToken(subject string, age time.Duration) (string, error) {
	token, _, err := i.sign(subject, typeAccess, -age)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return token, nil
}

// ParseAccessToken validates an access token and returns its subject.
func (i *Issuer) ParseAccessToken(tokenString string) (string, error) {
	claims, err := i.parse(tokenString)
	if err != nil {
		return "", fmt.Errorf("failed to parse access token: %w", err)
	}
	if claims.TokenType != typeAccess {
		return "", fmt.Errorf("token type mismatch: %s", claims.TokenType)
	}
	return claims.Subject, nil
}

// ParseRefreshToken validates a refresh token and returns its subject and JTI.
func (i *Issuer) ParseRefreshToken(tokenString string) (string, string, error) {
	claims, err := i.parse(tokenString)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse refresh token: %w", err)
	}
	if claims.TokenType != typeRefresh {
		return "", "", fmt.Errorf("token type mismatch: %s", claims.TokenType)
	}
	return claims.Subject, claims.ID, nil
}

func (i *Issuer) sign(subject, tokenType string, ttl time.Duration) (string, string, error) {
	now := i.now()
	jti := uuid.NewString()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType: tokenType,
	})

	tokenString, err := token.SignedString([]byte(i.secretKey))
	if err != nil {
		return "", "", err
	}
	return tokenString, jti, nil
}

func (i *Issuer) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("wrong signing method %v", t.Header["alg"])
		}
		return []byte(i.secretKey), nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is invalid")
	}
	return claims, nil
}
