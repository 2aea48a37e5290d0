package model

import (
	"context"
	"time"
)

// TokenPair is the access/refresh credential pair persisted for a session.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// IsZero reports whether the pair holds no tokens at all.
func (p TokenPair) IsZero() bool {
	return p.Access == "" && p.Refresh == ""
}

// TokenStore persists the token pair. Save replaces both tokens as one unit.
type TokenStore interface {
	Load(ctx context.Context) (TokenPair, error)
	Save(ctx context.Context, pair TokenPair) error
	Clear(ctx context.Context) error
}

// Credentials are exchanged for a token pair on login.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Authenticator talks to the backend auth endpoints.
type Authenticator interface {
	Login(ctx context.Context, creds Credentials) (TokenPair, error)
	// Refresh returns the new access token and, when the backend rotates it,
	// a new refresh token. An empty refresh token means "keep the current one".
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
}

// Session describes an authenticated session after login.
type Session struct {
	Pair      TokenPair
	Subject   string
	ExpiresAt time.Time
	// Profile is nil when no profile fetcher is set or the fetch failed.
	Profile *Profile
}

// Profile is the "who am I" payload of the storefront API.
type Profile struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}
