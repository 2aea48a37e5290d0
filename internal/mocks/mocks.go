// Package mocks holds testify mocks for the model interfaces.
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/dtroode/storefront-session/internal/model"
)

// TokenStore mocks model.TokenStore.
type TokenStore struct {
	mock.Mock
}

func (m *TokenStore) Load(ctx context.Context) (model.TokenPair, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.TokenPair), args.Error(1)
}

func (m *TokenStore) Save(ctx context.Context, pair model.TokenPair) error {
	args := m.Called(ctx, pair)
	return args.Error(0)
}

func (m *TokenStore) Clear(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Authenticator mocks model.Authenticator.
type Authenticator struct {
	mock.Mock
}

func (m *Authenticator) Login(ctx context.Context, creds model.Credentials) (model.TokenPair, error) {
	args := m.Called(ctx, creds)
	return args.Get(0).(model.TokenPair), args.Error(1)
}

func (m *Authenticator) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	args := m.Called(ctx, refreshToken)
	return args.Get(0).(model.TokenPair), args.Error(1)
}

func (m *Authenticator) Logout(ctx context.Context, refreshToken string) error {
	args := m.Called(ctx, refreshToken)
	return args.Error(0)
}

// Navigator records redirects.
type Navigator struct {
	mu        sync.Mutex
	location  string
	redirects []string
}

// NewNavigator creates a Navigator positioned at location.
func NewNavigator(location string) *Navigator {
	return &Navigator{location: location}
}

func (n *Navigator) Location() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.location
}

func (n *Navigator) Redirect(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.location = path
	n.redirects = append(n.redirects, path)
}

// Redirects returns every path passed to Redirect.
func (n *Navigator) Redirects() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.redirects...)
}
