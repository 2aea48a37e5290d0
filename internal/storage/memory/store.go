// Package memory keeps the token pair in process memory.
package memory

import (
	"context"
	"sync"

	"github.com/dtroode/storefront-session/internal/model"
)

// Store is an in-process model.TokenStore.
type Store struct {
	mu   sync.RWMutex
	pair model.TokenPair
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// NewStoreWith creates a Store holding pair.
func NewStoreWith(pair model.TokenPair) *Store {
	return &Store{pair: pair}
}

func (s *Store) Load(ctx context.Context) (model.TokenPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.pair.IsZero() {
		return model.TokenPair{}, model.ErrNotFound
	}
	return s.pair, nil
}

func (s *Store) Save(ctx context.Context, pair model.TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pair = pair
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pair = model.TokenPair{}
	return nil
}
