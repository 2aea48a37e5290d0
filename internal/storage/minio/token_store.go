package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/dtroode/storefront-session/internal/model"
)

var _ model.TokenStore = (*TokenStore)(nil)

// TokenStore keeps one session as "<prefix>/<sessionID>.json".
// A single PUT replaces the whole object, so both tokens change together.
type TokenStore struct {
	storage model.Storage
	key     string
}

// NewTokenStore creates a TokenStore on top of storage.
func NewTokenStore(storage model.Storage, prefix, sessionID string) *TokenStore {
	return &TokenStore{
		storage: storage,
		key:     path.Join(prefix, sessionID+".json"),
	}
}

func (s *TokenStore) Load(ctx context.Context) (model.TokenPair, error) {
	rc, err := s.storage.Download(ctx, s.key)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.TokenPair{}, model.ErrNotFound
		}
		return model.TokenPair{}, fmt.Errorf("failed to download tokens: %w", err)
	}
	defer rc.Close()

	var pair model.TokenPair
	if err := json.NewDecoder(rc).Decode(&pair); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.TokenPair{}, model.ErrNotFound
		}
		return model.TokenPair{}, fmt.Errorf("failed to decode tokens: %w", err)
	}
	if pair.IsZero() {
		return model.TokenPair{}, model.ErrNotFound
	}
	return pair, nil
}

func (s *TokenStore) Save(ctx context.Context, pair model.TokenPair) error {
	data, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("failed to encode tokens: %w", err)
	}
	if err := s.storage.Upload(ctx, s.key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to upload tokens: %w", err)
	}
	return nil
}

func (s *TokenStore) Clear(ctx context.Context) error {
	exists, err := s.storage.Exists(ctx, s.key)
	if err != nil {
		return fmt.Errorf("failed to check tokens: %w", err)
	}
	if !exists {
		return nil
	}
	if err := s.storage.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("failed to delete tokens: %w", err)
	}
	return nil
}
