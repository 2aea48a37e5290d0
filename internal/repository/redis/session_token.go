// Package redis keeps session token pairs in Redis hashes.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dtroode/storefront-session/internal/model"
	"github.com/dtroode/storefront-session/internal/token"
)

const (
	fieldAccess  = "access"
	fieldRefresh = "refresh"
)

var _ model.TokenStore = (*SessionTokenRepository)(nil)

// SessionTokenRepository stores one session under "<prefix>:<sessionID>".
// The key expires together with the refresh token when its expiry is known.
type SessionTokenRepository struct {
	redis *redis.Client
	key   string
}

func NewSessionTokenRepository(client *redis.Client, prefix, sessionID string) *SessionTokenRepository {
	return &SessionTokenRepository{
		redis: client,
		key:   prefix + ":" + sessionID,
	}
}

func (r *SessionTokenRepository) Load(ctx context.Context) (model.TokenPair, error) {
	fields, err := r.redis.HGetAll(ctx, r.key).Result()
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("failed to get session tokens: %w", err)
	}

	pair := model.TokenPair{Access: fields[fieldAccess], Refresh: fields[fieldRefresh]}
	if pair.IsZero() {
		return model.TokenPair{}, model.ErrNotFound
	}
	return pair, nil
}

// Save writes both fields and the key expiry in one MULTI/EXEC.
func (r *SessionTokenRepository) Save(ctx context.Context, pair model.TokenPair) error {
	exp, expErr := token.ExpiresAt(pair.Refresh)

	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key, fieldAccess, pair.Access, fieldRefresh, pair.Refresh)
		if expErr == nil {
			pipe.ExpireAt(ctx, r.key, exp)
		} else {
			pipe.Persist(ctx, r.key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session tokens: %w", err)
	}
	return nil
}

func (r *SessionTokenRepository) Clear(ctx context.Context) error {
	if err := r.redis.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to delete session tokens: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (r *SessionTokenRepository) Ping(ctx context.Context) error {
	return r.redis.Ping(ctx).Err()
}
