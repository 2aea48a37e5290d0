package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dtroode/storefront-session/internal/model"
)

var _ model.TokenStore = (*SessionTokenRepository)(nil)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SessionTokenRepository keeps the token pair of one session in session_tokens.
type SessionTokenRepository struct {
	db        querier
	sessionID string
}

func NewSessionTokenRepository(db *Connection, sessionID string) *SessionTokenRepository {
	return &SessionTokenRepository{db: db, sessionID: sessionID}
}

func (r *SessionTokenRepository) Load(ctx context.Context) (model.TokenPair, error) {
	const query = `
        SELECT access_token, refresh_token
        FROM session_tokens WHERE session_id = $1
    `
	var pair model.TokenPair
	err := r.db.QueryRow(ctx, query, r.sessionID).Scan(&pair.Access, &pair.Refresh)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TokenPair{}, model.ErrNotFound
		}
		return model.TokenPair{}, fmt.Errorf("failed to get session tokens: %w", err)
	}
	if pair.IsZero() {
		return model.TokenPair{}, model.ErrNotFound
	}
	return pair, nil
}

// Save replaces both tokens in a single statement.
func (r *SessionTokenRepository) Save(ctx context.Context, pair model.TokenPair) error {
	const query = `
        INSERT INTO session_tokens (session_id, access_token, refresh_token, created_at, updated_at)
        VALUES ($1, $2, $3, NOW(), NOW())
        ON CONFLICT (session_id) DO UPDATE
        SET access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            updated_at = NOW()
    `
	if _, err := r.db.Exec(ctx, query, r.sessionID, pair.Access, pair.Refresh); err != nil {
		return fmt.Errorf("failed to save session tokens: %w", err)
	}
	return nil
}

func (r *SessionTokenRepository) Clear(ctx context.Context) error {
	const query = `DELETE FROM session_tokens WHERE session_id = $1`
	if _, err := r.db.Exec(ctx, query, r.sessionID); err != nil {
		return fmt.Errorf("failed to delete session tokens: %w", err)
	}
	return nil
}
