package session

import (
	"context"
	"errors"
	"time"

	"github.com/dtroode/storefront-session/internal/model"
)

// Watch checks the access token immediately and then every interval,
// refreshing it when it expires within RefreshSkew. It returns when ctx is done.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.check(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Manager) check(ctx context.Context) {
	_, err := m.EnsureFresh(ctx)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrMissingCredential):
		m.logger.DebugContext(ctx, "Session manager: no session to keep alive")
	case ctx.Err() != nil:
	default:
		m.logger.WarnContext(ctx, "Session manager: periodic refresh failed",
			"error", err.Error())
	}
}
