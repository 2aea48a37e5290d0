package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/dtroode/storefront-session/internal/model"
)

// Result is what a queued request receives once the refresh settles.
type Result struct {
	Token string
	Err   error
}

type waiter struct {
	seq  uint64
	done chan Result
}

var errRefreshAborted = errors.New("refresh aborted")

// HandleUnauthorized decides what happens to a request that got a 401.
//
// Public endpoints and requests that were already retried fail terminally.
// sent is the access token the rejected request carried, empty if none. When
// the stored token already differs from it, a refresh finished after the
// request went out and the stored token is returned without another one.
// Otherwise the request joins the in-flight refresh or starts one, and the
// returned token is the credential to retry with. Callers re-issue the request
// at most once, with ctx wrapped by WithRetried.
func (m *Manager) HandleUnauthorized(ctx context.Context, path, sent string) (string, error) {
	if m.IsPublic(path) {
		return "", model.ErrPublicEndpoint
	}
	if IsRetried(ctx) {
		m.logger.DebugContext(ctx, "Session manager: retried request rejected again",
			"path", path)
		return "", model.ErrRetryExhausted
	}

	tok, err := m.refresh(ctx, sent, false)
	if err != nil {
		return "", err
	}

	m.metrics.RequestRetried()
	return tok, nil
}

// Refresh exchanges the stored refresh token for a new access token.
// Concurrent callers share one backend call.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	return m.refresh(ctx, "", true)
}

// EnsureFresh returns a usable access token, refreshing first when the stored
// one is missing or expires within RefreshSkew. Without any stored pair it
// returns ErrMissingCredential and changes nothing.
func (m *Manager) EnsureFresh(ctx context.Context) (string, error) {
	pair, err := m.store.Load(ctx)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return "", model.ErrMissingCredential
		}
		return "", fmt.Errorf("failed to load tokens: %w", err)
	}
	if pair.IsZero() {
		return "", model.ErrMissingCredential
	}

	if pair.Access != "" && !m.IsExpired(pair.Access, m.opts.RefreshSkew) {
		return pair.Access, nil
	}

	m.logger.DebugContext(ctx, "Session manager: access token expiring, refreshing")
	return m.refresh(ctx, pair.Access, false)
}

// refresh runs the refresh or joins the one in flight. Unless force is set, a
// stored access token other than stale is returned as is. A refresh saves
// before it settles, so the check under mu always sees its result.
func (m *Manager) refresh(ctx context.Context, stale string, force bool) (string, error) {
	m.mu.Lock()
	if m.refreshing {
		w := &waiter{seq: m.nextSeq, done: make(chan Result, 1)}
		m.nextSeq++
		m.pending = append(m.pending, w)
		m.mu.Unlock()

		m.metrics.RequestQueued()

		select {
		case res := <-w.done:
			return res.Token, res.Err
		case <-ctx.Done():
			m.dequeue(w)
			return "", ctx.Err()
		}
	}
	if !force {
		if pair, err := m.store.Load(ctx); err == nil && pair.Access != "" && pair.Access != stale {
			m.mu.Unlock()
			m.logger.DebugContext(ctx, "Session manager: credential already refreshed")
			return pair.Access, nil
		}
	}
	m.refreshing = true
	m.mu.Unlock()

	return m.lead(ctx)
}

// lead performs the refresh on behalf of every queued request.
func (m *Manager) lead(ctx context.Context) (string, error) {
	res := Result{Err: errRefreshAborted}
	var endCause error

	defer func() {
		m.settle(res)
		if endCause != nil {
			m.endSession(ctx, model.EndReasonRefreshFailed, endCause)
		}
	}()

	res, endCause = m.exchange(ctx)
	m.metrics.RefreshCompleted(res.Err)

	return res.Token, res.Err
}

// exchange returns the result for all waiters and, when the session has to
// end, the cause to report.
func (m *Manager) exchange(ctx context.Context) (Result, error) {
	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.RefreshTimeout)
	defer cancel()

	m.writeMu.Lock()
	gen := m.generation
	m.writeMu.Unlock()

	pair, err := m.store.Load(refreshCtx)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return m.fail(refreshCtx, gen, model.ErrMissingCredential)
	case err != nil:
		return m.fail(refreshCtx, gen, fmt.Errorf("failed to load tokens: %w", err))
	case pair.Refresh == "":
		return m.fail(refreshCtx, gen, model.ErrMissingCredential)
	}

	m.logger.DebugContext(ctx, "Session manager: refreshing access token")

	fresh, err := m.auth.Refresh(refreshCtx, pair.Refresh)
	if err == nil && fresh.Access == "" {
		err = fmt.Errorf("%w: empty access token in response", model.ErrRefreshRejected)
	}
	if err != nil {
		return m.fail(refreshCtx, gen, err)
	}

	rotated := fresh.Refresh != "" && fresh.Refresh != pair.Refresh
	if fresh.Refresh == "" {
		fresh.Refresh = pair.Refresh
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if m.generation != gen {
		m.logger.InfoContext(ctx, "Session manager: session changed during refresh, discarding result")
		return m.current(refreshCtx), nil
	}

	if err := m.store.Save(refreshCtx, fresh); err != nil {
		m.logger.ErrorContext(ctx, "Session manager: failed to persist refreshed tokens",
			"error", err.Error())
		return Result{Err: fmt.Errorf("failed to persist tokens: %w", err)}, nil
	}

	m.logger.InfoContext(ctx, "Session manager: access token refreshed",
		"rotated", rotated)

	return Result{Token: fresh.Access}, nil
}

// fail clears the pair unless the session already changed under the refresh.
func (m *Manager) fail(ctx context.Context, gen uint64, cause error) (Result, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if m.generation != gen {
		return m.current(ctx), nil
	}

	m.generation++
	m.profile = nil
	if err := m.store.Clear(ctx); err != nil {
		m.logger.ErrorContext(ctx, "Session manager: failed to clear tokens",
			"error", err.Error())
	}

	return Result{Err: &model.SessionEndedError{Cause: cause}}, cause
}

// current must be called with writeMu held.
func (m *Manager) current(ctx context.Context) Result {
	pair, err := m.store.Load(ctx)
	if err != nil || pair.Access == "" {
		return Result{Err: model.ErrSessionEnded}
	}
	return Result{Token: pair.Access}
}

// dequeue drops a waiter that stopped waiting. A waiter already settled is gone.
func (m *Manager) dequeue(w *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, p := range m.pending {
		if p == w {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

func (m *Manager) settle(res Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.pending {
		if m.settleHook != nil {
			m.settleHook(w.seq)
		}
		w.done <- res
	}
	m.pending = nil
	m.refreshing = false
}
