package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dtroode/storefront-session/internal/logger"
	"github.com/dtroode/storefront-session/internal/model"
	"github.com/dtroode/storefront-session/internal/token"
)

// MetricsRecorder receives lifecycle counters.
type MetricsRecorder interface {
	RefreshCompleted(err error)
	RequestQueued()
	RequestRetried()
	SessionEnded(reason string)
}

// ProfileFetcher loads the signed-in user with the stored credential.
type ProfileFetcher interface {
	Profile(ctx context.Context) (model.Profile, error)
}

// Options tunes the Manager.
type Options struct {
	// RefreshSkew makes tokens count as expired this long before their exp claim.
	RefreshSkew time.Duration
	// RefreshTimeout bounds the refresh call. A timeout is a terminal refresh failure.
	RefreshTimeout time.Duration
	// LogoutTimeout bounds the best-effort backend logout notification.
	LogoutTimeout time.Duration
	Metrics       MetricsRecorder
}

const (
	defaultRefreshTimeout = 10 * time.Second
	defaultLogoutTimeout  = 5 * time.Second
)

// Manager owns the token pair of one session.
//
// It attaches credentials to outgoing requests, runs at most one refresh at a
// time, parks requests that hit a 401 during a refresh and settles them in
// arrival order once the refresh is done.
type Manager struct {
	store     model.TokenStore
	auth      model.Authenticator
	endpoints *Endpoints
	logger    *logger.Logger
	metrics   MetricsRecorder
	opts      Options
	now       func() time.Time

	// mu guards the refresh coordination state.
	mu         sync.Mutex
	refreshing bool
	pending    []*waiter
	nextSeq    uint64
	settleHook func(seq uint64)

	// writeMu serialises writes of the pair and guards generation and the
	// cached profile, which lives and dies with the pair.
	writeMu    sync.Mutex
	generation uint64
	profiles   ProfileFetcher
	profile    *model.Profile

	listenersMu    sync.Mutex
	listeners      map[uint64]Listener
	nextListenerID uint64
}

// NewManager creates a Manager.
func NewManager(
	store model.TokenStore,
	auth model.Authenticator,
	endpoints *Endpoints,
	logger *logger.Logger,
	opts Options,
) *Manager {
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = defaultRefreshTimeout
	}
	if opts.LogoutTimeout <= 0 {
		opts.LogoutTimeout = defaultLogoutTimeout
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}

	return &Manager{
		store:     store,
		auth:      auth,
		endpoints: endpoints,
		logger:    logger,
		metrics:   metrics,
		opts:      opts,
		now:       time.Now,
		listeners: make(map[uint64]Listener),
	}
}

// IsPublic reports whether path is a public endpoint.
func (m *Manager) IsPublic(path string) bool {
	return m.endpoints.IsPublic(path)
}

// AttachCredential returns req with the current access token as bearer
// credential. Public requests and requests made without a stored token are
// returned unchanged. It never waits for a refresh.
func (m *Manager) AttachCredential(req *http.Request) *http.Request {
	if m.IsPublic(req.URL.Path) {
		return req
	}

	bearer, ok := m.Bearer(req.Context())
	if !ok {
		return req
	}

	out := req.Clone(req.Context())
	out.Header.Set("Authorization", bearer)
	return out
}

// Bearer returns the Authorization header value for the current access token.
func (m *Manager) Bearer(ctx context.Context) (string, bool) {
	pair, err := m.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			m.logger.WarnContext(ctx, "Session manager: failed to load tokens",
				"error", err.Error())
		}
		return "", false
	}
	if pair.Access == "" {
		return "", false
	}
	return "Bearer " + pair.Access, true
}

// IsExpired reports whether tok expires within skew. Undecodable tokens are expired.
func (m *Manager) IsExpired(tok string, skew time.Duration) bool {
	return token.IsExpiredAt(tok, skew, m.now())
}

// IsAuthenticated reports whether a non-expired access token is stored.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	pair, err := m.store.Load(ctx)
	if err != nil {
		return false
	}
	return pair.Access != "" && !m.IsExpired(pair.Access, 0)
}

// Login exchanges creds for a token pair and persists it as one unit.
func (m *Manager) Login(ctx context.Context, creds model.Credentials) (model.Session, error) {
	m.logger.DebugContext(ctx, "Session manager: logging in",
		"username", creds.Username)

	pair, err := m.auth.Login(ctx, creds)
	if err != nil {
		m.logger.ErrorContext(ctx, "Session manager: login failed",
			"username", creds.Username,
			"error", err.Error())
		return model.Session{}, fmt.Errorf("failed to login: %w", err)
	}
	if pair.Access == "" || pair.Refresh == "" {
		return model.Session{}, fmt.Errorf("failed to login: incomplete token pair in response")
	}

	m.writeMu.Lock()
	m.generation++
	gen := m.generation
	m.profile = nil
	profiles := m.profiles
	err = m.store.Save(ctx, pair)
	m.writeMu.Unlock()
	if err != nil {
		return model.Session{}, fmt.Errorf("failed to persist tokens: %w", err)
	}

	session := model.Session{Pair: pair}
	session.Subject, _ = token.Subject(pair.Access)
	session.ExpiresAt, _ = token.ExpiresAt(pair.Access)

	// The profile request needs the stored pair, so it goes out only after Save.
	if profiles != nil {
		session.Profile = m.fetchProfile(ctx, profiles, gen)
	}

	m.logger.InfoContext(ctx, "Session manager: login completed",
		"username", creds.Username,
		"subject", session.Subject)

	return session, nil
}

// SetProfileFetcher makes Login load and cache the signed-in user.
func (m *Manager) SetProfileFetcher(f ProfileFetcher) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.profiles = f
}

// Profile returns the user cached by the last Login. It is dropped whenever
// the pair is cleared.
func (m *Manager) Profile() (model.Profile, bool) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.profile == nil {
		return model.Profile{}, false
	}
	return *m.profile, true
}

func (m *Manager) fetchProfile(ctx context.Context, profiles ProfileFetcher, gen uint64) *model.Profile {
	profile, err := profiles.Profile(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "Session manager: failed to fetch profile",
			"error", err.Error())
		return nil
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.generation != gen {
		return nil
	}
	m.profile = &profile
	out := profile
	return &out
}

// Logout notifies the backend on a best-effort basis, then always clears the
// stored pair and emits a session-ended event.
func (m *Manager) Logout(ctx context.Context) (err error) {
	defer func() {
		if clearErr := m.clear(context.WithoutCancel(ctx)); clearErr != nil {
			err = clearErr
		}
		m.endSession(ctx, model.EndReasonLogout, nil)
	}()

	pair, loadErr := m.store.Load(ctx)
	if loadErr != nil || pair.Refresh == "" {
		m.logger.DebugContext(ctx, "Session manager: no refresh token to revoke")
		return nil
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.LogoutTimeout)
	defer cancel()

	if notifyErr := m.auth.Logout(notifyCtx, pair.Refresh); notifyErr != nil {
		m.logger.WarnContext(ctx, "Session manager: backend logout failed",
			"error", notifyErr.Error())
	}

	return nil
}

// Clear drops the stored pair and ends the session with reason.
// It is used when the pair disappears outside of this Manager.
func (m *Manager) Clear(ctx context.Context, reason model.EndReason) error {
	err := m.clear(ctx)
	m.endSession(ctx, reason, nil)
	return err
}

func (m *Manager) clear(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.generation++
	m.profile = nil
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	return nil
}
