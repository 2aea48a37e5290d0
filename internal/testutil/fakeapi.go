package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dtroode/storefront-session/internal/model"
	"github.com/dtroode/storefront-session/internal/token"
)

// FakeAPI is an in-process storefront backend.
//
// It serves login/, token/refresh/, logout/ and user/ under /api/ plus the
// protected cart/ and orders/ endpoints, with HS256 tokens from an Issuer.
type FakeAPI struct {
	Server *httptest.Server
	Issuer *token.Issuer

	refreshCalls  atomic.Int32
	protectedHits atomic.Int32

	mu            sync.Mutex
	users         map[string]string
	revoked       map[string]bool
	loggedOut     []string
	rotate        bool
	rejectRefresh bool
	refreshGate   chan struct{}
	authHeaders   []string
	requests      []string
}

// NewFakeAPI starts a FakeAPI that knows alice/secret and is closed with t.
func NewFakeAPI(t testing.TB) *FakeAPI {
	t.Helper()

	f := &FakeAPI{
		Issuer:  token.NewIssuer("fake-api-secret", time.Minute, time.Hour),
		users:   map[string]string{"alice": "secret"},
		revoked: make(map[string]bool),
	}

	r := chi.NewRouter()
	r.Use(f.record)
	r.Route("/api", func(r chi.Router) {
		r.Post("/login/", f.login)
		r.Post("/token/refresh/", f.refresh)
		r.Post("/logout/", f.logout)
		r.Get("/user/", f.protected(f.profile))
		r.Get("/cart/", f.protected(f.cart))
		r.Post("/orders/", f.protected(f.orders))
	})

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Server.Close)

	return f
}

// BaseURL returns the API base URL ending in "/api/".
func (f *FakeAPI) BaseURL() string {
	return f.Server.URL + "/api/"
}

// Pair issues a valid token pair for subject.
func (f *FakeAPI) Pair(t testing.TB, subject string) model.TokenPair {
	t.Helper()

	access, err := f.Issuer.GenerateAccessToken(subject)
	if err != nil {
		t.Fatalf("failed to issue access token: %v", err)
	}
	refresh, _, err := f.Issuer.GenerateRefreshToken(subject)
	if err != nil {
		t.Fatalf("failed to issue refresh token: %v", err)
	}
	return model.TokenPair{Access: access, Refresh: refresh}
}

// ExpiredPair issues a pair whose access token has already expired.
func (f *FakeAPI) ExpiredPair(t testing.TB, subject string) model.TokenPair {
	t.Helper()

	pair := f.Pair(t, subject)
	access, err := f.Issuer.GenerateExpiredAccessToken(subject, time.Minute)
	if err != nil {
		t.Fatalf("failed to issue expired token: %v", err)
	}
	pair.Access = access
	return pair
}

// SetRotate makes refresh responses carry a new refresh token.
func (f *FakeAPI) SetRotate(rotate bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rotate = rotate
}

// SetRejectRefresh makes every refresh answer 401.
func (f *FakeAPI) SetRejectRefresh(reject bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectRefresh = reject
}

// HoldRefresh makes refresh calls block until the returned function is called.
func (f *FakeAPI) HoldRefresh() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.refreshGate = gate
	f.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// RefreshCalls returns how many refresh requests reached the backend.
func (f *FakeAPI) RefreshCalls() int {
	return int(f.refreshCalls.Load())
}

// ProtectedHits returns how many requests reached protected endpoints.
func (f *FakeAPI) ProtectedHits() int {
	return int(f.protectedHits.Load())
}

// LoggedOut returns the refresh tokens sent to logout/.
func (f *FakeAPI) LoggedOut() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.loggedOut...)
}

// AuthHeaders returns the Authorization headers seen by protected endpoints.
func (f *FakeAPI) AuthHeaders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.authHeaders...)
}

// Requests returns "METHOD path" of every request in arrival order.
func (f *FakeAPI) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *FakeAPI) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)
		f.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (f *FakeAPI) login(w http.ResponseWriter, r *http.Request) {
	var req model.Credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "malformed body"})
		return
	}

	f.mu.Lock()
	password, ok := f.users[req.Username]
	f.mu.Unlock()
	if !ok || password != req.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid credentials"})
		return
	}

	access, err := f.Issuer.GenerateAccessToken(req.Username)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, nil)
		return
	}
	refresh, _, err := f.Issuer.GenerateRefreshToken(req.Username)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": access, "refresh": refresh})
}

func (f *FakeAPI) refresh(w http.ResponseWriter, r *http.Request) {
	f.refreshCalls.Add(1)

	f.mu.Lock()
	gate, reject, rotate := f.refreshGate, f.rejectRefresh, f.rotate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Refresh == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "refresh is required"})
		return
	}

	subject, jti, err := f.Issuer.ParseRefreshToken(req.Refresh)
	f.mu.Lock()
	revoked := f.revoked[jti]
	f.mu.Unlock()
	if reject || err != nil || revoked {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "token is invalid or expired"})
		return
	}

	access, err := f.Issuer.GenerateAccessToken(subject)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, nil)
		return
	}
	resp := map[string]string{"access": access}
	if rotate {
		refresh, _, err := f.Issuer.GenerateRefreshToken(subject)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, nil)
			return
		}
		f.mu.Lock()
		f.revoked[jti] = true
		f.mu.Unlock()
		resp["refresh"] = refresh
	}
	writeJSON(w, http.StatusOK, resp)
}

func (f *FakeAPI) logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, nil)
		return
	}

	f.mu.Lock()
	f.loggedOut = append(f.loggedOut, req.Refresh)
	f.mu.Unlock()

	if _, jti, err := f.Issuer.ParseRefreshToken(req.Refresh); err == nil {
		f.mu.Lock()
		f.revoked[jti] = true
		f.mu.Unlock()
	}
	w.WriteHeader(http.StatusResetContent)
}

func (f *FakeAPI) protected(next func(w http.ResponseWriter, r *http.Request, subject string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.protectedHits.Add(1)

		auth := r.Header.Get("Authorization")
		f.mu.Lock()
		f.authHeaders = append(f.authHeaders, auth)
		f.mu.Unlock()

		raw, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "credentials were not provided"})
			return
		}
		subject, err := f.Issuer.ParseAccessToken(raw)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "token is invalid or expired"})
			return
		}
		next(w, r, subject)
	}
}

func (f *FakeAPI) profile(w http.ResponseWriter, _ *http.Request, subject string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"user": model.Profile{ID: 1, Username: subject, Email: subject + "@example.com"},
	})
}

func (f *FakeAPI) cart(w http.ResponseWriter, _ *http.Request, subject string) {
	writeJSON(w, http.StatusOK, map[string]any{"owner": subject, "items": []string{}})
}

func (f *FakeAPI) orders(w http.ResponseWriter, r *http.Request, subject string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, nil)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"owner": subject, "echo": string(body)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
