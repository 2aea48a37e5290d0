package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/storefront-session/internal/model"
	"github.com/dtroode/storefront-session/internal/session"
	"github.com/dtroode/storefront-session/internal/storage/memory"
	"github.com/dtroode/storefront-session/internal/testutil"
)

var testPublic = []string{"login/", "register/", "token/refresh/"}

type queueCounter struct {
	queued atomic.Int32
}

func (q *queueCounter) RefreshCompleted(error) {}
func (q *queueCounter) RequestQueued()         { q.queued.Add(1) }
func (q *queueCounter) RequestRetried()        {}
func (q *queueCounter) SessionEnded(string)    {}

type harness struct {
	api     *testutil.FakeAPI
	store   *memory.Store
	manager *session.Manager
	client  *Client
	http    *http.Client
	metrics *queueCounter
}

func newHarness(t *testing.T, pair model.TokenPair) *harness {
	t.Helper()

	api := testutil.NewFakeAPI(t)
	log := testutil.MakeNoopLogger()

	client, err := NewClient(api.BaseURL(), 5*time.Second, log)
	require.NoError(t, err)

	store := memory.NewStoreWith(pair)
	metrics := &queueCounter{}
	manager := session.NewManager(store, client, session.NewEndpoints(api.BaseURL(), testPublic), log,
		session.Options{Metrics: metrics})

	return &harness{
		api:     api,
		store:   store,
		manager: manager,
		client:  client,
		http:    &http.Client{Transport: NewTransport(nil, manager, log)},
		metrics: metrics,
	}
}

func TestTransport_AttachesCredential(t *testing.T) {
	t.Parallel()

	h := newHarness(t, model.TokenPair{})
	pair := h.api.Pair(t, "alice")
	require.NoError(t, h.store.Save(context.Background(), pair))

	resp, err := h.http.Get(h.api.BaseURL() + "cart/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"Bearer " + pair.Access}, h.api.AuthHeaders())
	assert.Equal(t, 0, h.api.RefreshCalls())
}

func TestTransport_RefreshesAndRetries(t *testing.T) {
	t.Parallel()

	h := newHarness(t, model.TokenPair{})
	pair := h.api.ExpiredPair(t, "alice")
	require.NoError(t, h.store.Save(context.Background(), pair))

	resp, err := h.http.Get(h.api.BaseURL() + "cart/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, h.api.RefreshCalls())
	assert.Equal(t, 2, h.api.ProtectedHits())

	stored, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, pair.Access, stored.Access)
	assert.Equal(t, pair.Refresh, stored.Refresh)

	headers := h.api.AuthHeaders()
	require.Len(t, headers, 2)
	assert.Equal(t, "Bearer "+stored.Access, headers[1])
}

func TestTransport_ReplaysBody(t *testing.T) {
	t.Parallel()

	h := newHarness(t, model.TokenPair{})
	require.NoError(t, h.store.Save(context.Background(), h.api.ExpiredPair(t, "alice")))

	resp, err := h.http.Post(h.api.BaseURL()+"orders/", "application/json",
		io.NopCloser(strings.NewReader(`{"sku":"A-1","qty":2}`)))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, `{"sku":"A-1","qty":2}`, body["echo"])
}

func TestTransport_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	t.Parallel()

	h := newHarness(t, model.TokenPair{})
	require.NoError(t, h.store.Save(context.Background(), h.api.ExpiredPair(t, "alice")))
	release := h.api.HoldRefresh()
	defer release()

	const n = 8
	statuses := make([]int, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := h.http.Get(h.api.BaseURL() + "cart/")
			if err != nil {
				errs[i] = err
				return
			}
			statuses[i] = resp.StatusCode
			_ = resp.Body.Close()
		}(i)
	}

	require.Eventually(t, func() bool {
		return h.api.RefreshCalls() == 1 && h.metrics.queued.Load() == n-1
	}, 5*time.Second, 10*time.Millisecond)
	release()
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, http.StatusOK, statuses[i])
	}
	assert.Equal(t, 1, h.api.RefreshCalls())
	assert.Equal(t, 2*n, h.api.ProtectedHits())
}

func TestTransport_RefreshRejectedEndsSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, model.TokenPair{})
	require.NoError(t, h.store.Save(context.Background(), h.api.ExpiredPair(t, "alice")))
	h.api.SetRejectRefresh(true)

	var ended atomic.Int32
	h.manager.OnSessionEnded(func(ev model.SessionEvent) {
		ended.Add(1)
		assert.Equal(t, model.EndReasonRefreshFailed, ev.Reason)
	})

	_, err := h.http.Get(h.api.BaseURL() + "cart/")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrSessionEnded)
	assert.ErrorIs(t, err, model.ErrRefreshRejected)

	_, err = h.store.Load(context.Background())
	require.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, int32(1), ended.Load())

	_, _ = h.http.Get(h.api.BaseURL() + "cart/")
	headers := h.api.AuthHeaders()
	assert.Empty(t, headers[len(headers)-1])
}

func TestTransport_PublicUnauthorizedPassesThrough(t *testing.T) {
	t.Parallel()

	h := newHarness(t, model.TokenPair{})
	pair := h.api.Pair(t, "alice")
	require.NoError(t, h.store.Save(context.Background(), pair))

	resp, err := h.http.Post(h.api.BaseURL()+"login/", "application/json",
		strings.NewReader(`{"username":"alice","password":"wrong"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, h.api.RefreshCalls())

	stored, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pair, stored)
}

type stubSession struct {
	calls atomic.Int32
	token string
	err   error
}

func (s *stubSession) AttachCredential(req *http.Request) *http.Request {
	return req
}

func (s *stubSession) HandleUnauthorized(ctx context.Context, _, _ string) (string, error) {
	s.calls.Add(1)
	if session.IsRetried(ctx) {
		return "", model.ErrRetryExhausted
	}
	return s.token, s.err
}

func TestTransport_RetriesAtMostOnce(t *testing.T) {
	t.Parallel()

	api := testutil.NewFakeAPI(t)
	stub := &stubSession{token: "still-invalid"}
	client := &http.Client{Transport: NewTransport(nil, stub, testutil.MakeNoopLogger())}

	resp, err := client.Get(api.BaseURL() + "cart/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 2, api.ProtectedHits())
	assert.Equal(t, int32(1), stub.calls.Load())
	assert.Equal(t, []string{"", "Bearer still-invalid"}, api.AuthHeaders())
}

func TestTransport_AlreadyRetriedRequest(t *testing.T) {
	t.Parallel()

	api := testutil.NewFakeAPI(t)
	stub := &stubSession{token: "unused"}
	client := &http.Client{Transport: NewTransport(nil, stub, testutil.MakeNoopLogger())}

	req, err := http.NewRequestWithContext(session.WithRetried(context.Background()), http.MethodGet, api.BaseURL()+"cart/", nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 1, api.ProtectedHits())
}

func TestTransport_RefreshErrorIsReturned(t *testing.T) {
	t.Parallel()

	api := testutil.NewFakeAPI(t)
	boom := errors.New("boom")
	stub := &stubSession{err: boom}
	client := &http.Client{Transport: NewTransport(nil, stub, testutil.MakeNoopLogger())}

	_, err := client.Get(api.BaseURL() + "cart/")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, api.ProtectedHits())
}

// holdingTransport delays the first response of requests carrying the hold
// header until released.
type holdingTransport struct {
	base    http.RoundTripper
	held    chan struct{}
	release chan struct{}
}

const headerHold = "X-Test-Hold"

func (h *holdingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := h.base.RoundTrip(req)
	if req.Header.Get(headerHold) != "" && !session.IsRetried(req.Context()) {
		h.held <- struct{}{}
		<-h.release
	}
	return resp, err
}

func TestTransport_LateUnauthorizedReusesRefreshedToken(t *testing.T) {
	t.Parallel()

	h := newHarness(t, model.TokenPair{})
	h.api.SetRotate(true)
	pair := h.api.ExpiredPair(t, "alice")
	require.NoError(t, h.store.Save(context.Background(), pair))

	hold := &holdingTransport{
		base:    http.DefaultTransport,
		held:    make(chan struct{}),
		release: make(chan struct{}),
	}
	client := &http.Client{Transport: NewTransport(hold, h.manager, testutil.MakeNoopLogger())}

	late := make(chan int, 1)
	go func() {
		req, err := http.NewRequest(http.MethodGet, h.api.BaseURL()+"cart/", nil)
		if err != nil {
			late <- 0
			return
		}
		req.Header.Set(headerHold, "1")
		resp, err := client.Do(req)
		if err != nil {
			late <- 0
			return
		}
		_ = resp.Body.Close()
		late <- resp.StatusCode
	}()
	<-hold.held

	resp, err := client.Get(h.api.BaseURL() + "cart/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, h.api.RefreshCalls())

	close(hold.release)
	assert.Equal(t, http.StatusOK, <-late)
	assert.Equal(t, 1, h.api.RefreshCalls())

	stored, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, pair.Refresh, stored.Refresh)

	headers := h.api.AuthHeaders()
	require.Len(t, headers, 4)
	assert.Equal(t, "Bearer "+stored.Access, headers[3])
}
