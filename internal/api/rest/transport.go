// Package rest talks to the storefront REST API.
package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dtroode/storefront-session/internal/logger"
	"github.com/dtroode/storefront-session/internal/model"
	"github.com/dtroode/storefront-session/internal/session"
)

// SessionManager attaches credentials and recovers from 401 responses.
type SessionManager interface {
	AttachCredential(req *http.Request) *http.Request
	HandleUnauthorized(ctx context.Context, path, sent string) (string, error)
}

// Transport is an http.RoundTripper that sends requests with the session
// credential and re-issues a request once after a 401 triggered a refresh.
type Transport struct {
	base    http.RoundTripper
	session SessionManager
	logger  *logger.Logger
}

// NewTransport creates a Transport sending through base, http.DefaultTransport if nil.
func NewTransport(base http.RoundTripper, session SessionManager, logger *logger.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, session: session, logger: logger}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	req, err := replayable(req)
	if err != nil {
		return nil, err
	}

	attached := t.session.AttachCredential(req)
	sent := strings.TrimPrefix(attached.Header.Get("Authorization"), "Bearer ")

	resp, err := t.base.RoundTrip(attached)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	ctx := req.Context()
	tok, err := t.session.HandleUnauthorized(ctx, req.URL.Path, sent)
	switch {
	case errors.Is(err, model.ErrPublicEndpoint), errors.Is(err, model.ErrRetryExhausted):
		return resp, nil
	case err != nil:
		discard(resp)
		return nil, fmt.Errorf("failed to refresh credentials for %s %s: %w", req.Method, req.URL.Path, err)
	}
	discard(resp)

	retry := req.Clone(session.WithRetried(ctx))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+tok)

	t.logger.DebugContext(ctx, "REST transport: retrying request after refresh",
		"method", req.Method,
		"path", req.URL.Path)

	return t.base.RoundTrip(retry)
}

// replayable returns req, or a clone of it whose body can be sent twice.
func replayable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return req, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(data))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return out, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
