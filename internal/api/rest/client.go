package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dtroode/storefront-session/internal/logger"
	"github.com/dtroode/storefront-session/internal/model"
)

// Paths relative to the API base URL.
const (
	PathLogin   = "login/"
	PathRefresh = "token/refresh/"
	PathLogout  = "logout/"
	PathProfile = "user/"
)

// Client calls the storefront auth endpoints. It implements model.Authenticator.
// Its requests never go through the refreshing Transport.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *logger.Logger
}

// NewClient creates a Client for the API rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *logger.Logger) (*Client, error) {
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL: u,
		http: &http.Client{
			Timeout:   timeout,
			Transport: NewLogging(nil, logger),
		},
		logger: logger,
	}, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type tokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, creds model.Credentials) (model.TokenPair, error) {
	var resp tokenResponse
	status, err := c.postJSON(ctx, PathLogin, loginRequest{Username: creds.Username, Password: creds.Password}, &resp)
	if err != nil {
		return model.TokenPair{}, err
	}

	switch status {
	case http.StatusOK, http.StatusCreated:
		return model.TokenPair{Access: resp.Access, Refresh: resp.Refresh}, nil
	case http.StatusBadRequest, http.StatusUnauthorized:
		return model.TokenPair{}, model.ErrUnauthorized
	default:
		return model.TokenPair{}, fmt.Errorf("login: unexpected status %d", status)
	}
}

// Refresh exchanges a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	var resp tokenResponse
	status, err := c.postJSON(ctx, PathRefresh, refreshRequest{Refresh: refreshToken}, &resp)
	if err != nil {
		return model.TokenPair{}, err
	}

	switch status {
	case http.StatusOK:
		return model.TokenPair{Access: resp.Access, Refresh: resp.Refresh}, nil
	case http.StatusBadRequest, http.StatusUnauthorized:
		return model.TokenPair{}, model.ErrRefreshRejected
	default:
		return model.TokenPair{}, fmt.Errorf("refresh: unexpected status %d", status)
	}
}

// Logout asks the backend to revoke refreshToken.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	status, err := c.postJSON(ctx, PathLogout, refreshRequest{Refresh: refreshToken}, nil)
	if err != nil {
		return err
	}
	if status >= http.StatusBadRequest {
		return fmt.Errorf("logout: unexpected status %d", status)
	}
	return nil
}

// Authorized returns an API client whose requests carry the session credential.
func (c *Client) Authorized(session SessionManager) *API {
	return &API{
		baseURL: c.baseURL,
		http: &http.Client{
			Timeout:   c.http.Timeout,
			Transport: NewTransport(NewLogging(nil, c.logger), session, c.logger),
		},
	}
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) (int, error) {
	op := strings.TrimSuffix(path, "/")

	payload, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("%s: failed to encode request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, resolve(c.baseURL, path), bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &model.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, &model.TransportError{Op: op, Err: err}
	}

	if out != nil && resp.StatusCode < http.StatusMultipleChoices && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return 0, fmt.Errorf("%s: failed to parse response: %w", op, err)
		}
	}

	return resp.StatusCode, nil
}

// API calls protected storefront endpoints.
type API struct {
	baseURL *url.URL
	http    *http.Client
}

// Profile returns the signed-in user.
func (a *API) Profile(ctx context.Context) (model.Profile, error) {
	var body struct {
		User *model.Profile `json:"user"`
		model.Profile
	}
	if err := a.Get(ctx, PathProfile, &body); err != nil {
		return model.Profile{}, err
	}
	if body.User != nil {
		return *body.User, nil
	}
	return body.Profile, nil
}

// Get fetches path and decodes the JSON response into out.
func (a *API) Get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolve(a.baseURL, path), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		if errors.Is(err, model.ErrSessionEnded) {
			return err
		}
		return &model.TransportError{Op: "GET " + path, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return model.ErrUnauthorized
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("GET %s: failed to parse response: %w", path, err)
	}
	return nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u, nil
}

func resolve(base *url.URL, path string) string {
	return base.ResolveReference(&url.URL{Path: strings.TrimPrefix(path, "/")}).String()
}
