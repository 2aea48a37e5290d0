package rest

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dtroode/storefront-session/internal/logger"
)

const headerRequestID = "X-Request-Id"

// Logging is an http.RoundTripper that tags each request with an
// X-Request-Id and logs a summary of the exchange.
type Logging struct {
	base   http.RoundTripper
	logger *logger.Logger
}

// NewLogging creates a Logging transport sending through base, http.DefaultTransport if nil.
func NewLogging(base http.RoundTripper, logger *logger.Logger) *Logging {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Logging{base: base, logger: logger}
}

// RoundTrip implements http.RoundTripper.
func (l *Logging) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	rid := req.Header.Get(headerRequestID)
	if rid == "" {
		rid = uuid.NewString()
		req = req.Clone(req.Context())
		req.Header.Set(headerRequestID, rid)
	}

	resp, err := l.base.RoundTrip(req)

	attrs := []any{
		"request_id", rid,
		"method", req.Method,
		"path", req.URL.Path,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		l.logger.ErrorContext(req.Context(), "HTTP request failed", append(attrs, "error", err.Error())...)
		return nil, err
	}

	l.logger.InfoContext(req.Context(), "HTTP request", append(attrs, "status", resp.StatusCode)...)
	return resp, nil
}
