package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores that hold no token pair.
	ErrNotFound = errors.New("not found")

	ErrUnauthorized      = errors.New("unauthorized")
	ErrRefreshRejected   = errors.New("refresh token rejected")
	ErrMissingCredential = errors.New("no refresh token available")
	ErrRetryExhausted    = errors.New("request unauthorized after token refresh")
	ErrPublicEndpoint    = errors.New("public endpoint does not refresh credentials")
	ErrSessionEnded      = errors.New("session ended")
)

// TransportError wraps a network failure reaching the backend.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SessionEndedError is returned to every caller affected by an irrecoverable
// refresh failure. It matches ErrSessionEnded and unwraps to the cause.
type SessionEndedError struct {
	Cause error
}

func (e *SessionEndedError) Error() string {
	return fmt.Sprintf("session ended: %v", e.Cause)
}

func (e *SessionEndedError) Unwrap() []error {
	return []error{ErrSessionEnded, e.Cause}
}
