package model

import "time"

// EndReason tells subscribers why a session ended.
type EndReason string

const (
	// EndReasonLogout is an explicit logout.
	EndReasonLogout EndReason = "logout"
	// EndReasonRefreshFailed is an irrecoverable refresh failure.
	EndReasonRefreshFailed EndReason = "refresh_failed"
	// EndReasonExternalClear means the stored pair was removed outside this process.
	EndReasonExternalClear EndReason = "external_clear"
)

// SessionEvent is emitted once per ended session.
type SessionEvent struct {
	Reason EndReason
	Err    error
	At     time.Time
}

// Navigator moves the user to the unauthenticated entry point.
type Navigator interface {
	Location() string
	Redirect(path string)
}
