// Package gcal synchronizes event records into a Google Calendar through an
// OAuth-gated session and a single batch insert request.
package gcal

import "errors"

// State is the lifecycle state of a Session.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	// StateInitFailed is terminal for one Initialize attempt; a fresh
	// Initialize call starts over.
	StateInitFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitializing:
		return "INITIALIZING"
	case StateReady:
		return "READY"
	case StateInitFailed:
		return "INIT_FAILED"
	default:
		return "UNKNOWN"
	}
}

// AuthState tracks the authorization flow of the most recent sync.
type AuthState int

const (
	AuthIdle AuthState = iota
	AuthAuthorizing
	AuthAuthorized
	AuthFailed
)

func (s AuthState) String() string {
	switch s {
	case AuthIdle:
		return "IDLE"
	case AuthAuthorizing:
		return "AUTHORIZING"
	case AuthAuthorized:
		return "AUTHORIZED"
	case AuthFailed:
		return "AUTH_FAILED"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrNotInitialized is returned by SyncEvents before Initialize succeeded.
	ErrNotInitialized = errors.New("google calendar not initialized")
	// ErrInitInProgress is returned when Initialize is called while another
	// Initialize call is still waiting for dependencies.
	ErrInitInProgress = errors.New("google calendar initialization already in progress")
	// ErrSyncInProgress is returned when SyncEvents overlaps another sync on
	// the same session.
	ErrSyncInProgress = errors.New("calendar sync already in progress")
	// ErrDependencyUnavailable matches every *DependencyError.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrNoAuthorizer is returned when a session has no way to obtain consent.
	ErrNoAuthorizer = errors.New("no authorizer configured")
)
