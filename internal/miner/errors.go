package miner

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpected marks an iteration failure that is neither a fetch nor a claim failure.
	ErrUnexpected = errors.New("miner: unexpected iteration failure")

	// ErrSessionNotFound is returned by the registry for unknown session ids.
	ErrSessionNotFound = errors.New("miner: session not found")

	// ErrSessionExists is returned when creating a session id twice.
	ErrSessionExists = errors.New("miner: session already exists")

	// ErrInvalidTransition is returned for commands the current state cannot accept.
	ErrInvalidTransition = errors.New("miner: invalid state transition")

	// ErrRestartRequired is returned when start is issued on a failed session.
	ErrRestartRequired = errors.New("miner: session failed, restart required")

	// ErrSessionStopping is returned when start is issued while a stop is still draining.
	ErrSessionStopping = errors.New("miner: session is stopping")
)

// FetchErrorKind classifies transient fetch failures.
type FetchErrorKind string

const (
	FetchNetwork   FetchErrorKind = "network"
	FetchAuth      FetchErrorKind = "auth"
	FetchRateLimit FetchErrorKind = "rate_limit"
	FetchRemote    FetchErrorKind = "remote"
)

// FetchError is a recognized, transient failure of the remote fetcher. The loop
// skips the iteration and retries after the error backoff.
type FetchError struct {
	Kind FetchErrorKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch campaigns (%s): %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError wraps err as a FetchError of the given kind.
func NewFetchError(kind FetchErrorKind, err error) *FetchError {
	return &FetchError{Kind: kind, Err: err}
}

// ClaimError is a recognized claim failure. It is counted against the
// campaign's retry budget and never fails the loop.
type ClaimError struct {
	Reason string
	Err    error
}

func (e *ClaimError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("claim failed: %s", e.Reason)
	}
	return fmt.Sprintf("claim failed: %s: %v", e.Reason, e.Err)
}

func (e *ClaimError) Unwrap() error { return e.Err }
