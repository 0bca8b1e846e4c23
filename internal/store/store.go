// Package store defines the persistence contract for terminated sessions.
//
// The engine hands each session over exactly once, at termination; the store
// is append-only from the engine's perspective. The read side exists for the
// analytics aggregator, which recomputes its metrics from stored turn logs
// on demand.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/pitchside-ai/pitchside/internal/conversation"
)

// ErrDuplicateSession is returned when a session id is archived twice.
var ErrDuplicateSession = errors.New("store: session already archived")

// Window bounds a read-side query in time. Zero values leave the bound open.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && !t.Before(w.To) {
		return false
	}
	return true
}

// Store persists terminated sessions and serves them back for analytics.
// Implementations must be safe for concurrent use.
type Store interface {
	conversation.Archiver

	// ListSessions returns the archived sessions for userID whose EndedAt
	// falls inside window, ordered by EndedAt ascending.
	ListSessions(ctx context.Context, userID string, window Window) ([]conversation.Record, error)
}
