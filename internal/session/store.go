// internal/session/store.go
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrConflict is returned by Store.ConditionalUpdate when the caller's
// expected version no longer matches the stored row. The write is rejected
// whole; the caller adopts the store's current state instead of merging.
var ErrConflict = errors.New("session version conflict")

// ErrNotFound is returned by Store.Get when no row exists for the session.
var ErrNotFound = errors.New("session not found")

// Snapshot is the store's authoritative view of one session row.
type Snapshot struct {
	CurrentState []BoardCell
	Version      int64
	UpdatedAt    time.Time
}

// Store is the versioned session row: a compare-and-swap keyed by version
// plus an append-only event log. It is the only shared mutable resource;
// all cross-client coordination happens through its version counter.
type Store interface {
	// Get returns the current row, or ErrNotFound if the session has no row.
	Get(ctx context.Context, sessionID uuid.UUID) (Snapshot, error)

	// ConditionalUpdate writes cells only if the stored version still equals
	// expectedVersion, returning the post-write row. A stale expectedVersion
	// yields ErrConflict and leaves the row untouched.
	ConditionalUpdate(ctx context.Context, sessionID uuid.UUID, expectedVersion int64, cells []BoardCell) (Snapshot, error)

	// EventLog returns the session's full event log together with the row's
	// current version.
	EventLog(ctx context.Context, sessionID uuid.UUID) ([]SessionEvent, int64, error)
}

// Feed delivers server pushes for a session row. A push carries the
// post-conflict-resolution truth, so subscribers replace local state with
// any snapshot newer than what they hold.
type Feed interface {
	// Subscribe registers fn for pushes on sessionID and returns a cancel
	// func releasing the subscription.
	Subscribe(sessionID uuid.UUID, fn func(Snapshot)) (func(), error)
}
