// internal/session/reconciler.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Reconciler owns one client's in-memory view of a session's board state.
// Local edits are applied optimistically, submitted as conditional updates,
// and reconciled against whatever the store echoes or pushes back. The
// store's version counter always wins: a rejected write is discarded, never
// merged or retried.
type Reconciler struct {
	store     Store
	feed      Feed
	sessionID uuid.UUID

	now func() time.Time

	mu     sync.Mutex
	state  *GameState
	err    error
	unsub  func()
	closed bool
}

// NewReconciler builds a reconciler for one session. Store and feed are
// injected so tests can supply fakes. The change feed is not subscribed
// until Subscribe is called.
func NewReconciler(store Store, feed Feed, sessionID uuid.UUID) *Reconciler {
	return &Reconciler{
		store:     store,
		feed:      feed,
		sessionID: sessionID,
		now:       time.Now,
	}
}

// FetchInitialState reads the current row and seeds local state from it.
// An absent row leaves state nil without error. A failed fetch leaves state
// nil and records the error, observable via Err.
func (r *Reconciler) FetchInitialState(ctx context.Context) error {
	snap, err := r.store.Get(ctx, r.sessionID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.state = nil
			return nil
		}
		r.err = fmt.Errorf("fetch initial state: %w", err)
		return r.err
	}
	r.adoptLocked(snap)
	return nil
}

// UpdateGameState applies edits optimistically, then issues a conditional
// update against the version the edits were computed from. On success local
// state becomes the store's echoed row; on conflict (or any store failure
// followed by a successful re-fetch) local state becomes the store's current
// authoritative row and the optimistic edit is discarded entirely.
func (r *Reconciler) UpdateGameState(ctx context.Context, edits []CellEdit) error {
	r.mu.Lock()
	if r.state == nil {
		r.mu.Unlock()
		return errors.New("no session state loaded")
	}
	expected := r.state.Version
	optimistic := ApplyEdits(*r.state, edits, r.now())
	r.state = &optimistic
	cells := CloneCells(optimistic.CurrentState)
	r.mu.Unlock()

	snap, err := r.store.ConditionalUpdate(ctx, r.sessionID, expected, cells)
	if err == nil {
		r.adopt(snap)
		return nil
	}

	// Rejected or failed write: fall back to the store's current truth.
	// Last-writer-wins is resolved server-side, so the optimistic value
	// must not survive regardless of which field conflicted.
	authoritative, fetchErr := r.store.Get(ctx, r.sessionID)
	if fetchErr != nil {
		r.setErr(fmt.Errorf("recover after failed update: %w", fetchErr))
		return fetchErr
	}
	r.adopt(authoritative)
	if errors.Is(err, ErrConflict) {
		return nil
	}
	return err
}

// Subscribe attaches the reconciler to its change feed. Any push carrying a
// newer version than local state replaces it unconditionally.
func (r *Reconciler) Subscribe() error {
	unsub, err := r.feed.Subscribe(r.sessionID, r.applyPush)
	if err != nil {
		r.setErr(fmt.Errorf("subscribe change feed: %w", err))
		return err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		unsub()
		return nil
	}
	r.unsub = unsub
	r.mu.Unlock()
	return nil
}

func (r *Reconciler) applyPush(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.state != nil && snap.Version <= r.state.Version {
		return
	}
	r.adoptLocked(snap)
}

// adopt replaces local state with snap unless a newer state arrived in the
// meantime. Used for store echoes and post-conflict re-fetches, where snap
// is authoritative for its version.
func (r *Reconciler) adopt(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	// The optimistic state keeps the pre-write version, so an echo or
	// authoritative re-fetch always passes this check; only a push that
	// already advanced us further is preserved.
	if r.state != nil && snap.Version < r.state.Version {
		return
	}
	r.adoptLocked(snap)
}

func (r *Reconciler) adoptLocked(snap Snapshot) {
	player := 0
	if r.state != nil {
		player = r.state.CurrentPlayer
	}
	r.state = &GameState{
		CurrentState:  CloneCells(snap.CurrentState),
		CurrentPlayer: player,
		LastUpdate:    snap.UpdatedAt,
		Version:       snap.Version,
	}
}

// adoptReplayed installs a state rebuilt from the event log. Used by the
// recovery manager after a reconnect.
func (r *Reconciler) adoptReplayed(state *GameState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if state == nil {
		r.state = nil
		return
	}
	s := state.Clone()
	r.state = &s
}

// State returns a copy of the current local state, or nil before the first
// successful fetch.
func (r *Reconciler) State() *GameState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		return nil
	}
	s := r.state.Clone()
	return &s
}

// Err returns the last captured transient failure, if any.
func (r *Reconciler) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Reconciler) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.err = err
}

// Close releases the change-feed subscription and marks the reconciler dead.
// In-flight calls are not aborted, but their eventual results are dropped.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	unsub := r.unsub
	r.unsub = nil
	r.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}
