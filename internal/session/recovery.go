// internal/session/recovery.go
package session

import (
	"context"
	"fmt"
	"sync"
)

// Phase is the session lifecycle state. There is no terminal phase: teardown
// belongs to whoever owns the reconciler, not to the manager.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseStarting Phase = "starting"
	PhaseActive   Phase = "active"
	PhaseError    Phase = "error"
)

// Recovery drives one session's lifecycle: idle -> starting -> active,
// dropping into error on any captured failure. Reconnect is reachable from
// active or error and rebuilds state by replaying the full event log, always
// terminating back in active on success or error on failure.
type Recovery struct {
	store Store
	rec   *Reconciler

	mu    sync.Mutex
	phase Phase
	err   error
}

// NewRecovery builds a recovery manager over an existing reconciler.
func NewRecovery(store Store, rec *Reconciler) *Recovery {
	return &Recovery{
		store: store,
		rec:   rec,
		phase: PhaseIdle,
	}
}

// Start begins the session: fetch initial state and attach the change feed.
// Any failure is captured into the observable error field rather than
// propagated; the returned error mirrors the field for callers that want it.
func (m *Recovery) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != PhaseIdle {
		m.mu.Unlock()
		return fmt.Errorf("cannot start session from phase %q", m.phase)
	}
	m.phase = PhaseStarting
	m.mu.Unlock()

	if err := m.rec.FetchInitialState(ctx); err != nil {
		m.fail(fmt.Errorf("start session: %w", err))
		return err
	}
	if err := m.rec.Subscribe(); err != nil {
		m.fail(fmt.Errorf("start session: %w", err))
		return err
	}

	m.mu.Lock()
	m.phase = PhaseActive
	m.mu.Unlock()
	return nil
}

// Reconnect is the sole recovery path after a dropped connection: it reads
// the row's current version and full event log, folds the log ascending into
// a fresh state, and installs it on the reconciler. It is a full replay, not
// an incremental catch-up, and is idempotent for a given log.
func (m *Recovery) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != PhaseActive && m.phase != PhaseError {
		m.mu.Unlock()
		return fmt.Errorf("cannot reconnect from phase %q", m.phase)
	}
	m.mu.Unlock()

	events, version, err := m.store.EventLog(ctx, m.rec.sessionID)
	if err != nil {
		m.fail(fmt.Errorf("reconnect: fetch event log: %w", err))
		return err
	}

	SortEvents(events)
	state, err := Replay(events, version)
	if err != nil {
		m.fail(fmt.Errorf("reconnect: %w", err))
		return err
	}
	m.rec.adoptReplayed(state)

	m.mu.Lock()
	m.phase = PhaseActive
	m.err = nil
	m.mu.Unlock()
	return nil
}

// ClearError resets the captured error and returns the manager to idle so a
// session can be started again. No other side effects.
func (m *Recovery) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = nil
	if m.phase == PhaseError {
		m.phase = PhaseIdle
	}
}

// Phase returns the current lifecycle phase.
func (m *Recovery) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Err returns the captured error, if any.
func (m *Recovery) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Recovery) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = PhaseError
	m.err = err
}
