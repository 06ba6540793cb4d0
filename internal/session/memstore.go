// internal/session/memstore.go
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memRow struct {
	cells     []BoardCell
	version   int64
	updatedAt time.Time
	events    []SessionEvent
}

// MemStore is an in-memory Store with the same compare-and-swap semantics as
// the postgres-backed one. Writes are published to the attached hub, so a
// MemStore plus its hub behaves like a full store + change feed pair. Used
// by tests and by the dev server profile.
type MemStore struct {
	hub *Hub
	now func() time.Time

	mu   sync.Mutex
	rows map[uuid.UUID]*memRow
}

// NewMemStore returns an empty store publishing to hub. A nil hub disables
// push fan-out.
func NewMemStore(hub *Hub) *MemStore {
	return &MemStore{
		hub:  hub,
		now:  time.Now,
		rows: make(map[uuid.UUID]*memRow),
	}
}

// Seed creates or replaces a session row at version 1 with a start event,
// returning the resulting snapshot.
func (s *MemStore) Seed(sessionID uuid.UUID, cells []BoardCell) Snapshot {
	s.mu.Lock()
	now := s.now()
	row := &memRow{
		cells:     CloneCells(cells),
		version:   1,
		updatedAt: now,
		events: []SessionEvent{{
			Type:      EventStart,
			Timestamp: now,
			Version:   1,
			Cells:     CloneCells(cells),
		}},
	}
	s.rows[sessionID] = row
	snap := row.snapshot()
	s.mu.Unlock()

	if s.hub != nil {
		s.hub.Publish(sessionID, snap)
	}
	return snap
}

// CreateSession implements the same creation contract as the postgres store.
func (s *MemStore) CreateSession(ctx context.Context, sessionID uuid.UUID, cells []BoardCell) (Snapshot, error) {
	return s.Seed(sessionID, cells), nil
}

func (r *memRow) snapshot() Snapshot {
	return Snapshot{
		CurrentState: CloneCells(r.cells),
		Version:      r.version,
		UpdatedAt:    r.updatedAt,
	}
}

// Get implements Store.
func (s *MemStore) Get(ctx context.Context, sessionID uuid.UUID) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[sessionID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return row.snapshot(), nil
}

// ConditionalUpdate implements Store. The version check and the write are
// atomic under the store mutex, mirroring the single-statement CAS the
// postgres store issues.
func (s *MemStore) ConditionalUpdate(ctx context.Context, sessionID uuid.UUID, expectedVersion int64, cells []BoardCell) (Snapshot, error) {
	s.mu.Lock()
	row, ok := s.rows[sessionID]
	if !ok {
		s.mu.Unlock()
		return Snapshot{}, ErrNotFound
	}
	if row.version != expectedVersion {
		s.mu.Unlock()
		return Snapshot{}, ErrConflict
	}

	now := s.now()
	row.version++
	row.updatedAt = now
	appendCellEvents(row, cells, now)
	row.cells = CloneCells(cells)
	snap := row.snapshot()
	s.mu.Unlock()

	if s.hub != nil {
		s.hub.Publish(sessionID, snap)
	}
	return snap, nil
}

// appendCellEvents diffs the incoming board against the stored one and logs
// a cellUpdate event per changed or appended cell at the row's new version,
// matching the postgres store's diff.
func appendCellEvents(row *memRow, cells []BoardCell, now time.Time) {
	for i := range cells {
		if i < len(row.cells) && cellEqual(row.cells[i], cells[i]) {
			continue
		}
		c := cells[i]
		text := c.Text
		blocked := c.Blocked
		marked := c.IsMarked
		row.events = append(row.events, SessionEvent{
			Type:      EventCellUpdate,
			Timestamp: now,
			Version:   row.version,
			CellID:    c.CellID,
			Updates: &CellPatch{
				Text:        &text,
				Colors:      append([]string(nil), c.Colors...),
				CompletedBy: append([]string(nil), c.CompletedBy...),
				Blocked:     &blocked,
				IsMarked:    &marked,
			},
		})
	}
}

func cellEqual(a, b BoardCell) bool {
	if a.CellID != b.CellID || a.Text != b.Text || a.Blocked != b.Blocked || a.IsMarked != b.IsMarked {
		return false
	}
	if len(a.Colors) != len(b.Colors) || len(a.CompletedBy) != len(b.CompletedBy) {
		return false
	}
	for i := range a.Colors {
		if a.Colors[i] != b.Colors[i] {
			return false
		}
	}
	for i := range a.CompletedBy {
		if a.CompletedBy[i] != b.CompletedBy[i] {
			return false
		}
	}
	return true
}

// EventLog implements Store.
func (s *MemStore) EventLog(ctx context.Context, sessionID uuid.UUID) ([]SessionEvent, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[sessionID]
	if !ok {
		return nil, 0, ErrNotFound
	}
	events := make([]SessionEvent, len(row.events))
	copy(events, row.events)
	return events, row.version, nil
}
