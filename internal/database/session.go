// internal/database/session.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arcadia-gg/arcadia/internal/session"
)

// SessionStore is the postgres-backed session.Store: one row per session in
// bingo_sessions (current_state JSONB + version + updated_at) and an
// append-only bingo_session_events log written in the same transaction as
// every accepted write, so replay always agrees with the row.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore builds a store over pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// CreateSession inserts a new session row at version 1 together with its
// start event, returning the initial snapshot.
func (s *SessionStore) CreateSession(ctx context.Context, sessionID uuid.UUID, cells []session.BoardCell) (session.Snapshot, error) {
	data, err := json.Marshal(cells)
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("marshal board: %w", err)
	}

	var snap session.Snapshot
	err = pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `INSERT INTO bingo_sessions (id, current_state, version, updated_at)
		      VALUES ($1, $2, 1, NOW())
		      RETURNING updated_at`
		var updatedAt time.Time
		if err := tx.QueryRow(ctx, q, sessionID, data).Scan(&updatedAt); err != nil {
			return err
		}

		eq := `INSERT INTO bingo_session_events (session_id, version, type, cells, created_at)
		       VALUES ($1, 1, $2, $3, $4)`
		if _, err := tx.Exec(ctx, eq, sessionID, session.EventStart, data, updatedAt); err != nil {
			return err
		}

		snap = session.Snapshot{
			CurrentState: session.CloneCells(cells),
			Version:      1,
			UpdatedAt:    updatedAt,
		}
		return nil
	})
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("create session %s: %w", sessionID, err)
	}
	return snap, nil
}

// Get implements session.Store.
func (s *SessionStore) Get(ctx context.Context, sessionID uuid.UUID) (session.Snapshot, error) {
	q := `SELECT current_state, version, updated_at FROM bingo_sessions WHERE id=$1`
	var raw []byte
	var snap session.Snapshot
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(&raw, &snap.Version, &snap.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Snapshot{}, session.ErrNotFound
	}
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if err := json.Unmarshal(raw, &snap.CurrentState); err != nil {
		return session.Snapshot{}, fmt.Errorf("decode session %s state: %w", sessionID, err)
	}
	return snap, nil
}

// ConditionalUpdate implements session.Store. The row is locked, the version
// compared, and the state plus per-cell events written in one transaction;
// a stale expected version rolls back with session.ErrConflict.
func (s *SessionStore) ConditionalUpdate(ctx context.Context, sessionID uuid.UUID, expectedVersion int64, cells []session.BoardCell) (session.Snapshot, error) {
	var snap session.Snapshot
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var raw []byte
		var version int64
		q := `SELECT current_state, version FROM bingo_sessions WHERE id=$1 FOR UPDATE`
		err := tx.QueryRow(ctx, q, sessionID).Scan(&raw, &version)
		if errors.Is(err, pgx.ErrNoRows) {
			return session.ErrNotFound
		}
		if err != nil {
			return err
		}
		if version != expectedVersion {
			return session.ErrConflict
		}

		var previous []session.BoardCell
		if err := json.Unmarshal(raw, &previous); err != nil {
			return fmt.Errorf("decode stored state: %w", err)
		}

		data, err := json.Marshal(cells)
		if err != nil {
			return fmt.Errorf("marshal board: %w", err)
		}

		uq := `UPDATE bingo_sessions
		       SET current_state=$2, version=version+1, updated_at=NOW()
		       WHERE id=$1
		       RETURNING version, updated_at`
		var newVersion int64
		var updatedAt time.Time
		if err := tx.QueryRow(ctx, uq, sessionID, data).Scan(&newVersion, &updatedAt); err != nil {
			return err
		}

		for _, ev := range diffEvents(previous, cells, newVersion, updatedAt) {
			updates, err := json.Marshal(ev.Updates)
			if err != nil {
				return fmt.Errorf("marshal event patch: %w", err)
			}
			eq := `INSERT INTO bingo_session_events (session_id, version, type, cell_id, updates, created_at)
			       VALUES ($1, $2, $3, $4, $5, $6)`
			if _, err := tx.Exec(ctx, eq, sessionID, ev.Version, ev.Type, ev.CellID, updates, ev.Timestamp); err != nil {
				return err
			}
		}

		snap = session.Snapshot{
			CurrentState: session.CloneCells(cells),
			Version:      newVersion,
			UpdatedAt:    updatedAt,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, session.ErrConflict) || errors.Is(err, session.ErrNotFound) {
			return session.Snapshot{}, err
		}
		return session.Snapshot{}, fmt.Errorf("conditional update %s: %w", sessionID, err)
	}
	return snap, nil
}

// diffEvents produces one cellUpdate event per cell changed by the write.
func diffEvents(previous, next []session.BoardCell, version int64, at time.Time) []session.SessionEvent {
	var events []session.SessionEvent
	for i := range next {
		if i < len(previous) && boardCellEqualJSON(previous[i], next[i]) {
			continue
		}
		c := next[i]
		text := c.Text
		blocked := c.Blocked
		marked := c.IsMarked
		events = append(events, session.SessionEvent{
			Type:      session.EventCellUpdate,
			Timestamp: at,
			Version:   version,
			CellID:    c.CellID,
			Updates: &session.CellPatch{
				Text:        &text,
				Colors:      append([]string(nil), c.Colors...),
				CompletedBy: append([]string(nil), c.CompletedBy...),
				Blocked:     &blocked,
				IsMarked:    &marked,
			},
		})
	}
	return events
}

func boardCellEqualJSON(a, b session.BoardCell) bool {
	ra, err1 := json.Marshal(a)
	rb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && string(ra) == string(rb)
}

// EventLog implements session.Store: the full ordered log plus the row's
// current version.
func (s *SessionStore) EventLog(ctx context.Context, sessionID uuid.UUID) ([]session.SessionEvent, int64, error) {
	var version int64
	err := s.pool.QueryRow(ctx, `SELECT version FROM bingo_sessions WHERE id=$1`, sessionID).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, session.ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("event log %s: %w", sessionID, err)
	}

	q := `SELECT version, type, cell_id, updates, cells, created_at
	      FROM bingo_session_events
	      WHERE session_id=$1
	      ORDER BY version ASC, id ASC`
	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, 0, fmt.Errorf("event log %s: %w", sessionID, err)
	}
	defer rows.Close()

	var events []session.SessionEvent
	for rows.Next() {
		var ev session.SessionEvent
		var cellID *string
		var updates, cells []byte
		if err := rows.Scan(&ev.Version, &ev.Type, &cellID, &updates, &cells, &ev.Timestamp); err != nil {
			return nil, 0, fmt.Errorf("scan event: %w", err)
		}
		if cellID != nil {
			ev.CellID = *cellID
		}
		if len(updates) > 0 {
			if err := json.Unmarshal(updates, &ev.Updates); err != nil {
				return nil, 0, fmt.Errorf("decode event patch: %w", err)
			}
		}
		if len(cells) > 0 {
			if err := json.Unmarshal(cells, &ev.Cells); err != nil {
				return nil, 0, fmt.Errorf("decode event cells: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("event log %s: %w", sessionID, err)
	}
	return events, version, nil
}
