// internal/session/state.go
package session

import (
	"fmt"
	"sort"
	"time"
)

// BoardCell is one square on a shared bingo board. Identity is carried by
// CellID; every other field may change during a live session.
type BoardCell struct {
	CellID      string     `json:"cellId"`
	Text        string     `json:"text"`
	Colors      []string   `json:"colors"`
	CompletedBy []string   `json:"completedBy"`
	Blocked     bool       `json:"blocked"`
	IsMarked    bool       `json:"isMarked"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
}

// Clone returns a deep copy of the cell.
func (c BoardCell) Clone() BoardCell {
	out := c
	out.Colors = append([]string(nil), c.Colors...)
	out.CompletedBy = append([]string(nil), c.CompletedBy...)
	if c.LastUpdated != nil {
		t := *c.LastUpdated
		out.LastUpdated = &t
	}
	return out
}

// GameState is the full shared state of one bingo session. Version is
// monotonically non-decreasing and is the sole arbiter of whose write wins:
// a local optimistic value is provisional until the store echoes or pushes
// the canonical state back.
type GameState struct {
	CurrentState  []BoardCell `json:"currentState"`
	CurrentPlayer int         `json:"currentPlayer"`
	LastUpdate    time.Time   `json:"lastUpdate"`
	Version       int64       `json:"version"`
}

// Clone returns a deep copy of the state.
func (s GameState) Clone() GameState {
	out := s
	out.CurrentState = CloneCells(s.CurrentState)
	return out
}

// CloneCells deep-copies a board.
func CloneCells(cells []BoardCell) []BoardCell {
	out := make([]BoardCell, len(cells))
	for i, c := range cells {
		out[i] = c.Clone()
	}
	return out
}

// CellEdit replaces the cell at Index with Cell.
type CellEdit struct {
	Index int       `json:"index"`
	Cell  BoardCell `json:"cell"`
}

// ApplyEdits is the pure reducer underlying every local optimistic write:
// it applies edits positionally over state.CurrentState and stamps the
// result with now. The input state is never mutated. Edits whose index
// falls outside the board are skipped.
func ApplyEdits(state GameState, edits []CellEdit, now time.Time) GameState {
	next := state.Clone()
	for _, e := range edits {
		if e.Index < 0 || e.Index >= len(next.CurrentState) {
			continue
		}
		next.CurrentState[e.Index] = e.Cell.Clone()
	}
	next.LastUpdate = now
	return next
}

// EventType tags a SessionEvent.
type EventType string

const (
	EventStart      EventType = "start"
	EventCellUpdate EventType = "cellUpdate"
)

// CellPatch is a partial BoardCell carried by a cellUpdate event. Nil
// pointer fields mean "leave unchanged".
type CellPatch struct {
	Text        *string  `json:"text,omitempty"`
	Colors      []string `json:"colors,omitempty"`
	CompletedBy []string `json:"completedBy,omitempty"`
	Blocked     *bool    `json:"blocked,omitempty"`
	IsMarked    *bool    `json:"isMarked,omitempty"`
}

// SessionEvent is one entry of the append-only session event log, ordered
// by Version. A start event carries the full initial board; a cellUpdate
// event carries a patch targeting a single cell by id.
type SessionEvent struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Version   int64       `json:"version"`
	CellID    string      `json:"cellId,omitempty"`
	Updates   *CellPatch  `json:"updates,omitempty"`
	Cells     []BoardCell `json:"cells,omitempty"`
}

// SortEvents orders an event log ascending by version, in place.
func SortEvents(events []SessionEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Version < events[j].Version
	})
}

// Replay folds an ascending-ordered event log into a fresh GameState whose
// final version is targetVersion. Replaying the same log with the same
// target always yields the same state. Events with a version above the
// target are skipped. A log that is not in ascending version order is
// rejected rather than folded.
func Replay(events []SessionEvent, targetVersion int64) (*GameState, error) {
	var state *GameState
	last := int64(-1)
	for _, ev := range events {
		if ev.Version < last {
			return nil, fmt.Errorf("event log out of order: version %d after %d", ev.Version, last)
		}
		last = ev.Version
		if ev.Version > targetVersion {
			continue
		}
		switch ev.Type {
		case EventStart:
			state = &GameState{
				CurrentState:  CloneCells(ev.Cells),
				CurrentPlayer: 0,
				LastUpdate:    ev.Timestamp,
				Version:       ev.Version,
			}
		case EventCellUpdate:
			if state == nil {
				return nil, fmt.Errorf("cellUpdate event at version %d before any start event", ev.Version)
			}
			applyPatch(state, ev)
		default:
			// Unknown event types are preserved in the log but contribute
			// nothing to the folded state.
		}
	}
	if state != nil {
		state.Version = targetVersion
	}
	return state, nil
}

func applyPatch(state *GameState, ev SessionEvent) {
	for i := range state.CurrentState {
		if state.CurrentState[i].CellID != ev.CellID {
			continue
		}
		cell := &state.CurrentState[i]
		if ev.Updates != nil {
			if ev.Updates.Text != nil {
				cell.Text = *ev.Updates.Text
			}
			if ev.Updates.Colors != nil {
				cell.Colors = append([]string(nil), ev.Updates.Colors...)
			}
			if ev.Updates.CompletedBy != nil {
				cell.CompletedBy = append([]string(nil), ev.Updates.CompletedBy...)
			}
			if ev.Updates.Blocked != nil {
				cell.Blocked = *ev.Updates.Blocked
			}
			if ev.Updates.IsMarked != nil {
				cell.IsMarked = *ev.Updates.IsMarked
			}
		}
		ts := ev.Timestamp
		cell.LastUpdated = &ts
		break
	}
	state.LastUpdate = ev.Timestamp
	state.Version = ev.Version
}
