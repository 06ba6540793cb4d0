// internal/session/state_test.go
package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBoard(n int) []BoardCell {
	cells := make([]BoardCell, n)
	for i := range cells {
		cells[i] = BoardCell{
			CellID: string(rune('a' + i)),
			Text:   "cell",
			Colors: []string{"#fff"},
		}
	}
	return cells
}

func TestApplyEditsIsPure(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	state := GameState{
		CurrentState: testBoard(3),
		Version:      7,
	}

	next := ApplyEdits(state, []CellEdit{
		{Index: 1, Cell: BoardCell{CellID: "b", Text: "edited", IsMarked: true}},
	}, now)

	assert.Equal(t, "cell", state.CurrentState[1].Text, "input state must not be mutated")
	assert.Equal(t, "edited", next.CurrentState[1].Text)
	assert.True(t, next.CurrentState[1].IsMarked)
	assert.Equal(t, now, next.LastUpdate)
	assert.Equal(t, int64(7), next.Version, "reducer must not bump the version; the store does")
}

func TestApplyEditsSkipsOutOfRange(t *testing.T) {
	state := GameState{CurrentState: testBoard(2)}
	next := ApplyEdits(state, []CellEdit{
		{Index: -1, Cell: BoardCell{Text: "nope"}},
		{Index: 5, Cell: BoardCell{Text: "nope"}},
	}, time.Now())
	assert.Equal(t, "cell", next.CurrentState[0].Text)
	assert.Equal(t, "cell", next.CurrentState[1].Text)
}

func sampleLog() []SessionEvent {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	text2 := "updated"
	marked := true
	return []SessionEvent{
		{
			Type:      EventStart,
			Timestamp: t0,
			Version:   1,
			Cells:     testBoard(3),
		},
		{
			Type:      EventCellUpdate,
			Timestamp: t0.Add(time.Second),
			Version:   2,
			CellID:    "b",
			Updates:   &CellPatch{Text: &text2},
		},
		{
			Type:      EventCellUpdate,
			Timestamp: t0.Add(2 * time.Second),
			Version:   3,
			CellID:    "c",
			Updates:   &CellPatch{IsMarked: &marked},
		},
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	first, err := Replay(sampleLog(), 3)
	require.NoError(t, err)
	second, err := Replay(sampleLog(), 3)
	require.NoError(t, err)

	require.NotNil(t, first)
	assert.Equal(t, *first, *second, "replaying the same log twice must yield the same state")
	assert.Equal(t, int64(3), first.Version)
	assert.Equal(t, "updated", first.CurrentState[1].Text)
	assert.True(t, first.CurrentState[2].IsMarked)
}

func TestReplayStopsAtTargetVersion(t *testing.T) {
	state, err := Replay(sampleLog(), 2)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, int64(2), state.Version)
	assert.Equal(t, "updated", state.CurrentState[1].Text)
	assert.False(t, state.CurrentState[2].IsMarked, "events above the target must be skipped")
}

func TestReplayRejectsOutOfOrderLog(t *testing.T) {
	log := sampleLog()
	log[1], log[2] = log[2], log[1]
	_, err := Replay(log, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of order")
}

func TestSortEventsOrdersAscending(t *testing.T) {
	log := sampleLog()
	log[0], log[2] = log[2], log[0]
	SortEvents(log)
	state, err := Replay(log, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), state.Version)
}

func TestReplayEmptyLogYieldsNilState(t *testing.T) {
	state, err := Replay(nil, 0)
	require.NoError(t, err)
	assert.Nil(t, state)
}
