// internal/session/memstore_test.go
package session

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLogRecordsAppendedCells(t *testing.T) {
	id := uuid.New()
	store := NewMemStore(nil)
	store.Seed(id, testBoard(2))

	grown := testBoard(3)
	grown[2].Text = "appended"
	_, err := store.ConditionalUpdate(context.Background(), id, 1, grown)
	require.NoError(t, err)

	events, version, err := store.EventLog(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
	require.Len(t, events, 2)

	last := events[1]
	assert.Equal(t, EventCellUpdate, last.Type)
	assert.Equal(t, int64(2), last.Version)
	assert.Equal(t, "c", last.CellID, "a cell beyond the stored board length must still be logged")
	require.NotNil(t, last.Updates)
	require.NotNil(t, last.Updates.Text)
	assert.Equal(t, "appended", *last.Updates.Text)
}

func TestConflictLeavesEventLogUntouched(t *testing.T) {
	id := uuid.New()
	store := NewMemStore(nil)
	store.Seed(id, testBoard(2))

	stale := testBoard(2)
	stale[0].Text = "stale write"
	_, err := store.ConditionalUpdate(context.Background(), id, 7, stale)
	require.ErrorIs(t, err, ErrConflict)

	events, version, err := store.EventLog(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.Len(t, events, 1)
}
