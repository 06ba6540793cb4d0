// internal/handlers/handlers_test.go
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcadia-gg/arcadia/internal/generator"
	"github.com/arcadia-gg/arcadia/internal/session"
)

func testPool() generator.StaticSource {
	return generator.StaticSource{
		{Text: "Collect ten rings", Tier: 1, Tags: []string{"speedrun"}},
		{Text: "Win without items", Tier: 2, Tags: []string{"challenge"}},
		{Text: "Finish under par", Tier: 1, Tags: []string{"speedrun"}},
		{Text: "No damage boss", Tier: 3, Tags: []string{"challenge"}},
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func TestGenerateBoardHandlerQuickMode(t *testing.T) {
	gen := generator.NewGenerator(testPool())
	handler := GenerateBoardHandler(gen)

	rr := postJSON(t, handler, "/board/generate", map[string]interface{}{
		"mode":     generator.ModeQuick,
		"settings": generator.Settings{BoardSize: 3},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Board    []session.BoardCell `json:"board"`
		Balanced bool                `json:"balanced"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.Board, 4) // pool smaller than 3x3
	assert.True(t, resp.Balanced)
}

func TestGenerateBoardHandlerInvalidMode(t *testing.T) {
	gen := generator.NewGenerator(testPool())
	handler := GenerateBoardHandler(gen)

	rr := postJSON(t, handler, "/board/generate", map[string]string{"mode": "ranked"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Invalid generation mode")
}

func TestGenerateBoardHandlerEmptyPool(t *testing.T) {
	gen := generator.NewGenerator(generator.StaticSource{})
	handler := GenerateBoardHandler(gen)

	rr := postJSON(t, handler, "/board/generate", map[string]string{"mode": generator.ModeQuick})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "Card pool is empty")
}

func TestGenerateBoardHandlerRejectsGet(t *testing.T) {
	gen := generator.NewGenerator(testPool())
	handler := GenerateBoardHandler(gen)

	req := httptest.NewRequest(http.MethodGet, "/board/generate", nil)
	rr := httptest.NewRecorder()
	handler(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestCreateSessionHandlerSeedsStore(t *testing.T) {
	hub := session.NewHub()
	store := session.NewMemStore(hub)
	gen := generator.NewGenerator(testPool())
	handler := CreateSessionHandler(gen, store)

	rr := postJSON(t, handler, "/session/create", map[string]string{"mode": generator.ModeQuick})
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp struct {
		SessionID uuid.UUID           `json:"session_id"`
		Version   int64               `json:"version"`
		Board     []session.BoardCell `json:"board"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotEqual(t, uuid.Nil, resp.SessionID)
	assert.Equal(t, int64(1), resp.Version)
	require.NotEmpty(t, resp.Board)

	snap, err := store.Get(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, len(resp.Board), len(snap.CurrentState))

	events, version, err := store.EventLog(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	require.Len(t, events, 1)
	assert.Equal(t, session.EventStart, events[0].Type)
}

func TestHealthHandlerSkipsUnconfiguredBackends(t *testing.T) {
	handler := HealthHandler(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var status map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, "ok", status["service"])
	assert.Equal(t, "skipped", status["postgres"])
	assert.Equal(t, "skipped", status["redis"])
}

func TestPresenceHandlerWithoutRedis(t *testing.T) {
	srv := NewSessionServer(session.NewMemStore(nil), nil, nil)
	handler := PresenceHandler(nil, srv)

	req := httptest.NewRequest(http.MethodGet, "/session/presence/"+uuid.NewString(), nil)
	rr := httptest.NewRecorder()
	handler(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Users []json.RawMessage `json:"users"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Empty(t, resp.Users)
}

// fakeChangeFeed delivers pushes synchronously, standing in for the redis
// feed so cross-instance delivery is testable without a broker.
type fakeChangeFeed struct {
	mu      sync.Mutex
	fns     map[uuid.UUID][]func(session.Snapshot)
	cancels int
}

func newFakeChangeFeed() *fakeChangeFeed {
	return &fakeChangeFeed{fns: make(map[uuid.UUID][]func(session.Snapshot))}
}

func (f *fakeChangeFeed) Subscribe(id uuid.UUID, fn func(session.Snapshot)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fns[id] = append(f.fns[id], fn)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cancels++
	}, nil
}

func (f *fakeChangeFeed) Publish(ctx context.Context, id uuid.UUID, snap session.Snapshot) error {
	f.mu.Lock()
	fns := append([](func(session.Snapshot))(nil), f.fns[id]...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
	return nil
}

func TestCrossInstancePushReachesReconciler(t *testing.T) {
	id := uuid.New()
	store := session.NewMemStore(nil)
	store.Seed(id, []session.BoardCell{{CellID: "a", Text: "cell"}})

	feed := newFakeChangeFeed()
	srv := &SessionServer{Store: store, Hub: session.NewHub(), Feed: feed}

	rec := session.NewReconciler(store, srv, id)
	require.NoError(t, rec.FetchInitialState(context.Background()))
	require.NoError(t, rec.Subscribe())
	defer rec.Close()

	// A write accepted on another instance arrives only over the feed.
	remote := []session.BoardCell{{CellID: "a", Text: "remote write"}}
	require.NoError(t, feed.Publish(context.Background(), id, session.Snapshot{
		CurrentState: remote,
		Version:      5,
		UpdatedAt:    time.Now(),
	}))

	state := rec.State()
	require.NotNil(t, state)
	assert.Equal(t, int64(5), state.Version, "a remote push must advance the local reconciler")
	assert.Equal(t, "remote write", state.CurrentState[0].Text)
}

func TestSessionServerSubscribeReleasesBothFeeds(t *testing.T) {
	id := uuid.New()
	feed := newFakeChangeFeed()
	srv := &SessionServer{Store: session.NewMemStore(nil), Hub: session.NewHub(), Feed: feed}

	cancel, err := srv.Subscribe(id, func(session.Snapshot) {})
	require.NoError(t, err)
	require.Equal(t, 1, srv.Hub.SubscriberCount(id))

	cancel()
	assert.Equal(t, 0, srv.Hub.SubscriberCount(id))
	feed.mu.Lock()
	cancels := feed.cancels
	feed.mu.Unlock()
	assert.Equal(t, 1, cancels)
}

func TestSendOrDoneGivesUpWhenConnectionDies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan ServerMessage, 1)
	out <- ServerMessage{Type: "state"} // writer is gone, buffer stays full

	cancel()
	done := make(chan struct{})
	go func() {
		sendOrDone(ctx, out, ServerMessage{Type: "error"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("send blocked after the connection context was canceled")
	}
}

func TestPresenceHandlerRejectsBadID(t *testing.T) {
	srv := NewSessionServer(session.NewMemStore(nil), nil, nil)
	handler := PresenceHandler(nil, srv)

	req := httptest.NewRequest(http.MethodGet, "/session/presence/not-a-uuid", nil)
	rr := httptest.NewRecorder()
	handler(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
