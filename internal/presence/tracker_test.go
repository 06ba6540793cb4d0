// internal/presence/tracker_test.go
package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock hands out a manually driven tick channel.
type fakeClock struct {
	mu          sync.Mutex
	now         time.Time
	ticks       chan time.Time
	tickerStops int
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:   time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
		ticks: make(chan time.Time, 1),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func (c *fakeClock) Ticker(d time.Duration) (<-chan time.Time, func()) {
	return c.ticks, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.tickerStops++
	}
}

func (c *fakeClock) tick() {
	c.ticks <- c.Now()
}

// fakeVisibility is a manually driven visibility source.
type fakeVisibility struct {
	mu      sync.Mutex
	ch      chan bool
	cancels int
}

func newFakeVisibility() *fakeVisibility {
	return &fakeVisibility{ch: make(chan bool, 1)}
}

func (v *fakeVisibility) Watch() (<-chan bool, func()) {
	return v.ch, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		v.cancels++
	}
}

func (v *fakeVisibility) cancelCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cancels
}

// recordingChannel records every call so teardown leaks are detectable.
type recordingChannel struct {
	mu           sync.Mutex
	handlers     map[EventKind][]func(Event)
	tracks       []State
	subscribes   int
	unsubscribes int
	untracks     int
	trackErr     error
}

func newRecordingChannel() *recordingChannel {
	return &recordingChannel{handlers: make(map[EventKind][]func(Event))}
}

func (c *recordingChannel) On(kind EventKind, fn func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = append(c.handlers[kind], fn)
}

func (c *recordingChannel) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribes++
	return nil
}

func (c *recordingChannel) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribes++
	return nil
}

func (c *recordingChannel) Track(ctx context.Context, state State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trackErr != nil {
		return c.trackErr
	}
	c.tracks = append(c.tracks, state)
	return nil
}

func (c *recordingChannel) Untrack(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.untracks++
	return nil
}

func (c *recordingChannel) trackCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tracks)
}

func (c *recordingChannel) lastTrack() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracks[len(c.tracks)-1]
}

func (c *recordingChannel) emit(ev Event) {
	c.mu.Lock()
	fns := append([](func(Event))(nil), c.handlers[ev.Kind]...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func staticIdentity(id string) Identity {
	return IdentityFunc(func(ctx context.Context) (UserInfo, error) {
		return UserInfo{ID: id, Username: "player-" + id}, nil
	})
}

func newTestTracker(t *testing.T) (*Tracker, *recordingChannel, *fakeClock, *fakeVisibility) {
	t.Helper()
	ch := newRecordingChannel()
	clock := newFakeClock()
	vis := newFakeVisibility()
	tr := NewTracker(TrackerConfig{
		Channel:           ch,
		Identity:          staticIdentity("u1"),
		Clock:             clock,
		Visibility:        vis,
		HeartbeatInterval: time.Second,
	})
	return tr, ch, clock, vis
}

func TestStartTracksOnlineEntry(t *testing.T) {
	tr, ch, clock, _ := newTestTracker(t)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Close(context.Background())

	require.Equal(t, 1, ch.trackCount())
	first := ch.lastTrack()
	assert.Equal(t, "u1", first.UserID)
	assert.Equal(t, StatusOnline, first.Status)
	assert.Equal(t, clock.Now(), first.OnlineAt)
	assert.Equal(t, 1, ch.subscribes)
}

func TestHeartbeatRefreshesLastSeen(t *testing.T) {
	tr, ch, clock, _ := newTestTracker(t)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Close(context.Background())

	started := clock.Now()
	clock.advance(time.Second)
	clock.tick()

	require.Eventually(t, func() bool { return ch.trackCount() == 2 },
		time.Second, time.Millisecond)
	beat := ch.lastTrack()
	assert.Equal(t, StatusOnline, beat.Status)
	assert.True(t, beat.LastSeenAt.After(started))
	assert.Equal(t, started, beat.OnlineAt, "online_at is set once, at join")
}

func TestVisibilityTransitionsAreEdgeTriggered(t *testing.T) {
	tr, ch, clock, vis := newTestTracker(t)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Close(context.Background())

	clock.advance(time.Second)
	vis.ch <- false
	require.Eventually(t, func() bool { return ch.trackCount() == 2 },
		time.Second, time.Millisecond)
	assert.Equal(t, StatusAway, ch.lastTrack().Status)

	// Repeating the same visibility must not re-track.
	vis.ch <- false
	vis.ch <- true
	require.Eventually(t, func() bool { return ch.trackCount() == 3 },
		time.Second, time.Millisecond)
	assert.Equal(t, StatusOnline, ch.lastTrack().Status)
	assert.Equal(t, 3, ch.trackCount(), "duplicate hidden notification fired a track")
}

func TestSyncReplacesMapIdempotently(t *testing.T) {
	tr, ch, _, _ := newTestTracker(t)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Close(context.Background())

	payload := Event{Kind: EventSync, States: []State{
		{UserID: "a", Status: StatusOnline},
		{UserID: "b", Status: StatusAway},
	}}
	ch.emit(payload)
	first := tr.Peers()
	ch.emit(payload)
	second := tr.Peers()

	assert.Equal(t, first, second, "applying the same sync twice must leave the map unchanged")
	assert.Len(t, second, 2)
}

func TestJoinMergesAndLeaveDeletes(t *testing.T) {
	tr, ch, _, _ := newTestTracker(t)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Close(context.Background())

	ch.emit(Event{Kind: EventSync, States: []State{{UserID: "a", Status: StatusOnline}}})
	ch.emit(Event{Kind: EventJoin, States: []State{{UserID: "b", Status: StatusOnline}}})
	assert.Len(t, tr.Peers(), 2)

	ch.emit(Event{Kind: EventLeave, States: []State{{UserID: "a", Status: StatusOffline}}})
	peers := tr.Peers()
	assert.Len(t, peers, 1)
	_, ok := peers["b"]
	assert.True(t, ok)
}

func TestOnlineUsersFiltersByStatus(t *testing.T) {
	tr, ch, _, _ := newTestTracker(t)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Close(context.Background())

	ch.emit(Event{Kind: EventSync, States: []State{
		{UserID: "c", Status: StatusOnline},
		{UserID: "a", Status: StatusOnline},
		{UserID: "b", Status: StatusAway},
		{UserID: "d", Status: StatusOffline},
	}})

	online := tr.OnlineUsers()
	require.Len(t, online, 2)
	assert.Equal(t, "a", online[0].UserID)
	assert.Equal(t, "c", online[1].UserID)
}

func TestCloseReleasesEverything(t *testing.T) {
	tr, ch, clock, vis := newTestTracker(t)
	require.NoError(t, tr.Start(context.Background()))

	require.NoError(t, tr.Close(context.Background()))
	assert.Equal(t, 1, ch.untracks, "close must untrack")
	assert.Equal(t, 1, ch.unsubscribes, "close must unsubscribe")
	assert.Equal(t, 1, vis.cancelCount(), "close must release the visibility watch")
	clock.mu.Lock()
	stops := clock.tickerStops
	clock.mu.Unlock()
	assert.Equal(t, 1, stops, "close must stop the heartbeat ticker")

	// Idempotent.
	require.NoError(t, tr.Close(context.Background()))
	assert.Equal(t, 1, ch.untracks)
}

func TestIdentityFailureNeverJoinsChannel(t *testing.T) {
	ch := newRecordingChannel()
	tr := NewTracker(TrackerConfig{
		Channel: ch,
		Identity: IdentityFunc(func(ctx context.Context) (UserInfo, error) {
			return UserInfo{}, errors.New("auth lookup failed")
		}),
		Clock: newFakeClock(),
	})

	err := tr.Start(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, tr.Err(), "auth lookup failed")
	assert.Equal(t, 0, ch.subscribes, "identity failure must not proceed to join")
	assert.Equal(t, 0, ch.trackCount())

	require.NoError(t, tr.Close(context.Background()))
	assert.Equal(t, 0, ch.untracks)
	assert.Equal(t, 0, ch.unsubscribes)
}

func TestTwoTrackersObserveEachOtherOverMemHub(t *testing.T) {
	hub := NewMemHub()
	clock := newFakeClock()

	a := NewTracker(TrackerConfig{
		Channel:  hub.Channel("board-1"),
		Identity: staticIdentity("alice"),
		Clock:    clock,
	})
	b := NewTracker(TrackerConfig{
		Channel:  hub.Channel("board-1"),
		Identity: staticIdentity("bob"),
		Clock:    clock,
	})

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))
	defer a.Close(context.Background())

	require.Eventually(t, func() bool { return len(a.OnlineUsers()) == 2 },
		time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(b.OnlineUsers()) == 2 },
		time.Second, time.Millisecond)

	require.NoError(t, b.Close(context.Background()))
	require.Eventually(t, func() bool { return len(a.OnlineUsers()) == 1 },
		time.Second, time.Millisecond)
	assert.Equal(t, "alice", a.OnlineUsers()[0].UserID)
}
