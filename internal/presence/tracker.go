// internal/presence/tracker.go
package presence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultHeartbeatInterval is how often a tracker re-tracks its own entry
// when no interval is configured.
const DefaultHeartbeatInterval = 30 * time.Second

// TrackerConfig wires a Tracker's collaborators. Channel and Identity are
// required; Clock defaults to the system clock and Visibility may be nil
// when the client surface has no foreground/background notion.
type TrackerConfig struct {
	Channel           Channel
	Identity          Identity
	Clock             Clock
	Visibility        Visibility
	HeartbeatInterval time.Duration
}

// Tracker publishes this client's liveness to a board's presence topic on a
// heartbeat and maintains a local map of every known peer, rebuilt from
// sync events and patched by join/leave events. The local map is derived
// state, not a shared resource: each client holds its own copy.
type Tracker struct {
	channel  Channel
	identity Identity
	clock    Clock
	vis      Visibility
	interval time.Duration

	mu      sync.Mutex
	self    State
	peers   map[string]State
	err     error
	started bool
	joined  bool
	closed  bool

	stopTicker func()
	visCancel  func()
	stop       chan struct{}
	done       chan struct{}
}

// NewTracker builds a tracker from cfg. Nothing touches the network until
// Start.
func NewTracker(cfg TrackerConfig) *Tracker {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock()
	}
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Tracker{
		channel:  cfg.Channel,
		identity: cfg.Identity,
		clock:    clock,
		vis:      cfg.Visibility,
		interval: interval,
		peers:    make(map[string]State),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start resolves the local identity, joins the topic, tracks an online
// entry and begins the heartbeat. An identity failure is captured into the
// error field and the channel is never joined.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started || t.closed {
		t.mu.Unlock()
		return fmt.Errorf("tracker already started")
	}
	t.started = true
	t.mu.Unlock()

	user, err := t.identity.CurrentUser(ctx)
	if err != nil {
		wrapped := fmt.Errorf("resolve identity: %w", err)
		t.mu.Lock()
		t.err = wrapped
		t.mu.Unlock()
		close(t.done)
		return wrapped
	}

	t.channel.On(EventSync, t.handleSync)
	t.channel.On(EventJoin, t.handleJoin)
	t.channel.On(EventLeave, t.handleLeave)

	if err := t.channel.Subscribe(ctx); err != nil {
		wrapped := fmt.Errorf("subscribe presence topic: %w", err)
		t.mu.Lock()
		t.err = wrapped
		t.mu.Unlock()
		close(t.done)
		return wrapped
	}
	t.mu.Lock()
	t.joined = true
	t.mu.Unlock()

	now := t.clock.Now()
	self := State{
		UserID:     user.ID,
		OnlineAt:   now,
		LastSeenAt: now,
		Status:     StatusOnline,
	}
	t.mu.Lock()
	t.self = self
	t.mu.Unlock()

	if err := t.channel.Track(ctx, self); err != nil {
		t.mu.Lock()
		t.err = fmt.Errorf("track presence: %w", err)
		t.mu.Unlock()
	}

	ticks, stopTicker := t.clock.Ticker(t.interval)
	var visCh <-chan bool
	var visCancel func()
	if t.vis != nil {
		visCh, visCancel = t.vis.Watch()
	}
	t.mu.Lock()
	t.stopTicker = stopTicker
	t.visCancel = visCancel
	t.mu.Unlock()

	go t.loop(ctx, ticks, visCh)
	return nil
}

func (t *Tracker) loop(ctx context.Context, ticks <-chan time.Time, visCh <-chan bool) {
	defer close(t.done)
	for {
		select {
		case <-t.stop:
			return
		case <-ctx.Done():
			return
		case <-ticks:
			t.heartbeat(ctx)
		case visible, ok := <-visCh:
			if !ok {
				visCh = nil
				continue
			}
			t.visibilityChange(ctx, visible)
		}
	}
}

// heartbeat re-tracks the same entry with a refreshed last_seen_at. Peers
// use the timestamp to infer staleness.
func (t *Tracker) heartbeat(ctx context.Context) {
	t.mu.Lock()
	t.self.LastSeenAt = t.clock.Now()
	self := t.self
	t.mu.Unlock()
	_ = t.channel.Track(ctx, self)
}

// visibilityChange is edge-triggered: a transition fires exactly one track
// and repeated notifications of the same visibility are no-ops.
func (t *Tracker) visibilityChange(ctx context.Context, visible bool) {
	target := StatusAway
	if visible {
		target = StatusOnline
	}
	t.mu.Lock()
	if t.self.Status == target {
		t.mu.Unlock()
		return
	}
	t.self.Status = target
	t.self.LastSeenAt = t.clock.Now()
	self := t.self
	t.mu.Unlock()
	_ = t.channel.Track(ctx, self)
}

// handleSync replaces the whole peer map with the topic's snapshot.
func (t *Tracker) handleSync(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	peers := make(map[string]State, len(ev.States))
	for _, s := range ev.States {
		peers[s.UserID] = s
	}
	t.peers = peers
}

// handleJoin merges entries by user id.
func (t *Tracker) handleJoin(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range ev.States {
		t.peers[s.UserID] = s
	}
}

// handleLeave deletes entries by user id.
func (t *Tracker) handleLeave(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range ev.States {
		delete(t.peers, s.UserID)
	}
}

// OnlineUsers projects the local map down to online peers. Pure read, no
// network.
func (t *Tracker) OnlineUsers() []State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]State, 0, len(t.peers))
	for _, s := range t.peers {
		if s.Status == StatusOnline {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Peers returns a copy of the full presence map.
func (t *Tracker) Peers() map[string]State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]State, len(t.peers))
	for k, v := range t.peers {
		out[k] = v
	}
	return out
}

// Self returns this client's current presence entry.
func (t *Tracker) Self() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.self
}

// Err returns the captured failure, if any.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Close stops the heartbeat, releases the visibility watch, untracks this
// client's entry and unsubscribes from the topic. Safe to call more than
// once; only the first call does work.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	started := t.started
	joined := t.joined
	stopTicker := t.stopTicker
	visCancel := t.visCancel
	t.mu.Unlock()

	close(t.stop)
	if started {
		<-t.done
	}
	if stopTicker != nil {
		stopTicker()
	}
	if visCancel != nil {
		visCancel()
	}
	if !joined {
		// Never joined the channel; nothing to release there.
		return nil
	}
	if err := t.channel.Untrack(ctx); err != nil {
		return err
	}
	return t.channel.Unsubscribe()
}
