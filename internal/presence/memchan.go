// internal/presence/memchan.go
package presence

import (
	"context"
	"sync"
)

// MemHub hosts in-process presence topics. Each Channel(topic) call yields
// one client connection to that topic, so multiple trackers in the same
// test or dev server can observe each other.
type MemHub struct {
	mu     sync.Mutex
	nextID int
	topics map[string]*memTopic
}

type memTopic struct {
	members map[string]State
	subs    map[int]*MemChannel
}

// NewMemHub returns an empty hub.
func NewMemHub() *MemHub {
	return &MemHub{topics: make(map[string]*memTopic)}
}

// Channel returns a new client connection to topic.
func (h *MemHub) Channel(topic string) *MemChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return &MemChannel{
		hub:      h,
		topic:    topic,
		id:       h.nextID,
		handlers: make(map[EventKind][]func(Event)),
	}
}

func (h *MemHub) topicLocked(name string) *memTopic {
	t, ok := h.topics[name]
	if !ok {
		t = &memTopic{
			members: make(map[string]State),
			subs:    make(map[int]*MemChannel),
		}
		h.topics[name] = t
	}
	return t
}

// Members returns the topic's current snapshot.
func (h *MemHub) Members(topic string) []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.topicLocked(topic)
	out := make([]State, 0, len(t.members))
	for _, s := range t.members {
		out = append(out, s)
	}
	return out
}

// MemChannel is one client's connection to a MemHub topic.
type MemChannel struct {
	hub   *MemHub
	topic string
	id    int

	mu         sync.Mutex
	handlers   map[EventKind][]func(Event)
	subscribed bool
	trackedID  string
}

// On registers fn for events of the given kind.
func (c *MemChannel) On(kind EventKind, fn func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = append(c.handlers[kind], fn)
}

// Subscribe joins the topic and immediately dispatches the authoritative
// sync snapshot to this channel's handlers.
func (c *MemChannel) Subscribe(ctx context.Context) error {
	c.hub.mu.Lock()
	t := c.hub.topicLocked(c.topic)
	t.subs[c.id] = c
	snapshot := make([]State, 0, len(t.members))
	for _, s := range t.members {
		snapshot = append(snapshot, s)
	}
	c.hub.mu.Unlock()

	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()

	c.dispatch(Event{Kind: EventSync, States: snapshot})
	return nil
}

// Unsubscribe leaves the topic.
func (c *MemChannel) Unsubscribe() error {
	c.hub.mu.Lock()
	if t, ok := c.hub.topics[c.topic]; ok {
		delete(t.subs, c.id)
	}
	c.hub.mu.Unlock()

	c.mu.Lock()
	c.subscribed = false
	c.mu.Unlock()
	return nil
}

// Track upserts state into the topic and broadcasts a join to every
// subscriber, this channel included.
func (c *MemChannel) Track(ctx context.Context, state State) error {
	c.hub.mu.Lock()
	t := c.hub.topicLocked(c.topic)
	t.members[state.UserID] = state
	subs := topicSubs(t)
	c.hub.mu.Unlock()

	c.mu.Lock()
	c.trackedID = state.UserID
	c.mu.Unlock()

	broadcast(subs, Event{Kind: EventJoin, States: []State{state}})
	return nil
}

// Untrack removes this channel's entry and broadcasts a leave.
func (c *MemChannel) Untrack(ctx context.Context) error {
	c.mu.Lock()
	userID := c.trackedID
	c.trackedID = ""
	c.mu.Unlock()
	if userID == "" {
		return nil
	}

	c.hub.mu.Lock()
	t := c.hub.topicLocked(c.topic)
	left, ok := t.members[userID]
	delete(t.members, userID)
	subs := topicSubs(t)
	c.hub.mu.Unlock()

	if ok {
		broadcast(subs, Event{Kind: EventLeave, States: []State{left}})
	}
	return nil
}

func topicSubs(t *memTopic) []*MemChannel {
	subs := make([]*MemChannel, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	return subs
}

func broadcast(subs []*MemChannel, ev Event) {
	for _, s := range subs {
		s.dispatch(ev)
	}
}

func (c *MemChannel) dispatch(ev Event) {
	c.mu.Lock()
	fns := append([](func(Event))(nil), c.handlers[ev.Kind]...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
