// internal/session/hub.go
package session

import (
	"sync"

	"github.com/google/uuid"
)

// Hub is an in-process change feed: successful writes are published per
// session and fanned out to every subscriber of that session. It implements
// Feed for reconcilers living in the same process as the write path.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[uuid.UUID]map[int]func(Snapshot)
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[uuid.UUID]map[int]func(Snapshot)),
	}
}

// Subscribe registers fn for pushes on sessionID. The returned cancel func
// is idempotent.
func (h *Hub) Subscribe(sessionID uuid.UUID, fn func(Snapshot)) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[int]func(Snapshot))
	}
	id := h.nextID
	h.nextID++
	h.subs[sessionID][id] = fn

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[sessionID], id)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
		})
	}
	return cancel, nil
}

// Publish pushes snap to every subscriber of sessionID. Callbacks run on the
// caller's goroutine; subscribers are expected to return quickly.
func (h *Hub) Publish(sessionID uuid.UUID, snap Snapshot) {
	h.mu.Lock()
	fns := make([]func(Snapshot), 0, len(h.subs[sessionID]))
	for _, fn := range h.subs[sessionID] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// SubscriberCount reports how many subscribers a session currently has.
func (h *Hub) SubscriberCount(sessionID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}
