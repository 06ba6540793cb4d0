// internal/presence/presence.go
package presence

import (
	"context"
	"time"
)

// Status is a peer's liveness state as broadcast over its board topic.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// State is one user's presence entry within a board topic, keyed by UserID.
// It is created on join, refreshed on every heartbeat, and removed on leave.
type State struct {
	UserID     string    `json:"user_id"`
	OnlineAt   time.Time `json:"online_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	Status     Status    `json:"status"`
}

// EventKind tags a presence channel event.
type EventKind string

const (
	EventSync  EventKind = "sync"
	EventJoin  EventKind = "join"
	EventLeave EventKind = "leave"
)

// Event is delivered to channel handlers. A sync event carries the topic's
// full authoritative snapshot; join and leave carry the affected entries.
type Event struct {
	Kind   EventKind `json:"kind"`
	States []State   `json:"states"`
}

// Channel is a named presence topic: track publishes this client's entry,
// On registers handlers, Subscribe/Unsubscribe manage the topic membership.
// Implementations exist over redis pub/sub and in-memory for tests.
type Channel interface {
	On(kind EventKind, fn func(Event))
	Subscribe(ctx context.Context) error
	Unsubscribe() error
	Track(ctx context.Context, state State) error
	Untrack(ctx context.Context) error
}

// UserInfo is the resolved identity of the local actor.
type UserInfo struct {
	ID       string
	Username string
}

// Identity resolves who the local client is, once per tracker start.
type Identity interface {
	CurrentUser(ctx context.Context) (UserInfo, error)
}

// IdentityFunc adapts a func to the Identity interface.
type IdentityFunc func(ctx context.Context) (UserInfo, error)

// CurrentUser implements Identity.
func (f IdentityFunc) CurrentUser(ctx context.Context) (UserInfo, error) {
	return f(ctx)
}

// Clock abstracts time so heartbeat behavior is testable. Ticker returns a
// tick channel and a stop func.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) (<-chan time.Time, func())
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Ticker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// Visibility reports foreground/background transitions of the client
// surface. Watch returns a channel of visibility values (true = visible)
// and a cancel func releasing the watch.
type Visibility interface {
	Watch() (<-chan bool, func())
}
