// internal/presence/redischan.go
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisChannel implements Channel over a redis hash (the topic's
// authoritative membership) plus a pub/sub channel (join/leave fan-out).
// One RedisChannel is one client connection to one board's topic.
type RedisChannel struct {
	rdb    *redis.Client
	logger *logrus.Logger
	topic  string

	mu        sync.Mutex
	handlers  map[EventKind][]func(Event)
	pubsub    *redis.PubSub
	trackedID string
}

// NewRedisChannel builds a presence channel for one board. The topic is
// namespaced under "arcadia:presence:".
func NewRedisChannel(rdb *redis.Client, logger *logrus.Logger, boardID string) *RedisChannel {
	return &RedisChannel{
		rdb:      rdb,
		logger:   logger,
		topic:    "arcadia:presence:" + boardID,
		handlers: make(map[EventKind][]func(Event)),
	}
}

func (c *RedisChannel) membersKey() string { return c.topic + ":members" }
func (c *RedisChannel) eventsKey() string  { return c.topic + ":events" }

// On registers fn for events of the given kind. Register handlers before
// Subscribe so the initial sync is not missed.
func (c *RedisChannel) On(kind EventKind, fn func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = append(c.handlers[kind], fn)
}

// Subscribe reads the topic's membership hash, dispatches it as a sync
// event, then streams join/leave events from the pub/sub channel until
// Unsubscribe.
func (c *RedisChannel) Subscribe(ctx context.Context) error {
	snapshot, err := c.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("presence snapshot for %s: %w", c.topic, err)
	}

	pubsub := c.rdb.Subscribe(ctx, c.eventsKey())
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", c.eventsKey(), err)
	}

	c.mu.Lock()
	c.pubsub = pubsub
	c.mu.Unlock()

	c.dispatch(Event{Kind: EventSync, States: snapshot})

	go func() {
		for msg := range pubsub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				c.logger.Warnf("presence %s: dropping malformed event: %v", c.topic, err)
				continue
			}
			c.dispatch(ev)
		}
	}()
	return nil
}

// Unsubscribe closes the pub/sub stream.
func (c *RedisChannel) Unsubscribe() error {
	c.mu.Lock()
	pubsub := c.pubsub
	c.pubsub = nil
	c.mu.Unlock()
	if pubsub == nil {
		return nil
	}
	return pubsub.Close()
}

// Track upserts this client's entry in the membership hash and publishes a
// join event to the topic.
func (c *RedisChannel) Track(ctx context.Context, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal presence state: %w", err)
	}
	if err := c.rdb.HSet(ctx, c.membersKey(), state.UserID, data).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", c.membersKey(), err)
	}

	c.mu.Lock()
	c.trackedID = state.UserID
	c.mu.Unlock()

	return c.publish(ctx, Event{Kind: EventJoin, States: []State{state}})
}

// Untrack removes this client's entry and publishes a leave event.
func (c *RedisChannel) Untrack(ctx context.Context) error {
	c.mu.Lock()
	userID := c.trackedID
	c.trackedID = ""
	c.mu.Unlock()
	if userID == "" {
		return nil
	}

	if err := c.rdb.HDel(ctx, c.membersKey(), userID).Err(); err != nil {
		return fmt.Errorf("hdel %s: %w", c.membersKey(), err)
	}
	return c.publish(ctx, Event{
		Kind:   EventLeave,
		States: []State{{UserID: userID, Status: StatusOffline}},
	})
}

// Snapshot reads the topic's full membership hash. Also used server-side to
// answer "who is online" without a tracker.
func (c *RedisChannel) Snapshot(ctx context.Context) ([]State, error) {
	entries, err := c.rdb.HGetAll(ctx, c.membersKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]State, 0, len(entries))
	for userID, raw := range entries {
		var s State
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			c.logger.Warnf("presence %s: dropping malformed entry for %s: %v", c.topic, userID, err)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *RedisChannel) publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal presence event: %w", err)
	}
	if err := c.rdb.Publish(ctx, c.eventsKey(), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", c.eventsKey(), err)
	}
	return nil
}

func (c *RedisChannel) dispatch(ev Event) {
	c.mu.Lock()
	fns := append([](func(Event))(nil), c.handlers[ev.Kind]...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
