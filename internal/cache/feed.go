// internal/cache/feed.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/arcadia-gg/arcadia/internal/session"
)

// SessionFeed is a redis pub/sub backed session.Feed, so reconcilers on
// different server instances observe each other's accepted writes. Writers
// call Publish after a successful conditional update.
type SessionFeed struct {
	rdb    *redis.Client
	logger *logrus.Logger

	mu   sync.Mutex
	subs map[uuid.UUID]*feedSub
}

type feedSub struct {
	pubsub *redis.PubSub
	nextID int
	fns    map[int]func(session.Snapshot)
}

// NewSessionFeed builds a feed over rdb.
func NewSessionFeed(rdb *redis.Client, logger *logrus.Logger) *SessionFeed {
	return &SessionFeed{
		rdb:    rdb,
		logger: logger,
		subs:   make(map[uuid.UUID]*feedSub),
	}
}

func feedChannel(sessionID uuid.UUID) string {
	return "arcadia:session:" + sessionID.String() + ":changes"
}

type feedPayload struct {
	CurrentState []session.BoardCell `json:"currentState"`
	Version      int64               `json:"version"`
	UpdatedAt    int64               `json:"updatedAt"` // unix millis
}

// Publish pushes snap to every subscriber of sessionID, across instances.
func (f *SessionFeed) Publish(ctx context.Context, sessionID uuid.UUID, snap session.Snapshot) error {
	data, err := json.Marshal(feedPayload{
		CurrentState: snap.CurrentState,
		Version:      snap.Version,
		UpdatedAt:    snap.UpdatedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal session push: %w", err)
	}
	if err := f.rdb.Publish(ctx, feedChannel(sessionID), data).Err(); err != nil {
		return fmt.Errorf("publish session push: %w", err)
	}
	return nil
}

// Subscribe implements session.Feed. The first subscriber of a session opens
// the underlying pub/sub channel; the last one closes it.
func (f *SessionFeed) Subscribe(sessionID uuid.UUID, fn func(session.Snapshot)) (func(), error) {
	f.mu.Lock()
	sub, ok := f.subs[sessionID]
	if !ok {
		pubsub := f.rdb.Subscribe(context.Background(), feedChannel(sessionID))
		sub = &feedSub{pubsub: pubsub, fns: make(map[int]func(session.Snapshot))}
		f.subs[sessionID] = sub
		go f.readLoop(sessionID, pubsub)
	}
	id := sub.nextID
	sub.nextID++
	sub.fns[id] = fn
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			s, ok := f.subs[sessionID]
			if !ok {
				return
			}
			delete(s.fns, id)
			if len(s.fns) == 0 {
				s.pubsub.Close()
				delete(f.subs, sessionID)
			}
		})
	}
	return cancel, nil
}

func (f *SessionFeed) readLoop(sessionID uuid.UUID, pubsub *redis.PubSub) {
	for msg := range pubsub.Channel() {
		var payload feedPayload
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			f.logger.Warnf("session feed %s: dropping malformed push: %v", sessionID, err)
			continue
		}
		snap := session.Snapshot{
			CurrentState: payload.CurrentState,
			Version:      payload.Version,
			UpdatedAt:    time.UnixMilli(payload.UpdatedAt),
		}

		f.mu.Lock()
		sub, ok := f.subs[sessionID]
		var fns []func(session.Snapshot)
		if ok {
			fns = make([]func(session.Snapshot), 0, len(sub.fns))
			for _, fn := range sub.fns {
				fns = append(fns, fn)
			}
		}
		f.mu.Unlock()

		for _, fn := range fns {
			fn(snap)
		}
	}
}
