// internal/handlers/session_server.go
package handlers

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arcadia-gg/arcadia/internal/cache"
	"github.com/arcadia-gg/arcadia/internal/session"
)

// ChangeFeed is the cross-instance change feed: a session.Feed plus the
// publish side writers use after an accepted write. Implemented by
// cache.SessionFeed over redis.
type ChangeFeed interface {
	session.Feed
	Publish(ctx context.Context, sessionID uuid.UUID, snap session.Snapshot) error
}

// SessionServer holds the shared collaborators of every session connection:
// the versioned store, the in-process change-feed hub, and (when redis is
// configured) the cross-instance feed plus presence backing.
type SessionServer struct {
	Store session.Store
	Hub   *session.Hub
	Rdb   *redis.Client
	Feed  ChangeFeed
}

// NewSessionServer wires a server over store. rdb may be nil for the
// single-instance dev profile; pushes then stay in-process.
func NewSessionServer(store session.Store, rdb *redis.Client, logger *log.Logger) *SessionServer {
	srv := &SessionServer{
		Store: store,
		Hub:   session.NewHub(),
		Rdb:   rdb,
	}
	if rdb != nil {
		srv.Feed = cache.NewSessionFeed(rdb, logger)
	}
	return srv
}

// Subscribe implements session.Feed over both delivery paths: the in-process
// hub and, when configured, the redis feed. Reconcilers subscribed through it
// adopt writes accepted by any instance, not just this one.
func (s *SessionServer) Subscribe(sessionID uuid.UUID, fn func(session.Snapshot)) (func(), error) {
	cancelHub, err := s.Hub.Subscribe(sessionID, fn)
	if err != nil {
		return nil, err
	}
	if s.Feed == nil {
		return cancelHub, nil
	}
	cancelFeed, err := s.Feed.Subscribe(sessionID, fn)
	if err != nil {
		cancelHub()
		return nil, err
	}
	return func() {
		cancelHub()
		cancelFeed()
	}, nil
}

// Publish fans an accepted write out to local subscribers and, when
// configured, across instances over redis.
func (s *SessionServer) Publish(ctx context.Context, sessionID uuid.UUID, snap session.Snapshot) {
	s.Hub.Publish(sessionID, snap)
	if s.Feed != nil {
		if err := s.Feed.Publish(ctx, sessionID, snap); err != nil {
			log.Warnf("publish session %s push: %v", sessionID, err)
		}
	}
}
