// internal/handlers/session_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/arcadia-gg/arcadia/internal/cache"
	"github.com/arcadia-gg/arcadia/internal/middleware"
	"github.com/arcadia-gg/arcadia/internal/presence"
	"github.com/arcadia-gg/arcadia/internal/session"
)

// ClientMessage is an incoming WebSocket message during a board session.
type ClientMessage struct {
	Type  string             `json:"type"`
	Edits []session.CellEdit `json:"edits,omitempty"`
}

// ServerMessage is pushed to session WebSocket clients.
type ServerMessage struct {
	Type    string             `json:"type"` // "state", "presence", "error"
	State   *session.GameState `json:"state,omitempty"`
	Users   []presence.State   `json:"users,omitempty"`
	Message string             `json:"message,omitempty"`
}

// SessionWSHandler upgrades the connection for one board session. Each
// connection owns a reconciler plus recovery manager over the shared store,
// and a presence tracker on the board's topic when redis is configured.
// Incoming edits become optimistic updates; accepted writes are fanned out
// to every other subscriber of the session.
func SessionWSHandler(logger *logrus.Logger, srv *SessionServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idStr := strings.TrimPrefix(r.URL.Path, "/session/ws/")
		if i := strings.IndexByte(idStr, '/'); i >= 0 {
			idStr = idStr[:i]
		}
		sessionID, err := uuid.Parse(idStr)
		if err != nil {
			http.Error(w, "invalid session id (/session/ws/{session_id})", http.StatusBadRequest)
			return
		}

		userID, err := EnsureGuestUser(w, r)
		if err != nil {
			logger.Warnf("session %s: auth failed: %v", sessionID, err)
			http.Error(w, "authentication failed", http.StatusUnauthorized)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"arcadia"},
			OriginPatterns: []string{"*"}, // Adjust for production security.
		})
		if err != nil {
			logger.Warnf("session %s: websocket accept: %v", sessionID, err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler exit")

		if c.Subprotocol() != "arcadia" {
			c.Close(websocket.StatusPolicyViolation, "client must use the 'arcadia' subprotocol")
			return
		}
		middleware.LogSessionConnect(logger, r.RemoteAddr, sessionID.String(), userID.String())

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// srv is the reconciler's feed, so pushes accepted on any instance
		// reach it, not only writes that went through this process's hub.
		rec := session.NewReconciler(srv.Store, srv, sessionID)
		mgr := session.NewRecovery(srv.Store, rec)
		defer rec.Close()

		out := make(chan ServerMessage, 32)
		send := func(msg ServerMessage) { sendOrDone(ctx, out, msg) }
		pushState := func(snap session.Snapshot) {
			msg := ServerMessage{Type: "state", State: &session.GameState{
				CurrentState: snap.CurrentState,
				LastUpdate:   snap.UpdatedAt,
				Version:      snap.Version,
			}}
			select {
			case out <- msg:
			default:
				logger.Warnf("session %s: slow client %s, dropping push", sessionID, userID)
			}
		}

		if err := mgr.Start(ctx); err != nil {
			writeMessage(ctx, c, ServerMessage{Type: "error", Message: err.Error()})
			c.Close(websocket.StatusInternalError, "session start failed")
			return
		}

		unsub, err := srv.Subscribe(sessionID, pushState)
		if err == nil {
			defer unsub()
		}

		tracker := startPresence(ctx, logger, srv, sessionID, userID, out)
		if tracker != nil {
			defer tracker.Close(context.Background())
		}

		recordActivity(ctx, srv, sessionID, userID, "join", rec)
		defer recordActivity(context.Background(), srv, sessionID, userID, "leave", rec)

		// Single writer for this connection.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-out:
					if err := writeMessage(ctx, c, msg); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		send(ServerMessage{Type: "state", State: rec.State()})

		limiter := rate.NewLimiter(rate.Every(100*time.Millisecond), 10)
		for {
			if err := readOne(ctx, c, limiter, logger, srv, sessionID, userID, rec, mgr, send); err != nil {
				status := websocket.CloseStatus(err)
				if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
					middleware.LogSessionDisconnect(logger, r.RemoteAddr, sessionID.String(), nil)
					c.Close(websocket.StatusNormalClosure, "bye")
					return
				}
				middleware.LogSessionDisconnect(logger, r.RemoteAddr, sessionID.String(), err)
				return
			}
		}
	}
}

func readOne(
	ctx context.Context,
	c *websocket.Conn,
	limiter *rate.Limiter,
	logger *logrus.Logger,
	srv *SessionServer,
	sessionID, userID uuid.UUID,
	rec *session.Reconciler,
	mgr *session.Recovery,
	send func(ServerMessage),
) error {
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	_, data, err := c.Read(ctx)
	if err != nil {
		return err
	}

	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		send(ServerMessage{Type: "error", Message: "malformed message"})
		return nil
	}

	switch msg.Type {
	case "cell_update":
		if err := rec.UpdateGameState(ctx, msg.Edits); err != nil {
			send(ServerMessage{Type: "error", Message: err.Error()})
			return nil
		}
		state := rec.State()
		if state != nil {
			srv.Publish(ctx, sessionID, session.Snapshot{
				CurrentState: state.CurrentState,
				Version:      state.Version,
				UpdatedAt:    state.LastUpdate,
			})
		}
		send(ServerMessage{Type: "state", State: state})
		recordActivity(ctx, srv, sessionID, userID, "cell_update", rec)

	case "reconnect":
		if err := mgr.Reconnect(ctx); err != nil {
			send(ServerMessage{Type: "error", Message: err.Error()})
			return nil
		}
		send(ServerMessage{Type: "state", State: rec.State()})
		recordActivity(ctx, srv, sessionID, userID, "reconnect", rec)

	default:
		logger.Debugf("session %s: ignoring message type %q", sessionID, msg.Type)
	}
	return nil
}

// sendOrDone queues msg for the connection's writer, giving up once the
// connection context is gone so a dead writer never parks the read loop on a
// full buffer.
func sendOrDone(ctx context.Context, out chan ServerMessage, msg ServerMessage) {
	select {
	case out <- msg:
	case <-ctx.Done():
	}
}

// startPresence joins the board's presence topic when redis is available.
// Presence failures never take the session connection down.
func startPresence(
	ctx context.Context,
	logger *logrus.Logger,
	srv *SessionServer,
	sessionID, userID uuid.UUID,
	out chan ServerMessage,
) *presence.Tracker {
	if srv.Rdb == nil {
		return nil
	}
	channel := presence.NewRedisChannel(srv.Rdb, logger, sessionID.String())
	tracker := presence.NewTracker(presence.TrackerConfig{
		Channel: channel,
		Identity: presence.IdentityFunc(func(ctx context.Context) (presence.UserInfo, error) {
			return presence.UserInfo{ID: userID.String()}, nil
		}),
	})
	if err := tracker.Start(ctx); err != nil {
		logger.Warnf("session %s: presence start failed for %s: %v", sessionID, userID, err)
		return tracker
	}

	// Forward roster changes to the client on join/leave/sync.
	notify := func(presence.Event) {
		select {
		case out <- ServerMessage{Type: "presence", Users: tracker.OnlineUsers()}:
		default:
		}
	}
	channel.On(presence.EventSync, notify)
	channel.On(presence.EventJoin, notify)
	channel.On(presence.EventLeave, notify)
	return tracker
}

func recordActivity(ctx context.Context, srv *SessionServer, sessionID, userID uuid.UUID, kind string, rec *session.Reconciler) {
	if srv.Rdb == nil {
		return
	}
	var version int64
	if state := rec.State(); state != nil {
		version = state.Version
	}
	record := cache.ActivityRecord{
		SessionID: sessionID,
		UserID:    userID,
		Kind:      kind,
		Version:   version,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := cache.PublishActivity(ctx, record); err != nil {
		logrus.Warnf("session %s: publish activity: %v", sessionID, err)
	}
}

func writeMessage(ctx context.Context, c *websocket.Conn, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.Write(writeCtx, websocket.MessageText, data)
}
