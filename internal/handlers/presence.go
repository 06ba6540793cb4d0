// internal/handlers/presence.go
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/arcadia-gg/arcadia/internal/presence"
)

// PresenceHandler answers "who is on this board" by reading the topic's
// membership hash directly, without joining the topic.
func PresenceHandler(logger *logrus.Logger, srv *SessionServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idStr := strings.TrimPrefix(r.URL.Path, "/session/presence/")
		sessionID, err := uuid.Parse(idStr)
		if err != nil {
			http.Error(w, "invalid session id (/session/presence/{session_id})", http.StatusBadRequest)
			return
		}

		if srv.Rdb == nil {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(struct {
				Users []presence.State `json:"users"`
			}{Users: []presence.State{}})
			return
		}

		channel := presence.NewRedisChannel(srv.Rdb, logger, sessionID.String())
		states, err := channel.Snapshot(r.Context())
		if err != nil {
			http.Error(w, "failed to read presence", http.StatusBadGateway)
			return
		}

		online := states[:0]
		for _, s := range states {
			if s.Status != presence.StatusOffline {
				online = append(online, s)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Users []presence.State `json:"users"`
		}{Users: online})
	}
}
