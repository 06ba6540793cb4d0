// internal/handlers/session_create.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/arcadia-gg/arcadia/internal/generator"
	"github.com/arcadia-gg/arcadia/internal/session"
)

// SessionCreator seeds a new session row at version 1 with its start event.
// Satisfied by both the postgres-backed store and the in-memory store.
type SessionCreator interface {
	CreateSession(ctx context.Context, sessionID uuid.UUID, cells []session.BoardCell) (session.Snapshot, error)
}

// CreateSessionHandler generates a board and opens a new session around it.
// The caller gets back the session id to connect a websocket to.
func CreateSessionHandler(gen *generator.Generator, creator SessionCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			Mode     string              `json:"mode"`
			Settings *generator.Settings `json:"settings,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Settings != nil {
			gen.UpdateSettings(*req.Settings)
		}

		board, err := gen.Generate(r.Context(), req.Mode)
		switch {
		case errors.Is(err, generator.ErrInvalidMode):
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		case errors.Is(err, generator.ErrEmptyCardPool):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		case err != nil:
			http.Error(w, "board generation failed", http.StatusBadGateway)
			return
		}

		sessionID := uuid.New()
		snap, err := creator.CreateSession(r.Context(), sessionID, board)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to create session: %v", err), http.StatusInternalServerError)
			return
		}

		resp := struct {
			SessionID uuid.UUID           `json:"session_id"`
			Version   int64               `json:"version"`
			Board     []session.BoardCell `json:"board"`
		}{
			SessionID: sessionID,
			Version:   snap.Version,
			Board:     snap.CurrentState,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(resp)
	}
}
