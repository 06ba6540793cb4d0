// internal/handlers/board.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/arcadia-gg/arcadia/internal/generator"
)

// GenerateBoardHandler builds a candidate board from the card pool using the
// requested mode and settings. Input-contract violations (bad mode, empty
// pool) map to 400/422; pool lookup failures to 502.
func GenerateBoardHandler(gen *generator.Generator) http.HandlerFunc {
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

		resp := struct {
			Board    interface{} `json:"board"`
			Balanced bool        `json:"balanced"`
		}{
			Board:    board,
			Balanced: gen.CheckBalance(board),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
