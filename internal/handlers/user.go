// internal/handlers/user.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arcadia-gg/arcadia/internal/auth"
	"github.com/arcadia-gg/arcadia/internal/database"
	"github.com/arcadia-gg/arcadia/internal/models"
)

// CreateUserHandler registers a new Arcadia account and issues a session
// cookie for it.
func CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" || req.Username == "" {
		http.Error(w, "email, password and username are required", http.StatusBadRequest)
		return
	}

	user := models.User{
		Email:       req.Email,
		Password:    req.Password,
		Username:    req.Username,
		DisplayName: req.DisplayName,
	}
	if err := database.CreateUser(r.Context(), &user); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			http.Error(w, "email or username already taken", http.StatusConflict)
			return
		}
		http.Error(w, fmt.Sprintf("failed to create user: %v", err), http.StatusInternalServerError)
		return
	}

	if err := auth.SetAuthCookie(w, user.ID.String()); err != nil {
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}

	user.Password = ""
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// LoginHandler verifies credentials and issues a session cookie.
func LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := database.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	ok, err := auth.ComparePasswordAndHash(req.Password, user.Password)
	if err != nil || !ok {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	if err := auth.SetAuthCookie(w, user.ID.String()); err != nil {
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}

	user.Password = ""
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// EnsureGuestUser resolves the authenticated user from the request cookie,
// creating a guest account (and setting its cookie) when no valid token is
// present. Board sessions are joinable without registration.
func EnsureGuestUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, error) {
	if sub, err := auth.UserIDFromRequest(r); err == nil {
		if id, parseErr := uuid.Parse(sub); parseErr == nil {
			return id, nil
		}
	}

	guest := models.User{
		Username:    "Guest",
		DisplayName: "Guest",
		IsGuest:     true,
	}
	if database.DB == nil {
		// In-memory profile: mint an ephemeral guest identity.
		guest.ID = uuid.New()
	} else if err := database.CreateUser(context.Background(), &guest); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create guest user: %w", err)
	}
	if err := auth.SetAuthCookie(w, guest.ID.String()); err != nil {
		return uuid.Nil, fmt.Errorf("failed to issue guest token: %w", err)
	}
	return guest.ID, nil
}
