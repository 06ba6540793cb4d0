package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/arcadia-gg/arcadia/internal/auth"
	"github.com/arcadia-gg/arcadia/internal/models"
)

func CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return fmt.Errorf("failed to generate user id: %w", err)
		}
		user.ID = id
	}

	if user.Password != "" {
		hash, err := auth.CreateHash(user.Password, auth.Params)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		user.Password = hash
	}

	q := `INSERT INTO users (id, email, password, username, display_name, avatar_url, is_guest, is_admin)
	      VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := DB.Exec(ctx, q,
		user.ID, user.Email, user.Password, user.Username,
		user.DisplayName, user.AvatarURL, user.IsGuest, user.IsAdmin,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	q := `
	SELECT id, email, password, username, display_name, avatar_url, is_guest, is_admin
	FROM users
	WHERE email=$1
	`
	err := DB.QueryRow(ctx, q, email).Scan(
		&u.ID, &u.Email, &u.Password, &u.Username,
		&u.DisplayName, &u.AvatarURL, &u.IsGuest, &u.IsAdmin,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	q := `
	SELECT id, email, password, username, display_name, avatar_url, is_guest, is_admin
	FROM users
	WHERE id=$1
	`
	err := DB.QueryRow(ctx, q, id).Scan(
		&u.ID, &u.Email, &u.Password, &u.Username,
		&u.DisplayName, &u.AvatarURL, &u.IsGuest, &u.IsAdmin,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
