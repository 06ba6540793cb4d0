package models

import "github.com/google/uuid"

type User struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Password string    `json:"password,omitempty"`
	Username string    `json:"username"`

	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`

	IsGuest bool `json:"is_guest"`
	IsAdmin bool `json:"is_admin"`
}
