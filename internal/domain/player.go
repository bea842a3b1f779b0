package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Player represents a player in the system
type Player struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// PlayerInfo is a lightweight player information struct used for caching
type PlayerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RegisterPlayerRequest represents a request to create a player
type RegisterPlayerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Normalize trims the request and validates it
func (r *RegisterPlayerRequest) Normalize() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))

	if r.Name == "" || len(r.Name) > 255 {
		return fmt.Errorf("%w: name must be between 1 and 255 characters", ErrValidation)
	}
	if len(r.Email) > 255 {
		return fmt.Errorf("%w: email is too long", ErrValidation)
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return fmt.Errorf("%w: invalid email", ErrValidation)
	}
	return nil
}
