package domain

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

// User is an account that can sign in on any number of devices.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string // bcrypt; never serialized to clients
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

var (
	ErrInvalidEmail = errors.New("email is invalid")
	ErrInvalidName  = errors.New("name must be 5 to 50 characters")
	ErrEmailTaken   = errors.New("email is already registered")
)

const (
	nameMin = 5
	nameMax = 50
)

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate validates the user for persistence. Returns the first validation failure.
func (u *User) Validate() error {
	addr, err := mail.ParseAddress(u.Email)
	if err != nil || addr.Address != u.Email {
		return ErrInvalidEmail
	}
	if n := len([]rune(strings.TrimSpace(u.Name))); n < nameMin || n > nameMax {
		return ErrInvalidName
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	return nil
}
