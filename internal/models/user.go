package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxEmailLength is the longest email address accepted (RFC 5321 path limit).
const MaxEmailLength = 320

var (
	ErrEmailRequired = errors.New("email is required")
	ErrEmailTooLong  = errors.New("email exceeds 320 characters")
)

// User is the durable identity behind a principal.
// The UserID never changes once provisioned.
type User struct {
	UserID      uuid.UUID // UUIDv7
	Email       string    // normalized, see NormalizeEmail
	Name        string
	GitHubLogin *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeEmail trims and lowercases an email address and enforces the length limit.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrEmailRequired
	}
	if len(email) > MaxEmailLength {
		return "", ErrEmailTooLong
	}
	return email, nil
}
