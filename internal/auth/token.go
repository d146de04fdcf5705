package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// NewUserClaims builds the claims for a user access token. Only the subject is
// carried; roles are never embedded because they are read fresh per workspace.
func NewUserClaims(issuer, audience string, userID uuid.UUID, now time.Time, ttl time.Duration) *jwt.RegisteredClaims {
	return &jwt.RegisteredClaims{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Issuer:    issuer,
		Subject:   userID.String(),
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}
