package models

import (
	"time"

	"github.com/google/uuid"
)

// Workspace represents a tenant in the system.
// Each workspace has one or more members and exactly one subscription.
type Workspace struct {
	WorkspaceID uuid.UUID // UUIDv7
	Name        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
