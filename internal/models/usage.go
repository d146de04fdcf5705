package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageCounter counts AI generations for one workspace in one quota cycle.
// GenerationsUsed only ever grows within a cycle; a new cycle starts a new counter.
type UsageCounter struct {
	WorkspaceID     uuid.UUID
	CycleStart      time.Time
	GenerationsUsed int
	UpdatedAt       time.Time
}
