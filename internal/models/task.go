package models

import (
	"time"

	"github.com/google/uuid"
)

// Task status enums.
const (
	TaskStatusOpen       = "open"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusCancelled  = "cancelled"
	TaskStatusFailed     = "failed"
	TaskStatusArchived   = "archived"
)

// Task is a unit of paid work posted by one user and performed by another.
// The settlement engine only reads Status and writes Status and HoldRef;
// everything else belongs to the lifecycle layer.
// Invariant: AmountCents > 0 unless Honor is set, in which case AmountCents = 0.
type Task struct {
	ID          uuid.UUID  `json:"id"`
	PosterID    uuid.UUID  `json:"poster_id"`
	HunterID    *uuid.UUID `json:"hunter_id,omitempty"`
	Title       string     `json:"title"`
	AmountCents int64      `json:"amount_cents"`
	Honor       bool       `json:"honor"`
	Status      string     `json:"status"`
	HoldRef     *string    `json:"hold_ref,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
