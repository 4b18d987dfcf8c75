package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outbox event kinds. One per settlement operation.
const (
	EventEscrowHold        = "escrow_hold"
	EventCompletionRelease = "completion_release"
	EventRefund            = "refund"
)

// Outbox event statuses. pending -> processing -> completed is the success
// path; processing -> pending reschedules a retry; failed is terminal and
// requires operator intervention.
const (
	EventStatusPending    = "pending"
	EventStatusProcessing = "processing"
	EventStatusCompleted  = "completed"
	EventStatusFailed     = "failed"
)

// OutboxEvent is a durable settlement intent, written in the same transaction
// as the task-status change that triggers it.
type OutboxEvent struct {
	ID          uuid.UUID       `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	NextRetryAt time.Time       `json:"next_retry_at"`
	LastError   *string         `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// EscrowHoldPayload is the payload for EventEscrowHold.
type EscrowHoldPayload struct {
	TaskID   uuid.UUID `json:"task_id"`
	PosterID uuid.UUID `json:"poster_id"`
}

// CompletionReleasePayload is the payload for EventCompletionRelease.
type CompletionReleasePayload struct {
	TaskID   uuid.UUID `json:"task_id"`
	HunterID uuid.UUID `json:"hunter_id"`
}

// RefundPayload is the payload for EventRefund.
type RefundPayload struct {
	TaskID uuid.UUID `json:"task_id"`
	Reason string    `json:"reason"`
}

// DecodePayload unmarshals the event's payload into the struct matching its
// kind. Returns an error for unknown kinds so the worker can fail the event
// instead of retrying forever.
func (e *OutboxEvent) DecodePayload() (any, error) {
	switch e.Kind {
	case EventEscrowHold:
		var p EscrowHoldPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode escrow_hold payload: %w", err)
		}
		return p, nil
	case EventCompletionRelease:
		var p CompletionReleasePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode completion_release payload: %w", err)
		}
		return p, nil
	case EventRefund:
		var p RefundPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode refund payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", e.Kind)
	}
}
