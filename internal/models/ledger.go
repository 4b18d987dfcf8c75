package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Ledger entry kinds.
const (
	LedgerEntryDeposit     = "deposit"
	LedgerEntryWithdrawal  = "withdrawal"
	LedgerEntryEscrowHold  = "escrow_hold"
	LedgerEntryRelease     = "release"
	LedgerEntryPlatformFee = "platform_fee"
	LedgerEntryRefund      = "refund"
)

// PlatformAccountID is the reserved account that collects platform fees.
var PlatformAccountID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// LedgerEntry is one immutable money movement. Entries are never updated or
// deleted; corrections are new entries. For any task at most one release and
// at most one refund entry may ever exist (unique index on (task_id, kind)),
// which is the double-settlement guard.
type LedgerEntry struct {
	ID          uuid.UUID       `json:"id"`
	TaskID      *uuid.UUID      `json:"task_id,omitempty"`
	AccountID   uuid.UUID       `json:"account_id"`
	Kind        string          `json:"kind"`
	AmountCents int64           `json:"amount_cents"`
	ExternalRef string          `json:"external_ref,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
