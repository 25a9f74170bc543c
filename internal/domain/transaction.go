/**
 * @description
 * This file defines the transaction-side domain models for the ledger-service.
 * A Transaction is the central ledger record for any money movement: it is
 * append-only and, once written, only its status (and failure reason) may
 * change, and only for external transfers working through settlement.
 *
 * @notes
 * - Statuses follow the external-transfer lifecycle
 *   pending -> inProgress -> completed | failed. Internal transfers are
 *   recorded directly as completed. completed and failed are terminal.
 * - ExternalID doubles as the correlation id on the settlement channel.
 */

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "inProgress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Transaction types.
const (
	TypeInternal = "internal"
	TypeExternal = "external"
)

// IsTerminalStatus reports whether a ledger entry may no longer change status.
func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Transaction represents one ledger entry.
// This struct maps directly to the `transactions` table in the database.
type Transaction struct {
	ID              int64           `json:"id"`
	FromAccount     string          `json:"from_account"`
	ToAccount       string          `json:"to_account"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	OwnerID         UserID          `json:"owner_id"`
	TransactionType string          `json:"transaction_type"`
	ExternalID      *string         `json:"external_id,omitempty"`
	IdempotencyKey  *string         `json:"-"`
	FailureReason   *string         `json:"failure_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// InternalTransferRequest is the DTO for incoming internal transfer API requests.
type InternalTransferRequest struct {
	FromAccount    string          `json:"from_account"`
	ToAccount      string          `json:"to_account"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// ExternalTransferRequest is the DTO for incoming external transfer API requests.
type ExternalTransferRequest struct {
	FromAccount    string          `json:"from_account"`
	ToAccount      string          `json:"to_account"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// AuditLog is one fire-and-forget audit trail record. Audit failures must
// never block or fail the ledger operation they describe.
type AuditLog struct {
	ID         int64     `json:"id"`
	UserID     UserID    `json:"user_id"`
	ActionType string    `json:"action_type"`
	TableName  *string   `json:"table_name,omitempty"`
	RecordID   *int64    `json:"record_id,omitempty"`
	OldValues  *string   `json:"old_values,omitempty"`
	NewValues  *string   `json:"new_values,omitempty"`
	IPAddress  *string   `json:"ip_address,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
