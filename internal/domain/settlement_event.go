package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementInstruction is the message payload published to the settlement
// channel when an external transfer is handed off for cross-bank delivery.
type SettlementInstruction struct {
	ExternalID  string          `json:"external_id"`
	FromAccount string          `json:"from_account"`
	ToAccount   string          `json:"to_account"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	InitiatedAt time.Time       `json:"initiated_at"`
}

// SettlementStatusEvent is the confirmation (or rejection) payload received
// back from the settlement channel for an in-flight external transfer.
type SettlementStatusEvent struct {
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
}
