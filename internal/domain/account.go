/**
 * @description
 * This file defines the account-side domain models for the ledger-service.
 * Accounts are the unit of balance tracking: every money movement debits and
 * credits account rows identified by their bank-prefixed account number.
 *
 * @notes
 * - Balances and amounts use shopspring/decimal to avoid floating-point
 *   inaccuracies with financial data. The store persists them as NUMERIC.
 * - UserID is a single fixed integer type end-to-end; it is parsed once at
 *   the trust boundary (JWT middleware) and never re-coerced downstream.
 */

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserID identifies a customer. It is assigned by the identity system and
// trusted as-is once extracted from a validated token.
type UserID int64

// Principal is the authenticated identity attached to a request. The ledger
// core performs no authentication itself; it trusts this value.
type Principal struct {
	UserID UserID `json:"user_id"`
}

// Account represents a single-currency customer account.
// This struct maps directly to the `accounts` table in the database.
type Account struct {
	ID            int64           `json:"id"`
	OwnerID       UserID          `json:"owner_id"`
	AccountNumber string          `json:"account_number"`
	Currency      string          `json:"currency"`
	Balance       decimal.Decimal `json:"balance"`
	CreatedAt     time.Time       `json:"created_at"`
}

// OpenAccountRequest is the DTO for incoming account-opening API requests.
type OpenAccountRequest struct {
	Currency string `json:"currency"`
}

// DepositRequest is the DTO for incoming deposit API requests.
type DepositRequest struct {
	AccountNumber string          `json:"account_number"`
	Amount        decimal.Decimal `json:"amount"`
}
