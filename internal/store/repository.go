/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * all data access operations required by the ledger-service. By defining an
 * interface, we decouple the transfer engine's business logic from the specific
 * database implementation (PostgreSQL), making the code more modular and easier
 * to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/shopspring/decimal: Exact decimal amounts.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/ferrobank/ledger-service/internal/domain"
	"github.com/shopspring/decimal"
)

// InternalTransferParams carries everything the store needs to perform an
// internal transfer as a single atomic unit: debit, credit and ledger insert
// either all commit or none do.
type InternalTransferParams struct {
	FromAccount    string
	ToAccount      string
	Amount         decimal.Decimal
	Currency       string
	OwnerID        domain.UserID
	IdempotencyKey string
}

// ExternalTransferParams carries everything the store needs to place a hold
// for an external transfer: the source debit and the pending ledger insert
// are one atomic unit.
type ExternalTransferParams struct {
	FromAccount    string
	ToAccount      string
	Amount         decimal.Decimal
	Currency       string
	OwnerID        domain.UserID
	ExternalID     string
	IdempotencyKey string
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account methods
	CreateAccount(ctx context.Context, account *domain.Account) error
	FindAccountsByOwner(ctx context.Context, ownerID domain.UserID) ([]domain.Account, error)
	FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error)
	UpdateAccountBalance(ctx context.Context, accountNumber string, balance decimal.Decimal) error
	Deposit(ctx context.Context, accountNumber string, amount decimal.Decimal) (*domain.Account, error)

	// Transfer methods. Each call is one database transaction; partial
	// mutations never become visible.
	TransferInternal(ctx context.Context, params InternalTransferParams) (*domain.Transaction, error)
	CreateExternalTransfer(ctx context.Context, params ExternalTransferParams) (*domain.Transaction, error)
	MarkTransferInProgress(ctx context.Context, externalID string) error
	SettleExternalTransfer(ctx context.Context, externalID string, succeeded bool, reason string) (*domain.Transaction, error)

	// Ledger history methods
	FindTransactionsByOwner(ctx context.Context, ownerID domain.UserID) ([]domain.Transaction, error)
	FindTransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error)
	FindStalledExternalTransfers(ctx context.Context, cutoff time.Time) ([]domain.Transaction, error)

	// Authorization and audit collaborators
	UserHasRole(ctx context.Context, userID domain.UserID, role string) (bool, error)
	InsertAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)
}
