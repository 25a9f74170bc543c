/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the `accounts`,
 * `transactions`, `user_roles` and `audit_logs` tables.
 *
 * The transfer methods are the critical section of the whole service: each one
 * runs as a single database transaction, and every account row it touches is
 * locked with SELECT ... FOR UPDATE before any balance is read. Rows are always
 * locked in ascending account-number order so that two transfers referencing
 * the same pair of accounts in opposite directions cannot deadlock.
 *
 * @dependencies
 * - context, errors, fmt, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: Exact decimal amounts.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ferrobank/ledger-service/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrAccountNumberTaken  = errors.New("account number already taken")
	ErrTransferSettled     = errors.New("transfer already settled")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateAccount inserts a new account row and fills in the store-assigned id.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (owner_id, account_number, currency, balance)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query, account.OwnerID, account.AccountNumber, account.Currency, account.Balance).
		Scan(&account.ID, &account.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAccountNumberTaken
		}
		return err
	}
	return nil
}

// FindAccountsByOwner retrieves every account belonging to a user.
func (r *PostgresRepository) FindAccountsByOwner(ctx context.Context, ownerID domain.UserID) ([]domain.Account, error) {
	query := `
		SELECT id, owner_id, account_number, currency, balance, created_at
		FROM accounts
		WHERE owner_id = $1
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.AccountNumber, &a.Currency, &a.Balance, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// FindAccountByNumber retrieves an account by its unique account number.
func (r *PostgresRepository) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	var a domain.Account
	query := `
		SELECT id, owner_id, account_number, currency, balance, created_at
		FROM accounts
		WHERE account_number = $1
	`
	err := r.db.QueryRow(ctx, query, accountNumber).
		Scan(&a.ID, &a.OwnerID, &a.AccountNumber, &a.Currency, &a.Balance, &a.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

// UpdateAccountBalance writes a new balance for one account. Non-negativity is
// the caller's responsibility; this is a plain single-row atomic write.
func (r *PostgresRepository) UpdateAccountBalance(ctx context.Context, accountNumber string, balance decimal.Decimal) error {
	query := `UPDATE accounts SET balance = $1 WHERE account_number = $2`
	result, err := r.db.Exec(ctx, query, balance, accountNumber)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Deposit credits an account in a single statement and returns the updated row.
func (r *PostgresRepository) Deposit(ctx context.Context, accountNumber string, amount decimal.Decimal) (*domain.Account, error) {
	var a domain.Account
	query := `
		UPDATE accounts
		SET balance = balance + $1
		WHERE account_number = $2
		RETURNING id, owner_id, account_number, currency, balance, created_at
	`
	err := r.db.QueryRow(ctx, query, amount, accountNumber).
		Scan(&a.ID, &a.OwnerID, &a.AccountNumber, &a.Currency, &a.Balance, &a.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

// lockAccountForTransfer locks one account row and returns its current balance.
func lockAccountForTransfer(ctx context.Context, tx pgx.Tx, accountNumber string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	query := `SELECT balance FROM accounts WHERE account_number = $1 FOR UPDATE`
	if err := tx.QueryRow(ctx, query, accountNumber).Scan(&balance); err != nil {
		if err == pgx.ErrNoRows {
			return decimal.Zero, ErrAccountNotFound
		}
		return decimal.Zero, err
	}
	return balance, nil
}

// lockOrder returns the two account numbers in canonical locking order.
func lockOrder(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// findTransactionByIdempotencyKey looks up an earlier submission of the same
// request inside the current database transaction.
func findTransactionByIdempotencyKey(ctx context.Context, tx pgx.Tx, ownerID domain.UserID, key string) (*domain.Transaction, error) {
	var t domain.Transaction
	query := `
		SELECT id, from_account, to_account, amount, currency, status, owner_id,
		       transaction_type, external_id, idempotency_key, failure_reason, created_at
		FROM transactions
		WHERE owner_id = $1 AND idempotency_key = $2
	`
	err := tx.QueryRow(ctx, query, ownerID, key).Scan(
		&t.ID, &t.FromAccount, &t.ToAccount, &t.Amount, &t.Currency, &t.Status,
		&t.OwnerID, &t.TransactionType, &t.ExternalID, &t.IdempotencyKey,
		&t.FailureReason, &t.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// TransferInternal moves funds between two accounts of this bank. The debit,
// the credit and the ledger insert commit together or not at all. Both account
// rows are locked before the sufficient-funds check so concurrent transfers
// touching either account serialize instead of racing on a stale balance.
func (r *PostgresRepository) TransferInternal(ctx context.Context, params InternalTransferParams) (*domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// A retried request with the same idempotency key returns the original
	// entry and performs no balance mutation.
	if params.IdempotencyKey != "" {
		existing, err := findTransactionByIdempotencyKey(ctx, tx, params.OwnerID, params.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	first, second := lockOrder(params.FromAccount, params.ToAccount)
	balances := make(map[string]decimal.Decimal, 2)
	for _, number := range []string{first, second} {
		balance, err := lockAccountForTransfer(ctx, tx, number)
		if err != nil {
			return nil, err
		}
		balances[number] = balance
	}

	if balances[params.FromAccount].LessThan(params.Amount) {
		return nil, ErrInsufficientFunds
	}

	debitQuery := `UPDATE accounts SET balance = balance - $1 WHERE account_number = $2`
	if _, err := tx.Exec(ctx, debitQuery, params.Amount, params.FromAccount); err != nil {
		return nil, fmt.Errorf("failed to debit source account: %w", err)
	}
	creditQuery := `UPDATE accounts SET balance = balance + $1 WHERE account_number = $2`
	if _, err := tx.Exec(ctx, creditQuery, params.Amount, params.ToAccount); err != nil {
		return nil, fmt.Errorf("failed to credit destination account: %w", err)
	}

	entry := &domain.Transaction{
		FromAccount:     params.FromAccount,
		ToAccount:       params.ToAccount,
		Amount:          params.Amount,
		Currency:        params.Currency,
		Status:          domain.StatusCompleted,
		OwnerID:         params.OwnerID,
		TransactionType: domain.TypeInternal,
	}
	if params.IdempotencyKey != "" {
		key := params.IdempotencyKey
		entry.IdempotencyKey = &key
	}
	if err := insertTransaction(ctx, tx, entry); err != nil {
		// A concurrent duplicate with the same idempotency key won the
		// insert race; surface the winning entry instead of an error.
		if isUniqueViolation(err) && params.IdempotencyKey != "" {
			tx.Rollback(ctx)
			return r.findByIdempotencyKey(ctx, params.OwnerID, params.IdempotencyKey)
		}
		return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transfer: %w", err)
	}
	return entry, nil
}

func (r *PostgresRepository) findByIdempotencyKey(ctx context.Context, ownerID domain.UserID, key string) (*domain.Transaction, error) {
	var t domain.Transaction
	query := `
		SELECT id, from_account, to_account, amount, currency, status, owner_id,
		       transaction_type, external_id, idempotency_key, failure_reason, created_at
		FROM transactions
		WHERE owner_id = $1 AND idempotency_key = $2
	`
	err := r.db.QueryRow(ctx, query, ownerID, key).Scan(
		&t.ID, &t.FromAccount, &t.ToAccount, &t.Amount, &t.Currency, &t.Status,
		&t.OwnerID, &t.TransactionType, &t.ExternalID, &t.IdempotencyKey,
		&t.FailureReason, &t.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

// CreateExternalTransfer places a hold for a cross-bank transfer: the source
// account is debited and a pending ledger entry is written, atomically.
func (r *PostgresRepository) CreateExternalTransfer(ctx context.Context, params ExternalTransferParams) (*domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if params.IdempotencyKey != "" {
		existing, err := findTransactionByIdempotencyKey(ctx, tx, params.OwnerID, params.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	balance, err := lockAccountForTransfer(ctx, tx, params.FromAccount)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(params.Amount) {
		return nil, ErrInsufficientFunds
	}

	debitQuery := `UPDATE accounts SET balance = balance - $1 WHERE account_number = $2`
	if _, err := tx.Exec(ctx, debitQuery, params.Amount, params.FromAccount); err != nil {
		return nil, fmt.Errorf("failed to hold funds: %w", err)
	}

	externalID := params.ExternalID
	entry := &domain.Transaction{
		FromAccount:     params.FromAccount,
		ToAccount:       params.ToAccount,
		Amount:          params.Amount,
		Currency:        params.Currency,
		Status:          domain.StatusPending,
		OwnerID:         params.OwnerID,
		TransactionType: domain.TypeExternal,
		ExternalID:      &externalID,
	}
	if params.IdempotencyKey != "" {
		key := params.IdempotencyKey
		entry.IdempotencyKey = &key
	}
	if err := insertTransaction(ctx, tx, entry); err != nil {
		if isUniqueViolation(err) && params.IdempotencyKey != "" {
			tx.Rollback(ctx)
			return r.findByIdempotencyKey(ctx, params.OwnerID, params.IdempotencyKey)
		}
		return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit external transfer: %w", err)
	}
	return entry, nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, entry *domain.Transaction) error {
	query := `
		INSERT INTO transactions (from_account, to_account, amount, currency, status,
		                          owner_id, transaction_type, external_id, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	return tx.QueryRow(ctx, query,
		entry.FromAccount, entry.ToAccount, entry.Amount, entry.Currency, entry.Status,
		entry.OwnerID, entry.TransactionType, entry.ExternalID, entry.IdempotencyKey,
	).Scan(&entry.ID, &entry.CreatedAt)
}

// MarkTransferInProgress advances a pending external transfer once it has
// been handed to the settlement channel. Calling it again after the entry has
// already advanced is a no-op.
func (r *PostgresRepository) MarkTransferInProgress(ctx context.Context, externalID string) error {
	query := `UPDATE transactions SET status = $1 WHERE external_id = $2 AND status = $3`
	result, err := r.db.Exec(ctx, query, domain.StatusInProgress, externalID, domain.StatusPending)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		var exists bool
		check := `SELECT EXISTS (SELECT 1 FROM transactions WHERE external_id = $1)`
		if err := r.db.QueryRow(ctx, check, externalID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrTransactionNotFound
		}
	}
	return nil
}

// SettleExternalTransfer applies the terminal confirmation for an external
// transfer. On failure the held funds are credited back to the source account
// in the same database transaction that flips the status, so the refund and
// the status change cannot diverge. A transfer that is already terminal is
// returned unchanged with ErrTransferSettled so replays are harmless.
func (r *PostgresRepository) SettleExternalTransfer(ctx context.Context, externalID string, succeeded bool, reason string) (*domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var t domain.Transaction
	query := `
		SELECT id, from_account, to_account, amount, currency, status, owner_id,
		       transaction_type, external_id, idempotency_key, failure_reason, created_at
		FROM transactions
		WHERE external_id = $1
		FOR UPDATE
	`
	err = tx.QueryRow(ctx, query, externalID).Scan(
		&t.ID, &t.FromAccount, &t.ToAccount, &t.Amount, &t.Currency, &t.Status,
		&t.OwnerID, &t.TransactionType, &t.ExternalID, &t.IdempotencyKey,
		&t.FailureReason, &t.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	if domain.IsTerminalStatus(t.Status) {
		return &t, ErrTransferSettled
	}

	newStatus := domain.StatusCompleted
	var failureReason *string
	if !succeeded {
		newStatus = domain.StatusFailed
		if reason != "" {
			failureReason = &reason
		}
		// Compensating credit: release the held funds back to the source.
		refundQuery := `UPDATE accounts SET balance = balance + $1 WHERE account_number = $2`
		if _, err := tx.Exec(ctx, refundQuery, t.Amount, t.FromAccount); err != nil {
			return nil, fmt.Errorf("failed to refund held funds: %w", err)
		}
	}

	updateQuery := `UPDATE transactions SET status = $1, failure_reason = $2 WHERE id = $3`
	if _, err := tx.Exec(ctx, updateQuery, newStatus, failureReason, t.ID); err != nil {
		return nil, fmt.Errorf("failed to update transfer status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}

	t.Status = newStatus
	t.FailureReason = failureReason
	return &t, nil
}

// FindTransactionsByOwner retrieves a user's ledger history, newest first.
func (r *PostgresRepository) FindTransactionsByOwner(ctx context.Context, ownerID domain.UserID) ([]domain.Transaction, error) {
	query := `
		SELECT id, from_account, to_account, amount, currency, status, owner_id,
		       transaction_type, external_id, idempotency_key, failure_reason, created_at
		FROM transactions
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// FindTransactionByExternalID retrieves one external transfer by its settlement id.
func (r *PostgresRepository) FindTransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	var t domain.Transaction
	query := `
		SELECT id, from_account, to_account, amount, currency, status, owner_id,
		       transaction_type, external_id, idempotency_key, failure_reason, created_at
		FROM transactions
		WHERE external_id = $1
	`
	err := r.db.QueryRow(ctx, query, externalID).Scan(
		&t.ID, &t.FromAccount, &t.ToAccount, &t.Amount, &t.Currency, &t.Status,
		&t.OwnerID, &t.TransactionType, &t.ExternalID, &t.IdempotencyKey,
		&t.FailureReason, &t.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

// FindStalledExternalTransfers returns external transfers still awaiting
// settlement that were created before the cutoff. Used by the reconciler.
func (r *PostgresRepository) FindStalledExternalTransfers(ctx context.Context, cutoff time.Time) ([]domain.Transaction, error) {
	query := `
		SELECT id, from_account, to_account, amount, currency, status, owner_id,
		       transaction_type, external_id, idempotency_key, failure_reason, created_at
		FROM transactions
		WHERE transaction_type = $1 AND status IN ($2, $3) AND created_at < $4
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, domain.TypeExternal, domain.StatusPending, domain.StatusInProgress, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func scanTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	var transactions []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(
			&t.ID, &t.FromAccount, &t.ToAccount, &t.Amount, &t.Currency, &t.Status,
			&t.OwnerID, &t.TransactionType, &t.ExternalID, &t.IdempotencyKey,
			&t.FailureReason, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

// UserHasRole reports whether a user currently holds an active role.
func (r *PostgresRepository) UserHasRole(ctx context.Context, userID domain.UserID, role string) (bool, error) {
	var count int
	query := `
		SELECT COUNT(*)
		FROM user_roles
		WHERE user_id = $1 AND role_name = $2 AND is_active = TRUE
	`
	if err := r.db.QueryRow(ctx, query, userID, role).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// InsertAuditLog writes one audit trail record.
func (r *PostgresRepository) InsertAuditLog(ctx context.Context, entry domain.AuditLog) error {
	query := `
		INSERT INTO audit_logs (user_id, action_type, table_name, record_id, old_values, new_values, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		entry.UserID, entry.ActionType, entry.TableName, entry.RecordID,
		entry.OldValues, entry.NewValues, entry.IPAddress,
	)
	return err
}

// ListAuditLogs returns the most recent audit trail records.
func (r *PostgresRepository) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, user_id, action_type, table_name, record_id, old_values, new_values, ip_address, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []domain.AuditLog
	for rows.Next() {
		var l domain.AuditLog
		if err := rows.Scan(
			&l.ID, &l.UserID, &l.ActionType, &l.TableName, &l.RecordID,
			&l.OldValues, &l.NewValues, &l.IPAddress, &l.CreatedAt,
		); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
