/**
 * @description
 * This file contains the core business logic for the ledger-service. The
 * `Service` struct orchestrates all money movement operations, coordinating
 * between the database repository, the settlement channel publisher, and the
 * supporting policies (currency set, account number allocation, rate limits).
 *
 * Key features:
 * - Implements the main use cases: account opening, deposits, internal
 *   transfers and external (cross-bank) transfers.
 * - Validation, ownership and currency checks all happen before any balance
 *   mutation; the repository performs each mutation atomically.
 * - External transfers hold funds immediately and advance through
 *   pending -> inProgress -> completed/failed as settlement confirmations
 *   arrive.
 * - Writes fire-and-forget audit records; audit failures never fail the
 *   underlying ledger operation.
 *
 * @dependencies
 * - context, errors, fmt, log, strconv, time: Standard Go libraries.
 * - github.com/google/uuid: For settlement correlation ids.
 * - github.com/shopspring/decimal: Exact decimal amounts.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For the settlement channel.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/ferrobank/ledger-service/internal/domain"
	"github.com/ferrobank/ledger-service/internal/store"
	"github.com/ferrobank/ledger-service/pkg/rabbitmq"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultSettlementTimeout is how long an external transfer may sit awaiting
// confirmation before the reconciler reverses it.
const DefaultSettlementTimeout = 24 * time.Hour

// TransferRateLimiter is implemented by distributed rate limiters. A nil
// limiter disables rate limiting.
type TransferRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for the account ledger and
// transfer engine.
type Service struct {
	repo       store.Repository
	settlement rabbitmq.Publisher
	policy     *CurrencyPolicy
	allocator  *AccountNumberAllocator

	limiter           TransferRateLimiter
	transferRateLimit int

	settlementTimeout time.Duration
}

// NewService creates a new ledger service instance.
func NewService(repo store.Repository, settlement rabbitmq.Publisher, policy *CurrencyPolicy, allocator *AccountNumberAllocator) *Service {
	return &Service{
		repo:              repo,
		settlement:        settlement,
		policy:            policy,
		allocator:         allocator,
		settlementTimeout: DefaultSettlementTimeout,
	}
}

// SetTransferRateLimiter enables per-user transfer rate limiting.
func (s *Service) SetTransferRateLimiter(limiter TransferRateLimiter, perMinute int) {
	s.limiter = limiter
	s.transferRateLimit = perMinute
}

// SetSettlementTimeout overrides how long external transfers may stay
// unconfirmed before reconciliation reverses them.
func (s *Service) SetSettlementTimeout(timeout time.Duration) {
	if timeout > 0 {
		s.settlementTimeout = timeout
	}
}

// OpenAccount creates a new zero-balance account for the requester. Account
// number collisions are retried a bounded number of times before surfacing
// as a storage failure.
func (s *Service) OpenAccount(ctx context.Context, principal domain.Principal, currency string) (*domain.Account, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return nil, ErrMissingField
	}
	if !s.policy.IsAllowed(currency) {
		return nil, ErrCurrencyNotAllowed
	}

	for attempt := 0; attempt < maxAllocationAttempts; attempt++ {
		account := &domain.Account{
			OwnerID:       principal.UserID,
			AccountNumber: s.allocator.Generate(),
			Currency:      currency,
			Balance:       decimal.Zero,
		}
		err := s.repo.CreateAccount(ctx, account)
		if err == nil {
			s.recordAudit(principal.UserID, "account_opened", "accounts", account.ID, fmt.Sprintf("account_number=%s currency=%s", account.AccountNumber, currency))
			return account, nil
		}
		if errors.Is(err, store.ErrAccountNumberTaken) {
			log.Printf("level=warn component=ledger msg=\"account number collision; retrying\" attempt=%d", attempt+1)
			continue
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return nil, ErrAccountNumberExhausted
}

// ListAccounts returns every account owned by the requester.
func (s *Service) ListAccounts(ctx context.Context, principal domain.Principal) ([]domain.Account, error) {
	return s.repo.FindAccountsByOwner(ctx, principal.UserID)
}

// Deposit credits one of the requester's accounts. The amount must be
// strictly positive and the account must belong to the requester.
func (s *Service) Deposit(ctx context.Context, principal domain.Principal, accountNumber string, amount decimal.Decimal) (*domain.Account, error) {
	if strings.TrimSpace(accountNumber) == "" {
		return nil, ErrMissingField
	}
	if !amount.IsPositive() {
		return nil, ErrAmountNotPositive
	}

	account, err := s.repo.FindAccountByNumber(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	if account.OwnerID != principal.UserID {
		return nil, ErrNotAccountOwner
	}

	updated, err := s.repo.Deposit(ctx, accountNumber, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to deposit funds: %w", err)
	}
	s.recordAudit(principal.UserID, "deposit", "accounts", updated.ID, fmt.Sprintf("account_number=%s amount=%s", accountNumber, amount))
	return updated, nil
}

// TransferInternal moves funds between two accounts held at this bank. Both
// accounts must belong to the requester and carry the same currency. The
// debit, credit and ledger insert are one atomic unit in the store.
func (s *Service) TransferInternal(ctx context.Context, principal domain.Principal, req domain.InternalTransferRequest) (*domain.Transaction, error) {
	if strings.TrimSpace(req.FromAccount) == "" || strings.TrimSpace(req.ToAccount) == "" {
		return nil, ErrMissingField
	}
	if !req.Amount.IsPositive() {
		return nil, ErrAmountNotPositive
	}
	if req.FromAccount == req.ToAccount {
		return nil, ErrSameAccount
	}
	if err := s.consumeRateLimit(ctx, "transfer.internal", principal.UserID); err != nil {
		return nil, err
	}

	from, err := s.repo.FindAccountByNumber(ctx, req.FromAccount)
	if err != nil {
		return nil, err
	}
	if from.OwnerID != principal.UserID {
		return nil, ErrNotAccountOwner
	}

	to, err := s.repo.FindAccountByNumber(ctx, req.ToAccount)
	if err != nil {
		return nil, err
	}
	if to.OwnerID != principal.UserID {
		return nil, ErrNotAccountOwner
	}

	if err := s.policy.RequireMatch(from.Currency, to.Currency); err != nil {
		return nil, err
	}

	entry, err := s.repo.TransferInternal(ctx, store.InternalTransferParams{
		FromAccount:    req.FromAccount,
		ToAccount:      req.ToAccount,
		Amount:         req.Amount,
		Currency:       from.Currency,
		OwnerID:        principal.UserID,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(principal.UserID, "transfer_internal", "transactions", entry.ID, fmt.Sprintf("from=%s to=%s amount=%s %s", entry.FromAccount, entry.ToAccount, entry.Amount, entry.Currency))
	return entry, nil
}

// TransferExternal initiates a cross-bank transfer. Funds are held (debited)
// immediately with a pending ledger entry; the instruction is then handed to
// the settlement channel and the entry advances to inProgress. If the handoff
// itself fails, the hold is released by an immediate compensating settlement.
func (s *Service) TransferExternal(ctx context.Context, principal domain.Principal, req domain.ExternalTransferRequest) (*domain.Transaction, error) {
	if strings.TrimSpace(req.FromAccount) == "" || strings.TrimSpace(req.ToAccount) == "" || strings.TrimSpace(req.Currency) == "" {
		return nil, ErrMissingField
	}
	if !req.Amount.IsPositive() {
		return nil, ErrAmountNotPositive
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if !s.policy.IsAllowed(currency) {
		return nil, ErrCurrencyNotAllowed
	}
	// Bank-local destinations must use an internal transfer.
	if strings.HasPrefix(req.ToAccount, s.allocator.Prefix()) {
		return nil, ErrDestinationNotExternal
	}
	if err := s.consumeRateLimit(ctx, "transfer.external", principal.UserID); err != nil {
		return nil, err
	}

	from, err := s.repo.FindAccountByNumber(ctx, req.FromAccount)
	if err != nil {
		return nil, err
	}
	if from.OwnerID != principal.UserID {
		return nil, ErrNotAccountOwner
	}
	if err := s.policy.RequireMatch(from.Currency, currency); err != nil {
		return nil, err
	}

	externalID := uuid.New().String()
	entry, err := s.repo.CreateExternalTransfer(ctx, store.ExternalTransferParams{
		FromAccount:    req.FromAccount,
		ToAccount:      req.ToAccount,
		Amount:         req.Amount,
		Currency:       currency,
		OwnerID:        principal.UserID,
		ExternalID:     externalID,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	})
	if err != nil {
		return nil, err
	}
	// An idempotent replay returns the original entry; it was already handed
	// to settlement the first time around.
	if entry.ExternalID == nil || *entry.ExternalID != externalID {
		return entry, nil
	}

	instruction := domain.SettlementInstruction{
		ExternalID:  externalID,
		FromAccount: req.FromAccount,
		ToAccount:   req.ToAccount,
		Amount:      req.Amount,
		Currency:    currency,
		InitiatedAt: entry.CreatedAt,
	}
	handoffErr := errSettlementChannelUnavailable
	if s.settlement != nil {
		handoffErr = s.settlement.PublishSettlementInstruction(ctx, instruction)
	}
	if err := handoffErr; err != nil {
		log.Printf("level=error component=ledger msg=\"settlement handoff failed; reversing hold\" external_id=%s err=%v", externalID, err)
		if _, settleErr := s.repo.SettleExternalTransfer(ctx, externalID, false, "settlement handoff failed"); settleErr != nil && !errors.Is(settleErr, store.ErrTransferSettled) {
			log.Printf("level=error component=ledger msg=\"CRITICAL: failed to reverse hold after handoff failure\" external_id=%s err=%v", externalID, settleErr)
		}
		return nil, fmt.Errorf("settlement handoff failed: %w", err)
	}

	if err := s.repo.MarkTransferInProgress(ctx, externalID); err != nil {
		log.Printf("level=warn component=ledger msg=\"could not advance transfer to inProgress\" external_id=%s err=%v", externalID, err)
	} else {
		entry.Status = domain.StatusInProgress
	}

	s.recordAudit(principal.UserID, "transfer_external", "transactions", entry.ID, fmt.Sprintf("from=%s to=%s amount=%s %s external_id=%s", entry.FromAccount, entry.ToAccount, entry.Amount, entry.Currency, externalID))
	return entry, nil
}

// FindTransfer looks up one of the requester's external transfers by its
// settlement correlation id, so clients can poll an in-flight transfer
// without listing the whole history.
func (s *Service) FindTransfer(ctx context.Context, principal domain.Principal, externalID string) (*domain.Transaction, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, ErrMissingField
	}
	entry, err := s.repo.FindTransactionByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if entry.OwnerID != principal.UserID {
		return nil, ErrNotAccountOwner
	}
	return entry, nil
}

// ListTransactions returns the requester's ledger history, newest first.
func (s *Service) ListTransactions(ctx context.Context, principal domain.Principal) ([]domain.Transaction, error) {
	return s.repo.FindTransactionsByOwner(ctx, principal.UserID)
}

// HasRole reports whether a user holds the given role. Used by the HTTP
// adapter to guard administrative endpoints; the transfer engine itself
// never consults roles.
func (s *Service) HasRole(ctx context.Context, userID domain.UserID, role string) (bool, error) {
	return s.repo.UserHasRole(ctx, userID, role)
}

// ListAuditLogs returns the most recent audit records.
func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *Service) consumeRateLimit(ctx context.Context, scope string, userID domain.UserID) error {
	if s.limiter == nil || s.transferRateLimit <= 0 {
		return nil
	}
	count, _, err := s.limiter.ConsumeRateLimit(ctx, scope, strconv.FormatInt(int64(userID), 10), s.transferRateLimit, time.Minute)
	if err != nil {
		// Rate limiting is protective, not load-bearing; fail open.
		log.Printf("level=warn component=ledger msg=\"rate limiter unavailable; allowing request\" scope=%s err=%v", scope, err)
		return nil
	}
	if count > s.transferRateLimit {
		return ErrRateLimited
	}
	return nil
}

// recordAudit writes an audit record without blocking the calling operation.
func (s *Service) recordAudit(userID domain.UserID, action, table string, recordID int64, newValues string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		entry := domain.AuditLog{
			UserID:     userID,
			ActionType: action,
			TableName:  &table,
			RecordID:   &recordID,
			NewValues:  &newValues,
		}
		if err := s.repo.InsertAuditLog(ctx, entry); err != nil {
			log.Printf("level=warn component=audit msg=\"audit write failed\" action=%s user_id=%d err=%v", action, userID, err)
		}
	}()
}
