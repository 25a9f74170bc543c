package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ferrobank/ledger-service/internal/domain"
	"github.com/ferrobank/ledger-service/internal/store"
)

type externalTransferRepoStub struct {
	store.Repository

	accounts map[string]*domain.Account

	createCalled bool
	createParams store.ExternalTransferParams
	createErr    error
	// replayEntry, when set, is returned instead of a fresh pending entry to
	// simulate an idempotency-key replay.
	replayEntry *domain.Transaction

	markedInProgress []string
	markErr          error

	settledExternalID string
	settledSucceeded  bool
	settledReason     string
	settleErr         error

	auditEntries chan domain.AuditLog
}

func newExternalTransferRepoStub() *externalTransferRepoStub {
	return &externalTransferRepoStub{
		accounts:     make(map[string]*domain.Account),
		auditEntries: make(chan domain.AuditLog, 8),
	}
}

func (s *externalTransferRepoStub) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	account, ok := s.accounts[accountNumber]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (s *externalTransferRepoStub) CreateExternalTransfer(ctx context.Context, params store.ExternalTransferParams) (*domain.Transaction, error) {
	s.createCalled = true
	s.createParams = params
	if s.createErr != nil {
		return nil, s.createErr
	}
	if s.replayEntry != nil {
		return s.replayEntry, nil
	}
	externalID := params.ExternalID
	return &domain.Transaction{
		ID:              10,
		FromAccount:     params.FromAccount,
		ToAccount:       params.ToAccount,
		Amount:          params.Amount,
		Currency:        params.Currency,
		Status:          domain.StatusPending,
		OwnerID:         params.OwnerID,
		TransactionType: domain.TypeExternal,
		ExternalID:      &externalID,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

func (s *externalTransferRepoStub) MarkTransferInProgress(ctx context.Context, externalID string) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.markedInProgress = append(s.markedInProgress, externalID)
	return nil
}

func (s *externalTransferRepoStub) SettleExternalTransfer(ctx context.Context, externalID string, succeeded bool, reason string) (*domain.Transaction, error) {
	s.settledExternalID = externalID
	s.settledSucceeded = succeeded
	s.settledReason = reason
	if s.settleErr != nil {
		return nil, s.settleErr
	}
	status := domain.StatusCompleted
	if !succeeded {
		status = domain.StatusFailed
	}
	return &domain.Transaction{ExternalID: &externalID, Status: status}, nil
}

func (s *externalTransferRepoStub) InsertAuditLog(ctx context.Context, entry domain.AuditLog) error {
	select {
	case s.auditEntries <- entry:
	default:
	}
	return nil
}

type publisherStub struct {
	published []domain.SettlementInstruction
	err       error
}

func (p *publisherStub) Publish(ctx context.Context, routingKey string, body interface{}) error {
	return p.err
}

func (p *publisherStub) PublishSettlementInstruction(ctx context.Context, instruction domain.SettlementInstruction) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, instruction)
	return nil
}

func (p *publisherStub) Close() {}

func externalRequest() domain.ExternalTransferRequest {
	return domain.ExternalTransferRequest{
		FromAccount: "FERRO100001",
		ToAccount:   "NORDBANK55501",
		Amount:      decimal.NewFromInt(25),
		Currency:    "EUR",
	}
}

func TestTransferExternal_HoldsFundsAndHandsOff(t *testing.T) {
	repo := newExternalTransferRepoStub()
	repo.accounts["FERRO100001"] = &domain.Account{OwnerID: 42, AccountNumber: "FERRO100001", Currency: "EUR", Balance: decimal.NewFromInt(100)}
	publisher := &publisherStub{}
	service := NewService(repo, publisher, NewCurrencyPolicy(nil), NewAccountNumberAllocator("FERRO"))

	entry, err := service.TransferExternal(context.Background(), domain.Principal{UserID: 42}, externalRequest())
	if err != nil {
		t.Fatalf("TransferExternal returned error: %v", err)
	}
	if !repo.createCalled {
		t.Fatal("expected the hold to be placed in the store")
	}
	if len(publisher.published) != 1 {
		t.Fatalf("expected one settlement instruction, got %d", len(publisher.published))
	}
	instruction := publisher.published[0]
	if entry.ExternalID == nil || instruction.ExternalID != *entry.ExternalID {
		t.Fatalf("expected instruction correlation id to match the ledger entry, got %q", instruction.ExternalID)
	}
	if len(repo.markedInProgress) != 1 {
		t.Fatalf("expected the entry to advance to inProgress, marked=%v", repo.markedInProgress)
	}
	if entry.Status != domain.StatusInProgress {
		t.Fatalf("expected returned entry status inProgress, got %q", entry.Status)
	}
}

func TestTransferExternal_RejectsBankLocalDestination(t *testing.T) {
	repo := newExternalTransferRepoStub()
	repo.accounts["FERRO100001"] = &domain.Account{OwnerID: 42, AccountNumber: "FERRO100001", Currency: "EUR", Balance: decimal.NewFromInt(100)}
	service := NewService(repo, &publisherStub{}, NewCurrencyPolicy(nil), NewAccountNumberAllocator("FERRO"))

	req := externalRequest()
	req.ToAccount = "FERRO100002"
	_, err := service.TransferExternal(context.Background(), domain.Principal{UserID: 42}, req)
	if !errors.Is(err, ErrDestinationNotExternal) {
		t.Fatalf("expected ErrDestinationNotExternal, got %v", err)
	}
	if repo.createCalled {
		t.Fatal("expected no hold for a bank-local destination")
	}
}

func TestTransferExternal_RejectsDisallowedCurrency(t *testing.T) {
	repo := newExternalTransferRepoStub()
	service := NewService(repo, &publisherStub{}, NewCurrencyPolicy(nil), NewAccountNumberAllocator("FERRO"))

	req := externalRequest()
	req.Currency = "JPY"
	_, err := service.TransferExternal(context.Background(), domain.Principal{UserID: 42}, req)
	if !errors.Is(err, ErrCurrencyNotAllowed) {
		t.Fatalf("expected ErrCurrencyNotAllowed, got %v", err)
	}
}

func TestTransferExternal_RejectsCurrencyMismatchWithSource(t *testing.T) {
	repo := newExternalTransferRepoStub()
	repo.accounts["FERRO100001"] = &domain.Account{OwnerID: 42, AccountNumber: "FERRO100001", Currency: "USD", Balance: decimal.NewFromInt(100)}
	service := NewService(repo, &publisherStub{}, NewCurrencyPolicy(nil), NewAccountNumberAllocator("FERRO"))

	_, err := service.TransferExternal(context.Background(), domain.Principal{UserID: 42}, externalRequest())
	if !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
}

func TestTransferExternal_RejectsForeignSourceAccount(t *testing.T) {
	repo := newExternalTransferRepoStub()
	repo.accounts["FERRO100001"] = &domain.Account{OwnerID: 7, AccountNumber: "FERRO100001", Currency: "EUR", Balance: decimal.NewFromInt(100)}
	service := NewService(repo, &publisherStub{}, NewCurrencyPolicy(nil), NewAccountNumberAllocator("FERRO"))

	_, err := service.TransferExternal(context.Background(), domain.Principal{UserID: 42}, externalRequest())
	if !errors.Is(err, ErrNotAccountOwner) {
		t.Fatalf("expected ErrNotAccountOwner, got %v", err)
	}
}

func TestTransferExternal_HandoffFailureReversesHold(t *testing.T) {
	repo := newExternalTransferRepoStub()
	repo.accounts["FERRO100001"] = &domain.Account{OwnerID: 42, AccountNumber: "FERRO100001", Currency: "EUR", Balance: decimal.NewFromInt(100)}
	publisher := &publisherStub{err: errors.New("broker unreachable")}
	service := NewService(repo, publisher, NewCurrencyPolicy(nil), NewAccountNumberAllocator("FERRO"))

	_, err := service.TransferExternal(context.Background(), domain.Principal{UserID: 42}, externalRequest())
	if err == nil {
		t.Fatal("expected an error when the settlement handoff fails")
	}
	if repo.settledExternalID == "" {
		t.Fatal("expected the hold to be reversed through a failed settlement")
	}
	if repo.settledSucceeded {
		t.Fatal("expected the compensating settlement to be a failure")
	}
	if repo.settledExternalID != repo.createParams.ExternalID {
		t.Fatalf("expected reversal for the created hold, got %q", repo.settledExternalID)
	}
	if len(repo.markedInProgress) != 0 {
		t.Fatal("expected the entry not to advance after a failed handoff")
	}
}

func TestTransferExternal_NoSettlementChannelReversesHold(t *testing.T) {
	repo := newExternalTransferRepoStub()
	repo.accounts["FERRO100001"] = &domain.Account{OwnerID: 42, AccountNumber: "FERRO100001", Currency: "EUR", Balance: decimal.NewFromInt(100)}
	service := NewService(repo, nil, NewCurrencyPolicy(nil), NewAccountNumberAllocator("FERRO"))

	_, err := service.TransferExternal(context.Background(), domain.Principal{UserID: 42}, externalRequest())
	if err == nil {
		t.Fatal("expected an error when no settlement channel is wired")
	}
	if repo.settledExternalID == "" || repo.settledSucceeded {
		t.Fatal("expected the hold to be reversed through a failed settlement")
	}
}

type transferLookupRepoStub struct {
	store.Repository

	entry *domain.Transaction
}

func (s *transferLookupRepoStub) FindTransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	if s.entry == nil || s.entry.ExternalID == nil || *s.entry.ExternalID != externalID {
		return nil, store.ErrTransactionNotFound
	}
	copied := *s.entry
	return &copied, nil
}

func TestFindTransfer_ReturnsOwnedEntry(t *testing.T) {
	externalID := "ext-lookup-1"
	repo := &transferLookupRepoStub{entry: &domain.Transaction{
		ID:         3,
		OwnerID:    42,
		Status:     domain.StatusInProgress,
		ExternalID: &externalID,
	}}
	service := NewService(repo, &publisherStub{}, NewCurrencyPolicy(nil), NewAccountNumberAllocator("FERRO"))

	entry, err := service.FindTransfer(context.Background(), domain.Principal{UserID: 42}, externalID)
	if err != nil {
		t.Fatalf("FindTransfer returned error: %v", err)
	}
	if entry.ID != 3 || entry.Status != domain.StatusInProgress {
		t.Fatalf("expected the stored entry back, got %+v", entry)
	}
}

func TestFindTransfer_DeniesForeignEntry(t *testing.T) {
	externalID := "ext-lookup-2"
	repo := &transferLookupRepoStub{entry: &domain.Transaction{OwnerID: 7, ExternalID: &externalID}}
	service := NewService(repo, &publisherStub{}, NewCurrencyPolicy(nil), NewAccountNumberAllocator("FERRO"))

	_, err := service.FindTransfer(context.Background(), domain.Principal{UserID: 42}, externalID)
	if !errors.Is(err, ErrNotAccountOwner) {
		t.Fatalf("expected ErrNotAccountOwner, got %v", err)
	}
}

func TestFindTransfer_UnknownAndMissingID(t *testing.T) {
	service := NewService(&transferLookupRepoStub{}, &publisherStub{}, NewCurrencyPolicy(nil), NewAccountNumberAllocator("FERRO"))

	if _, err := service.FindTransfer(context.Background(), domain.Principal{UserID: 42}, "ext-unknown"); !errors.Is(err, store.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
	if _, err := service.FindTransfer(context.Background(), domain.Principal{UserID: 42}, "  "); !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestTransferExternal_IdempotentReplaySkipsHandoff(t *testing.T) {
	repo := newExternalTransferRepoStub()
	repo.accounts["FERRO100001"] = &domain.Account{OwnerID: 42, AccountNumber: "FERRO100001", Currency: "EUR", Balance: decimal.NewFromInt(100)}
	originalID := "c0ffee00-0000-0000-0000-000000000001"
	repo.replayEntry = &domain.Transaction{
		ID:              9,
		FromAccount:     "FERRO100001",
		ToAccount:       "NORDBANK55501",
		Amount:          decimal.NewFromInt(25),
		Currency:        "EUR",
		Status:          domain.StatusInProgress,
		OwnerID:         42,
		TransactionType: domain.TypeExternal,
		ExternalID:      &originalID,
	}
	publisher := &publisherStub{}
	service := NewService(repo, publisher, NewCurrencyPolicy(nil), NewAccountNumberAllocator("FERRO"))

	req := externalRequest()
	req.IdempotencyKey = "retry-key-1"
	entry, err := service.TransferExternal(context.Background(), domain.Principal{UserID: 42}, req)
	if err != nil {
		t.Fatalf("TransferExternal returned error: %v", err)
	}
	if entry.ExternalID == nil || *entry.ExternalID != originalID {
		t.Fatalf("expected the original entry back on replay, got %+v", entry)
	}
	if len(publisher.published) != 0 {
		t.Fatal("expected no second settlement instruction on replay")
	}
	if len(repo.markedInProgress) != 0 {
		t.Fatal("expected no status change on replay")
	}
}
