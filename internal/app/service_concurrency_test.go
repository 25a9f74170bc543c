package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ferrobank/ledger-service/internal/domain"
	"github.com/ferrobank/ledger-service/internal/store"
)

// concurrentLedgerStub performs balance checks and mutations under one lock,
// the way the real store serializes them inside a database transaction with
// row locks.
type concurrentLedgerStub struct {
	store.Repository

	mu       sync.Mutex
	accounts map[string]*domain.Account
	entries  []domain.Transaction
}

func newConcurrentLedgerStub() *concurrentLedgerStub {
	return &concurrentLedgerStub{accounts: make(map[string]*domain.Account)}
}

func (s *concurrentLedgerStub) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountNumber]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (s *concurrentLedgerStub) TransferInternal(ctx context.Context, params store.InternalTransferParams) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.accounts[params.FromAccount]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	to, ok := s.accounts[params.ToAccount]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	if from.Balance.LessThan(params.Amount) {
		return nil, store.ErrInsufficientFunds
	}
	from.Balance = from.Balance.Sub(params.Amount)
	to.Balance = to.Balance.Add(params.Amount)

	entry := domain.Transaction{
		ID:              int64(len(s.entries) + 1),
		FromAccount:     params.FromAccount,
		ToAccount:       params.ToAccount,
		Amount:          params.Amount,
		Currency:        params.Currency,
		Status:          domain.StatusCompleted,
		OwnerID:         params.OwnerID,
		TransactionType: domain.TypeInternal,
	}
	s.entries = append(s.entries, entry)
	return &entry, nil
}

func (s *concurrentLedgerStub) InsertAuditLog(ctx context.Context, entry domain.AuditLog) error {
	return nil
}

func (s *concurrentLedgerStub) balance(accountNumber string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[accountNumber].Balance
}

// A burst of transfers larger than the source balance must drain the account
// to exactly zero: no overdraft, no lost updates, and completed ledger
// entries matching the amount moved.
func TestTransferInternal_ConcurrentDrainConservesFunds(t *testing.T) {
	repo := newConcurrentLedgerStub()
	repo.accounts["FERRO100001"] = &domain.Account{OwnerID: 42, AccountNumber: "FERRO100001", Currency: "EUR", Balance: decimal.NewFromInt(100)}
	repo.accounts["FERRO100002"] = &domain.Account{OwnerID: 42, AccountNumber: "FERRO100002", Currency: "EUR", Balance: decimal.Zero}
	service := newTestService(repo)

	const workers = 200
	amount := decimal.NewFromInt(1)

	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.TransferInternal(context.Background(), domain.Principal{UserID: 42}, domain.InternalTransferRequest{
				FromAccount: "FERRO100001",
				ToAccount:   "FERRO100002",
				Amount:      amount,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, refused := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInsufficientFunds):
			refused++
		default:
			t.Fatalf("unexpected transfer error: %v", err)
		}
	}

	if succeeded != 100 {
		t.Fatalf("expected exactly 100 transfers to succeed, got %d", succeeded)
	}
	if refused != workers-100 {
		t.Fatalf("expected %d transfers refused, got %d", workers-100, refused)
	}
	if !repo.balance("FERRO100001").IsZero() {
		t.Fatalf("expected source drained to zero, got %s", repo.balance("FERRO100001"))
	}
	if !repo.balance("FERRO100002").Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected destination to hold 100, got %s", repo.balance("FERRO100002"))
	}
	if len(repo.entries) != 100 {
		t.Fatalf("expected 100 ledger entries, got %d", len(repo.entries))
	}
}

// N simultaneous transfers of balance/N to N distinct accounts must all
// succeed and leave the source at exactly zero.
func TestTransferInternal_ConcurrentFanOutDrainsToZero(t *testing.T) {
	repo := newConcurrentLedgerStub()
	repo.accounts["FERRO100001"] = &domain.Account{OwnerID: 42, AccountNumber: "FERRO100001", Currency: "EUR", Balance: decimal.NewFromInt(100)}

	const destinations = 10
	share := decimal.NewFromInt(10)
	var numbers []string
	for i := 0; i < destinations; i++ {
		number := fmt.Sprintf("FERRO20000%d", i)
		numbers = append(numbers, number)
		repo.accounts[number] = &domain.Account{OwnerID: 42, AccountNumber: number, Currency: "EUR", Balance: decimal.Zero}
	}
	service := newTestService(repo)

	var wg sync.WaitGroup
	errs := make(chan error, destinations)
	for _, number := range numbers {
		wg.Add(1)
		go func(to string) {
			defer wg.Done()
			_, err := service.TransferInternal(context.Background(), domain.Principal{UserID: 42}, domain.InternalTransferRequest{
				FromAccount: "FERRO100001",
				ToAccount:   to,
				Amount:      share,
			})
			errs <- err
		}(number)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected transfer error: %v", err)
		}
	}
	if !repo.balance("FERRO100001").IsZero() {
		t.Fatalf("expected source at exactly zero, got %s", repo.balance("FERRO100001"))
	}
	for _, number := range numbers {
		if !repo.balance(number).Equal(share) {
			t.Fatalf("expected %s to hold %s, got %s", number, share, repo.balance(number))
		}
	}
}
