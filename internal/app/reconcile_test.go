package app

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ferrobank/ledger-service/internal/domain"
	"github.com/ferrobank/ledger-service/internal/store"
)

type reconcileRepoStub struct {
	store.Repository

	cutoffSeen time.Time
	stalled    []domain.Transaction

	settledIDs     []string
	settledReasons []string
	// alreadySettled simulates a confirmation racing the reconciler.
	alreadySettled map[string]bool
}

func (s *reconcileRepoStub) FindStalledExternalTransfers(ctx context.Context, cutoff time.Time) ([]domain.Transaction, error) {
	s.cutoffSeen = cutoff
	return s.stalled, nil
}

func (s *reconcileRepoStub) SettleExternalTransfer(ctx context.Context, externalID string, succeeded bool, reason string) (*domain.Transaction, error) {
	if s.alreadySettled[externalID] {
		return &domain.Transaction{ExternalID: &externalID, Status: domain.StatusCompleted}, store.ErrTransferSettled
	}
	s.settledIDs = append(s.settledIDs, externalID)
	s.settledReasons = append(s.settledReasons, reason)
	return &domain.Transaction{ExternalID: &externalID, Status: domain.StatusFailed}, nil
}

func stalledEntry(externalID string) domain.Transaction {
	return domain.Transaction{
		FromAccount:     "FERRO100001",
		ToAccount:       "NORDBANK55501",
		Amount:          decimal.NewFromInt(25),
		Currency:        "EUR",
		Status:          domain.StatusInProgress,
		TransactionType: domain.TypeExternal,
		ExternalID:      &externalID,
	}
}

func TestReconcileStalledTransfers_ReversesTimedOutEntries(t *testing.T) {
	repo := &reconcileRepoStub{
		stalled: []domain.Transaction{stalledEntry("ext-old-1"), stalledEntry("ext-old-2")},
	}
	service := newTestService(repo)
	service.SetSettlementTimeout(2 * time.Hour)

	reversed, err := service.ReconcileStalledTransfers(context.Background())
	if err != nil {
		t.Fatalf("ReconcileStalledTransfers returned error: %v", err)
	}
	if reversed != 2 {
		t.Fatalf("expected 2 reversals, got %d", reversed)
	}
	for _, reason := range repo.settledReasons {
		if reason != "settlement timed out" {
			t.Fatalf("expected timeout reason on reversal, got %q", reason)
		}
	}

	wantCutoff := time.Now().UTC().Add(-2 * time.Hour)
	if diff := repo.cutoffSeen.Sub(wantCutoff); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("expected cutoff near %s, got %s", wantCutoff, repo.cutoffSeen)
	}
}

func TestReconcileStalledTransfers_SkipsAlreadySettled(t *testing.T) {
	repo := &reconcileRepoStub{
		stalled:        []domain.Transaction{stalledEntry("ext-racing"), stalledEntry("ext-stalled")},
		alreadySettled: map[string]bool{"ext-racing": true},
	}
	service := newTestService(repo)

	reversed, err := service.ReconcileStalledTransfers(context.Background())
	if err != nil {
		t.Fatalf("ReconcileStalledTransfers returned error: %v", err)
	}
	if reversed != 1 {
		t.Fatalf("expected 1 reversal when one entry settled mid-flight, got %d", reversed)
	}
	if len(repo.settledIDs) != 1 || repo.settledIDs[0] != "ext-stalled" {
		t.Fatalf("expected only the stalled entry reversed, got %v", repo.settledIDs)
	}
}

func TestReconcileStalledTransfers_NothingStalled(t *testing.T) {
	repo := &reconcileRepoStub{}
	service := newTestService(repo)

	reversed, err := service.ReconcileStalledTransfers(context.Background())
	if err != nil {
		t.Fatalf("ReconcileStalledTransfers returned error: %v", err)
	}
	if reversed != 0 {
		t.Fatalf("expected no reversals, got %d", reversed)
	}
}
