package app

import (
	"context"
	"errors"
	"testing"

	"github.com/ferrobank/ledger-service/internal/domain"
	"github.com/ferrobank/ledger-service/internal/store"
)

type settlementRepoStub struct {
	store.Repository

	markedInProgress []string
	markErr          error

	settleCalled     bool
	settledID        string
	settledSucceeded bool
	settledReason    string
	settleErr        error
	settleEntry      *domain.Transaction
}

func (s *settlementRepoStub) MarkTransferInProgress(ctx context.Context, externalID string) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.markedInProgress = append(s.markedInProgress, externalID)
	return nil
}

func (s *settlementRepoStub) SettleExternalTransfer(ctx context.Context, externalID string, succeeded bool, reason string) (*domain.Transaction, error) {
	s.settleCalled = true
	s.settledID = externalID
	s.settledSucceeded = succeeded
	s.settledReason = reason
	if s.settleErr != nil {
		return s.settleEntry, s.settleErr
	}
	status := domain.StatusCompleted
	if !succeeded {
		status = domain.StatusFailed
	}
	return &domain.Transaction{ExternalID: &externalID, Status: status}, nil
}

func TestHandleMessage_AcksUnparseablePayload(t *testing.T) {
	repo := &settlementRepoStub{}
	consumer := NewSettlementConsumer(repo)

	if !consumer.HandleMessage([]byte("not json")) {
		t.Fatal("expected unparseable payload to be acknowledged, not re-queued")
	}
	if repo.settleCalled {
		t.Fatal("expected no settlement for an unparseable payload")
	}
}

func TestHandleMessage_AcksMissingExternalID(t *testing.T) {
	consumer := NewSettlementConsumer(&settlementRepoStub{})

	if !consumer.HandleMessage([]byte(`{"status":"successful"}`)) {
		t.Fatal("expected event without external id to be acknowledged")
	}
}

func TestHandleMessage_SuccessfulStatusCompletesTransfer(t *testing.T) {
	repo := &settlementRepoStub{}
	consumer := NewSettlementConsumer(repo)

	if !consumer.HandleMessage([]byte(`{"external_id":"ext-1","status":"successful"}`)) {
		t.Fatal("expected successful settlement to be acknowledged")
	}
	if !repo.settleCalled || !repo.settledSucceeded {
		t.Fatalf("expected a successful settlement, settle=%v succeeded=%v", repo.settleCalled, repo.settledSucceeded)
	}
	if repo.settledID != "ext-1" {
		t.Fatalf("expected settlement for ext-1, got %q", repo.settledID)
	}
}

func TestHandleMessage_FailedStatusRecordsReason(t *testing.T) {
	repo := &settlementRepoStub{}
	consumer := NewSettlementConsumer(repo)

	if !consumer.HandleMessage([]byte(`{"external_id":"ext-2","status":"rejected","reason":"beneficiary account closed"}`)) {
		t.Fatal("expected failed settlement to be acknowledged")
	}
	if repo.settledSucceeded {
		t.Fatal("expected a failed settlement")
	}
	if repo.settledReason != "beneficiary account closed" {
		t.Fatalf("expected failure reason to be recorded, got %q", repo.settledReason)
	}
}

func TestHandleMessage_ProcessingStatusMarksInProgress(t *testing.T) {
	repo := &settlementRepoStub{}
	consumer := NewSettlementConsumer(repo)

	if !consumer.HandleMessage([]byte(`{"external_id":"ext-3","status":"processing"}`)) {
		t.Fatal("expected processing event to be acknowledged")
	}
	if len(repo.markedInProgress) != 1 || repo.markedInProgress[0] != "ext-3" {
		t.Fatalf("expected ext-3 marked inProgress, got %v", repo.markedInProgress)
	}
	if repo.settleCalled {
		t.Fatal("expected no settlement for a processing event")
	}
}

func TestHandleMessage_AcksReplayOfSettledTransfer(t *testing.T) {
	repo := &settlementRepoStub{
		settleErr:   store.ErrTransferSettled,
		settleEntry: &domain.Transaction{Status: domain.StatusCompleted},
	}
	consumer := NewSettlementConsumer(repo)

	if !consumer.HandleMessage([]byte(`{"external_id":"ext-4","status":"failed"}`)) {
		t.Fatal("expected replay against a terminal transfer to be acknowledged")
	}
}

func TestHandleMessage_AcksUnknownExternalID(t *testing.T) {
	repo := &settlementRepoStub{settleErr: store.ErrTransactionNotFound}
	consumer := NewSettlementConsumer(repo)

	if !consumer.HandleMessage([]byte(`{"external_id":"ext-5","status":"successful"}`)) {
		t.Fatal("expected unknown external id to be acknowledged")
	}
}

func TestHandleMessage_RequeuesOnStorageError(t *testing.T) {
	repo := &settlementRepoStub{settleErr: errors.New("connection reset")}
	consumer := NewSettlementConsumer(repo)

	if consumer.HandleMessage([]byte(`{"external_id":"ext-6","status":"successful"}`)) {
		t.Fatal("expected storage failure to re-queue the delivery")
	}
}

func TestHandleMessage_AcksUnknownStatus(t *testing.T) {
	repo := &settlementRepoStub{}
	consumer := NewSettlementConsumer(repo)

	if !consumer.HandleMessage([]byte(`{"external_id":"ext-7","status":"sideways"}`)) {
		t.Fatal("expected unknown status to be acknowledged")
	}
	if repo.settleCalled || len(repo.markedInProgress) != 0 {
		t.Fatal("expected no state change for an unknown status")
	}
}

func TestNormalizeSettlementStatus(t *testing.T) {
	cases := map[string]string{
		"processing":  domain.StatusInProgress,
		"inProgress":  domain.StatusInProgress,
		"in_progress": domain.StatusInProgress,
		"SUCCESSFUL":  domain.StatusCompleted,
		"settled":     domain.StatusCompleted,
		"completed":   domain.StatusCompleted,
		"failed":      domain.StatusFailed,
		"Rejected":    domain.StatusFailed,
		"returned":    domain.StatusFailed,
		"unknown":     "",
		"":            "",
	}
	for input, want := range cases {
		if got := normalizeSettlementStatus(input); got != want {
			t.Fatalf("normalizeSettlementStatus(%q) = %q, want %q", input, got, want)
		}
	}
}
