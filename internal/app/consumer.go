package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ferrobank/ledger-service/internal/domain"
	"github.com/ferrobank/ledger-service/internal/store"
)

// SettlementConsumer applies confirmation events from the external settlement
// channel to the ledger. It only records state transitions; delivering the
// funds to the other bank is the channel's problem.
type SettlementConsumer struct {
	repo store.Repository
}

func NewSettlementConsumer(repo store.Repository) *SettlementConsumer {
	return &SettlementConsumer{repo: repo}
}

// SettlementConsumer returns a consumer bound to this service's repository.
func (s *Service) SettlementConsumer() *SettlementConsumer {
	return &SettlementConsumer{repo: s.repo}
}

// HandleMessage is the broker-facing entry point. Returning true acknowledges
// the delivery; returning false re-queues it.
func (c *SettlementConsumer) HandleMessage(body []byte) bool {
	var event domain.SettlementStatusEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=settlement_consumer msg=\"unparseable payload; dropping\" err=%v", err)
		return true
	}

	if event.ExternalID == "" {
		log.Printf("level=warn component=settlement_consumer msg=\"missing external id; dropping\" event=%+v", event)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.processEvent(ctx, event); err != nil {
		log.Printf("level=error component=settlement_consumer msg=\"processing failed; re-queuing\" external_id=%s err=%v", event.ExternalID, err)
		return false
	}
	return true
}

func (c *SettlementConsumer) processEvent(ctx context.Context, event domain.SettlementStatusEvent) error {
	switch normalizeSettlementStatus(event.Status) {
	case domain.StatusInProgress:
		if err := c.repo.MarkTransferInProgress(ctx, event.ExternalID); err != nil {
			if errors.Is(err, store.ErrTransactionNotFound) {
				log.Printf("level=warn component=settlement_consumer msg=\"no transfer for external id; acknowledging\" external_id=%s", event.ExternalID)
				return nil
			}
			return fmt.Errorf("mark in progress: %w", err)
		}
		return nil
	case domain.StatusCompleted:
		return c.settle(ctx, event.ExternalID, true, "")
	case domain.StatusFailed:
		return c.settle(ctx, event.ExternalID, false, event.Reason)
	default:
		log.Printf("level=warn component=settlement_consumer msg=\"unknown settlement status; dropping\" external_id=%s status=%q", event.ExternalID, event.Status)
		return nil
	}
}

func (c *SettlementConsumer) settle(ctx context.Context, externalID string, succeeded bool, reason string) error {
	entry, err := c.repo.SettleExternalTransfer(ctx, externalID, succeeded, reason)
	if err != nil {
		if errors.Is(err, store.ErrTransferSettled) {
			log.Printf("level=info component=settlement_consumer msg=\"transfer already terminal; ignoring replay\" external_id=%s status=%s", externalID, entry.Status)
			return nil
		}
		if errors.Is(err, store.ErrTransactionNotFound) {
			log.Printf("level=warn component=settlement_consumer msg=\"no transfer for external id; acknowledging\" external_id=%s", externalID)
			return nil
		}
		return fmt.Errorf("settle transfer: %w", err)
	}
	log.Printf("level=info component=settlement_consumer msg=\"settlement applied\" external_id=%s status=%s", externalID, entry.Status)
	return nil
}

// normalizeSettlementStatus maps the channel's status vocabulary onto ledger
// statuses. External banks report "processing"/"successful"/"rejected"
// alongside our own names.
func normalizeSettlementStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "processing", "inprogress", "in_progress":
		return domain.StatusInProgress
	case "successful", "success", "completed", "settled":
		return domain.StatusCompleted
	case "failed", "rejected", "returned":
		return domain.StatusFailed
	default:
		return ""
	}
}
