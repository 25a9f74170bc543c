/**
 * @description
 * Timeout-driven reconciliation of external transfers. If the settlement
 * channel never confirms a transfer, its ledger entry stays inProgress and
 * the held funds stay debited; this job fails and refunds any such entry
 * older than the configured settlement timeout. It runs on a cron schedule
 * from main.
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/ferrobank/ledger-service/internal/store"
)

// ReconcileStalledTransfers reverses external transfers that have been
// awaiting settlement longer than the configured timeout. Each reversal goes
// through the same atomic settlement path the consumer uses, so a late
// confirmation racing the reversal resolves to exactly one terminal state.
func (s *Service) ReconcileStalledTransfers(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.settlementTimeout)
	stalled, err := s.repo.FindStalledExternalTransfers(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reversed := 0
	for _, entry := range stalled {
		if entry.ExternalID == nil {
			continue
		}
		_, err := s.repo.SettleExternalTransfer(ctx, *entry.ExternalID, false, "settlement timed out")
		if err != nil {
			if errors.Is(err, store.ErrTransferSettled) {
				continue
			}
			log.Printf("level=error component=reconciler msg=\"failed to reverse stalled transfer\" external_id=%s err=%v", *entry.ExternalID, err)
			continue
		}
		reversed++
		log.Printf("level=info component=reconciler msg=\"stalled transfer reversed\" external_id=%s amount=%s %s", *entry.ExternalID, entry.Amount, entry.Currency)
	}
	return reversed, nil
}
