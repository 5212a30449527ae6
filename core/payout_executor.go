package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ExecutePayoutBatch moves the funds of one scheduled batch through the
// payment provider, item by item. Each item tracks its own status and
// attempt count, so a retry of the batch re-attempts only the items that are
// not yet paid. The authoritative escrow status is re-checked immediately
// before any money moves: a dispute raised after scheduling aborts the run
// with the items marked failed.
func (e *Engine) ExecutePayoutBatch(ctx context.Context, batchID string) error {
	startedAt := e.now()
	fields := map[string]any{"batch_id": batchID}

	err := e.executePayoutBatch(ctx, batchID, fields)
	e.observeOperation(ctx, startedAt, "payout_execute", err, fields)
	if err != nil {
		return e.mapError(err)
	}
	return nil
}

func (e *Engine) executePayoutBatch(ctx context.Context, batchID string, fields map[string]any) error {
	batch, err := e.payoutStore.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	fields["escrow_id"] = batch.EscrowID
	fields["project_id"] = batch.ProjectID
	fields["milestone_id"] = batch.MilestoneID

	if batch.Status == PayoutBatchStatusPaid {
		return nil
	}

	escrow, err := e.escrowStore.Get(ctx, batch.EscrowID)
	if err != nil {
		return err
	}
	if escrow.Status != EscrowStatusReleased {
		return e.abortPayoutBatch(ctx, batch, escrow)
	}

	batch, err = e.payoutStore.UpdateBatchStatusIf(ctx, batch.ID,
		[]PayoutBatchStatus{PayoutBatchStatusScheduled, PayoutBatchStatusFailed},
		PayoutBatchStatusProcessing)
	if err != nil {
		return err
	}

	gateway, err := e.gateway(escrow.ProviderID)
	if err != nil {
		return err
	}

	items, err := e.payoutStore.ListItems(ctx, batch.ID)
	if err != nil {
		return err
	}

	failed := 0
	for _, item := range items {
		if item.Status == PayoutItemStatusPaid {
			continue
		}
		if err := e.transferItem(ctx, gateway, escrow, item); err != nil {
			failed++
			e.logError(ctx, "payout item transfer failed", map[string]any{
				"batch_id":     batch.ID,
				"item_id":      item.ID,
				"recipient_id": item.RecipientID,
				"error":        err.Error(),
			})
		}
	}

	if failed > 0 {
		if _, err := e.payoutStore.UpdateBatchStatusIf(ctx, batch.ID,
			[]PayoutBatchStatus{PayoutBatchStatusProcessing}, PayoutBatchStatusFailed); err != nil {
			return err
		}
		return fmt.Errorf("core: %d of %d payout items failed for batch %s", failed, len(items), batch.ID)
	}

	batch, err = e.payoutStore.UpdateBatchStatusIf(ctx, batch.ID,
		[]PayoutBatchStatus{PayoutBatchStatusProcessing}, PayoutBatchStatusPaid)
	if err != nil {
		return err
	}

	e.publish(ctx, SettlementEvent{
		ID:          uuid.NewString(),
		Name:        EventPayoutPaid,
		ProjectID:   batch.ProjectID,
		MilestoneID: batch.MilestoneID,
		EscrowID:    batch.EscrowID,
		BatchID:     batch.ID,
		Payload: map[string]any{
			"total_net": batch.TotalNet,
			"currency":  batch.Currency,
		},
	})
	return nil
}

func (e *Engine) transferItem(ctx context.Context, gateway PSPGateway, escrow Escrow, item PayoutItem) error {
	now := e.now()
	if err := item.TransitionTo(PayoutItemStatusProcessing, now); err != nil {
		return err
	}
	item.Attempts++
	if _, err := e.payoutStore.UpdateItem(ctx, item); err != nil {
		return err
	}

	result, err := gateway.CaptureAndTransfer(ctx, PSPTransferRequest{
		ProviderRef: escrow.ProviderRef,
		RecipientID: item.RecipientID,
		Amount:      item.NetAmount,
		Currency:    escrow.Currency,
		// The item id makes provider-side retries of the same item collapse
		// into one transfer.
		IdempotencyKey: item.ID,
	})
	now = e.now()
	if err != nil {
		item.LastError = err.Error()
		if terr := item.TransitionTo(PayoutItemStatusFailed, now); terr != nil {
			return terr
		}
		if _, uerr := e.payoutStore.UpdateItem(ctx, item); uerr != nil {
			return uerr
		}
		return err
	}

	item.ProviderTransferID = result.ProviderTransferID
	item.LastError = ""
	if err := item.TransitionTo(PayoutItemStatusPaid, now); err != nil {
		return err
	}
	if _, err := e.payoutStore.UpdateItem(ctx, item); err != nil {
		return err
	}

	if err := e.notifier.Notify(ctx, item.RecipientID, "payout.paid", map[string]any{
		"batch_id": item.BatchID,
		"amount":   item.NetAmount,
		"currency": escrow.Currency,
	}); err != nil {
		e.logError(ctx, "payout notification failed", map[string]any{
			"item_id":      item.ID,
			"recipient_id": item.RecipientID,
			"error":        err.Error(),
		})
	}
	return nil
}

// abortPayoutBatch records that the funds backing the batch are no longer
// released. Unpaid items are marked failed, never paid.
func (e *Engine) abortPayoutBatch(ctx context.Context, batch PayoutBatch, escrow Escrow) error {
	items, err := e.payoutStore.ListItems(ctx, batch.ID)
	if err != nil {
		return err
	}
	now := e.now()
	for _, item := range items {
		if item.Status == PayoutItemStatusPaid || item.Status == PayoutItemStatusFailed {
			continue
		}
		item.LastError = fmt.Sprintf("escrow %s is %s, not released", escrow.ID, escrow.Status)
		if err := item.TransitionTo(PayoutItemStatusFailed, now); err != nil {
			return err
		}
		if _, err := e.payoutStore.UpdateItem(ctx, item); err != nil {
			return err
		}
	}
	if _, err := e.payoutStore.UpdateBatchStatusIf(ctx, batch.ID,
		[]PayoutBatchStatus{PayoutBatchStatusScheduled, PayoutBatchStatusProcessing},
		PayoutBatchStatusFailed); err != nil {
		return err
	}
	e.logError(ctx, "payout batch aborted", map[string]any{
		"batch_id":      batch.ID,
		"escrow_id":     escrow.ID,
		"escrow_status": string(escrow.Status),
	})
	return nil
}
