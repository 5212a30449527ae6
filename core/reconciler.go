package core

import (
	"context"
	"fmt"
	"strings"
)

// ApplyProviderEvent reconciles one inbound provider event against the
// transaction it correlates to. Delivery is assumed unordered and possibly
// duplicated: an event for a transaction that already reached a terminal
// status is absorbed as a duplicate with no further side effects. This is
// the guard against webhook retry storms double-funding an escrow.
func (e *Engine) ApplyProviderEvent(ctx context.Context, event ProviderEvent) (ReconcileResult, error) {
	startedAt := e.now()
	fields := map[string]any{
		"provider_id": event.ProviderID,
		"event_type":  event.Type,
		"delivery_id": event.DeliveryID,
	}

	result, err := e.applyProviderEvent(ctx, event, fields)
	e.observeOperation(ctx, startedAt, "webhook_reconcile", err, fields)
	if err != nil {
		return result, e.mapError(err)
	}
	return result, nil
}

func (e *Engine) applyProviderEvent(ctx context.Context, event ProviderEvent, fields map[string]any) (ReconcileResult, error) {
	correlationID := strings.TrimSpace(event.CorrelationID)
	if correlationID == "" {
		return ReconcileResult{}, ErrCorrelationMissing
	}
	fields["transaction_id"] = correlationID

	var target TransactionStatus
	switch event.Type {
	case ProviderEventPaymentSucceeded, ProviderEventOrderPaid:
		target = TransactionStatusSucceeded
	case ProviderEventPaymentFailed:
		target = TransactionStatusFailed
	default:
		return ReconcileResult{}, fmt.Errorf("core: unsupported provider event type %q", event.Type)
	}

	tx, err := e.transactionStore.Get(ctx, correlationID)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("%w: correlation id %s", ErrTransactionNotFound, correlationID)
	}
	if objectID := strings.TrimSpace(event.ProviderObjectID); objectID != "" &&
		tx.ProviderPaymentIntentID != "" && objectID != tx.ProviderPaymentIntentID {
		return ReconcileResult{}, fmt.Errorf(
			"core: provider object %s does not match transaction intent %s",
			objectID, tx.ProviderPaymentIntentID,
		)
	}
	fields["project_id"] = tx.ProjectID
	fields["milestone_id"] = tx.MilestoneID

	if tx.Status.Terminal() {
		return ReconcileResult{Transaction: tx, Duplicate: true}, nil
	}

	reason := ""
	if target == TransactionStatusFailed {
		reason = failureReason(event)
	}
	tx, updated, err := e.transactionStore.MarkTerminalIf(ctx, tx.ID, target, reason)
	if err != nil {
		return ReconcileResult{}, err
	}
	if !updated {
		// Lost the race against a concurrent delivery of the same event.
		return ReconcileResult{Transaction: tx, Duplicate: true}, nil
	}

	if target == TransactionStatusFailed {
		return ReconcileResult{Transaction: tx}, nil
	}

	// A funding failure here does not revert the transaction: the payment
	// did succeed at the provider, and the conflict surfaces to the caller
	// for the retry path.
	_, escrow, err := e.fundMilestone(ctx, tx)
	if err != nil {
		return ReconcileResult{Transaction: tx}, err
	}
	fields["escrow_id"] = escrow.ID
	return ReconcileResult{Transaction: tx, EscrowID: escrow.ID}, nil
}

func failureReason(event ProviderEvent) string {
	for _, key := range []string{"failure_reason", "error", "message"} {
		if value, ok := event.Raw[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return "payment failed at provider"
}
