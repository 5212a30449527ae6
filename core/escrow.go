package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GetEscrow returns one escrow by id.
func (e *Engine) GetEscrow(ctx context.Context, id string) (Escrow, error) {
	if strings.TrimSpace(id) == "" {
		return Escrow{}, e.mapError(fmt.Errorf("%w: empty escrow id", ErrEscrowNotFound))
	}
	escrow, err := e.escrowStore.Get(ctx, id)
	if err != nil {
		return Escrow{}, e.mapError(err)
	}
	return escrow, nil
}

// lockEscrow opens a new escrow for a confirmed payment. The store enforces
// the one-active-escrow-per-milestone invariant atomically; a second create
// while one is still locked or held fails with ErrEscrowAlreadyActive.
func (e *Engine) lockEscrow(ctx context.Context, tx Transaction) (Escrow, error) {
	now := e.now()
	escrow := Escrow{
		ID:          uuid.NewString(),
		MilestoneID: tx.MilestoneID,
		ProjectID:   tx.ProjectID,
		Amount:      tx.Amount,
		Currency:    tx.Currency,
		ProviderID:  tx.ProviderID,
		ProviderRef: tx.ProviderPaymentIntentID,
		Status:      EscrowStatusLocked,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return e.escrowStore.Create(ctx, escrow)
}

// holdEscrow freezes a locked escrow during a dispute. Funds stay with the
// platform, neither released nor refunded.
func (e *Engine) holdEscrow(ctx context.Context, escrowID string) (Escrow, error) {
	return e.escrowStore.UpdateStatusIf(ctx, escrowID,
		[]EscrowStatus{EscrowStatusLocked}, EscrowStatusHeld)
}

// resumeEscrow returns a held escrow to locked after a dispute resolves
// without release.
func (e *Engine) resumeEscrow(ctx context.Context, escrowID string) (Escrow, error) {
	return e.escrowStore.UpdateStatusIf(ctx, escrowID,
		[]EscrowStatus{EscrowStatusHeld}, EscrowStatusLocked)
}

// releaseEscrow moves an escrow to released, the trigger for payout
// scheduling. A held escrow is first resumed to locked so the ledger only
// ever takes legal steps.
func (e *Engine) releaseEscrow(ctx context.Context, escrow Escrow) (Escrow, error) {
	if escrow.Status == EscrowStatusHeld {
		resumed, err := e.resumeEscrow(ctx, escrow.ID)
		if err != nil {
			return Escrow{}, err
		}
		escrow = resumed
	}
	released, err := e.escrowStore.UpdateStatusIf(ctx, escrow.ID,
		[]EscrowStatus{EscrowStatusLocked}, EscrowStatusReleased)
	if err != nil {
		return Escrow{}, err
	}
	e.publish(ctx, SettlementEvent{
		ID:          uuid.NewString(),
		Name:        EventEscrowReleased,
		ProjectID:   released.ProjectID,
		MilestoneID: released.MilestoneID,
		EscrowID:    released.ID,
		Payload: map[string]any{
			"amount":   released.Amount,
			"currency": released.Currency,
		},
	})
	return released, nil
}

// refundEscrow sends the held funds back through the provider and marks the
// escrow refunded. The escrow is only marked after the provider accepted the
// refund, so a provider failure leaves the funds where they were.
func (e *Engine) refundEscrow(ctx context.Context, escrow Escrow) (Escrow, error) {
	gateway, err := e.gateway(escrow.ProviderID)
	if err != nil {
		return Escrow{}, err
	}
	if _, err := gateway.Refund(ctx, PSPRefundRequest{
		ProviderRef: escrow.ProviderRef,
		Amount:      escrow.Amount,
		Currency:    escrow.Currency,
	}); err != nil {
		return Escrow{}, fmt.Errorf("core: provider refund failed: %w", err)
	}
	return e.escrowStore.UpdateStatusIf(ctx, escrow.ID,
		[]EscrowStatus{EscrowStatusLocked, EscrowStatusHeld}, EscrowStatusRefunded)
}

// activeEscrow finds the milestone's active escrow, if any.
func (e *Engine) activeEscrow(ctx context.Context, milestoneID string) (Escrow, bool, error) {
	return e.escrowStore.FindActiveByMilestone(ctx, milestoneID)
}
