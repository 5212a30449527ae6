package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// JobTypePayoutExecute executes one scheduled payout batch against the
// payment provider.
const JobTypePayoutExecute = "payout.execute"

// CalculateSplit runs the pure split calculation over a complete split set.
// Exposed for the API layer's preview endpoint; nothing is persisted.
func (e *Engine) CalculateSplit(ctx context.Context, amount int64, currency string, splits []SplitInput) (Breakdown, error) {
	startedAt := e.now()
	shares := make([]SplitShare, 0, len(splits))
	for _, split := range splits {
		shares = append(shares, SplitShare{
			RecipientID: split.RecipientID,
			Label:       split.Label,
			Percent:     split.Percent,
		})
	}

	breakdown, err := e.calculator.Calculate(amount, currency, shares)
	if errors.Is(err, ErrConservationViolated) {
		e.observeInvariantViolation(ctx, "split_calculate", err, map[string]any{
			"amount":   amount,
			"currency": currency,
		})
	}
	e.observeOperation(ctx, startedAt, "split_calculate", err, map[string]any{
		"amount":   amount,
		"currency": currency,
	})
	if err != nil {
		return Breakdown{}, e.mapError(err)
	}
	return breakdown, nil
}

// SchedulePayouts turns a released escrow into a persisted batch of
// per-recipient payout instructions and enqueues the job that executes them.
// The escrow id is the idempotency key: a second call for the same escrow
// fails AlreadyScheduled, never merges.
func (e *Engine) SchedulePayouts(ctx context.Context, input SchedulePayoutsInput) (PayoutBatch, error) {
	startedAt := e.now()
	fields := map[string]any{
		"escrow_id":    input.EscrowID,
		"project_id":   input.ProjectID,
		"milestone_id": input.MilestoneID,
	}

	batch, err := e.schedulePayouts(ctx, input, fields)
	e.observeOperation(ctx, startedAt, "payout_schedule", err, fields)
	if err != nil {
		return PayoutBatch{}, e.mapError(err)
	}
	return batch, nil
}

func (e *Engine) schedulePayouts(ctx context.Context, input SchedulePayoutsInput, fields map[string]any) (PayoutBatch, error) {
	if strings.TrimSpace(input.EscrowID) == "" {
		return PayoutBatch{}, fmt.Errorf("%w: empty escrow id", ErrEscrowNotFound)
	}
	escrow, err := e.escrowStore.Get(ctx, input.EscrowID)
	if err != nil {
		return PayoutBatch{}, err
	}
	if escrow.Status != EscrowStatusReleased {
		return PayoutBatch{}, fmt.Errorf("%w: escrow %s is %s, not released",
			ErrInvalidEscrowStatusTransition, escrow.ID, escrow.Status)
	}

	projectID := input.ProjectID
	if projectID == "" {
		projectID = escrow.ProjectID
	}
	milestoneID := input.MilestoneID
	if milestoneID == "" {
		milestoneID = escrow.MilestoneID
	}
	// A caller-supplied amount or currency is only a cross-check; the escrow
	// holds the funds being distributed and a mismatch must never schedule.
	amount := input.Amount
	if amount == 0 {
		amount = escrow.Amount
	} else if amount != escrow.Amount {
		return PayoutBatch{}, fmt.Errorf("%w: amount %d does not match escrow %s amount %d",
			ErrInvalidMoney, amount, escrow.ID, escrow.Amount)
	}
	currency := input.Currency
	if currency == "" {
		currency = escrow.Currency
	} else if !strings.EqualFold(strings.TrimSpace(currency), escrow.Currency) {
		return PayoutBatch{}, fmt.Errorf("%w: currency %s does not match escrow %s currency %s",
			ErrInvalidMoney, currency, escrow.ID, escrow.Currency)
	}
	fields["project_id"] = projectID
	fields["milestone_id"] = milestoneID

	splits, err := e.splitStore.ListActive(ctx, projectID)
	if err != nil {
		return PayoutBatch{}, err
	}

	// Placeholder entries reserve a percentage without a payable recipient.
	// They are dropped here; the configured policy decides whether their
	// share is withheld or redistributed.
	var totalBP int64
	shares := make([]SplitShare, 0, len(splits))
	for _, split := range splits {
		if split.PercentBP <= 0 {
			continue
		}
		totalBP += split.PercentBP
		if !split.Resolvable() {
			continue
		}
		shares = append(shares, SplitShare{
			RecipientID: split.RecipientID,
			Label:       split.Label,
			Percent:     float64(split.PercentBP) / 100,
		})
	}
	if len(shares) == 0 {
		return PayoutBatch{}, fmt.Errorf("%w: project %s", ErrNoRecipients, projectID)
	}

	breakdown, err := e.calculator.CalculateFiltered(amount, currency, shares, e.splitPolicy, totalBP)
	if err != nil {
		if errors.Is(err, ErrConservationViolated) {
			e.observeInvariantViolation(ctx, "payout_schedule", err, fields)
		}
		return PayoutBatch{}, err
	}

	now := e.now()
	batch := PayoutBatch{
		ID:          uuid.NewString(),
		EscrowID:    escrow.ID,
		ProjectID:   projectID,
		MilestoneID: milestoneID,
		Currency:    breakdown.Currency,
		GrossAmount: breakdown.GrossAmount,
		PlatformFee: breakdown.PlatformFee,
		TotalNet:    breakdown.Distributed,
		Withheld:    breakdown.Withheld,
		Status:      PayoutBatchStatusScheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, line := range breakdown.Lines {
		batch.Items = append(batch.Items, PayoutItem{
			ID:          uuid.NewString(),
			BatchID:     batch.ID,
			RecipientID: line.RecipientID,
			PercentBP:   line.PercentBP,
			GrossShare:  line.GrossShare,
			FeeShare:    line.FeeShare,
			TaxWithheld: line.TaxWithheld,
			NetAmount:   line.NetAmount,
			Status:      PayoutItemStatusScheduled,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	batch, err = e.payoutStore.CreateBatch(ctx, batch)
	if err != nil {
		return PayoutBatch{}, err
	}
	fields["batch_id"] = batch.ID

	if err := e.enqueuePayoutJob(ctx, batch); err != nil {
		return batch, err
	}

	e.publish(ctx, SettlementEvent{
		ID:          uuid.NewString(),
		Name:        EventPayoutScheduled,
		ProjectID:   batch.ProjectID,
		MilestoneID: batch.MilestoneID,
		EscrowID:    batch.EscrowID,
		BatchID:     batch.ID,
		Payload: map[string]any{
			"total_net": batch.TotalNet,
			"withheld":  batch.Withheld,
			"currency":  batch.Currency,
		},
	})
	return batch, nil
}

func (e *Engine) enqueuePayoutJob(ctx context.Context, batch PayoutBatch) error {
	now := e.now()
	job, err := e.jobStore.Enqueue(ctx, Job{
		ID:   uuid.NewString(),
		Type: JobTypePayoutExecute,
		Payload: map[string]any{
			"batch_id":  batch.ID,
			"escrow_id": batch.EscrowID,
		},
		Status:      JobStatusQueued,
		MaxAttempts: 10,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return err
	}
	// The durable job row is authoritative; the queue signal is a wake-up
	// and its failure only delays pickup until the next poll.
	if err := e.jobQueue.Enqueue(ctx, job.ID, job.Type, job.Payload); err != nil {
		e.logError(ctx, "job queue signal failed", map[string]any{
			"job_id":   job.ID,
			"job_type": job.Type,
			"error":    err.Error(),
		})
	}
	return nil
}

// GetPayoutBatch returns one batch with its items.
func (e *Engine) GetPayoutBatch(ctx context.Context, id string) (PayoutBatch, error) {
	if strings.TrimSpace(id) == "" {
		return PayoutBatch{}, e.mapError(fmt.Errorf("%w: empty batch id", ErrPayoutBatchNotFound))
	}
	batch, err := e.payoutStore.GetBatch(ctx, id)
	if err != nil {
		return PayoutBatch{}, e.mapError(err)
	}
	return batch, nil
}

// GetPayoutBatchByEscrow returns the batch scheduled for one escrow.
func (e *Engine) GetPayoutBatchByEscrow(ctx context.Context, escrowID string) (PayoutBatch, error) {
	if strings.TrimSpace(escrowID) == "" {
		return PayoutBatch{}, e.mapError(fmt.Errorf("%w: empty escrow id", ErrPayoutBatchNotFound))
	}
	batch, err := e.payoutStore.GetBatchByEscrow(ctx, escrowID)
	if err != nil {
		return PayoutBatch{}, e.mapError(err)
	}
	return batch, nil
}
