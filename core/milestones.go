package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CreateMilestone registers a new milestone in pending. Only the project
// owner may create milestones.
func (e *Engine) CreateMilestone(ctx context.Context, actor Actor, input CreateMilestoneInput) (Milestone, error) {
	startedAt := e.now()
	fields := map[string]any{
		"project_id": input.ProjectID,
		"actor_id":   actor.ID,
	}

	milestone, err := e.createMilestone(ctx, actor, input)
	e.observeOperation(ctx, startedAt, "milestone_create", err, fields)
	if err != nil {
		return Milestone{}, e.mapError(err)
	}
	return milestone, nil
}

func (e *Engine) createMilestone(ctx context.Context, actor Actor, input CreateMilestoneInput) (Milestone, error) {
	if strings.TrimSpace(input.ProjectID) == "" {
		return Milestone{}, fmt.Errorf("core: project id is required")
	}
	if strings.TrimSpace(input.Title) == "" {
		return Milestone{}, fmt.Errorf("core: milestone title is required")
	}
	money := NewMoney(input.Amount, input.Currency)
	if err := money.Validate(); err != nil {
		return Milestone{}, err
	}
	if !money.IsPositive() {
		return Milestone{}, fmt.Errorf("%w: amount must be positive", ErrInvalidMoney)
	}
	if err := e.requireOwner(ctx, input.ProjectID, actor); err != nil {
		return Milestone{}, err
	}

	now := e.now()
	return e.milestoneStore.Create(ctx, Milestone{
		ID:        uuid.NewString(),
		ProjectID: input.ProjectID,
		Title:     strings.TrimSpace(input.Title),
		Amount:    money.Amount,
		Currency:  money.Currency,
		Status:    MilestoneStatusPending,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// GetMilestone returns one milestone by id.
func (e *Engine) GetMilestone(ctx context.Context, id string) (Milestone, error) {
	if strings.TrimSpace(id) == "" {
		return Milestone{}, e.mapError(fmt.Errorf("%w: empty milestone id", ErrMilestoneNotFound))
	}
	milestone, err := e.milestoneStore.Get(ctx, id)
	if err != nil {
		return Milestone{}, e.mapError(err)
	}
	return milestone, nil
}

// CompleteMilestone marks work done. Legal from pending or funded; any
// project member may call it. A repeat call fails AlreadyProcessed and leaves
// the milestone untouched.
func (e *Engine) CompleteMilestone(ctx context.Context, actor Actor, milestoneID string) (Milestone, error) {
	startedAt := e.now()
	fields := map[string]any{
		"milestone_id": milestoneID,
		"actor_id":     actor.ID,
	}

	milestone, err := e.completeMilestone(ctx, actor, milestoneID)
	fields["project_id"] = milestone.ProjectID
	e.observeOperation(ctx, startedAt, "milestone_complete", err, fields)
	if err != nil {
		return Milestone{}, e.mapError(err)
	}
	return milestone, nil
}

func (e *Engine) completeMilestone(ctx context.Context, actor Actor, milestoneID string) (Milestone, error) {
	milestone, err := e.milestoneStore.Get(ctx, milestoneID)
	if err != nil {
		return Milestone{}, err
	}
	if err := e.requireMember(ctx, milestone.ProjectID, actor); err != nil {
		return milestone, err
	}
	switch milestone.Status {
	case MilestoneStatusCompleted, MilestoneStatusApproved:
		return milestone, fmt.Errorf("%w: milestone %s is %s", ErrAlreadyProcessed, milestone.ID, milestone.Status)
	}

	expected := milestone.Version
	if err := milestone.TransitionTo(MilestoneStatusCompleted, e.now()); err != nil {
		return milestone, err
	}
	return e.milestoneStore.Update(ctx, milestone, expected)
}

// ApproveMilestone is the owner's sign-off. It releases the escrow and
// schedules the payout batch. Legal from completed, and from disputed when
// the owner resolves in favor of release.
func (e *Engine) ApproveMilestone(ctx context.Context, actor Actor, milestoneID string) (Milestone, error) {
	startedAt := e.now()
	fields := map[string]any{
		"milestone_id": milestoneID,
		"actor_id":     actor.ID,
	}

	milestone, err := e.approveMilestone(ctx, actor, milestoneID, fields)
	fields["project_id"] = milestone.ProjectID
	e.observeOperation(ctx, startedAt, "milestone_approve", err, fields)
	if err != nil {
		return Milestone{}, e.mapError(err)
	}
	return milestone, nil
}

func (e *Engine) approveMilestone(ctx context.Context, actor Actor, milestoneID string, fields map[string]any) (Milestone, error) {
	milestone, err := e.milestoneStore.Get(ctx, milestoneID)
	if err != nil {
		return Milestone{}, err
	}
	if err := e.requireOwner(ctx, milestone.ProjectID, actor); err != nil {
		return milestone, err
	}
	if milestone.Status == MilestoneStatusApproved {
		return e.resumeApproval(ctx, milestone, fields)
	}

	escrow, active, err := e.activeEscrow(ctx, milestone.ID)
	if err != nil {
		return milestone, err
	}
	if !active {
		return milestone, fmt.Errorf("%w: milestone %s", ErrNotFunded, milestone.ID)
	}
	fields["escrow_id"] = escrow.ID

	expected := milestone.Version
	if err := milestone.TransitionTo(MilestoneStatusApproved, e.now()); err != nil {
		return milestone, err
	}
	milestone, err = e.milestoneStore.Update(ctx, milestone, expected)
	if err != nil {
		return milestone, err
	}

	released, err := e.releaseEscrow(ctx, escrow)
	if err != nil {
		return milestone, err
	}

	if _, err := e.schedulePayouts(ctx, SchedulePayoutsInput{
		EscrowID:    released.ID,
		ProjectID:   released.ProjectID,
		MilestoneID: released.MilestoneID,
		Amount:      released.Amount,
		Currency:    released.Currency,
	}, fields); err != nil && !errors.Is(err, ErrAlreadyScheduled) {
		return milestone, err
	}
	return milestone, nil
}

// resumeApproval finishes an approval whose escrow release or payout
// scheduling failed after the milestone already moved to approved. The
// milestone transition commits first, so a retry picks up from whatever step
// the earlier call left undone. Only when nothing is left to finish does the
// repeat call fail AlreadyProcessed.
func (e *Engine) resumeApproval(ctx context.Context, milestone Milestone, fields map[string]any) (Milestone, error) {
	escrow, active, err := e.activeEscrow(ctx, milestone.ID)
	if err != nil {
		return milestone, err
	}
	if active {
		fields["escrow_id"] = escrow.ID
		released, err := e.releaseEscrow(ctx, escrow)
		if err != nil {
			return milestone, err
		}
		if _, err := e.schedulePayouts(ctx, SchedulePayoutsInput{
			EscrowID: released.ID,
		}, fields); err != nil && !errors.Is(err, ErrAlreadyScheduled) {
			return milestone, err
		}
		return milestone, nil
	}

	if milestone.EscrowID != "" {
		escrow, err := e.escrowStore.Get(ctx, milestone.EscrowID)
		if err != nil {
			return milestone, err
		}
		if escrow.Status == EscrowStatusReleased {
			fields["escrow_id"] = escrow.ID
			if _, err := e.schedulePayouts(ctx, SchedulePayoutsInput{
				EscrowID: escrow.ID,
			}, fields); err != nil {
				if errors.Is(err, ErrAlreadyScheduled) {
					return milestone, fmt.Errorf("%w: milestone %s is approved", ErrAlreadyProcessed, milestone.ID)
				}
				return milestone, err
			}
			return milestone, nil
		}
	}
	return milestone, fmt.Errorf("%w: milestone %s is approved", ErrAlreadyProcessed, milestone.ID)
}

// DisputeMilestone freezes a milestone. Legal from pending, funded or
// completed; any project member may raise it. An active escrow moves to held
// so funds can be neither released nor refunded while the dispute is open.
func (e *Engine) DisputeMilestone(ctx context.Context, actor Actor, milestoneID string, reason string) (Milestone, error) {
	startedAt := e.now()
	fields := map[string]any{
		"milestone_id": milestoneID,
		"actor_id":     actor.ID,
	}

	milestone, err := e.disputeMilestone(ctx, actor, milestoneID, reason, fields)
	fields["project_id"] = milestone.ProjectID
	e.observeOperation(ctx, startedAt, "milestone_dispute", err, fields)
	if err != nil {
		return Milestone{}, e.mapError(err)
	}
	return milestone, nil
}

func (e *Engine) disputeMilestone(ctx context.Context, actor Actor, milestoneID string, reason string, fields map[string]any) (Milestone, error) {
	milestone, err := e.milestoneStore.Get(ctx, milestoneID)
	if err != nil {
		return Milestone{}, err
	}
	if err := e.requireMember(ctx, milestone.ProjectID, actor); err != nil {
		return milestone, err
	}
	switch milestone.Status {
	case MilestoneStatusApproved, MilestoneStatusDisputed, MilestoneStatusRejected:
		return milestone, fmt.Errorf("%w: milestone %s is %s", ErrAlreadyProcessed, milestone.ID, milestone.Status)
	}

	escrow, active, err := e.activeEscrow(ctx, milestone.ID)
	if err != nil {
		return milestone, err
	}
	if active {
		held, err := e.holdEscrow(ctx, escrow.ID)
		if err != nil {
			return milestone, err
		}
		fields["escrow_id"] = held.ID
	}

	expected := milestone.Version
	if err := milestone.TransitionTo(MilestoneStatusDisputed, e.now()); err != nil {
		return milestone, err
	}
	milestone.DisputeReason = strings.TrimSpace(reason)
	milestone, err = e.milestoneStore.Update(ctx, milestone, expected)
	if err != nil {
		return milestone, err
	}

	e.publish(ctx, SettlementEvent{
		ID:          uuid.NewString(),
		Name:        EventMilestoneDisputed,
		ProjectID:   milestone.ProjectID,
		MilestoneID: milestone.ID,
		EscrowID:    milestone.EscrowID,
		Payload: map[string]any{
			"reason":   milestone.DisputeReason,
			"actor_id": actor.ID,
		},
	})
	return milestone, nil
}

// RejectMilestone closes a dispute against the milestone. The escrow, if
// any, is refunded to the payer through the provider. Owner only, legal only
// from disputed.
func (e *Engine) RejectMilestone(ctx context.Context, actor Actor, milestoneID string) (Milestone, error) {
	startedAt := e.now()
	fields := map[string]any{
		"milestone_id": milestoneID,
		"actor_id":     actor.ID,
	}

	milestone, err := e.rejectMilestone(ctx, actor, milestoneID, fields)
	fields["project_id"] = milestone.ProjectID
	e.observeOperation(ctx, startedAt, "milestone_reject", err, fields)
	if err != nil {
		return Milestone{}, e.mapError(err)
	}
	return milestone, nil
}

func (e *Engine) rejectMilestone(ctx context.Context, actor Actor, milestoneID string, fields map[string]any) (Milestone, error) {
	milestone, err := e.milestoneStore.Get(ctx, milestoneID)
	if err != nil {
		return Milestone{}, err
	}
	if err := e.requireOwner(ctx, milestone.ProjectID, actor); err != nil {
		return milestone, err
	}
	if milestone.Status == MilestoneStatusRejected {
		return milestone, fmt.Errorf("%w: milestone %s is rejected", ErrAlreadyProcessed, milestone.ID)
	}
	if milestone.Status != MilestoneStatusDisputed {
		return milestone, fmt.Errorf("%w: milestone %s is %s, not disputed",
			ErrInvalidMilestoneStatusTransition, milestone.ID, milestone.Status)
	}

	escrow, active, err := e.activeEscrow(ctx, milestone.ID)
	if err != nil {
		return milestone, err
	}
	if active {
		refunded, err := e.refundEscrow(ctx, escrow)
		if err != nil {
			return milestone, err
		}
		fields["escrow_id"] = refunded.ID
	}

	expected := milestone.Version
	if err := milestone.TransitionTo(MilestoneStatusRejected, e.now()); err != nil {
		return milestone, err
	}
	milestone, err = e.milestoneStore.Update(ctx, milestone, expected)
	if err != nil {
		return milestone, err
	}

	e.publish(ctx, SettlementEvent{
		ID:          uuid.NewString(),
		Name:        EventMilestoneRejected,
		ProjectID:   milestone.ProjectID,
		MilestoneID: milestone.ID,
		EscrowID:    milestone.EscrowID,
		Payload: map[string]any{
			"actor_id": actor.ID,
		},
	})
	return milestone, nil
}

// ResolveDispute withdraws an open dispute without releasing or refunding.
// The milestone returns to the status it held before the dispute and a held
// escrow resumes to locked.
func (e *Engine) ResolveDispute(ctx context.Context, actor Actor, milestoneID string) (Milestone, error) {
	startedAt := e.now()
	fields := map[string]any{
		"milestone_id": milestoneID,
		"actor_id":     actor.ID,
	}

	milestone, err := e.resolveDispute(ctx, actor, milestoneID, fields)
	fields["project_id"] = milestone.ProjectID
	e.observeOperation(ctx, startedAt, "milestone_resolve_dispute", err, fields)
	if err != nil {
		return Milestone{}, e.mapError(err)
	}
	return milestone, nil
}

func (e *Engine) resolveDispute(ctx context.Context, actor Actor, milestoneID string, fields map[string]any) (Milestone, error) {
	milestone, err := e.milestoneStore.Get(ctx, milestoneID)
	if err != nil {
		return Milestone{}, err
	}
	if err := e.requireOwner(ctx, milestone.ProjectID, actor); err != nil {
		return milestone, err
	}
	if milestone.Status != MilestoneStatusDisputed {
		return milestone, fmt.Errorf("%w: milestone %s is %s, not disputed",
			ErrInvalidMilestoneStatusTransition, milestone.ID, milestone.Status)
	}

	escrow, active, err := e.activeEscrow(ctx, milestone.ID)
	if err != nil {
		return milestone, err
	}
	if active && escrow.Status == EscrowStatusHeld {
		resumed, err := e.resumeEscrow(ctx, escrow.ID)
		if err != nil {
			return milestone, err
		}
		fields["escrow_id"] = resumed.ID
	}

	restored := milestone.PreDispute
	if restored == "" {
		restored = MilestoneStatusPending
	}

	// The pre-dispute status is restored directly: resolution is the one
	// step that walks the machine backwards, and only ever to the exact
	// status the dispute interrupted.
	expected := milestone.Version
	milestone.Status = restored
	milestone.PreDispute = ""
	milestone.DisputeReason = ""
	milestone.UpdatedAt = e.now()
	return e.milestoneStore.Update(ctx, milestone, expected)
}

// fundMilestone moves a pending milestone to funded, opening the escrow that
// holds the confirmed payment. Called by webhook reconciliation only.
func (e *Engine) fundMilestone(ctx context.Context, tx Transaction) (Milestone, Escrow, error) {
	milestone, err := e.milestoneStore.Get(ctx, tx.MilestoneID)
	if err != nil {
		return Milestone{}, Escrow{}, err
	}
	if _, active, err := e.activeEscrow(ctx, milestone.ID); err != nil {
		return milestone, Escrow{}, err
	} else if active {
		return milestone, Escrow{}, fmt.Errorf("%w: milestone %s", ErrEscrowAlreadyActive, milestone.ID)
	}
	if milestone.Status != MilestoneStatusPending {
		return milestone, Escrow{}, fmt.Errorf("%w: milestone %s is %s",
			ErrInvalidMilestoneStatusTransition, milestone.ID, milestone.Status)
	}

	escrow, err := e.lockEscrow(ctx, tx)
	if err != nil {
		return milestone, Escrow{}, err
	}

	expected := milestone.Version
	if err := milestone.TransitionTo(MilestoneStatusFunded, e.now()); err != nil {
		return milestone, escrow, err
	}
	milestone.EscrowID = escrow.ID
	milestone, err = e.milestoneStore.Update(ctx, milestone, expected)
	if err != nil {
		return milestone, escrow, err
	}

	e.publish(ctx, SettlementEvent{
		ID:          uuid.NewString(),
		Name:        EventMilestoneFunded,
		ProjectID:   milestone.ProjectID,
		MilestoneID: milestone.ID,
		EscrowID:    escrow.ID,
		Payload: map[string]any{
			"amount":   escrow.Amount,
			"currency": escrow.Currency,
		},
	})
	return milestone, escrow, nil
}

func (e *Engine) requireMember(ctx context.Context, projectID string, actor Actor) error {
	if strings.TrimSpace(actor.ID) == "" {
		return fmt.Errorf("%w: missing actor", ErrPermissionDenied)
	}
	ok, err := e.membership.IsMember(ctx, projectID, actor.ID)
	if err != nil {
		return fmt.Errorf("core: membership check failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: actor %s is not a member of project %s", ErrPermissionDenied, actor.ID, projectID)
	}
	return nil
}

func (e *Engine) requireOwner(ctx context.Context, projectID string, actor Actor) error {
	if strings.TrimSpace(actor.ID) == "" {
		return fmt.Errorf("%w: missing actor", ErrPermissionDenied)
	}
	ok, err := e.membership.IsOwner(ctx, projectID, actor.ID)
	if err != nil {
		return fmt.Errorf("core: ownership check failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: actor %s does not own project %s", ErrPermissionDenied, actor.ID, projectID)
	}
	return nil
}
