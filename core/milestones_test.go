package core

import (
	"context"
	"errors"
	"testing"
)

// flakyEscrowStore fails a scheduled number of status updates before
// delegating, simulating a transient store outage mid-operation.
type flakyEscrowStore struct {
	*memEscrowStore
	failUpdates int
}

func (s *flakyEscrowStore) UpdateStatusIf(ctx context.Context, id string, from []EscrowStatus, to EscrowStatus) (Escrow, error) {
	if s.failUpdates > 0 {
		s.failUpdates--
		return Escrow{}, errors.New("escrow store unavailable")
	}
	return s.memEscrowStore.UpdateStatusIf(ctx, id, from, to)
}

func TestCreateMilestone_OwnerOnly(t *testing.T) {
	fixture := newTestEngine(t)
	ctx := context.Background()

	_, err := fixture.engine.CreateMilestone(ctx, Actor{ID: testMember}, CreateMilestoneInput{
		ProjectID: "project-1",
		Title:     "design handoff",
		Amount:    10_000,
		Currency:  "USD",
	})
	assertTextCode(t, err, SettlementErrorPermissionDenied)
}

func TestCompleteMilestone_SecondCallAlreadyProcessed(t *testing.T) {
	fixture := newTestEngine(t)
	ctx := context.Background()
	milestone, _ := fixture.seedFundedMilestone(t, 10_000)

	completed, err := fixture.engine.CompleteMilestone(ctx, Actor{ID: testMember}, milestone.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != MilestoneStatusCompleted {
		t.Fatalf("expected completed, got %s", completed.Status)
	}

	_, err = fixture.engine.CompleteMilestone(ctx, Actor{ID: testMember}, milestone.ID)
	assertTextCode(t, err, SettlementErrorAlreadyProcessed)

	// The failed repeat left the milestone untouched.
	current, err := fixture.engine.GetMilestone(ctx, milestone.ID)
	if err != nil {
		t.Fatalf("get milestone: %v", err)
	}
	if current.Status != MilestoneStatusCompleted || current.Version != completed.Version {
		t.Fatalf("expected milestone unchanged, got %s v%d", current.Status, current.Version)
	}
}

func TestCompleteMilestone_NonMemberDenied(t *testing.T) {
	fixture := newTestEngine(t)
	milestone, _ := fixture.seedFundedMilestone(t, 10_000)

	_, err := fixture.engine.CompleteMilestone(context.Background(), Actor{ID: "stranger"}, milestone.ID)
	assertTextCode(t, err, SettlementErrorPermissionDenied)
}

func TestApproveMilestone_ReleasesEscrowAndSchedulesPayouts(t *testing.T) {
	fixture := newTestEngine(t)
	ctx := context.Background()
	fixture.seedSplits(t,
		SplitInput{RecipientID: "alice", Percent: 60},
		SplitInput{RecipientID: "bob", Percent: 40},
	)
	milestone, escrow := fixture.seedFundedMilestone(t, 10_000)

	if _, err := fixture.engine.CompleteMilestone(ctx, Actor{ID: testMember}, milestone.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	approved, err := fixture.engine.ApproveMilestone(ctx, Actor{ID: testOwner}, milestone.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != MilestoneStatusApproved {
		t.Fatalf("expected approved, got %s", approved.Status)
	}

	released, err := fixture.engine.GetEscrow(ctx, escrow.ID)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if released.Status != EscrowStatusReleased {
		t.Fatalf("expected escrow released, got %s", released.Status)
	}

	batch, err := fixture.engine.GetPayoutBatchByEscrow(ctx, escrow.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch.Status != PayoutBatchStatusScheduled {
		t.Fatalf("expected scheduled batch, got %s", batch.Status)
	}
	if len(fixture.queue.signals) != 1 || fixture.queue.signals[0].jobType != JobTypePayoutExecute {
		t.Fatalf("expected one payout job signal, got %v", fixture.queue.signals)
	}

	// A second approval is a no-op conflict, and a direct reschedule for the
	// same escrow refuses to create a second batch.
	_, err = fixture.engine.ApproveMilestone(ctx, Actor{ID: testOwner}, milestone.ID)
	assertTextCode(t, err, SettlementErrorAlreadyProcessed)

	_, err = fixture.engine.SchedulePayouts(ctx, SchedulePayoutsInput{EscrowID: escrow.ID})
	assertTextCode(t, err, SettlementErrorConflict)
}

func TestApproveMilestone_RetryAfterReleaseFailureFinishesSettlement(t *testing.T) {
	flaky := &flakyEscrowStore{memEscrowStore: newMemEscrowStore()}
	fixture := newTestEngine(t, WithEscrowStore(flaky))
	ctx := context.Background()
	fixture.seedSplits(t,
		SplitInput{RecipientID: "alice", Percent: 60},
		SplitInput{RecipientID: "bob", Percent: 40},
	)
	milestone, escrow := fixture.seedFundedMilestone(t, 10_000)

	if _, err := fixture.engine.CompleteMilestone(ctx, Actor{ID: testMember}, milestone.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// The release write fails after the milestone already moved to approved.
	flaky.failUpdates = 1
	if _, err := fixture.engine.ApproveMilestone(ctx, Actor{ID: testOwner}, milestone.ID); err == nil {
		t.Fatalf("expected release failure to surface")
	}
	approved, err := fixture.engine.GetMilestone(ctx, milestone.ID)
	if err != nil {
		t.Fatalf("get milestone: %v", err)
	}
	if approved.Status != MilestoneStatusApproved {
		t.Fatalf("expected milestone approved, got %s", approved.Status)
	}
	stuck, err := fixture.engine.GetEscrow(ctx, escrow.ID)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if stuck.Status != EscrowStatusLocked {
		t.Fatalf("expected escrow still locked after failed release, got %s", stuck.Status)
	}

	// The retry picks up where the failed call stopped: release and schedule.
	if _, err := fixture.engine.ApproveMilestone(ctx, Actor{ID: testOwner}, milestone.ID); err != nil {
		t.Fatalf("retry approve: %v", err)
	}
	released, err := fixture.engine.GetEscrow(ctx, escrow.ID)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if released.Status != EscrowStatusReleased {
		t.Fatalf("expected escrow released on retry, got %s", released.Status)
	}
	batch, err := fixture.engine.GetPayoutBatchByEscrow(ctx, escrow.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch.Status != PayoutBatchStatusScheduled {
		t.Fatalf("expected scheduled batch, got %s", batch.Status)
	}

	// With everything settled the next repeat is a plain conflict again.
	_, err = fixture.engine.ApproveMilestone(ctx, Actor{ID: testOwner}, milestone.ID)
	assertTextCode(t, err, SettlementErrorAlreadyProcessed)
}

func TestApproveMilestone_RetryAfterScheduleFailureSchedulesBatch(t *testing.T) {
	fixture := newTestEngine(t)
	ctx := context.Background()
	milestone, escrow := fixture.seedFundedMilestone(t, 10_000)

	if _, err := fixture.engine.CompleteMilestone(ctx, Actor{ID: testMember}, milestone.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// No payable recipients yet: the release commits, scheduling fails.
	_, err := fixture.engine.ApproveMilestone(ctx, Actor{ID: testOwner}, milestone.ID)
	assertTextCode(t, err, SettlementErrorSplitInvalid)
	released, err := fixture.engine.GetEscrow(ctx, escrow.ID)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if released.Status != EscrowStatusReleased {
		t.Fatalf("expected escrow released, got %s", released.Status)
	}

	fixture.seedSplits(t, SplitInput{RecipientID: "alice", Percent: 100})
	if _, err := fixture.engine.ApproveMilestone(ctx, Actor{ID: testOwner}, milestone.ID); err != nil {
		t.Fatalf("retry approve: %v", err)
	}
	batch, err := fixture.engine.GetPayoutBatchByEscrow(ctx, escrow.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch.Status != PayoutBatchStatusScheduled {
		t.Fatalf("expected scheduled batch, got %s", batch.Status)
	}
}

func TestApproveMilestone_WithoutEscrowNotFunded(t *testing.T) {
	fixture := newTestEngine(t)
	ctx := context.Background()

	milestone, err := fixture.engine.CreateMilestone(ctx, Actor{ID: testOwner}, CreateMilestoneInput{
		ProjectID: "project-1",
		Title:     "unfunded work",
		Amount:    5_000,
		Currency:  "USD",
	})
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}
	if _, err := fixture.engine.CompleteMilestone(ctx, Actor{ID: testMember}, milestone.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err = fixture.engine.ApproveMilestone(ctx, Actor{ID: testOwner}, milestone.ID)
	assertTextCode(t, err, SettlementErrorNotFunded)
}

func TestDisputeHoldsEscrowAndResolveRestores(t *testing.T) {
	fixture := newTestEngine(t)
	ctx := context.Background()
	milestone, escrow := fixture.seedFundedMilestone(t, 10_000)

	if _, err := fixture.engine.CompleteMilestone(ctx, Actor{ID: testMember}, milestone.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	disputed, err := fixture.engine.DisputeMilestone(ctx, Actor{ID: testMember}, milestone.ID, "scope mismatch")
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if disputed.Status != MilestoneStatusDisputed || disputed.PreDispute != MilestoneStatusCompleted {
		t.Fatalf("expected disputed with completed pre-dispute, got %s / %s",
			disputed.Status, disputed.PreDispute)
	}
	if disputed.DisputeReason != "scope mismatch" {
		t.Fatalf("expected dispute reason recorded, got %q", disputed.DisputeReason)
	}

	held, err := fixture.engine.GetEscrow(ctx, escrow.ID)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if held.Status != EscrowStatusHeld {
		t.Fatalf("expected escrow held, got %s", held.Status)
	}
	if len(fixture.events.named(EventMilestoneDisputed)) != 1 {
		t.Fatalf("expected one disputed event")
	}

	resolved, err := fixture.engine.ResolveDispute(ctx, Actor{ID: testOwner}, milestone.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != MilestoneStatusCompleted {
		t.Fatalf("expected completed restored, got %s", resolved.Status)
	}
	if resolved.PreDispute != "" || resolved.DisputeReason != "" {
		t.Fatalf("expected dispute bookkeeping cleared, got %q / %q",
			resolved.PreDispute, resolved.DisputeReason)
	}

	resumed, err := fixture.engine.GetEscrow(ctx, escrow.ID)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if resumed.Status != EscrowStatusLocked {
		t.Fatalf("expected escrow back to locked, got %s", resumed.Status)
	}
}

func TestResolveDispute_RequiresOpenDispute(t *testing.T) {
	fixture := newTestEngine(t)
	milestone, _ := fixture.seedFundedMilestone(t, 10_000)

	_, err := fixture.engine.ResolveDispute(context.Background(), Actor{ID: testOwner}, milestone.ID)
	assertTextCode(t, err, SettlementErrorConflict)
}

func TestRejectMilestone_RefundsEscrowThroughProvider(t *testing.T) {
	fixture := newTestEngine(t)
	ctx := context.Background()
	milestone, escrow := fixture.seedFundedMilestone(t, 10_000)

	if _, err := fixture.engine.DisputeMilestone(ctx, Actor{ID: testMember}, milestone.ID, "work never delivered"); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	rejected, err := fixture.engine.RejectMilestone(ctx, Actor{ID: testOwner}, milestone.ID)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != MilestoneStatusRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}

	refunded, err := fixture.engine.GetEscrow(ctx, escrow.ID)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if refunded.Status != EscrowStatusRefunded {
		t.Fatalf("expected escrow refunded, got %s", refunded.Status)
	}
	if len(fixture.gateway.refunds) != 1 {
		t.Fatalf("expected one provider refund, got %d", len(fixture.gateway.refunds))
	}
	if fixture.gateway.refunds[0].Amount != escrow.Amount {
		t.Fatalf("expected refund of %d, got %d", escrow.Amount, fixture.gateway.refunds[0].Amount)
	}
	if len(fixture.events.named(EventMilestoneRejected)) != 1 {
		t.Fatalf("expected one rejected event")
	}
}

func TestRejectMilestone_OnlyFromDisputed(t *testing.T) {
	fixture := newTestEngine(t)
	milestone, _ := fixture.seedFundedMilestone(t, 10_000)

	_, err := fixture.engine.RejectMilestone(context.Background(), Actor{ID: testOwner}, milestone.ID)
	assertTextCode(t, err, SettlementErrorConflict)
}

func TestRejectMilestone_ProviderRefundFailureLeavesEscrow(t *testing.T) {
	fixture := newTestEngine(t)
	ctx := context.Background()
	milestone, escrow := fixture.seedFundedMilestone(t, 10_000)

	if _, err := fixture.engine.DisputeMilestone(ctx, Actor{ID: testMember}, milestone.ID, "bad work"); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	fixture.gateway.refundErr = errProviderDown

	if _, err := fixture.engine.RejectMilestone(ctx, Actor{ID: testOwner}, milestone.ID); err == nil {
		t.Fatalf("expected refund failure to surface")
	}

	// Funds stay where they were and the milestone stays disputed.
	current, err := fixture.engine.GetEscrow(ctx, escrow.ID)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if current.Status != EscrowStatusHeld {
		t.Fatalf("expected escrow still held, got %s", current.Status)
	}
	stillDisputed, err := fixture.engine.GetMilestone(ctx, milestone.ID)
	if err != nil {
		t.Fatalf("get milestone: %v", err)
	}
	if stillDisputed.Status != MilestoneStatusDisputed {
		t.Fatalf("expected milestone still disputed, got %s", stillDisputed.Status)
	}
}
