package core

import (
	"errors"
	"testing"
	"time"
)

func TestMilestoneTransitions(t *testing.T) {
	now := time.Now().UTC()
	cases := []struct {
		from    MilestoneStatus
		to      MilestoneStatus
		allowed bool
	}{
		{MilestoneStatusPending, MilestoneStatusFunded, true},
		{MilestoneStatusPending, MilestoneStatusCompleted, true},
		{MilestoneStatusPending, MilestoneStatusDisputed, true},
		{MilestoneStatusPending, MilestoneStatusApproved, false},
		{MilestoneStatusFunded, MilestoneStatusCompleted, true},
		{MilestoneStatusFunded, MilestoneStatusDisputed, true},
		{MilestoneStatusFunded, MilestoneStatusApproved, false},
		{MilestoneStatusCompleted, MilestoneStatusApproved, true},
		{MilestoneStatusCompleted, MilestoneStatusDisputed, true},
		{MilestoneStatusCompleted, MilestoneStatusFunded, false},
		{MilestoneStatusDisputed, MilestoneStatusApproved, true},
		{MilestoneStatusDisputed, MilestoneStatusRejected, true},
		{MilestoneStatusDisputed, MilestoneStatusFunded, false},
		{MilestoneStatusApproved, MilestoneStatusDisputed, false},
		{MilestoneStatusRejected, MilestoneStatusPending, false},
	}

	for _, tc := range cases {
		milestone := Milestone{Status: tc.from}
		err := milestone.TransitionTo(tc.to, now)
		if tc.allowed && err != nil {
			t.Fatalf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if !tc.allowed && !errors.Is(err, ErrInvalidMilestoneStatusTransition) {
			t.Fatalf("%s -> %s: expected transition error, got %v", tc.from, tc.to, err)
		}
	}
}

func TestMilestoneTransitionToDisputedRecordsPreDispute(t *testing.T) {
	now := time.Now().UTC()
	milestone := Milestone{Status: MilestoneStatusCompleted}
	if err := milestone.TransitionTo(MilestoneStatusDisputed, now); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if milestone.PreDispute != MilestoneStatusCompleted {
		t.Fatalf("expected pre-dispute status completed, got %s", milestone.PreDispute)
	}
}

func TestEscrowTransitions(t *testing.T) {
	now := time.Now().UTC()
	cases := []struct {
		from    EscrowStatus
		to      EscrowStatus
		allowed bool
	}{
		{EscrowStatusLocked, EscrowStatusHeld, true},
		{EscrowStatusLocked, EscrowStatusReleased, true},
		{EscrowStatusLocked, EscrowStatusRefunded, true},
		{EscrowStatusHeld, EscrowStatusLocked, true},
		{EscrowStatusHeld, EscrowStatusRefunded, true},
		{EscrowStatusHeld, EscrowStatusReleased, false},
		{EscrowStatusReleased, EscrowStatusLocked, false},
		{EscrowStatusRefunded, EscrowStatusLocked, false},
	}

	for _, tc := range cases {
		escrow := Escrow{Status: tc.from}
		err := escrow.TransitionTo(tc.to, now)
		if tc.allowed && err != nil {
			t.Fatalf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if !tc.allowed && !errors.Is(err, ErrInvalidEscrowStatusTransition) {
			t.Fatalf("%s -> %s: expected transition error, got %v", tc.from, tc.to, err)
		}
	}
}

func TestEscrowStatusActive(t *testing.T) {
	if !EscrowStatusLocked.Active() || !EscrowStatusHeld.Active() {
		t.Fatalf("locked and held must be active")
	}
	if EscrowStatusReleased.Active() || EscrowStatusRefunded.Active() {
		t.Fatalf("released and refunded must not be active")
	}
}

func TestTransactionTerminal(t *testing.T) {
	if TransactionStatusCreated.Terminal() {
		t.Fatalf("created must not be terminal")
	}
	if !TransactionStatusSucceeded.Terminal() || !TransactionStatusFailed.Terminal() {
		t.Fatalf("succeeded and failed must be terminal")
	}

	now := time.Now().UTC()
	tx := Transaction{Status: TransactionStatusSucceeded}
	if err := tx.TransitionTo(TransactionStatusFailed, now); !errors.Is(err, ErrInvalidTransactionStatusTransition) {
		t.Fatalf("expected terminal transaction to reject transition, got %v", err)
	}
}

func TestPayoutBatchTransitions(t *testing.T) {
	now := time.Now().UTC()
	batch := PayoutBatch{Status: PayoutBatchStatusScheduled}
	if err := batch.TransitionTo(PayoutBatchStatusProcessing, now); err != nil {
		t.Fatalf("scheduled -> processing: %v", err)
	}
	if err := batch.TransitionTo(PayoutBatchStatusFailed, now); err != nil {
		t.Fatalf("processing -> failed: %v", err)
	}
	// Failed batches are retryable.
	if err := batch.TransitionTo(PayoutBatchStatusProcessing, now); err != nil {
		t.Fatalf("failed -> processing: %v", err)
	}
	if err := batch.TransitionTo(PayoutBatchStatusPaid, now); err != nil {
		t.Fatalf("processing -> paid: %v", err)
	}
	if err := batch.TransitionTo(PayoutBatchStatusProcessing, now); !errors.Is(err, ErrInvalidPayoutBatchStatusTransition) {
		t.Fatalf("expected paid batch to reject transition, got %v", err)
	}
}

func TestJobTransitions(t *testing.T) {
	now := time.Now().UTC()
	job := Job{Status: JobStatusQueued}
	if err := job.TransitionTo(JobStatusLeased, now); err != nil {
		t.Fatalf("queued -> leased: %v", err)
	}
	if err := job.TransitionTo(JobStatusQueued, now); err != nil {
		t.Fatalf("leased -> queued: %v", err)
	}
	if err := job.TransitionTo(JobStatusSucceeded, now); !errors.Is(err, ErrInvalidJobStatusTransition) {
		t.Fatalf("expected queued -> succeeded to fail, got %v", err)
	}
	if err := job.TransitionTo(JobStatusLeased, now); err != nil {
		t.Fatalf("queued -> leased: %v", err)
	}
	if err := job.TransitionTo(JobStatusDLQ, now); err != nil {
		t.Fatalf("leased -> dlq: %v", err)
	}
	if !job.Status.Terminal() {
		t.Fatalf("dlq must be terminal")
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := NewMoney(100, "usd").Validate(); err != nil {
		t.Fatalf("lowercase currency should normalize: %v", err)
	}
	if err := NewMoney(-1, "USD").Validate(); !errors.Is(err, ErrInvalidMoney) {
		t.Fatalf("expected negative amount rejection, got %v", err)
	}
	if err := NewMoney(100, "DOLLARS").Validate(); !errors.Is(err, ErrInvalidMoney) {
		t.Fatalf("expected bad currency rejection, got %v", err)
	}
}
