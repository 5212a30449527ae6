package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-settlement/core"
)

const (
	TypeCreateMilestone    = "settlement.command.milestone.create"
	TypeCreateIntent       = "settlement.command.intent.create"
	TypeCompleteMilestone  = "settlement.command.milestone.complete"
	TypeApproveMilestone   = "settlement.command.milestone.approve"
	TypeDisputeMilestone   = "settlement.command.milestone.dispute"
	TypeRejectMilestone    = "settlement.command.milestone.reject"
	TypeResolveDispute     = "settlement.command.milestone.resolve_dispute"
	TypeReplaceSplits      = "settlement.command.splits.replace"
	TypeSchedulePayouts    = "settlement.command.payouts.schedule"
	TypeExecutePayoutBatch = "settlement.command.payouts.execute"
	TypeRequeueFromDLQ     = "settlement.command.jobs.requeue_dlq"
)

type CreateMilestoneMessage struct {
	Actor core.Actor
	Input core.CreateMilestoneInput
}

func (CreateMilestoneMessage) Type() string { return TypeCreateMilestone }

func (m CreateMilestoneMessage) Validate() error {
	if strings.TrimSpace(m.Input.ProjectID) == "" {
		return fmt.Errorf("command: project id is required")
	}
	if strings.TrimSpace(m.Input.Title) == "" {
		return fmt.Errorf("command: milestone title is required")
	}
	if m.Input.Amount <= 0 {
		return fmt.Errorf("command: milestone amount must be positive")
	}
	return nil
}

type CreateIntentMessage struct {
	Actor core.Actor
	Input core.CreateIntentInput
}

func (CreateIntentMessage) Type() string { return TypeCreateIntent }

func (m CreateIntentMessage) Validate() error {
	if strings.TrimSpace(m.Input.MilestoneID) == "" {
		return fmt.Errorf("command: milestone id is required")
	}
	if strings.TrimSpace(m.Input.ProviderID) == "" {
		return fmt.Errorf("command: provider id is required")
	}
	return nil
}

type CompleteMilestoneMessage struct {
	Actor       core.Actor
	MilestoneID string
}

func (CompleteMilestoneMessage) Type() string { return TypeCompleteMilestone }

func (m CompleteMilestoneMessage) Validate() error {
	return requireMilestoneID(m.MilestoneID)
}

type ApproveMilestoneMessage struct {
	Actor       core.Actor
	MilestoneID string
}

func (ApproveMilestoneMessage) Type() string { return TypeApproveMilestone }

func (m ApproveMilestoneMessage) Validate() error {
	return requireMilestoneID(m.MilestoneID)
}

type DisputeMilestoneMessage struct {
	Actor       core.Actor
	MilestoneID string
	Reason      string
}

func (DisputeMilestoneMessage) Type() string { return TypeDisputeMilestone }

func (m DisputeMilestoneMessage) Validate() error {
	return requireMilestoneID(m.MilestoneID)
}

type RejectMilestoneMessage struct {
	Actor       core.Actor
	MilestoneID string
}

func (RejectMilestoneMessage) Type() string { return TypeRejectMilestone }

func (m RejectMilestoneMessage) Validate() error {
	return requireMilestoneID(m.MilestoneID)
}

type ResolveDisputeMessage struct {
	Actor       core.Actor
	MilestoneID string
}

func (ResolveDisputeMessage) Type() string { return TypeResolveDispute }

func (m ResolveDisputeMessage) Validate() error {
	return requireMilestoneID(m.MilestoneID)
}

type ReplaceSplitsMessage struct {
	Actor     core.Actor
	ProjectID string
	Splits    []core.SplitInput
}

func (ReplaceSplitsMessage) Type() string { return TypeReplaceSplits }

func (m ReplaceSplitsMessage) Validate() error {
	if strings.TrimSpace(m.ProjectID) == "" {
		return fmt.Errorf("command: project id is required")
	}
	if len(m.Splits) == 0 {
		return fmt.Errorf("command: at least one split entry is required")
	}
	return nil
}

type SchedulePayoutsMessage struct {
	Input core.SchedulePayoutsInput
}

func (SchedulePayoutsMessage) Type() string { return TypeSchedulePayouts }

func (m SchedulePayoutsMessage) Validate() error {
	if strings.TrimSpace(m.Input.EscrowID) == "" {
		return fmt.Errorf("command: escrow id is required")
	}
	return nil
}

type ExecutePayoutBatchMessage struct {
	BatchID string
}

func (ExecutePayoutBatchMessage) Type() string { return TypeExecutePayoutBatch }

func (m ExecutePayoutBatchMessage) Validate() error {
	if strings.TrimSpace(m.BatchID) == "" {
		return fmt.Errorf("command: batch id is required")
	}
	return nil
}

type RequeueFromDLQMessage struct {
	JobID string
}

func (RequeueFromDLQMessage) Type() string { return TypeRequeueFromDLQ }

func (m RequeueFromDLQMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("command: job id is required")
	}
	return nil
}

func requireMilestoneID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("command: milestone id is required")
	}
	return nil
}
