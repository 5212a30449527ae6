package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-settlement/core"
)

// MutatingService is the engine surface the command layer drives.
type MutatingService interface {
	CreateMilestone(ctx context.Context, actor core.Actor, input core.CreateMilestoneInput) (core.Milestone, error)
	CreateIntent(ctx context.Context, actor core.Actor, input core.CreateIntentInput) (core.CreateIntentResult, error)
	CompleteMilestone(ctx context.Context, actor core.Actor, milestoneID string) (core.Milestone, error)
	ApproveMilestone(ctx context.Context, actor core.Actor, milestoneID string) (core.Milestone, error)
	DisputeMilestone(ctx context.Context, actor core.Actor, milestoneID string, reason string) (core.Milestone, error)
	RejectMilestone(ctx context.Context, actor core.Actor, milestoneID string) (core.Milestone, error)
	ResolveDispute(ctx context.Context, actor core.Actor, milestoneID string) (core.Milestone, error)
	ReplaceSplits(ctx context.Context, actor core.Actor, projectID string, inputs []core.SplitInput) ([]core.RevenueSplit, error)
	SchedulePayouts(ctx context.Context, input core.SchedulePayoutsInput) (core.PayoutBatch, error)
	ExecutePayoutBatch(ctx context.Context, batchID string) error
	RequeueFromDLQ(ctx context.Context, id string) (core.Job, error)
}

type CreateMilestoneCommand struct {
	service MutatingService
}

func NewCreateMilestoneCommand(service MutatingService) *CreateMilestoneCommand {
	return &CreateMilestoneCommand{service: service}
}

func (c *CreateMilestoneCommand) Execute(ctx context.Context, msg CreateMilestoneMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: milestone service is required")
	}
	out, err := c.service.CreateMilestone(ctx, msg.Actor, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CreateIntentCommand struct {
	service MutatingService
}

func NewCreateIntentCommand(service MutatingService) *CreateIntentCommand {
	return &CreateIntentCommand{service: service}
}

func (c *CreateIntentCommand) Execute(ctx context.Context, msg CreateIntentMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: intent service is required")
	}
	out, err := c.service.CreateIntent(ctx, msg.Actor, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteMilestoneCommand struct {
	service MutatingService
}

func NewCompleteMilestoneCommand(service MutatingService) *CompleteMilestoneCommand {
	return &CompleteMilestoneCommand{service: service}
}

func (c *CompleteMilestoneCommand) Execute(ctx context.Context, msg CompleteMilestoneMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: milestone service is required")
	}
	out, err := c.service.CompleteMilestone(ctx, msg.Actor, msg.MilestoneID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ApproveMilestoneCommand struct {
	service MutatingService
}

func NewApproveMilestoneCommand(service MutatingService) *ApproveMilestoneCommand {
	return &ApproveMilestoneCommand{service: service}
}

func (c *ApproveMilestoneCommand) Execute(ctx context.Context, msg ApproveMilestoneMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: milestone service is required")
	}
	out, err := c.service.ApproveMilestone(ctx, msg.Actor, msg.MilestoneID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DisputeMilestoneCommand struct {
	service MutatingService
}

func NewDisputeMilestoneCommand(service MutatingService) *DisputeMilestoneCommand {
	return &DisputeMilestoneCommand{service: service}
}

func (c *DisputeMilestoneCommand) Execute(ctx context.Context, msg DisputeMilestoneMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: milestone service is required")
	}
	out, err := c.service.DisputeMilestone(ctx, msg.Actor, msg.MilestoneID, msg.Reason)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RejectMilestoneCommand struct {
	service MutatingService
}

func NewRejectMilestoneCommand(service MutatingService) *RejectMilestoneCommand {
	return &RejectMilestoneCommand{service: service}
}

func (c *RejectMilestoneCommand) Execute(ctx context.Context, msg RejectMilestoneMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: milestone service is required")
	}
	out, err := c.service.RejectMilestone(ctx, msg.Actor, msg.MilestoneID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ResolveDisputeCommand struct {
	service MutatingService
}

func NewResolveDisputeCommand(service MutatingService) *ResolveDisputeCommand {
	return &ResolveDisputeCommand{service: service}
}

func (c *ResolveDisputeCommand) Execute(ctx context.Context, msg ResolveDisputeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: milestone service is required")
	}
	out, err := c.service.ResolveDispute(ctx, msg.Actor, msg.MilestoneID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ReplaceSplitsCommand struct {
	service MutatingService
}

func NewReplaceSplitsCommand(service MutatingService) *ReplaceSplitsCommand {
	return &ReplaceSplitsCommand{service: service}
}

func (c *ReplaceSplitsCommand) Execute(ctx context.Context, msg ReplaceSplitsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: split service is required")
	}
	out, err := c.service.ReplaceSplits(ctx, msg.Actor, msg.ProjectID, msg.Splits)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SchedulePayoutsCommand struct {
	service MutatingService
}

func NewSchedulePayoutsCommand(service MutatingService) *SchedulePayoutsCommand {
	return &SchedulePayoutsCommand{service: service}
}

func (c *SchedulePayoutsCommand) Execute(ctx context.Context, msg SchedulePayoutsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: payout service is required")
	}
	out, err := c.service.SchedulePayouts(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ExecutePayoutBatchCommand struct {
	service MutatingService
}

func NewExecutePayoutBatchCommand(service MutatingService) *ExecutePayoutBatchCommand {
	return &ExecutePayoutBatchCommand{service: service}
}

func (c *ExecutePayoutBatchCommand) Execute(ctx context.Context, msg ExecutePayoutBatchMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: payout service is required")
	}
	return c.service.ExecutePayoutBatch(ctx, msg.BatchID)
}

type RequeueFromDLQCommand struct {
	service MutatingService
}

func NewRequeueFromDLQCommand(service MutatingService) *RequeueFromDLQCommand {
	return &RequeueFromDLQCommand{service: service}
}

func (c *RequeueFromDLQCommand) Execute(ctx context.Context, msg RequeueFromDLQMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: job service is required")
	}
	out, err := c.service.RequeueFromDLQ(ctx, msg.JobID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
