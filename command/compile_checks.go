package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[CreateMilestoneMessage]    = (*CreateMilestoneCommand)(nil)
	_ gocmd.Commander[CreateIntentMessage]       = (*CreateIntentCommand)(nil)
	_ gocmd.Commander[CompleteMilestoneMessage]  = (*CompleteMilestoneCommand)(nil)
	_ gocmd.Commander[ApproveMilestoneMessage]   = (*ApproveMilestoneCommand)(nil)
	_ gocmd.Commander[DisputeMilestoneMessage]   = (*DisputeMilestoneCommand)(nil)
	_ gocmd.Commander[RejectMilestoneMessage]    = (*RejectMilestoneCommand)(nil)
	_ gocmd.Commander[ResolveDisputeMessage]     = (*ResolveDisputeCommand)(nil)
	_ gocmd.Commander[ReplaceSplitsMessage]      = (*ReplaceSplitsCommand)(nil)
	_ gocmd.Commander[SchedulePayoutsMessage]    = (*SchedulePayoutsCommand)(nil)
	_ gocmd.Commander[ExecutePayoutBatchMessage] = (*ExecutePayoutBatchCommand)(nil)
	_ gocmd.Commander[RequeueFromDLQMessage]     = (*RequeueFromDLQCommand)(nil)
)
