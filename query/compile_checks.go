package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-settlement/core"
)

var (
	_ gocmd.Querier[GetMilestoneMessage, core.Milestone]          = (*GetMilestoneQuery)(nil)
	_ gocmd.Querier[GetTransactionMessage, core.Transaction]      = (*GetTransactionQuery)(nil)
	_ gocmd.Querier[GetEscrowMessage, core.Escrow]                = (*GetEscrowQuery)(nil)
	_ gocmd.Querier[GetPayoutBatchMessage, core.PayoutBatch]      = (*GetPayoutBatchQuery)(nil)
	_ gocmd.Querier[GetBatchByEscrowMessage, core.PayoutBatch]    = (*GetBatchByEscrowQuery)(nil)
	_ gocmd.Querier[GetJobMessage, core.Job]                      = (*GetJobQuery)(nil)
	_ gocmd.Querier[ListActiveSplitsMessage, []core.RevenueSplit] = (*ListActiveSplitsQuery)(nil)
	_ gocmd.Querier[CalculateSplitMessage, core.Breakdown]        = (*CalculateSplitQuery)(nil)
)
