package query

import (
	"context"

	"github.com/goliatone/go-settlement/core"
)

type MilestoneReader interface {
	GetMilestone(ctx context.Context, id string) (core.Milestone, error)
}

type TransactionReader interface {
	GetTransaction(ctx context.Context, id string) (core.Transaction, error)
}

type EscrowReader interface {
	GetEscrow(ctx context.Context, id string) (core.Escrow, error)
}

type PayoutReader interface {
	GetPayoutBatch(ctx context.Context, id string) (core.PayoutBatch, error)
	GetPayoutBatchByEscrow(ctx context.Context, escrowID string) (core.PayoutBatch, error)
}

type JobReader interface {
	GetJob(ctx context.Context, id string) (core.Job, error)
}

type SplitReader interface {
	ActiveSplits(ctx context.Context, projectID string) ([]core.RevenueSplit, error)
	CalculateSplit(ctx context.Context, amount int64, currency string, splits []core.SplitInput) (core.Breakdown, error)
}

type GetMilestoneQuery struct {
	reader MilestoneReader
}

func NewGetMilestoneQuery(reader MilestoneReader) *GetMilestoneQuery {
	return &GetMilestoneQuery{reader: reader}
}

func (q *GetMilestoneQuery) Query(ctx context.Context, msg GetMilestoneMessage) (core.Milestone, error) {
	if q == nil || q.reader == nil {
		return core.Milestone{}, queryDependencyError("query: milestone reader is required")
	}
	return q.reader.GetMilestone(ctx, msg.MilestoneID)
}

type GetTransactionQuery struct {
	reader TransactionReader
}

func NewGetTransactionQuery(reader TransactionReader) *GetTransactionQuery {
	return &GetTransactionQuery{reader: reader}
}

func (q *GetTransactionQuery) Query(ctx context.Context, msg GetTransactionMessage) (core.Transaction, error) {
	if q == nil || q.reader == nil {
		return core.Transaction{}, queryDependencyError("query: transaction reader is required")
	}
	return q.reader.GetTransaction(ctx, msg.TransactionID)
}

type GetEscrowQuery struct {
	reader EscrowReader
}

func NewGetEscrowQuery(reader EscrowReader) *GetEscrowQuery {
	return &GetEscrowQuery{reader: reader}
}

func (q *GetEscrowQuery) Query(ctx context.Context, msg GetEscrowMessage) (core.Escrow, error) {
	if q == nil || q.reader == nil {
		return core.Escrow{}, queryDependencyError("query: escrow reader is required")
	}
	return q.reader.GetEscrow(ctx, msg.EscrowID)
}

type GetPayoutBatchQuery struct {
	reader PayoutReader
}

func NewGetPayoutBatchQuery(reader PayoutReader) *GetPayoutBatchQuery {
	return &GetPayoutBatchQuery{reader: reader}
}

func (q *GetPayoutBatchQuery) Query(ctx context.Context, msg GetPayoutBatchMessage) (core.PayoutBatch, error) {
	if q == nil || q.reader == nil {
		return core.PayoutBatch{}, queryDependencyError("query: payout reader is required")
	}
	return q.reader.GetPayoutBatch(ctx, msg.BatchID)
}

type GetBatchByEscrowQuery struct {
	reader PayoutReader
}

func NewGetBatchByEscrowQuery(reader PayoutReader) *GetBatchByEscrowQuery {
	return &GetBatchByEscrowQuery{reader: reader}
}

func (q *GetBatchByEscrowQuery) Query(ctx context.Context, msg GetBatchByEscrowMessage) (core.PayoutBatch, error) {
	if q == nil || q.reader == nil {
		return core.PayoutBatch{}, queryDependencyError("query: payout reader is required")
	}
	return q.reader.GetPayoutBatchByEscrow(ctx, msg.EscrowID)
}

type GetJobQuery struct {
	reader JobReader
}

func NewGetJobQuery(reader JobReader) *GetJobQuery {
	return &GetJobQuery{reader: reader}
}

func (q *GetJobQuery) Query(ctx context.Context, msg GetJobMessage) (core.Job, error) {
	if q == nil || q.reader == nil {
		return core.Job{}, queryDependencyError("query: job reader is required")
	}
	return q.reader.GetJob(ctx, msg.JobID)
}

type ListActiveSplitsQuery struct {
	reader SplitReader
}

func NewListActiveSplitsQuery(reader SplitReader) *ListActiveSplitsQuery {
	return &ListActiveSplitsQuery{reader: reader}
}

func (q *ListActiveSplitsQuery) Query(ctx context.Context, msg ListActiveSplitsMessage) ([]core.RevenueSplit, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: split reader is required")
	}
	return q.reader.ActiveSplits(ctx, msg.ProjectID)
}

type CalculateSplitQuery struct {
	reader SplitReader
}

func NewCalculateSplitQuery(reader SplitReader) *CalculateSplitQuery {
	return &CalculateSplitQuery{reader: reader}
}

func (q *CalculateSplitQuery) Query(ctx context.Context, msg CalculateSplitMessage) (core.Breakdown, error) {
	if q == nil || q.reader == nil {
		return core.Breakdown{}, queryDependencyError("query: split reader is required")
	}
	return q.reader.CalculateSplit(ctx, msg.Amount, msg.Currency, msg.Splits)
}
