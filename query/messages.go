package query

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-settlement/core"
)

const (
	TypeGetMilestone     = "settlement.query.milestone.get"
	TypeGetTransaction   = "settlement.query.transaction.get"
	TypeGetEscrow        = "settlement.query.escrow.get"
	TypeGetPayoutBatch   = "settlement.query.payout_batch.get"
	TypeGetBatchByEscrow = "settlement.query.payout_batch.by_escrow"
	TypeGetJob           = "settlement.query.job.get"
	TypeListActiveSplits = "settlement.query.splits.list_active"
	TypeCalculateSplit   = "settlement.query.split.calculate"
)

type GetMilestoneMessage struct {
	MilestoneID string
}

func (GetMilestoneMessage) Type() string { return TypeGetMilestone }

func (m GetMilestoneMessage) Validate() error {
	return requireID(m.MilestoneID, "milestone id")
}

type GetTransactionMessage struct {
	TransactionID string
}

func (GetTransactionMessage) Type() string { return TypeGetTransaction }

func (m GetTransactionMessage) Validate() error {
	return requireID(m.TransactionID, "transaction id")
}

type GetEscrowMessage struct {
	EscrowID string
}

func (GetEscrowMessage) Type() string { return TypeGetEscrow }

func (m GetEscrowMessage) Validate() error {
	return requireID(m.EscrowID, "escrow id")
}

type GetPayoutBatchMessage struct {
	BatchID string
}

func (GetPayoutBatchMessage) Type() string { return TypeGetPayoutBatch }

func (m GetPayoutBatchMessage) Validate() error {
	return requireID(m.BatchID, "batch id")
}

type GetBatchByEscrowMessage struct {
	EscrowID string
}

func (GetBatchByEscrowMessage) Type() string { return TypeGetBatchByEscrow }

func (m GetBatchByEscrowMessage) Validate() error {
	return requireID(m.EscrowID, "escrow id")
}

type GetJobMessage struct {
	JobID string
}

func (GetJobMessage) Type() string { return TypeGetJob }

func (m GetJobMessage) Validate() error {
	return requireID(m.JobID, "job id")
}

type ListActiveSplitsMessage struct {
	ProjectID string
}

func (ListActiveSplitsMessage) Type() string { return TypeListActiveSplits }

func (m ListActiveSplitsMessage) Validate() error {
	return requireID(m.ProjectID, "project id")
}

// CalculateSplitMessage previews a deterministic breakdown for an explicit
// split table without persisting anything.
type CalculateSplitMessage struct {
	Amount   int64
	Currency string
	Splits   []core.SplitInput
}

func (CalculateSplitMessage) Type() string { return TypeCalculateSplit }

func (m CalculateSplitMessage) Validate() error {
	if m.Amount <= 0 {
		return fmt.Errorf("query: amount must be positive")
	}
	if strings.TrimSpace(m.Currency) == "" {
		return fmt.Errorf("query: currency is required")
	}
	if len(m.Splits) == 0 {
		return fmt.Errorf("query: at least one split entry is required")
	}
	return nil
}

func requireID(value string, label string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("query: %s is required", label)
	}
	return nil
}
