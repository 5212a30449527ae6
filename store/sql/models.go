package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-settlement/core"
)

type transactionRecord struct {
	bun.BaseModel `bun:"table:settlement_transactions,alias:stx"`

	ID                      string    `bun:"id,pk"`
	ProjectID               string    `bun:"project_id,notnull"`
	MilestoneID             string    `bun:"milestone_id,notnull"`
	Amount                  int64     `bun:"amount,notnull"`
	Currency                string    `bun:"currency,notnull"`
	ProviderID              string    `bun:"provider_id,notnull"`
	ProviderPaymentIntentID string    `bun:"provider_payment_intent_id,notnull"`
	Status                  string    `bun:"status,notnull"`
	FailureReason           string    `bun:"failure_reason"`
	CreatedAt               time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt               time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newTransactionRecord(tx core.Transaction) *transactionRecord {
	return &transactionRecord{
		ID:                      tx.ID,
		ProjectID:               tx.ProjectID,
		MilestoneID:             tx.MilestoneID,
		Amount:                  tx.Amount,
		Currency:                tx.Currency,
		ProviderID:              tx.ProviderID,
		ProviderPaymentIntentID: tx.ProviderPaymentIntentID,
		Status:                  string(tx.Status),
		FailureReason:           tx.FailureReason,
		CreatedAt:               tx.CreatedAt,
		UpdatedAt:               tx.UpdatedAt,
	}
}

func (r *transactionRecord) toDomain() core.Transaction {
	if r == nil {
		return core.Transaction{}
	}
	return core.Transaction{
		ID:                      r.ID,
		ProjectID:               r.ProjectID,
		MilestoneID:             r.MilestoneID,
		Amount:                  r.Amount,
		Currency:                r.Currency,
		ProviderID:              r.ProviderID,
		ProviderPaymentIntentID: r.ProviderPaymentIntentID,
		Status:                  core.TransactionStatus(r.Status),
		FailureReason:           r.FailureReason,
		CreatedAt:               r.CreatedAt,
		UpdatedAt:               r.UpdatedAt,
	}
}

type milestoneRecord struct {
	bun.BaseModel `bun:"table:settlement_milestones,alias:sms"`

	ID            string    `bun:"id,pk"`
	ProjectID     string    `bun:"project_id,notnull"`
	Title         string    `bun:"title,notnull"`
	Amount        int64     `bun:"amount,notnull"`
	Currency      string    `bun:"currency,notnull"`
	Status        string    `bun:"status,notnull"`
	EscrowID      string    `bun:"escrow_id"`
	DisputeReason string    `bun:"dispute_reason"`
	PreDispute    string    `bun:"pre_dispute_status"`
	Version       int       `bun:"version,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newMilestoneRecord(milestone core.Milestone) *milestoneRecord {
	return &milestoneRecord{
		ID:            milestone.ID,
		ProjectID:     milestone.ProjectID,
		Title:         milestone.Title,
		Amount:        milestone.Amount,
		Currency:      milestone.Currency,
		Status:        string(milestone.Status),
		EscrowID:      milestone.EscrowID,
		DisputeReason: milestone.DisputeReason,
		PreDispute:    string(milestone.PreDispute),
		Version:       milestone.Version,
		CreatedAt:     milestone.CreatedAt,
		UpdatedAt:     milestone.UpdatedAt,
	}
}

func (r *milestoneRecord) toDomain() core.Milestone {
	if r == nil {
		return core.Milestone{}
	}
	return core.Milestone{
		ID:            r.ID,
		ProjectID:     r.ProjectID,
		Title:         r.Title,
		Amount:        r.Amount,
		Currency:      r.Currency,
		Status:        core.MilestoneStatus(r.Status),
		EscrowID:      r.EscrowID,
		DisputeReason: r.DisputeReason,
		PreDispute:    core.MilestoneStatus(r.PreDispute),
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type escrowRecord struct {
	bun.BaseModel `bun:"table:settlement_escrows,alias:ses"`

	ID          string    `bun:"id,pk"`
	MilestoneID string    `bun:"milestone_id,notnull"`
	ProjectID   string    `bun:"project_id,notnull"`
	Amount      int64     `bun:"amount,notnull"`
	Currency    string    `bun:"currency,notnull"`
	ProviderID  string    `bun:"provider_id,notnull"`
	ProviderRef string    `bun:"provider_ref,notnull"`
	Status      string    `bun:"status,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newEscrowRecord(escrow core.Escrow) *escrowRecord {
	return &escrowRecord{
		ID:          escrow.ID,
		MilestoneID: escrow.MilestoneID,
		ProjectID:   escrow.ProjectID,
		Amount:      escrow.Amount,
		Currency:    escrow.Currency,
		ProviderID:  escrow.ProviderID,
		ProviderRef: escrow.ProviderRef,
		Status:      string(escrow.Status),
		CreatedAt:   escrow.CreatedAt,
		UpdatedAt:   escrow.UpdatedAt,
	}
}

func (r *escrowRecord) toDomain() core.Escrow {
	if r == nil {
		return core.Escrow{}
	}
	return core.Escrow{
		ID:          r.ID,
		MilestoneID: r.MilestoneID,
		ProjectID:   r.ProjectID,
		Amount:      r.Amount,
		Currency:    r.Currency,
		ProviderID:  r.ProviderID,
		ProviderRef: r.ProviderRef,
		Status:      core.EscrowStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type payoutBatchRecord struct {
	bun.BaseModel `bun:"table:settlement_payout_batches,alias:spb"`

	ID          string    `bun:"id,pk"`
	EscrowID    string    `bun:"escrow_id,notnull"`
	ProjectID   string    `bun:"project_id,notnull"`
	MilestoneID string    `bun:"milestone_id"`
	Currency    string    `bun:"currency,notnull"`
	GrossAmount int64     `bun:"gross_amount,notnull"`
	PlatformFee int64     `bun:"platform_fee,notnull"`
	TotalNet    int64     `bun:"total_net,notnull"`
	Withheld    int64     `bun:"withheld,notnull"`
	Status      string    `bun:"status,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newPayoutBatchRecord(batch core.PayoutBatch) *payoutBatchRecord {
	return &payoutBatchRecord{
		ID:          batch.ID,
		EscrowID:    batch.EscrowID,
		ProjectID:   batch.ProjectID,
		MilestoneID: batch.MilestoneID,
		Currency:    batch.Currency,
		GrossAmount: batch.GrossAmount,
		PlatformFee: batch.PlatformFee,
		TotalNet:    batch.TotalNet,
		Withheld:    batch.Withheld,
		Status:      string(batch.Status),
		CreatedAt:   batch.CreatedAt,
		UpdatedAt:   batch.UpdatedAt,
	}
}

func (r *payoutBatchRecord) toDomain() core.PayoutBatch {
	if r == nil {
		return core.PayoutBatch{}
	}
	return core.PayoutBatch{
		ID:          r.ID,
		EscrowID:    r.EscrowID,
		ProjectID:   r.ProjectID,
		MilestoneID: r.MilestoneID,
		Currency:    r.Currency,
		GrossAmount: r.GrossAmount,
		PlatformFee: r.PlatformFee,
		TotalNet:    r.TotalNet,
		Withheld:    r.Withheld,
		Status:      core.PayoutBatchStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type payoutItemRecord struct {
	bun.BaseModel `bun:"table:settlement_payout_items,alias:spi"`

	ID                 string    `bun:"id,pk"`
	BatchID            string    `bun:"batch_id,notnull"`
	RecipientID        string    `bun:"recipient_id,notnull"`
	PercentBP          int64     `bun:"percent_bp,notnull"`
	GrossShare         int64     `bun:"gross_share,notnull"`
	FeeShare           int64     `bun:"fee_share,notnull"`
	TaxWithheld        int64     `bun:"tax_withheld,notnull"`
	NetAmount          int64     `bun:"net_amount,notnull"`
	Status             string    `bun:"status,notnull"`
	Attempts           int       `bun:"attempts,notnull"`
	ProviderTransferID string    `bun:"provider_transfer_id"`
	LastError          string    `bun:"last_error"`
	CreatedAt          time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt          time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newPayoutItemRecord(item core.PayoutItem) *payoutItemRecord {
	return &payoutItemRecord{
		ID:                 item.ID,
		BatchID:            item.BatchID,
		RecipientID:        item.RecipientID,
		PercentBP:          item.PercentBP,
		GrossShare:         item.GrossShare,
		FeeShare:           item.FeeShare,
		TaxWithheld:        item.TaxWithheld,
		NetAmount:          item.NetAmount,
		Status:             string(item.Status),
		Attempts:           item.Attempts,
		ProviderTransferID: item.ProviderTransferID,
		LastError:          item.LastError,
		CreatedAt:          item.CreatedAt,
		UpdatedAt:          item.UpdatedAt,
	}
}

func (r *payoutItemRecord) toDomain() core.PayoutItem {
	if r == nil {
		return core.PayoutItem{}
	}
	return core.PayoutItem{
		ID:                 r.ID,
		BatchID:            r.BatchID,
		RecipientID:        r.RecipientID,
		PercentBP:          r.PercentBP,
		GrossShare:         r.GrossShare,
		FeeShare:           r.FeeShare,
		TaxWithheld:        r.TaxWithheld,
		NetAmount:          r.NetAmount,
		Status:             core.PayoutItemStatus(r.Status),
		Attempts:           r.Attempts,
		ProviderTransferID: r.ProviderTransferID,
		LastError:          r.LastError,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

type jobRecord struct {
	bun.BaseModel `bun:"table:settlement_jobs,alias:sjb"`

	ID             string         `bun:"id,pk"`
	Type           string         `bun:"type,notnull"`
	Payload        map[string]any `bun:"payload,type:jsonb,notnull"`
	Status         string         `bun:"status,notnull"`
	Attempts       int            `bun:"attempts,notnull"`
	MaxAttempts    int            `bun:"max_attempts,notnull"`
	Priority       int            `bun:"priority,notnull"`
	NextRunAt      *time.Time     `bun:"next_run_at,nullzero"`
	LeaseExpiresAt *time.Time     `bun:"lease_expires_at,nullzero"`
	LastError      string         `bun:"last_error"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newJobRecord(job core.Job) *jobRecord {
	payload := job.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return &jobRecord{
		ID:             job.ID,
		Type:           job.Type,
		Payload:        payload,
		Status:         string(job.Status),
		Attempts:       job.Attempts,
		MaxAttempts:    job.MaxAttempts,
		Priority:       job.Priority,
		NextRunAt:      job.NextRunAt,
		LeaseExpiresAt: job.LeaseExpiresAt,
		LastError:      job.LastError,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
}

func (r *jobRecord) toDomain() core.Job {
	if r == nil {
		return core.Job{}
	}
	return core.Job{
		ID:             r.ID,
		Type:           r.Type,
		Payload:        r.Payload,
		Status:         core.JobStatus(r.Status),
		Attempts:       r.Attempts,
		MaxAttempts:    r.MaxAttempts,
		Priority:       r.Priority,
		NextRunAt:      r.NextRunAt,
		LeaseExpiresAt: r.LeaseExpiresAt,
		LastError:      r.LastError,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

type revenueSplitRecord struct {
	bun.BaseModel `bun:"table:settlement_revenue_splits,alias:srs"`

	ID          string    `bun:"id,pk"`
	ProjectID   string    `bun:"project_id,notnull"`
	RecipientID string    `bun:"recipient_id"`
	Label       string    `bun:"label"`
	PercentBP   int64     `bun:"percent_bp,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newRevenueSplitRecord(split core.RevenueSplit) *revenueSplitRecord {
	return &revenueSplitRecord{
		ID:          split.ID,
		ProjectID:   split.ProjectID,
		RecipientID: split.RecipientID,
		Label:       split.Label,
		PercentBP:   split.PercentBP,
		CreatedAt:   split.CreatedAt,
		UpdatedAt:   split.UpdatedAt,
	}
}

func (r *revenueSplitRecord) toDomain() core.RevenueSplit {
	if r == nil {
		return core.RevenueSplit{}
	}
	return core.RevenueSplit{
		ID:          r.ID,
		ProjectID:   r.ProjectID,
		RecipientID: r.RecipientID,
		Label:       r.Label,
		PercentBP:   r.PercentBP,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type webhookDeliveryRecord struct {
	bun.BaseModel `bun:"table:settlement_webhook_deliveries,alias:swd"`

	ID             string     `bun:"id,pk"`
	ClaimID        string     `bun:"claim_id,notnull"`
	ProviderID     string     `bun:"provider_id,notnull"`
	DeliveryID     string     `bun:"delivery_id,notnull"`
	Status         string     `bun:"status,notnull"`
	Attempts       int        `bun:"attempts,notnull"`
	Payload        []byte     `bun:"payload"`
	LastError      string     `bun:"last_error"`
	NextAttemptAt  *time.Time `bun:"next_attempt_at,nullzero"`
	LeaseExpiresAt *time.Time `bun:"lease_expires_at,nullzero"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
