package core

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrInvalidMoney                       = errors.New("core: invalid money value")
	ErrInvalidTransactionStatusTransition = errors.New("core: invalid transaction status transition")
	ErrInvalidMilestoneStatusTransition   = errors.New("core: invalid milestone status transition")
	ErrInvalidEscrowStatusTransition      = errors.New("core: invalid escrow status transition")
	ErrInvalidPayoutBatchStatusTransition = errors.New("core: invalid payout batch status transition")
	ErrInvalidPayoutItemStatusTransition  = errors.New("core: invalid payout item status transition")
	ErrInvalidJobStatusTransition         = errors.New("core: invalid job status transition")
	ErrMilestoneNotFound                  = errors.New("core: milestone not found")
	ErrEscrowNotFound                     = errors.New("core: escrow not found")
	ErrTransactionNotFound                = errors.New("core: transaction not found")
	ErrPayoutBatchNotFound                = errors.New("core: payout batch not found")
	ErrJobNotFound                        = errors.New("core: job not found")
)

// isCurrencyCode matches ISO-4217 style alphabetic codes.
var isCurrencyCode = regexp.MustCompile(`^[A-Z]{3}$`).MatchString

// Money is an integer amount in minor currency units. No floating point
// amounts are ever persisted or computed on.
type Money struct {
	Amount   int64
	Currency string
}

func NewMoney(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToUpper(strings.TrimSpace(currency))}
}

func (m Money) Validate() error {
	if !isCurrencyCode(m.Currency) {
		return fmt.Errorf("%w: currency %q", ErrInvalidMoney, m.Currency)
	}
	if m.Amount < 0 {
		return fmt.Errorf("%w: negative amount %d", ErrInvalidMoney, m.Amount)
	}
	return nil
}

func (m Money) IsPositive() bool {
	return m.Amount > 0 && isCurrencyCode(m.Currency)
}

func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.Amount, m.Currency)
}

type TransactionStatus string

const (
	TransactionStatusCreated   TransactionStatus = "created"
	TransactionStatusSucceeded TransactionStatus = "succeeded"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Terminal reports whether the transaction reached a final status. Webhook
// replays against a terminal transaction are duplicate deliveries.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusSucceeded || s == TransactionStatusFailed
}

// Transaction records a payment intent issued through the PSP gateway. The
// provider intent id is what inbound webhook events must correlate against.
type Transaction struct {
	ID                      string
	ProjectID               string
	MilestoneID             string
	Amount                  int64
	Currency                string
	ProviderID              string
	ProviderPaymentIntentID string
	Status                  TransactionStatus
	FailureReason           string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (t *Transaction) TransitionTo(status TransactionStatus, now time.Time) error {
	if t == nil {
		return nil
	}
	if t.Status == status {
		t.UpdatedAt = now
		return nil
	}
	if !transactionTransitionAllowed(t.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransactionStatusTransition, t.Status, status)
	}
	t.Status = status
	t.UpdatedAt = now
	return nil
}

func transactionTransitionAllowed(current, next TransactionStatus) bool {
	allowed := map[TransactionStatus]map[TransactionStatus]struct{}{
		TransactionStatusCreated: {
			TransactionStatusSucceeded: {},
			TransactionStatusFailed:    {},
		},
		TransactionStatusSucceeded: {},
		TransactionStatusFailed:    {},
	}
	_, ok := allowed[current][next]
	return ok
}

type MilestoneStatus string

const (
	MilestoneStatusPending   MilestoneStatus = "pending"
	MilestoneStatusFunded    MilestoneStatus = "funded"
	MilestoneStatusCompleted MilestoneStatus = "completed"
	MilestoneStatusApproved  MilestoneStatus = "approved"
	MilestoneStatusDisputed  MilestoneStatus = "disputed"
	MilestoneStatusRejected  MilestoneStatus = "rejected"
)

func (s MilestoneStatus) Terminal() bool {
	return s == MilestoneStatusApproved || s == MilestoneStatusRejected
}

// Milestone belongs to exactly one project and is mutated only through the
// engine's transition operations. Version backs compare-and-swap persistence.
type Milestone struct {
	ID            string
	ProjectID     string
	Title         string
	Amount        int64
	Currency      string
	Status        MilestoneStatus
	EscrowID      string
	DisputeReason string
	PreDispute    MilestoneStatus
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (m *Milestone) TransitionTo(status MilestoneStatus, now time.Time) error {
	if m == nil {
		return nil
	}
	if m.Status == status {
		m.UpdatedAt = now
		return nil
	}
	if !milestoneTransitionAllowed(m.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidMilestoneStatusTransition, m.Status, status)
	}
	if status == MilestoneStatusDisputed {
		m.PreDispute = m.Status
	}
	m.Status = status
	m.UpdatedAt = now
	return nil
}

func milestoneTransitionAllowed(current, next MilestoneStatus) bool {
	allowed := map[MilestoneStatus]map[MilestoneStatus]struct{}{
		MilestoneStatusPending: {
			MilestoneStatusFunded:    {},
			MilestoneStatusCompleted: {},
			MilestoneStatusDisputed:  {},
		},
		MilestoneStatusFunded: {
			MilestoneStatusCompleted: {},
			MilestoneStatusDisputed:  {},
		},
		MilestoneStatusCompleted: {
			MilestoneStatusApproved: {},
			MilestoneStatusDisputed: {},
		},
		MilestoneStatusDisputed: {
			MilestoneStatusApproved: {},
			MilestoneStatusRejected: {},
		},
		MilestoneStatusApproved: {},
		MilestoneStatusRejected: {},
	}
	_, ok := allowed[current][next]
	return ok
}

type EscrowStatus string

const (
	EscrowStatusLocked   EscrowStatus = "locked"
	EscrowStatusHeld     EscrowStatus = "held"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusRefunded EscrowStatus = "refunded"
)

// Active reports whether the escrow still holds funds. At most one active
// escrow may exist per milestone.
func (s EscrowStatus) Active() bool {
	return s == EscrowStatusLocked || s == EscrowStatusHeld
}

// Escrow tracks funds the platform holds against one milestone between the
// payment confirmation and the release or refund.
type Escrow struct {
	ID          string
	MilestoneID string
	ProjectID   string
	Amount      int64
	Currency    string
	ProviderID  string
	ProviderRef string
	Status      EscrowStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (e *Escrow) TransitionTo(status EscrowStatus, now time.Time) error {
	if e == nil {
		return nil
	}
	if e.Status == status {
		e.UpdatedAt = now
		return nil
	}
	if !escrowTransitionAllowed(e.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidEscrowStatusTransition, e.Status, status)
	}
	e.Status = status
	e.UpdatedAt = now
	return nil
}

func escrowTransitionAllowed(current, next EscrowStatus) bool {
	allowed := map[EscrowStatus]map[EscrowStatus]struct{}{
		EscrowStatusLocked: {
			EscrowStatusHeld:     {},
			EscrowStatusReleased: {},
			EscrowStatusRefunded: {},
		},
		EscrowStatusHeld: {
			EscrowStatusLocked:   {},
			EscrowStatusRefunded: {},
		},
		EscrowStatusReleased: {},
		EscrowStatusRefunded: {},
	}
	_, ok := allowed[current][next]
	return ok
}

type PayoutBatchStatus string

const (
	PayoutBatchStatusScheduled  PayoutBatchStatus = "scheduled"
	PayoutBatchStatusProcessing PayoutBatchStatus = "processing"
	PayoutBatchStatusPaid       PayoutBatchStatus = "paid"
	PayoutBatchStatusFailed     PayoutBatchStatus = "failed"
)

// PayoutBatch groups the per-recipient instructions derived from one released
// escrow. The escrow id is the idempotency key: a batch is created exactly
// once per escrow.
type PayoutBatch struct {
	ID          string
	EscrowID    string
	ProjectID   string
	MilestoneID string
	Currency    string
	GrossAmount int64
	PlatformFee int64
	TotalNet    int64
	Withheld    int64
	Status      PayoutBatchStatus
	Items       []PayoutItem
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (b *PayoutBatch) TransitionTo(status PayoutBatchStatus, now time.Time) error {
	if b == nil {
		return nil
	}
	if b.Status == status {
		b.UpdatedAt = now
		return nil
	}
	if !payoutBatchTransitionAllowed(b.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidPayoutBatchStatusTransition, b.Status, status)
	}
	b.Status = status
	b.UpdatedAt = now
	return nil
}

func payoutBatchTransitionAllowed(current, next PayoutBatchStatus) bool {
	allowed := map[PayoutBatchStatus]map[PayoutBatchStatus]struct{}{
		PayoutBatchStatusScheduled: {
			PayoutBatchStatusProcessing: {},
			PayoutBatchStatusFailed:     {},
		},
		PayoutBatchStatusProcessing: {
			PayoutBatchStatusPaid:   {},
			PayoutBatchStatusFailed: {},
		},
		PayoutBatchStatusFailed: {
			PayoutBatchStatusProcessing: {},
		},
		PayoutBatchStatusPaid: {},
	}
	_, ok := allowed[current][next]
	return ok
}

type PayoutItemStatus string

const (
	PayoutItemStatusScheduled  PayoutItemStatus = "scheduled"
	PayoutItemStatusProcessing PayoutItemStatus = "processing"
	PayoutItemStatusPaid       PayoutItemStatus = "paid"
	PayoutItemStatusFailed     PayoutItemStatus = "failed"
)

// PayoutItem carries one recipient's share. Attempts counts PSP transfer
// tries for this item alone, independent of the owning job's attempt counter.
type PayoutItem struct {
	ID                 string
	BatchID            string
	RecipientID        string
	PercentBP          int64
	GrossShare         int64
	FeeShare           int64
	TaxWithheld        int64
	NetAmount          int64
	Status             PayoutItemStatus
	Attempts           int
	ProviderTransferID string
	LastError          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (i *PayoutItem) TransitionTo(status PayoutItemStatus, now time.Time) error {
	if i == nil {
		return nil
	}
	if i.Status == status {
		i.UpdatedAt = now
		return nil
	}
	if !payoutItemTransitionAllowed(i.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidPayoutItemStatusTransition, i.Status, status)
	}
	i.Status = status
	i.UpdatedAt = now
	return nil
}

func payoutItemTransitionAllowed(current, next PayoutItemStatus) bool {
	allowed := map[PayoutItemStatus]map[PayoutItemStatus]struct{}{
		PayoutItemStatusScheduled: {
			PayoutItemStatusProcessing: {},
			PayoutItemStatusFailed:     {},
		},
		PayoutItemStatusProcessing: {
			PayoutItemStatusPaid:   {},
			PayoutItemStatusFailed: {},
		},
		PayoutItemStatusFailed: {
			PayoutItemStatusProcessing: {},
		},
		PayoutItemStatusPaid: {},
	}
	_, ok := allowed[current][next]
	return ok
}

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusLeased    JobStatus = "leased"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusDLQ       JobStatus = "dlq"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusDLQ
}

// Job is a generic unit of asynchronous work consumed by the runner. A job
// always reaches a terminal status; dlq requires operator intervention.
type Job struct {
	ID             string
	Type           string
	Payload        map[string]any
	Status         JobStatus
	Attempts       int
	MaxAttempts    int
	Priority       int
	NextRunAt      *time.Time
	LeaseExpiresAt *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (j *Job) TransitionTo(status JobStatus, now time.Time) error {
	if j == nil {
		return nil
	}
	if j.Status == status {
		j.UpdatedAt = now
		return nil
	}
	if !jobTransitionAllowed(j.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidJobStatusTransition, j.Status, status)
	}
	j.Status = status
	j.UpdatedAt = now
	return nil
}

func jobTransitionAllowed(current, next JobStatus) bool {
	allowed := map[JobStatus]map[JobStatus]struct{}{
		JobStatusQueued: {
			JobStatusLeased: {},
		},
		JobStatusLeased: {
			JobStatusSucceeded: {},
			JobStatusQueued:    {},
			JobStatusFailed:    {},
			JobStatusDLQ:       {},
		},
		JobStatusFailed: {
			JobStatusQueued: {},
			JobStatusDLQ:    {},
		},
		JobStatusSucceeded: {},
		JobStatusDLQ:       {},
	}
	_, ok := allowed[current][next]
	return ok
}

// RevenueSplit is one entry of a project's active split set. An entry with an
// empty RecipientID is a placeholder: it reserves a percentage for a label
// (for example an unregistered collaborator) and is skipped at payout time.
type RevenueSplit struct {
	ID          string
	ProjectID   string
	RecipientID string
	Label       string
	PercentBP   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Resolvable reports whether the split points at a payable recipient.
func (s RevenueSplit) Resolvable() bool {
	return strings.TrimSpace(s.RecipientID) != ""
}

// SettlementEvent is published on the EventPublisherPort whenever funds move
// between states.
type SettlementEvent struct {
	ID          string
	Name        string
	ProjectID   string
	MilestoneID string
	EscrowID    string
	BatchID     string
	OccurredAt  time.Time
	Payload     map[string]any
}

const (
	EventMilestoneFunded   = "settlement.milestone.funded"
	EventMilestoneDisputed = "settlement.milestone.disputed"
	EventMilestoneRejected = "settlement.milestone.rejected"
	EventEscrowReleased    = "settlement.escrow.released"
	EventPayoutScheduled   = "settlement.payout.scheduled"
	EventPayoutPaid        = "settlement.payout.paid"
)
