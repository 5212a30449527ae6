package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// Actor identifies who is invoking a milestone operation. Authorization
// itself is delegated to the MembershipResolver.
type Actor struct {
	ID string
}

// MembershipResolver answers the delegated project membership and ownership
// checks. The identity system backing it is an external collaborator.
type MembershipResolver interface {
	IsMember(ctx context.Context, projectID string, actorID string) (bool, error)
	IsOwner(ctx context.Context, projectID string, actorID string) (bool, error)
}

type CreateMilestoneInput struct {
	ProjectID string
	Title     string
	Amount    int64
	Currency  string
}

type CreateIntentInput struct {
	ProjectID   string
	MilestoneID string
	ProviderID  string
	Amount      int64
	Currency    string
	Metadata    map[string]any
}

// CreateIntentResult carries the provider handle the payer completes the
// payment against. Exactly one of ClientSecret or CheckoutURL is set,
// depending on the provider's integration style.
type CreateIntentResult struct {
	Transaction      Transaction
	ProviderIntentID string
	ClientSecret     string
	CheckoutURL      string
}

// ProviderEvent is the normalized form of an inbound PSP webhook event.
// CorrelationID carries the internal transaction id the provider echoes
// back; it is the idempotency key for all reconciliation effects.
type ProviderEvent struct {
	ProviderID       string
	Type             string
	ProviderObjectID string
	CorrelationID    string
	DeliveryID       string
	OccurredAt       time.Time
	Raw              map[string]any
}

const (
	ProviderEventPaymentSucceeded = "payment.succeeded"
	ProviderEventOrderPaid        = "order.paid"
	ProviderEventPaymentFailed    = "payment.failed"
)

// ReconcileResult reports what a webhook event did. Duplicate means the
// transaction was already terminal and the event was absorbed without side
// effects.
type ReconcileResult struct {
	Transaction Transaction
	Duplicate   bool
	EscrowID    string
}

type SchedulePayoutsInput struct {
	EscrowID    string
	ProjectID   string
	MilestoneID string
	Amount      int64
	Currency    string
}

type SplitInput struct {
	RecipientID string
	Label       string
	Percent     float64
}

// MilestoneStore persists milestones. Update is a compare-and-swap on the
// milestone version: a stale version must fail without writing.
type MilestoneStore interface {
	Create(ctx context.Context, milestone Milestone) (Milestone, error)
	Get(ctx context.Context, id string) (Milestone, error)
	Update(ctx context.Context, milestone Milestone, expectedVersion int) (Milestone, error)
}

// EscrowStore persists escrows. UpdateStatusIf performs the conditional
// mutation: the write succeeds only when the current status is one of from.
type EscrowStore interface {
	Create(ctx context.Context, escrow Escrow) (Escrow, error)
	Get(ctx context.Context, id string) (Escrow, error)
	FindActiveByMilestone(ctx context.Context, milestoneID string) (Escrow, bool, error)
	UpdateStatusIf(ctx context.Context, id string, from []EscrowStatus, to EscrowStatus) (Escrow, error)
}

// TransactionStore persists payment transactions. MarkTerminalIf finalizes a
// transaction only while it is still in created; it reports updated=false
// when the transaction was already terminal, which callers must treat as a
// duplicate delivery.
type TransactionStore interface {
	Create(ctx context.Context, tx Transaction) (Transaction, error)
	Get(ctx context.Context, id string) (Transaction, error)
	GetByProviderIntent(ctx context.Context, providerID string, providerIntentID string) (Transaction, error)
	MarkTerminalIf(ctx context.Context, id string, to TransactionStatus, reason string) (Transaction, bool, error)
}

// PayoutStore persists batches and items. CreateBatch enforces the
// one-batch-per-escrow idempotency key atomically: a concurrent or repeated
// create for the same escrow id fails with ErrAlreadyScheduled.
type PayoutStore interface {
	CreateBatch(ctx context.Context, batch PayoutBatch) (PayoutBatch, error)
	GetBatch(ctx context.Context, id string) (PayoutBatch, error)
	GetBatchByEscrow(ctx context.Context, escrowID string) (PayoutBatch, error)
	UpdateBatchStatusIf(ctx context.Context, id string, from []PayoutBatchStatus, to PayoutBatchStatus) (PayoutBatch, error)
	UpdateItem(ctx context.Context, item PayoutItem) (PayoutItem, error)
	ListItems(ctx context.Context, batchID string) ([]PayoutItem, error)
}

// SplitStore persists a project's active revenue split set. Replace swaps
// the whole set inside one transaction; the set was validated before.
type SplitStore interface {
	Replace(ctx context.Context, projectID string, splits []RevenueSplit) ([]RevenueSplit, error)
	ListActive(ctx context.Context, projectID string) ([]RevenueSplit, error)
}

// JobStore persists asynchronous jobs. Lease claims up to limit runnable
// jobs exclusively; a claimed lease expires at leaseUntil so crashed workers
// release their jobs back to queued.
type JobStore interface {
	Enqueue(ctx context.Context, job Job) (Job, error)
	Get(ctx context.Context, id string) (Job, error)
	Lease(ctx context.Context, jobType string, now time.Time, leaseUntil time.Time, limit int) ([]Job, error)
	MarkSucceeded(ctx context.Context, id string) error
	Requeue(ctx context.Context, id string, attempts int, nextRunAt time.Time, lastError string) error
	MoveToDLQ(ctx context.Context, id string, lastError string) error
	RequeueFromDLQ(ctx context.Context, id string) (Job, error)
}

// PSPGateway is the payment provider capability. All three operations are
// asynchronous on the provider side; final confirmation arrives by webhook.
type PSPGateway interface {
	ProviderID() string
	CreateIntent(ctx context.Context, req PSPIntentRequest) (PSPIntentResult, error)
	CaptureAndTransfer(ctx context.Context, req PSPTransferRequest) (PSPTransferResult, error)
	Refund(ctx context.Context, req PSPRefundRequest) (PSPRefundResult, error)
}

type PSPIntentRequest struct {
	Amount        int64
	Currency      string
	CorrelationID string
	Metadata      map[string]any
}

type PSPIntentResult struct {
	ProviderIntentID string
	ClientSecret     string
	CheckoutURL      string
}

type PSPTransferRequest struct {
	ProviderRef    string
	RecipientID    string
	Amount         int64
	Currency       string
	IdempotencyKey string
}

type PSPTransferResult struct {
	ProviderTransferID string
	Status             string
}

type PSPRefundRequest struct {
	ProviderRef string
	Amount      int64
	Currency    string
}

type PSPRefundResult struct {
	ProviderRefundID string
	Status           string
}

// NotificationPort delivers user-facing notifications. The engine only
// emits; templating and channels live elsewhere.
type NotificationPort interface {
	Notify(ctx context.Context, recipientID string, kind string, payload map[string]any) error
}

// JobQueuePort signals an external queue that persisted work is runnable.
// The durable job row in JobStore is authoritative; this is the wake-up.
type JobQueuePort interface {
	Enqueue(ctx context.Context, jobID string, jobType string, payload map[string]any) error
}

// EventPublisherPort publishes settlement lifecycle events.
type EventPublisherPort interface {
	Publish(ctx context.Context, event SettlementEvent) error
}

type NopNotificationPort struct{}

func (NopNotificationPort) Notify(context.Context, string, string, map[string]any) error {
	return nil
}

type NopJobQueuePort struct{}

func (NopJobQueuePort) Enqueue(context.Context, string, string, map[string]any) error {
	return nil
}

type NopEventPublisherPort struct{}

func (NopEventPublisherPort) Publish(context.Context, SettlementEvent) error {
	return nil
}

var (
	_ NotificationPort   = NopNotificationPort{}
	_ JobQueuePort       = NopJobQueuePort{}
	_ EventPublisherPort = NopEventPublisherPort{}
)
