package settlement

import "github.com/goliatone/go-settlement/core"

type Config = core.Config

type JobsConfig = core.JobsConfig

type Option = core.Option

type Engine = core.Engine

type Actor = core.Actor

type Milestone = core.Milestone
type Escrow = core.Escrow
type Transaction = core.Transaction
type PayoutBatch = core.PayoutBatch
type PayoutItem = core.PayoutItem
type RevenueSplit = core.RevenueSplit
type Job = core.Job
type Breakdown = core.Breakdown

type CreateMilestoneInput = core.CreateMilestoneInput
type CreateIntentInput = core.CreateIntentInput
type CreateIntentResult = core.CreateIntentResult
type SchedulePayoutsInput = core.SchedulePayoutsInput
type SplitInput = core.SplitInput
type ProviderEvent = core.ProviderEvent
type ReconcileResult = core.ReconcileResult

type MilestoneStore = core.MilestoneStore
type EscrowStore = core.EscrowStore
type TransactionStore = core.TransactionStore
type PayoutStore = core.PayoutStore
type SplitStore = core.SplitStore
type JobStore = core.JobStore
type PSPGateway = core.PSPGateway
type MembershipResolver = core.MembershipResolver
type NotificationPort = core.NotificationPort
type JobQueuePort = core.JobQueuePort
type EventPublisherPort = core.EventPublisherPort

var (
	WithLogger             = core.WithLogger
	WithLoggerProvider     = core.WithLoggerProvider
	WithMetricsRecorder    = core.WithMetricsRecorder
	WithErrorMapper        = core.WithErrorMapper
	WithConfigProvider     = core.WithConfigProvider
	WithOptionsResolver    = core.WithOptionsResolver
	WithMilestoneStore     = core.WithMilestoneStore
	WithEscrowStore        = core.WithEscrowStore
	WithTransactionStore   = core.WithTransactionStore
	WithPayoutStore        = core.WithPayoutStore
	WithSplitStore         = core.WithSplitStore
	WithJobStore           = core.WithJobStore
	WithGateway            = core.WithGateway
	WithMembershipResolver = core.WithMembershipResolver
	WithNotificationPort   = core.WithNotificationPort
	WithJobQueuePort       = core.WithJobQueuePort
	WithEventPublisherPort = core.WithEventPublisherPort
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	return core.NewEngine(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Engine, error) {
	return core.Setup(cfg, opts...)
}
