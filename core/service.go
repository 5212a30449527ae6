package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Engine is the settlement core: split calculation, milestone and escrow
// state machines, webhook reconciliation, and payout scheduling. All
// collaborators are explicit injected ports; the engine keeps no global
// mutable state.
type Engine struct {
	config           Config
	logger           Logger
	loggerProvider   LoggerProvider
	metricsRecorder  MetricsRecorder
	errorMapper      ErrorMapper
	configProvider   ConfigProvider
	optionsResolver  OptionsResolver
	calculator       SplitCalculator
	splitPolicy      SplitPolicy
	milestoneStore   MilestoneStore
	escrowStore      EscrowStore
	transactionStore TransactionStore
	payoutStore      PayoutStore
	splitStore       SplitStore
	jobStore         JobStore
	gateways         map[string]PSPGateway
	membership       MembershipResolver
	notifier         NotificationPort
	jobQueue         JobQueuePort
	events           EventPublisherPort
	now              func() time.Time
}

func NewEngine(cfg Config, options ...Option) (*Engine, error) {
	builder := defaultEngineBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("settlement", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("settlement"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = settlementErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.notifier == nil {
		builder.notifier = NopNotificationPort{}
	}
	if builder.jobQueue == nil {
		builder.jobQueue = NopJobQueuePort{}
	}
	if builder.events == nil {
		builder.events = NopEventPublisherPort{}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.milestoneStore == nil {
		return nil, fmt.Errorf("core: milestone store is required")
	}
	if builder.escrowStore == nil {
		return nil, fmt.Errorf("core: escrow store is required")
	}
	if builder.transactionStore == nil {
		return nil, fmt.Errorf("core: transaction store is required")
	}
	if builder.payoutStore == nil {
		return nil, fmt.Errorf("core: payout store is required")
	}
	if builder.splitStore == nil {
		return nil, fmt.Errorf("core: split store is required")
	}
	if builder.jobStore == nil {
		return nil, fmt.Errorf("core: job store is required")
	}
	if builder.membership == nil {
		return nil, fmt.Errorf("core: membership resolver is required")
	}

	gateways := make(map[string]PSPGateway, len(builder.gateways))
	for _, gateway := range builder.gateways {
		id := strings.TrimSpace(strings.ToLower(gateway.ProviderID()))
		if id == "" {
			return nil, fmt.Errorf("core: gateway provider id is required")
		}
		if _, exists := gateways[id]; exists {
			return nil, fmt.Errorf("core: gateway %q registered twice", id)
		}
		gateways[id] = gateway
	}

	return &Engine{
		config:           finalConfig,
		logger:           logger,
		loggerProvider:   provider,
		metricsRecorder:  builder.metricsRecorder,
		errorMapper:      builder.errorMapper,
		configProvider:   builder.configProvider,
		optionsResolver:  builder.optionsResolver,
		calculator:       NewSplitCalculator(finalConfig.PlatformFeeBP),
		splitPolicy:      SplitPolicy(finalConfig.SplitPolicy),
		milestoneStore:   builder.milestoneStore,
		escrowStore:      builder.escrowStore,
		transactionStore: builder.transactionStore,
		payoutStore:      builder.payoutStore,
		splitStore:       builder.splitStore,
		jobStore:         builder.jobStore,
		gateways:         gateways,
		membership:       builder.membership,
		notifier:         builder.notifier,
		jobQueue:         builder.jobQueue,
		events:           builder.events,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func Setup(cfg Config, options ...Option) (*Engine, error) {
	return NewEngine(cfg, options...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return e.config
}

func (e *Engine) Calculator() SplitCalculator {
	if e == nil {
		return NewSplitCalculator(DefaultPlatformFeeBP)
	}
	return e.calculator
}

func (e *Engine) gateway(providerID string) (PSPGateway, error) {
	id := strings.TrimSpace(strings.ToLower(providerID))
	gateway, ok := e.gateways[id]
	if !ok {
		return nil, fmt.Errorf("core: psp gateway %q not registered", providerID)
	}
	return gateway, nil
}

func (e *Engine) mapError(err error) error {
	if err == nil {
		return nil
	}
	if e == nil || e.errorMapper == nil {
		return err
	}
	mapped := e.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (e *Engine) publish(ctx context.Context, event SettlementEvent) {
	if e == nil || e.events == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now()
	}
	if err := e.events.Publish(ctx, event); err != nil {
		e.logError(ctx, "event publish failed", map[string]any{
			"event_name": event.Name,
			"error":      err.Error(),
		})
	}
}
