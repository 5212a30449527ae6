package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type engineBuilder struct {
	runtimeConfig    Config
	logger           Logger
	loggerProvider   LoggerProvider
	metricsRecorder  MetricsRecorder
	errorMapper      ErrorMapper
	configProvider   ConfigProvider
	optionsResolver  OptionsResolver
	milestoneStore   MilestoneStore
	escrowStore      EscrowStore
	transactionStore TransactionStore
	payoutStore      PayoutStore
	splitStore       SplitStore
	jobStore         JobStore
	gateways         []PSPGateway
	membership       MembershipResolver
	notifier         NotificationPort
	jobQueue         JobQueuePort
	events           EventPublisherPort
}

type Option func(*engineBuilder)

func WithLogger(logger Logger) Option {
	return func(b *engineBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *engineBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *engineBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *engineBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *engineBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *engineBuilder) {
		b.optionsResolver = resolver
	}
}

func WithMilestoneStore(store MilestoneStore) Option {
	return func(b *engineBuilder) {
		b.milestoneStore = store
	}
}

func WithEscrowStore(store EscrowStore) Option {
	return func(b *engineBuilder) {
		b.escrowStore = store
	}
}

func WithTransactionStore(store TransactionStore) Option {
	return func(b *engineBuilder) {
		b.transactionStore = store
	}
}

func WithPayoutStore(store PayoutStore) Option {
	return func(b *engineBuilder) {
		b.payoutStore = store
	}
}

func WithSplitStore(store SplitStore) Option {
	return func(b *engineBuilder) {
		b.splitStore = store
	}
}

func WithJobStore(store JobStore) Option {
	return func(b *engineBuilder) {
		b.jobStore = store
	}
}

func WithGateway(gateway PSPGateway) Option {
	return func(b *engineBuilder) {
		if gateway != nil {
			b.gateways = append(b.gateways, gateway)
		}
	}
}

func WithMembershipResolver(resolver MembershipResolver) Option {
	return func(b *engineBuilder) {
		b.membership = resolver
	}
}

func WithNotificationPort(port NotificationPort) Option {
	return func(b *engineBuilder) {
		b.notifier = port
	}
}

func WithJobQueuePort(port JobQueuePort) Option {
	return func(b *engineBuilder) {
		b.jobQueue = port
	}
}

func WithEventPublisherPort(port EventPublisherPort) Option {
	return func(b *engineBuilder) {
		b.events = port
	}
}

func defaultEngineBuilder(runtime Config) engineBuilder {
	loggerProvider, logger := glog.Resolve("settlement", nil, nil)
	return engineBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     settlementErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		notifier:        NopNotificationPort{},
		jobQueue:        NopJobQueuePort{},
		events:          NopEventPublisherPort{},
	}
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || cfg.PlatformFeeBP != 0 {
		layer["platform_fee_bp"] = cfg.PlatformFeeBP
	}
	if includeZero || strings.TrimSpace(cfg.SplitPolicy) != "" {
		layer["split_policy"] = cfg.SplitPolicy
	}
	if includeZero || cfg.Jobs != (JobsConfig{}) {
		layer["jobs"] = map[string]any{
			"lease_seconds":           cfg.Jobs.LeaseSeconds,
			"initial_backoff_seconds": cfg.Jobs.InitialBackoffSeconds,
			"max_backoff_seconds":     cfg.Jobs.MaxBackoffSeconds,
		}
	}
	return layer
}
