package partners

import (
	"context"
	"fmt"
	"net/http"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-partners/command"
	"github.com/goliatone/go-partners/core"
	"github.com/goliatone/go-partners/dispatch"
	"github.com/goliatone/go-partners/inbound"
	"github.com/goliatone/go-partners/ledger"
	"github.com/goliatone/go-partners/query"
	"github.com/goliatone/go-partners/registry"
	"github.com/goliatone/go-partners/signature"
	sqlstore "github.com/goliatone/go-partners/store/sql"
)

// Service wires the partner registry, delivery ledger, webhook dispatcher,
// retry scheduler, and inbound verifier into one assembly.
type Service struct {
	config     core.Config
	registry   *registry.Service
	ledger     *ledger.Service
	dispatcher *dispatch.Dispatcher
	scheduler  *dispatch.RetryScheduler
	verifier   *inbound.Verifier
	queue      core.RetryQueueStore
	stores     core.StoreProvider
}

type Option func(*serviceOptions)

type serviceOptions struct {
	configProvider    core.ConfigProvider
	optionsResolver   core.OptionsResolver
	persistenceClient any
	storeFactory      core.RepositoryStoreFactory
	partnerStore      core.PartnerStore
	logStore          core.WebhookLogStore
	retryQueue        core.RetryQueueStore
	cacheService      repositorycache.CacheService
	secretProvider    core.SecretProvider
	replayLedger      core.ReplayLedger
	emitter           core.DeliveryEventEmitter
	httpClient        *http.Client
	logger            core.Logger
	metrics           core.MetricsRecorder
}

func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(o *serviceOptions) {
		o.configProvider = provider
	}
}

func WithOptionsResolver(resolver core.OptionsResolver) Option {
	return func(o *serviceOptions) {
		o.optionsResolver = resolver
	}
}

// WithPersistenceClient builds the SQL store stack from a go-persistence-bun
// client or a *bun.DB.
func WithPersistenceClient(client any) Option {
	return func(o *serviceOptions) {
		o.persistenceClient = client
	}
}

func WithRepositoryFactory(factory core.RepositoryStoreFactory) Option {
	return func(o *serviceOptions) {
		o.storeFactory = factory
	}
}

func WithPartnerStore(store core.PartnerStore) Option {
	return func(o *serviceOptions) {
		o.partnerStore = store
	}
}

func WithWebhookLogStore(store core.WebhookLogStore) Option {
	return func(o *serviceOptions) {
		o.logStore = store
	}
}

func WithRetryQueueStore(store core.RetryQueueStore) Option {
	return func(o *serviceOptions) {
		o.retryQueue = store
	}
}

// WithCacheService layers a read-through cache over partner lookups.
func WithCacheService(service repositorycache.CacheService) Option {
	return func(o *serviceOptions) {
		o.cacheService = service
	}
}

func WithSecretProvider(provider core.SecretProvider) Option {
	return func(o *serviceOptions) {
		o.secretProvider = provider
	}
}

func WithReplayLedger(replays core.ReplayLedger) Option {
	return func(o *serviceOptions) {
		o.replayLedger = replays
	}
}

func WithDeliveryEventEmitter(emitter core.DeliveryEventEmitter) Option {
	return func(o *serviceOptions) {
		o.emitter = emitter
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *serviceOptions) {
		o.httpClient = client
	}
}

func WithLogger(logger core.Logger) Option {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(o *serviceOptions) {
		o.metrics = recorder
	}
}

// Setup resolves configuration through the provider and resolver layers,
// then assembles the service. Runtime values in cfg take precedence over
// loaded configuration, which takes precedence over defaults.
func Setup(ctx context.Context, cfg Config, opts ...Option) (*Service, error) {
	options := collectOptions(opts)

	defaults := core.DefaultConfig()
	loaded := defaults
	if options.configProvider != nil {
		var err error
		loaded, err = options.configProvider.Load(ctx, defaults)
		if err != nil {
			return nil, fmt.Errorf("partners: load config: %w", err)
		}
	}

	var resolver core.OptionsResolver = core.GoOptionsResolver{}
	if options.optionsResolver != nil {
		resolver = options.optionsResolver
	}
	resolved, err := resolver.Resolve(defaults, loaded, cfg)
	if err != nil {
		return nil, fmt.Errorf("partners: resolve config: %w", err)
	}

	return New(resolved, opts...)
}

// New assembles the service from an already-resolved configuration.
func New(cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := collectOptions(opts)

	var stores core.StoreProvider
	partnerStore := options.partnerStore
	logStore := options.logStore
	retryQueue := options.retryQueue

	factory := options.storeFactory
	if factory == nil && options.persistenceClient != nil {
		factory = sqlstore.NewRepositoryFactory()
	}
	if factory != nil {
		built, err := factory.BuildStores(options.persistenceClient)
		if err != nil {
			return nil, fmt.Errorf("partners: build stores: %w", err)
		}
		stores = built
		if partnerStore == nil {
			partnerStore = built.PartnerStore()
		}
		if logStore == nil {
			logStore = built.WebhookLogStore()
		}
		if retryQueue == nil {
			retryQueue = built.RetryQueueStore()
		}
	}
	if partnerStore == nil {
		partnerStore = registry.NewMemoryPartnerStore()
	}
	if logStore == nil {
		logStore = ledger.NewMemoryWebhookLogStore()
	}
	if retryQueue == nil {
		retryQueue = dispatch.NewMemoryRetryQueue()
	}
	if options.cacheService != nil {
		cached, err := sqlstore.NewCachedPartnerStore(partnerStore, options.cacheService)
		if err != nil {
			return nil, err
		}
		partnerStore = cached
	}

	signer := signature.NewSigner()
	signer.MaxAge = time.Duration(cfg.Signature.MaxAgeSeconds) * time.Second
	signer.FutureSkew = time.Duration(cfg.Signature.FutureSkewSeconds) * time.Second

	registryOpts := []registry.Option{}
	if options.logger != nil {
		registryOpts = append(registryOpts, registry.WithLogger(options.logger))
	}
	if options.metrics != nil {
		registryOpts = append(registryOpts, registry.WithMetricsRecorder(options.metrics))
	}
	if options.secretProvider != nil {
		registryOpts = append(registryOpts, registry.WithSecretProvider(options.secretProvider))
	}
	registryService, err := registry.NewService(partnerStore, signer, registryOpts...)
	if err != nil {
		return nil, err
	}

	ledgerService, err := ledger.NewService(logStore)
	if err != nil {
		return nil, err
	}

	dispatchOpts := []dispatch.Option{
		dispatch.WithSigner(signer),
		dispatch.WithRetryQueue(retryQueue),
		dispatch.WithRetryPolicy(dispatch.NewFixedBackoffPolicy(cfg.Delivery.MaxRetries, cfg.BackoffLadder())),
		dispatch.WithAttemptTimeout(cfg.DeliveryTimeout()),
	}
	if options.logger != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithLogger(options.logger))
	}
	if options.metrics != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithMetricsRecorder(options.metrics))
	}
	if options.emitter != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithDeliveryEventEmitter(options.emitter))
	}
	if options.httpClient != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithHTTPClient(options.httpClient))
	}
	dispatcher, err := dispatch.NewDispatcher(registryService, ledgerService, dispatchOpts...)
	if err != nil {
		return nil, err
	}

	schedulerOpts := []dispatch.SchedulerOption{}
	if options.logger != nil {
		schedulerOpts = append(schedulerOpts, dispatch.WithSchedulerLogger(options.logger))
	}
	scheduler, err := dispatch.NewRetryScheduler(retryQueue, dispatcher, schedulerOpts...)
	if err != nil {
		return nil, err
	}

	verifierOpts := []inbound.Option{
		inbound.WithSignatureVerifier(signer),
	}
	if options.logger != nil {
		verifierOpts = append(verifierOpts, inbound.WithLogger(options.logger))
	}
	if options.metrics != nil {
		verifierOpts = append(verifierOpts, inbound.WithMetricsRecorder(options.metrics))
	}
	if options.replayLedger != nil {
		verifierOpts = append(verifierOpts, inbound.WithReplayLedger(options.replayLedger))
	}
	verifier, err := inbound.NewVerifier(registryService, ledgerService, verifierOpts...)
	if err != nil {
		return nil, err
	}

	return &Service{
		config:     cfg,
		registry:   registryService,
		ledger:     ledgerService,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		verifier:   verifier,
		queue:      retryQueue,
		stores:     stores,
	}, nil
}

func collectOptions(opts []Option) serviceOptions {
	options := serviceOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&options)
	}
	return options
}

func (s *Service) Config() core.Config {
	if s == nil {
		return core.Config{}
	}
	return s.config
}

func (s *Service) Registry() *registry.Service {
	if s == nil {
		return nil
	}
	return s.registry
}

func (s *Service) Ledger() *ledger.Service {
	if s == nil {
		return nil
	}
	return s.ledger
}

func (s *Service) Dispatcher() *dispatch.Dispatcher {
	if s == nil {
		return nil
	}
	return s.dispatcher
}

func (s *Service) Scheduler() *dispatch.RetryScheduler {
	if s == nil {
		return nil
	}
	return s.scheduler
}

func (s *Service) Verifier() *inbound.Verifier {
	if s == nil {
		return nil
	}
	return s.verifier
}

func (s *Service) RetryQueue() core.RetryQueueStore {
	if s == nil {
		return nil
	}
	return s.queue
}

func (s *Service) Stores() core.StoreProvider {
	if s == nil {
		return nil
	}
	return s.stores
}

type Commands struct {
	RegisterPartner       *command.RegisterPartnerCommand
	UpdatePartner         *command.UpdatePartnerCommand
	ActivatePartner       *command.ActivatePartnerCommand
	DeactivatePartner     *command.DeactivatePartnerCommand
	SuspendPartner        *command.SuspendPartnerCommand
	RegenerateSecret      *command.RegenerateSecretCommand
	RecordDeliveryOutcome *command.RecordDeliveryOutcomeCommand
	DispatchEvent         *command.DispatchEventCommand
	DispatchTest          *command.DispatchTestCommand
}

type Queries struct {
	GetPartner       *query.GetPartnerQuery
	GetPartnerByName *query.GetPartnerByNameQuery
	ListPartners     *query.ListPartnersQuery
	ListSubscribed   *query.ListSubscribedQuery
	ListWebhookLogs  *query.ListWebhookLogsQuery
}

type Facade struct {
	service  *Service
	commands Commands
	queries  Queries
}

func NewFacade(service *Service) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("partners: service is required")
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		RegisterPartner:       command.NewRegisterPartnerCommand(service.registry),
		UpdatePartner:         command.NewUpdatePartnerCommand(service.registry),
		ActivatePartner:       command.NewActivatePartnerCommand(service.registry),
		DeactivatePartner:     command.NewDeactivatePartnerCommand(service.registry),
		SuspendPartner:        command.NewSuspendPartnerCommand(service.registry),
		RegenerateSecret:      command.NewRegenerateSecretCommand(service.registry),
		RecordDeliveryOutcome: command.NewRecordDeliveryOutcomeCommand(service.registry),
		DispatchEvent:         command.NewDispatchEventCommand(service.dispatcher),
		DispatchTest:          command.NewDispatchTestCommand(service.dispatcher),
	}
	facade.queries = Queries{
		GetPartner:       query.NewGetPartnerQuery(service.registry),
		GetPartnerByName: query.NewGetPartnerByNameQuery(service.registry),
		ListPartners:     query.NewListPartnersQuery(service.registry),
		ListSubscribed:   query.NewListSubscribedQuery(service.registry),
		ListWebhookLogs:  query.NewListWebhookLogsQuery(service.ledger),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() *Service {
	if f == nil {
		return nil
	}
	return f.service
}
