package identitytransfer

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-command/runner"
	"github.com/goliatone/go-identity-transfer/adapters/gocommand"
	"github.com/goliatone/go-identity-transfer/auth"
	migrationcommand "github.com/goliatone/go-identity-transfer/command"
	"github.com/goliatone/go-identity-transfer/core"
	"github.com/goliatone/go-identity-transfer/providers/appleid"
	"github.com/goliatone/go-identity-transfer/query"
	"github.com/goliatone/go-identity-transfer/ratelimit"
	"github.com/goliatone/go-identity-transfer/transport"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
)

type Commands struct {
	PhaseOne *migrationcommand.RunPhaseOneCommand
	PhaseTwo *migrationcommand.RunPhaseTwoCommand
}

type Queries struct {
	ListRuns *query.ListRunsQuery
	GetUser  *query.GetUserQuery
}

// Facade wires config, store, provider client and credentials into the two
// migration phases.
type Facade struct {
	cfg        Config
	users      UserStore
	runs       RunStore
	provider   *appleid.Client
	secrets    core.ClientSecretSource
	tokens     *auth.CachedTokenSource
	runnerOpts []core.Option
	logger     glog.Logger
	now        func() time.Time

	persistence *persistence.Client
	close       func(context.Context) error

	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	users          UserStore
	runs           RunStore
	persistence    *persistence.Client
	httpClient     transport.HTTPDoer
	limiter        appleid.Limiter
	secrets        core.ClientSecretSource
	logger         glog.Logger
	loggerProvider glog.LoggerProvider
	runnerOpts     []core.Option
	now            func() time.Time
}

// WithStores replaces the store selected by store.driver.
func WithStores(users UserStore, runs RunStore) FacadeOption {
	return func(o *facadeOptions) {
		o.users = users
		o.runs = runs
	}
}

// WithPersistenceClient reuses client for the sql drivers instead of opening
// store.dsn.
func WithPersistenceClient(client *persistence.Client) FacadeOption {
	return func(o *facadeOptions) {
		o.persistence = client
	}
}

func WithHTTPClient(client transport.HTTPDoer) FacadeOption {
	return func(o *facadeOptions) {
		o.httpClient = client
	}
}

// WithLimiter replaces the adaptive pacing of migration endpoint calls.
func WithLimiter(limiter appleid.Limiter) FacadeOption {
	return func(o *facadeOptions) {
		o.limiter = limiter
	}
}

func WithClientSecretSource(source core.ClientSecretSource) FacadeOption {
	return func(o *facadeOptions) {
		o.secrets = source
	}
}

func WithFacadeLogger(logger glog.Logger) FacadeOption {
	return func(o *facadeOptions) {
		o.logger = logger
	}
}

func WithFacadeLoggerProvider(provider glog.LoggerProvider) FacadeOption {
	return func(o *facadeOptions) {
		o.loggerProvider = provider
	}
}

// WithRunnerOptions appends options to every runner the facade builds.
func WithRunnerOptions(opts ...core.Option) FacadeOption {
	return func(o *facadeOptions) {
		o.runnerOpts = append(o.runnerOpts, opts...)
	}
}

func WithFacadeClock(now func() time.Time) FacadeOption {
	return func(o *facadeOptions) {
		o.now = now
	}
}

func New(ctx context.Context, cfg Config, opts ...FacadeOption) (*Facade, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("identitytransfer: invalid config: %w", err)
	}
	options := facadeOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.now == nil {
		options.now = func() time.Time { return time.Now().UTC() }
	}
	provider, logger := glog.Resolve(cfg.ServiceName, options.loggerProvider, options.logger)

	f := &Facade{
		cfg:         cfg,
		users:       options.users,
		runs:        options.runs,
		logger:      glog.Ensure(logger),
		now:         options.now,
		persistence: options.persistence,
		close:       func(context.Context) error { return nil },
	}

	if f.users == nil {
		bundle, err := openStores(ctx, cfg, options.persistence)
		if err != nil {
			return nil, err
		}
		f.users = bundle.users
		if f.runs == nil {
			f.runs = bundle.runs
		}
		f.persistence = bundle.persistence
		f.close = bundle.close
	}

	limiter := options.limiter
	if limiter == nil {
		policy := ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())
		policy.InitialBackoff = cfg.Run.InitialBackoff
		policy.MaxBackoff = cfg.Run.MaxBackoff
		policy.Now = options.now
		limiter = policy
	}
	providerCfg := appleid.ConfigFrom(cfg)
	providerCfg.Limiter = limiter
	providerCfg.Now = options.now
	client, err := appleid.New(providerCfg, options.httpClient)
	if err != nil {
		_ = f.Close(ctx)
		return nil, err
	}
	f.provider = client

	f.secrets = options.secrets
	if f.secrets == nil {
		secrets, err := auth.NewClientSecretSource(cfg, options.now)
		if err != nil {
			_ = f.Close(ctx)
			return nil, err
		}
		f.secrets = secrets
	}

	if cfg.Run.AccessTokenTTL > 0 {
		cache, err := auth.NewTokenCacheService(cfg.Run.AccessTokenTTL, cfg.Run.RenewBefore)
		if err != nil {
			_ = f.Close(ctx)
			return nil, err
		}
		tokens, err := auth.NewCachedTokenSource(f.secrets, f.provider, cache, auth.CachedTokenSourceConfig{
			ClientID:    cfg.Provider.ClientID,
			RenewBefore: cfg.Run.RenewBefore,
			Now:         options.now,
		})
		if err != nil {
			_ = f.Close(ctx)
			return nil, err
		}
		f.tokens = tokens
	}

	f.runnerOpts = append([]core.Option{
		core.WithConfig(cfg),
		core.WithLoggerProvider(provider),
		core.WithLogger(logger),
		core.WithClock(options.now),
	}, options.runnerOpts...)
	if f.runs != nil {
		f.runnerOpts = append(f.runnerOpts, core.WithRunLedger(f.runs))
	}

	f.commands = Commands{
		PhaseOne: migrationcommand.NewRunPhaseOneCommand(phaseOneRunner{facade: f}),
		PhaseTwo: migrationcommand.NewRunPhaseTwoCommand(phaseTwoRunner{facade: f}),
	}
	f.queries = Queries{GetUser: query.NewGetUserQuery(f.users)}
	if f.runs != nil {
		f.queries.ListRuns = query.NewListRunsQuery(f.runs)
	}
	return f, nil
}

// Credentials issues the access token a run uses. With run.access_token_ttl
// set the token is cached and renewed; otherwise one token is issued per run.
func (f *Facade) Credentials(ctx context.Context) (core.CredentialSource, error) {
	if f == nil || f.provider == nil {
		return nil, fmt.Errorf("identitytransfer: facade is not configured")
	}
	if f.tokens != nil {
		if _, err := f.tokens.Credentials(ctx); err != nil {
			return nil, err
		}
		return f.tokens, nil
	}
	return auth.IssueOnce(ctx, f.secrets, f.provider)
}

// IssueToken issues one access token, for checking provider credentials.
func (f *Facade) IssueToken(ctx context.Context) (core.Credentials, error) {
	source, err := f.Credentials(ctx)
	if err != nil {
		return core.Credentials{}, err
	}
	return source.Credentials(ctx)
}

func (f *Facade) RunPhaseOne(ctx context.Context) (RunReport, error) {
	report := RunReport{Phase: core.PhaseResolveTransfer}
	creds, err := f.Credentials(ctx)
	if err != nil {
		f.logger.Error("could not obtain provider credentials", "phase", report.Phase, "error", err)
		return report, err
	}
	phaseRunner, err := core.NewPhaseOneRunner(f.users, f.provider, creds, f.runnerOpts...)
	if err != nil {
		return report, err
	}
	return phaseRunner.Run(ctx)
}

// RunPhaseTwo must only be called once the provider reports the team
// transfer as complete; confirmation records who attested it.
func (f *Facade) RunPhaseTwo(ctx context.Context, confirmation TransferConfirmation) (RunReport, error) {
	report := RunReport{Phase: core.PhaseExchangeIdentity}
	if err := confirmation.Validate(); err != nil {
		return report, err
	}
	creds, err := f.Credentials(ctx)
	if err != nil {
		f.logger.Error("could not obtain provider credentials", "phase", report.Phase, "error", err)
		return report, err
	}
	phaseRunner, err := core.NewPhaseTwoRunner(f.users, f.provider, creds, f.runnerOpts...)
	if err != nil {
		return report, err
	}
	return phaseRunner.Run(ctx, confirmation)
}

// Bus registers the facade commands and queries with the go-command
// dispatcher. Callers must Close the bus.
func (f *Facade) Bus(runnerOpts ...runner.Option) (*gocommand.Bus, error) {
	if f == nil {
		return nil, fmt.Errorf("identitytransfer: facade is nil")
	}
	return gocommand.NewBus(gocommand.Handlers{
		PhaseOne: f.commands.PhaseOne,
		PhaseTwo: f.commands.PhaseTwo,
		ListRuns: f.queries.ListRuns,
		GetUser:  f.queries.GetUser,
	}, runnerOpts...)
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

func (f *Facade) Config() Config {
	if f == nil {
		return Config{}
	}
	return f.cfg
}

func (f *Facade) Users() UserStore {
	if f == nil {
		return nil
	}
	return f.users
}

// PersistenceClient is set for the sql drivers; it is used to apply schema
// migrations.
func (f *Facade) PersistenceClient() *persistence.Client {
	if f == nil {
		return nil
	}
	return f.persistence
}

func (f *Facade) Close(ctx context.Context) error {
	if f == nil || f.close == nil {
		return nil
	}
	closeFn := f.close
	f.close = nil
	return closeFn(ctx)
}

type phaseOneRunner struct {
	facade *Facade
}

func (r phaseOneRunner) Run(ctx context.Context) (core.RunReport, error) {
	return r.facade.RunPhaseOne(ctx)
}

type phaseTwoRunner struct {
	facade *Facade
}

func (r phaseTwoRunner) Run(ctx context.Context, confirmation core.TransferConfirmation) (core.RunReport, error) {
	return r.facade.RunPhaseTwo(ctx, confirmation)
}
