package core

import (
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

type runnerBuilder struct {
	logger         Logger
	loggerProvider LoggerProvider
	metrics        MetricsRecorder
	ledger         RunLedger
	retry          RetryPolicy
	scheduler      BackoffScheduler
	pageSize       int
	progressEvery  int
	now            func() time.Time
	newRunID       func() string
}

type Option func(*runnerBuilder)

func WithLogger(logger Logger) Option {
	return func(b *runnerBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *runnerBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *runnerBuilder) {
		b.metrics = recorder
	}
}

func WithRunLedger(ledger RunLedger) Option {
	return func(b *runnerBuilder) {
		b.ledger = ledger
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(b *runnerBuilder) {
		b.retry = policy
	}
}

func WithBackoffScheduler(scheduler BackoffScheduler) Option {
	return func(b *runnerBuilder) {
		b.scheduler = scheduler
	}
}

func WithPageSize(size int) Option {
	return func(b *runnerBuilder) {
		b.pageSize = size
	}
}

func WithProgressEvery(every int) Option {
	return func(b *runnerBuilder) {
		b.progressEvery = every
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *runnerBuilder) {
		b.now = now
	}
}

func WithRunIDGenerator(fn func() string) Option {
	return func(b *runnerBuilder) {
		b.newRunID = fn
	}
}

// WithConfig applies the run section of cfg.
func WithConfig(cfg Config) Option {
	return func(b *runnerBuilder) {
		b.retry = cfg.RetryPolicy()
		if cfg.Run.PageSize > 0 {
			b.pageSize = cfg.Run.PageSize
		}
		if cfg.Run.ProgressEvery > 0 {
			b.progressEvery = cfg.Run.ProgressEvery
		}
	}
}

func buildRunner(options []Option) runnerBuilder {
	builder := runnerBuilder{
		metrics:       NopMetricsRecorder{},
		retry:         RetryPolicy{MaxAttempts: defaultMaxAttempts},
		pageSize:      DefaultPageSize,
		progressEvery: DefaultProgressEvery,
		now:           func() time.Time { return time.Now().UTC() },
		newRunID:      uuid.NewString,
	}
	for _, opt := range options {
		if opt != nil {
			opt(&builder)
		}
	}

	provider, logger := glog.Resolve("identity-transfer", builder.loggerProvider, builder.logger)
	builder.loggerProvider = provider
	builder.logger = glog.Ensure(logger)

	if builder.metrics == nil {
		builder.metrics = NopMetricsRecorder{}
	}
	if builder.pageSize <= 0 {
		builder.pageSize = DefaultPageSize
	}
	if builder.progressEvery <= 0 {
		builder.progressEvery = DefaultProgressEvery
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}
	if builder.newRunID == nil {
		builder.newRunID = uuid.NewString
	}
	builder.retry = builder.retry.normalized()
	if builder.scheduler == nil {
		builder.scheduler = ExponentialBackoffScheduler{
			Initial: builder.retry.InitialBackoff,
			Max:     builder.retry.MaxBackoff,
		}
	}
	return builder
}
