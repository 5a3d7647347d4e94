package identitytransfer

import (
	"context"

	"github.com/goliatone/go-identity-transfer/core"
)

type Config = core.Config

type Option = core.Option

type UserRecord = core.UserRecord
type RunReport = core.RunReport
type Phase = core.Phase
type TransferConfirmation = core.TransferConfirmation
type ProviderIdentity = core.ProviderIdentity
type ConfigSources = core.ConfigSources

const (
	PhaseResolveTransfer  = core.PhaseResolveTransfer
	PhaseExchangeIdentity = core.PhaseExchangeIdentity
)

var (
	WithLogger           = core.WithLogger
	WithLoggerProvider   = core.WithLoggerProvider
	WithMetricsRecorder  = core.WithMetricsRecorder
	WithRetryPolicy      = core.WithRetryPolicy
	WithBackoffScheduler = core.WithBackoffScheduler
	WithPageSize         = core.WithPageSize
	WithProgressEvery    = core.WithProgressEvery
	WithClock            = core.WithClock
	WithRunIDGenerator   = core.WithRunIDGenerator
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func LoadConfig(ctx context.Context, sources ConfigSources) (Config, error) {
	return core.LoadConfig(ctx, core.DefaultConfig(), sources)
}
