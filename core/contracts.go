package core

import (
	"context"

	glog "github.com/goliatone/go-logger/glog"
)

// UserStore owns persisted user records. Updates are single-record and
// conditional: they report false when the record no longer matches the state
// the runner read.
type UserStore interface {
	ListCandidates(ctx context.Context, query CandidateQuery) ([]UserRecord, error)
	SetTransferSub(ctx context.Context, id string, transferSub string) (bool, error)
	SetProviderIdentity(ctx context.Context, id string, expectedSub string, identity ProviderIdentity) (bool, error)
}

type ClientSecretSource interface {
	ClientSecret(ctx context.Context) (string, error)
}

type CredentialIssuer interface {
	IssueAccessToken(ctx context.Context, clientSecret string) (AccessToken, error)
}

type TransferResolver interface {
	ResolveTransferSub(ctx context.Context, creds Credentials, providerSub string) (string, error)
}

type IdentityExchanger interface {
	ExchangeTransferSub(ctx context.Context, creds Credentials, transferSub string) (ProviderIdentity, error)
}

// CredentialSource hands out the credentials for the next provider call.
type CredentialSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

type RunLedger interface {
	RecordRun(ctx context.Context, report RunReport) error
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

// StaticCredentials serves one issued token for the whole run.
type StaticCredentials Credentials

func (c StaticCredentials) Credentials(context.Context) (Credentials, error) {
	if c.AccessToken == "" {
		return Credentials{}, authFailure("core: access token is empty", ErrCredentialUnavailable)
	}
	return Credentials(c), nil
}

type CredentialSourceFunc func(ctx context.Context) (Credentials, error)

func (f CredentialSourceFunc) Credentials(ctx context.Context) (Credentials, error) {
	return f(ctx)
}
