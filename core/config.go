package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultProviderBaseURL = "https://appleid.apple.com"
	DefaultPageSize        = 200
	DefaultProgressEvery   = 100

	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite3"
	StoreDriverMongo    = "mongo"
)

type SigningConfig struct {
	TeamID         string        `koanf:"team_id" mapstructure:"team_id"`
	KeyID          string        `koanf:"key_id" mapstructure:"key_id"`
	PrivateKeyPath string        `koanf:"private_key_path" mapstructure:"private_key_path"`
	TTL            time.Duration `koanf:"ttl" mapstructure:"ttl"`
}

func (c SigningConfig) Enabled() bool {
	return strings.TrimSpace(c.PrivateKeyPath) != ""
}

type ProviderConfig struct {
	BaseURL          string        `koanf:"base_url" mapstructure:"base_url"`
	ClientID         string        `koanf:"client_id" mapstructure:"client_id"`
	TargetTeamID     string        `koanf:"target_team_id" mapstructure:"target_team_id"`
	ClientSecretPath string        `koanf:"client_secret_path" mapstructure:"client_secret_path"`
	Signing          SigningConfig `koanf:"signing" mapstructure:"signing"`
}

type StoreConfig struct {
	Driver     string `koanf:"driver" mapstructure:"driver"`
	DSN        string `koanf:"dsn" mapstructure:"dsn"`
	Database   string `koanf:"database" mapstructure:"database"`
	Collection string `koanf:"collection" mapstructure:"collection"`
}

type RunConfig struct {
	PageSize       int           `koanf:"page_size" mapstructure:"page_size"`
	ProgressEvery  int           `koanf:"progress_every" mapstructure:"progress_every"`
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
	RequestTimeout time.Duration `koanf:"request_timeout" mapstructure:"request_timeout"`
	AccessTokenTTL time.Duration `koanf:"access_token_ttl" mapstructure:"access_token_ttl"`
	RenewBefore    time.Duration `koanf:"renew_before" mapstructure:"renew_before"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	Provider    ProviderConfig `koanf:"provider" mapstructure:"provider"`
	Store       StoreConfig    `koanf:"store" mapstructure:"store"`
	Run         RunConfig      `koanf:"run" mapstructure:"run"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "identity-transfer",
		Provider: ProviderConfig{
			BaseURL:          DefaultProviderBaseURL,
			ClientSecretPath: "client_secret_jwt.txt",
			Signing: SigningConfig{
				TTL: 24 * time.Hour,
			},
		},
		Store: StoreConfig{
			Driver:     StoreDriverMongo,
			Database:   "snutt",
			Collection: "users",
		},
		Run: RunConfig{
			PageSize:       DefaultPageSize,
			ProgressEvery:  DefaultProgressEvery,
			MaxAttempts:    defaultMaxAttempts,
			InitialBackoff: defaultInitialBackoff,
			MaxBackoff:     defaultMaxBackoff,
			RequestTimeout: 30 * time.Second,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.Provider.BaseURL) == "" {
		return fmt.Errorf("core: provider.base_url is required")
	}
	if strings.TrimSpace(c.Provider.ClientID) == "" {
		return fmt.Errorf("core: provider.client_id is required")
	}
	if strings.TrimSpace(c.Provider.TargetTeamID) == "" {
		return fmt.Errorf("core: provider.target_team_id is required")
	}
	if c.Provider.Signing.Enabled() {
		if strings.TrimSpace(c.Provider.Signing.TeamID) == "" || strings.TrimSpace(c.Provider.Signing.KeyID) == "" {
			return fmt.Errorf("core: provider.signing team_id and key_id are required with a private key")
		}
	} else if strings.TrimSpace(c.Provider.ClientSecretPath) == "" {
		return fmt.Errorf("core: provider.client_secret_path or provider.signing.private_key_path is required")
	}

	switch strings.TrimSpace(c.Store.Driver) {
	case StoreDriverPostgres, StoreDriverSQLite:
	case StoreDriverMongo:
		if strings.TrimSpace(c.Store.Database) == "" || strings.TrimSpace(c.Store.Collection) == "" {
			return fmt.Errorf("core: store.database and store.collection are required for mongo")
		}
	default:
		return fmt.Errorf("core: store.driver %q is invalid", c.Store.Driver)
	}
	if strings.TrimSpace(c.Store.DSN) == "" {
		return fmt.Errorf("core: store.dsn is required")
	}

	if c.Run.PageSize <= 0 {
		return fmt.Errorf("core: run.page_size must be positive")
	}
	if c.Run.ProgressEvery <= 0 {
		return fmt.Errorf("core: run.progress_every must be positive")
	}
	if c.Run.MaxAttempts < 1 {
		return fmt.Errorf("core: run.max_attempts must be at least 1")
	}
	if c.Run.AccessTokenTTL > 0 && c.Run.RenewBefore >= c.Run.AccessTokenTTL {
		return fmt.Errorf("core: run.renew_before must be shorter than run.access_token_ttl")
	}
	return nil
}

func (c Config) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    c.Run.MaxAttempts,
		InitialBackoff: c.Run.InitialBackoff,
		MaxBackoff:     c.Run.MaxBackoff,
	}
}
