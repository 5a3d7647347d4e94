package core

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
	"gopkg.in/yaml.v3"
)

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type RawConfigLoaderFunc func(ctx context.Context) (map[string]any, error)

func (f RawConfigLoaderFunc) LoadRaw(ctx context.Context) (map[string]any, error) {
	return f(ctx)
}

type ConfigSources struct {
	File    RawConfigLoader
	Env     RawConfigLoader
	Runtime RawConfigLoader
}

// LoadConfig resolves defaults < file < env < runtime.
func LoadConfig(ctx context.Context, defaults Config, sources ConfigSources) (Config, error) {
	fileLayer, err := loadLayer(ctx, sources.File)
	if err != nil {
		return Config{}, err
	}
	envLayer, err := loadLayer(ctx, sources.Env)
	if err != nil {
		return Config{}, err
	}
	runtimeLayer, err := loadLayer(ctx, sources.Runtime)
	if err != nil {
		return Config{}, err
	}

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("file", 10),
			fileLayer,
			opts.WithSnapshotID[map[string]any]("file"),
		),
		opts.NewLayer(
			opts.NewScope("env", 20),
			envLayer,
			opts.WithSnapshotID[map[string]any]("env"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 30),
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
		return Config{}, wrapBadInput(err, "core: invalid config")
	}
	return resolved, nil
}

func loadLayer(ctx context.Context, loader RawConfigLoader) (map[string]any, error) {
	if loader == nil {
		return map[string]any{}, nil
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return nil, wrapBadInput(err, "core: load config layer")
	}
	if raw == nil {
		return map[string]any{}, nil
	}
	return raw, nil
}

// StaticConfigLoader serves a fixed layer, typically built from CLI flags.
type StaticConfigLoader map[string]any

func (l StaticConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	out := layerBuilder{}
	for key, value := range l {
		out.set(key, value)
	}
	return out, nil
}

func configToLayerMap(cfg Config) map[string]any {
	return map[string]any{
		"service_name": cfg.ServiceName,
		"provider": map[string]any{
			"base_url":           cfg.Provider.BaseURL,
			"client_id":          cfg.Provider.ClientID,
			"target_team_id":     cfg.Provider.TargetTeamID,
			"client_secret_path": cfg.Provider.ClientSecretPath,
			"signing": map[string]any{
				"team_id":          cfg.Provider.Signing.TeamID,
				"key_id":           cfg.Provider.Signing.KeyID,
				"private_key_path": cfg.Provider.Signing.PrivateKeyPath,
				"ttl":              cfg.Provider.Signing.TTL,
			},
		},
		"store": map[string]any{
			"driver":     cfg.Store.Driver,
			"dsn":        cfg.Store.DSN,
			"database":   cfg.Store.Database,
			"collection": cfg.Store.Collection,
		},
		"run": map[string]any{
			"page_size":        cfg.Run.PageSize,
			"progress_every":   cfg.Run.ProgressEvery,
			"max_attempts":     cfg.Run.MaxAttempts,
			"initial_backoff":  cfg.Run.InitialBackoff,
			"max_backoff":      cfg.Run.MaxBackoff,
			"request_timeout":  cfg.Run.RequestTimeout,
			"access_token_ttl": cfg.Run.AccessTokenTTL,
			"renew_before":     cfg.Run.RenewBefore,
		},
	}
}

type envConfig struct {
	ServiceName      string        `env:"IDENTITY_TRANSFER_SERVICE_NAME"`
	BaseURL          string        `env:"IDENTITY_TRANSFER_PROVIDER_BASE_URL"`
	ClientID         string        `env:"IDENTITY_TRANSFER_CLIENT_ID"`
	LegacyClientID   string        `env:"CLIENT_ID"`
	TargetTeamID     string        `env:"IDENTITY_TRANSFER_TARGET_TEAM_ID"`
	LegacyTeamID     string        `env:"RECIPIENT_TEAM_ID"`
	ClientSecretPath string        `env:"IDENTITY_TRANSFER_CLIENT_SECRET_PATH"`
	SigningTeamID    string        `env:"IDENTITY_TRANSFER_SIGNING_TEAM_ID"`
	SigningKeyID     string        `env:"IDENTITY_TRANSFER_SIGNING_KEY_ID"`
	SigningKeyPath   string        `env:"IDENTITY_TRANSFER_SIGNING_PRIVATE_KEY_PATH"`
	SigningTTL       time.Duration `env:"IDENTITY_TRANSFER_SIGNING_TTL"`
	StoreDriver      string        `env:"IDENTITY_TRANSFER_STORE_DRIVER"`
	StoreDSN         string        `env:"IDENTITY_TRANSFER_STORE_DSN"`
	LegacyMongoHost  string        `env:"MONGO_URL"`
	StoreDatabase    string        `env:"IDENTITY_TRANSFER_STORE_DATABASE"`
	StoreCollection  string        `env:"IDENTITY_TRANSFER_STORE_COLLECTION"`
	PageSize         int           `env:"IDENTITY_TRANSFER_PAGE_SIZE"`
	ProgressEvery    int           `env:"IDENTITY_TRANSFER_PROGRESS_EVERY"`
	MaxAttempts      int           `env:"IDENTITY_TRANSFER_MAX_ATTEMPTS"`
	InitialBackoff   time.Duration `env:"IDENTITY_TRANSFER_INITIAL_BACKOFF"`
	MaxBackoff       time.Duration `env:"IDENTITY_TRANSFER_MAX_BACKOFF"`
	RequestTimeout   time.Duration `env:"IDENTITY_TRANSFER_REQUEST_TIMEOUT"`
	AccessTokenTTL   time.Duration `env:"IDENTITY_TRANSFER_ACCESS_TOKEN_TTL"`
	RenewBefore      time.Duration `env:"IDENTITY_TRANSFER_RENEW_BEFORE"`
}

// EnvConfigLoader reads IDENTITY_TRANSFER_* variables. CLIENT_ID,
// RECIPIENT_TEAM_ID and MONGO_URL are honored when the prefixed names are unset.
type EnvConfigLoader struct {
	Environment map[string]string
}

func (l EnvConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	var raw envConfig
	if err := env.ParseWithOptions(&raw, env.Options{Environment: l.Environment}); err != nil {
		return nil, fmt.Errorf("core: parse env: %w", err)
	}

	dsn := raw.StoreDSN
	if dsn == "" && raw.LegacyMongoHost != "" {
		dsn = fmt.Sprintf("mongodb://%s:27017/", raw.LegacyMongoHost)
	}

	layer := layerBuilder{}
	layer.set("service_name", raw.ServiceName)
	layer.set("provider.base_url", raw.BaseURL)
	layer.set("provider.client_id", firstNonEmpty(raw.ClientID, raw.LegacyClientID))
	layer.set("provider.target_team_id", firstNonEmpty(raw.TargetTeamID, raw.LegacyTeamID))
	layer.set("provider.client_secret_path", raw.ClientSecretPath)
	layer.set("provider.signing.team_id", raw.SigningTeamID)
	layer.set("provider.signing.key_id", raw.SigningKeyID)
	layer.set("provider.signing.private_key_path", raw.SigningKeyPath)
	layer.set("provider.signing.ttl", raw.SigningTTL)
	layer.set("store.driver", raw.StoreDriver)
	layer.set("store.dsn", dsn)
	layer.set("store.database", raw.StoreDatabase)
	layer.set("store.collection", raw.StoreCollection)
	layer.set("run.page_size", raw.PageSize)
	layer.set("run.progress_every", raw.ProgressEvery)
	layer.set("run.max_attempts", raw.MaxAttempts)
	layer.set("run.initial_backoff", raw.InitialBackoff)
	layer.set("run.max_backoff", raw.MaxBackoff)
	layer.set("run.request_timeout", raw.RequestTimeout)
	layer.set("run.access_token_ttl", raw.AccessTokenTTL)
	layer.set("run.renew_before", raw.RenewBefore)
	return layer, nil
}

type fileConfig struct {
	ServiceName string `yaml:"service_name"`
	Provider    struct {
		BaseURL          string `yaml:"base_url"`
		ClientID         string `yaml:"client_id"`
		TargetTeamID     string `yaml:"target_team_id"`
		ClientSecretPath string `yaml:"client_secret_path"`
		Signing          struct {
			TeamID         string `yaml:"team_id"`
			KeyID          string `yaml:"key_id"`
			PrivateKeyPath string `yaml:"private_key_path"`
			TTL            string `yaml:"ttl"`
		} `yaml:"signing"`
	} `yaml:"provider"`
	Store struct {
		Driver     string `yaml:"driver"`
		DSN        string `yaml:"dsn"`
		Database   string `yaml:"database"`
		Collection string `yaml:"collection"`
	} `yaml:"store"`
	Run struct {
		PageSize       int    `yaml:"page_size"`
		ProgressEvery  int    `yaml:"progress_every"`
		MaxAttempts    int    `yaml:"max_attempts"`
		InitialBackoff string `yaml:"initial_backoff"`
		MaxBackoff     string `yaml:"max_backoff"`
		RequestTimeout string `yaml:"request_timeout"`
		AccessTokenTTL string `yaml:"access_token_ttl"`
		RenewBefore    string `yaml:"renew_before"`
	} `yaml:"run"`
}

// FileConfigLoader reads a YAML config file. A missing optional file yields an
// empty layer.
type FileConfigLoader struct {
	Path     string
	Optional bool
}

func (l FileConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if l.Optional && os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("core: read config file: %w", err)
	}
	return parseYAMLConfig(data)
}

func parseYAMLConfig(data []byte) (map[string]any, error) {
	var raw fileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("core: decode config file: %w", err)
	}

	durations := map[string]string{
		"provider.signing.ttl": raw.Provider.Signing.TTL,
		"run.initial_backoff":  raw.Run.InitialBackoff,
		"run.max_backoff":      raw.Run.MaxBackoff,
		"run.request_timeout":  raw.Run.RequestTimeout,
		"run.access_token_ttl": raw.Run.AccessTokenTTL,
		"run.renew_before":     raw.Run.RenewBefore,
	}

	layer := layerBuilder{}
	layer.set("service_name", raw.ServiceName)
	layer.set("provider.base_url", raw.Provider.BaseURL)
	layer.set("provider.client_id", raw.Provider.ClientID)
	layer.set("provider.target_team_id", raw.Provider.TargetTeamID)
	layer.set("provider.client_secret_path", raw.Provider.ClientSecretPath)
	layer.set("provider.signing.team_id", raw.Provider.Signing.TeamID)
	layer.set("provider.signing.key_id", raw.Provider.Signing.KeyID)
	layer.set("provider.signing.private_key_path", raw.Provider.Signing.PrivateKeyPath)
	layer.set("store.driver", raw.Store.Driver)
	layer.set("store.dsn", raw.Store.DSN)
	layer.set("store.database", raw.Store.Database)
	layer.set("store.collection", raw.Store.Collection)
	layer.set("run.page_size", raw.Run.PageSize)
	layer.set("run.progress_every", raw.Run.ProgressEvery)
	layer.set("run.max_attempts", raw.Run.MaxAttempts)
	for key, value := range durations {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("core: config %s: %w", key, err)
		}
		layer.set(key, parsed)
	}
	return layer, nil
}

// layerBuilder builds nested option layers from dotted keys, skipping zero values.
type layerBuilder map[string]any

func (b layerBuilder) set(path string, value any) {
	switch typed := value.(type) {
	case string:
		if strings.TrimSpace(typed) == "" {
			return
		}
		value = strings.TrimSpace(typed)
	case int:
		if typed == 0 {
			return
		}
	case time.Duration:
		if typed == 0 {
			return
		}
	case nil:
		return
	}

	parts := strings.Split(path, ".")
	node := map[string]any(b)
	for _, part := range parts[:len(parts)-1] {
		next, ok := node[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[part] = next
		}
		node = next
	}
	node[parts[len(parts)-1]] = value
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
