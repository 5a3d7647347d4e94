package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Provider.ClientID = "com.example.app"
	cfg.Provider.TargetTeamID = "TEAM2"
	cfg.Store.DSN = "mongodb://localhost:27017/"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	if err := validTestConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := map[string]func(*Config){
		"missing client id":   func(c *Config) { c.Provider.ClientID = "" },
		"missing target team": func(c *Config) { c.Provider.TargetTeamID = " " },
		"missing secret":      func(c *Config) { c.Provider.ClientSecretPath = "" },
		"signing without kid": func(c *Config) { c.Provider.Signing.PrivateKeyPath = "key.p8"; c.Provider.Signing.TeamID = "TEAM1" },
		"unknown driver":      func(c *Config) { c.Store.Driver = "redis" },
		"missing dsn":         func(c *Config) { c.Store.DSN = "" },
		"mongo without coll":  func(c *Config) { c.Store.Collection = "" },
		"zero page size":      func(c *Config) { c.Run.PageSize = 0 },
		"renew after ttl":     func(c *Config) { c.Run.AccessTokenTTL = time.Minute; c.Run.RenewBefore = time.Hour },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validTestConfig()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestConfigValidate_SigningReplacesSecretFile(t *testing.T) {
	cfg := validTestConfig()
	cfg.Provider.ClientSecretPath = ""
	cfg.Provider.Signing = SigningConfig{TeamID: "TEAM1", KeyID: "KEY1", PrivateKeyPath: "AuthKey.p8", TTL: time.Hour}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected signing config to be enough, got %v", err)
	}
}

func TestEnvConfigLoader_LegacyNames(t *testing.T) {
	layer, err := EnvConfigLoader{Environment: map[string]string{
		"CLIENT_ID":         "com.example.app",
		"RECIPIENT_TEAM_ID": "TEAM2",
		"MONGO_URL":         "db.internal",
	}}.LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load env: %v", err)
	}
	provider, _ := layer["provider"].(map[string]any)
	if provider["client_id"] != "com.example.app" || provider["target_team_id"] != "TEAM2" {
		t.Fatalf("unexpected provider layer %#v", provider)
	}
	store, _ := layer["store"].(map[string]any)
	if store["dsn"] != "mongodb://db.internal:27017/" {
		t.Fatalf("expected mongo dsn from host, got %#v", store["dsn"])
	}
}

func TestEnvConfigLoader_PrefixedNamesWin(t *testing.T) {
	layer, err := EnvConfigLoader{Environment: map[string]string{
		"CLIENT_ID":                                  "legacy",
		"IDENTITY_TRANSFER_CLIENT_ID":                "prefixed",
		"IDENTITY_TRANSFER_STORE_DSN":                "file:users.db",
		"MONGO_URL":                                  "ignored",
		"IDENTITY_TRANSFER_MAX_ATTEMPTS":             "4",
		"IDENTITY_TRANSFER_ACCESS_TOKEN_TTL":         "1h",
		"IDENTITY_TRANSFER_STORE_DRIVER":             "sqlite3",
		"IDENTITY_TRANSFER_SIGNING_PRIVATE_KEY_PATH": "AuthKey.p8",
	}}.LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load env: %v", err)
	}
	provider := layer["provider"].(map[string]any)
	if provider["client_id"] != "prefixed" {
		t.Fatalf("expected prefixed client id, got %#v", provider["client_id"])
	}
	store := layer["store"].(map[string]any)
	if store["dsn"] != "file:users.db" || store["driver"] != "sqlite3" {
		t.Fatalf("unexpected store layer %#v", store)
	}
	run := layer["run"].(map[string]any)
	if run["max_attempts"] != 4 || run["access_token_ttl"] != time.Hour {
		t.Fatalf("unexpected run layer %#v", run)
	}
	if _, ok := layer["service_name"]; ok {
		t.Fatalf("expected unset values to be omitted")
	}
}

func TestParseYAMLConfig(t *testing.T) {
	layer, err := parseYAMLConfig([]byte(`
provider:
  client_id: com.example.app
  target_team_id: TEAM2
  signing:
    team_id: TEAM1
    key_id: KEY1
    private_key_path: AuthKey.p8
    ttl: 12h
store:
  driver: postgres
  dsn: postgres://localhost/users
run:
  page_size: 50
  initial_backoff: 250ms
`))
	if err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	signing := layer["provider"].(map[string]any)["signing"].(map[string]any)
	if signing["ttl"] != 12*time.Hour || signing["key_id"] != "KEY1" {
		t.Fatalf("unexpected signing layer %#v", signing)
	}
	run := layer["run"].(map[string]any)
	if run["page_size"] != 50 || run["initial_backoff"] != 250*time.Millisecond {
		t.Fatalf("unexpected run layer %#v", run)
	}
	if _, ok := run["max_backoff"]; ok {
		t.Fatalf("expected unset durations to be omitted")
	}
}

func TestParseYAMLConfig_RejectsBadDuration(t *testing.T) {
	if _, err := parseYAMLConfig([]byte("run:\n  max_backoff: soon\n")); err == nil {
		t.Fatalf("expected duration parse error")
	}
}

func TestFileConfigLoader_OptionalMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	layer, err := FileConfigLoader{Path: path, Optional: true}.LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("expected optional file to be skipped, got %v", err)
	}
	if len(layer) != 0 {
		t.Fatalf("expected empty layer, got %#v", layer)
	}
	if _, err := (FileConfigLoader{Path: path}).LoadRaw(context.Background()); err == nil {
		t.Fatalf("expected error for required missing file")
	}
}

func TestLoadConfig_LayerPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(`
provider:
  client_id: from-file
  target_team_id: TEAM-FILE
store:
  dsn: mongodb://file:27017/
run:
  page_size: 25
`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(context.Background(), DefaultConfig(), ConfigSources{
		File: FileConfigLoader{Path: path},
		Env: EnvConfigLoader{Environment: map[string]string{
			"RECIPIENT_TEAM_ID": "TEAM-ENV",
		}},
		Runtime: StaticConfigLoader{"run.page_size": 10},
	})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Provider.ClientID != "from-file" {
		t.Fatalf("expected file client id, got %q", cfg.Provider.ClientID)
	}
	if cfg.Provider.TargetTeamID != "TEAM-ENV" {
		t.Fatalf("expected env to override file, got %q", cfg.Provider.TargetTeamID)
	}
	if cfg.Run.PageSize != 10 {
		t.Fatalf("expected runtime to override file, got %d", cfg.Run.PageSize)
	}
	if cfg.Store.Collection != "users" || cfg.Run.ProgressEvery != DefaultProgressEvery {
		t.Fatalf("expected defaults to fill the rest, got %#v", cfg)
	}
}

func TestLoadConfig_InvalidIsBadInput(t *testing.T) {
	_, err := LoadConfig(context.Background(), DefaultConfig(), ConfigSources{})
	if err == nil {
		t.Fatalf("expected validation error without client id")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != ErrorBadInput {
		t.Fatalf("expected bad input text code, got %v", err)
	}
}
