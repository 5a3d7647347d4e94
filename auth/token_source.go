package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-identity-transfer/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const accessTokenCacheKeyPrefix = "identity-transfer::access_token::v1"

// AccessTokenCacheKey is accessTokenCacheKeyPrefix::<client_id>, the client id
// URL-path escaped.
func AccessTokenCacheKey(clientID string) string {
	return accessTokenCacheKeyPrefix + "::" + url.PathEscape(strings.TrimSpace(clientID))
}

type issuedCredentials struct {
	Credentials core.Credentials
	ExpiresAt   time.Time
}

func issueCredentials(ctx context.Context, secrets core.ClientSecretSource, issuer core.CredentialIssuer) (issuedCredentials, error) {
	secret, err := secrets.ClientSecret(ctx)
	if err != nil {
		return issuedCredentials{}, ensureAuthFailure(err, "auth: load client secret")
	}
	token, err := issuer.IssueAccessToken(ctx, secret)
	if err != nil {
		return issuedCredentials{}, ensureAuthFailure(err, "auth: issue access token")
	}
	if strings.TrimSpace(token.Value) == "" {
		return issuedCredentials{}, core.NewAuthFailure(0, "", core.ErrCredentialUnavailable)
	}
	issued := issuedCredentials{
		Credentials: core.Credentials{AccessToken: token.Value, ClientSecret: secret},
	}
	if token.ExpiresAt != nil {
		issued.ExpiresAt = token.ExpiresAt.UTC()
	}
	return issued, nil
}

// IssueOnce issues a single access token for a whole run. A run that outlives
// the token sees its remaining records fail until the next invocation.
func IssueOnce(ctx context.Context, secrets core.ClientSecretSource, issuer core.CredentialIssuer) (core.StaticCredentials, error) {
	if secrets == nil || issuer == nil {
		return core.StaticCredentials{}, fmt.Errorf("auth: client secret source and credential issuer are required")
	}
	issued, err := issueCredentials(ctx, secrets, issuer)
	if err != nil {
		return core.StaticCredentials{}, err
	}
	return core.StaticCredentials(issued.Credentials), nil
}

type CachedTokenSourceConfig struct {
	ClientID    string
	RenewBefore time.Duration
	Now         func() time.Time
}

// CachedTokenSource serves access tokens from a cache and issues a new one
// once the cached token is within RenewBefore of expiring.
type CachedTokenSource struct {
	secrets core.ClientSecretSource
	issuer  core.CredentialIssuer
	cache   repositorycache.CacheService
	config  CachedTokenSourceConfig
	key     string

	mu sync.Mutex
}

func NewCachedTokenSource(
	secrets core.ClientSecretSource,
	issuer core.CredentialIssuer,
	cacheService repositorycache.CacheService,
	cfg CachedTokenSourceConfig,
) (*CachedTokenSource, error) {
	if secrets == nil {
		return nil, fmt.Errorf("auth: client secret source is required")
	}
	if issuer == nil {
		return nil, fmt.Errorf("auth: credential issuer is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("auth: token cache service is required")
	}
	if cfg.RenewBefore < 0 {
		cfg.RenewBefore = 0
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &CachedTokenSource{
		secrets: secrets,
		issuer:  issuer,
		cache:   cacheService,
		config:  cfg,
		key:     AccessTokenCacheKey(cfg.ClientID),
	}, nil
}

// NewTokenCacheService builds the cache backing a CachedTokenSource. Entries
// live for ttl minus renewBefore so the cache itself never serves a token
// inside its renewal window.
func NewTokenCacheService(ttl time.Duration, renewBefore time.Duration) (repositorycache.CacheService, error) {
	config := repositorycache.DefaultConfig()
	if lifetime := ttl - renewBefore; lifetime > 0 {
		config.TTL = lifetime
	}
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		return nil, fmt.Errorf("auth: build token cache: %w", err)
	}
	return service, nil
}

func (s *CachedTokenSource) Credentials(ctx context.Context) (core.Credentials, error) {
	if s == nil {
		return core.Credentials{}, core.NewAuthFailure(0, "", fmt.Errorf("auth: token source is nil"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	issued, err := s.lookup(ctx)
	if err != nil {
		return core.Credentials{}, err
	}
	if s.fresh(issued) {
		return issued.Credentials, nil
	}

	if err := s.cache.Delete(ctx, s.key); err != nil {
		return core.Credentials{}, fmt.Errorf("auth: evict access token: %w", err)
	}
	issued, err = s.lookup(ctx)
	if err != nil {
		return core.Credentials{}, err
	}
	if !s.fresh(issued) {
		return core.Credentials{}, core.NewAuthFailure(0, "", fmt.Errorf("auth: issued access token expires within the renewal window"))
	}
	return issued.Credentials, nil
}

// Invalidate drops the cached token so the next call issues a new one.
func (s *CachedTokenSource) Invalidate(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Delete(ctx, s.key)
}

func (s *CachedTokenSource) lookup(ctx context.Context) (issuedCredentials, error) {
	return repositorycache.GetOrFetch(ctx, s.cache, s.key, func(ctx context.Context) (issuedCredentials, error) {
		return issueCredentials(ctx, s.secrets, s.issuer)
	})
}

func (s *CachedTokenSource) fresh(issued issuedCredentials) bool {
	if strings.TrimSpace(issued.Credentials.AccessToken) == "" {
		return false
	}
	if issued.ExpiresAt.IsZero() {
		return true
	}
	return issued.ExpiresAt.After(s.config.Now().UTC().Add(s.config.RenewBefore))
}

func ensureAuthFailure(err error, message string) error {
	if core.FailureKindOf(err) == core.FailureAuth {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return core.NewAuthFailure(0, "", fmt.Errorf("%s: %w", message, err))
}

var _ core.CredentialSource = (*CachedTokenSource)(nil)
