package appleid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-identity-transfer/core"
	"github.com/goliatone/go-identity-transfer/ratelimit"
	"github.com/goliatone/go-identity-transfer/transport"
)

const (
	ProviderID       = "appleid"
	DefaultBaseURL   = core.DefaultProviderBaseURL
	TokenPath        = "/auth/token"
	MigrationPath    = "/auth/usermigrationinfo"
	MigrationScope   = "user.migration"
	GrantClientCreds = "client_credentials"

	maxProviderResponseBodyBytes int64 = 1 << 20 // 1 MiB
)

type Config struct {
	BaseURL        string
	ClientID       string
	TargetTeamID   string
	RequestTimeout time.Duration
	// TokenTTL applies when the token response carries no expires_in.
	TokenTTL time.Duration
	Now      func() time.Time
	// Limiter paces migration endpoint calls. Nil disables pacing.
	Limiter Limiter
}

type Limiter interface {
	Wait(ctx context.Context, key ratelimit.Key) error
	AfterCall(ctx context.Context, key ratelimit.Key, res ratelimit.Response) error
}

var migrationBucket = ratelimit.Key{ProviderID: ProviderID, Endpoint: MigrationPath}

// Client issues access tokens and resolves migration identifiers. It is safe
// for concurrent use.
type Client struct {
	cfg  Config
	rest *transport.RESTAdapter
}

func New(cfg Config, httpClient transport.HTTPDoer) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.TargetTeamID = strings.TrimSpace(cfg.TargetTeamID)
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("appleid: client id is required")
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	rest := transport.NewRESTAdapter(httpClient)
	rest.MaxResponseBodyBytes = maxProviderResponseBodyBytes
	rest.Timeout = cfg.RequestTimeout
	return &Client{cfg: cfg, rest: rest}, nil
}

// ConfigFrom maps the provider and run sections of cfg.
func ConfigFrom(cfg core.Config) Config {
	return Config{
		BaseURL:        cfg.Provider.BaseURL,
		ClientID:       cfg.Provider.ClientID,
		TargetTeamID:   cfg.Provider.TargetTeamID,
		RequestTimeout: cfg.Run.RequestTimeout,
		TokenTTL:       cfg.Run.AccessTokenTTL,
	}
}

func NewFromConfig(cfg core.Config, httpClient transport.HTTPDoer) (*Client, error) {
	return New(ConfigFrom(cfg), httpClient)
}

func (*Client) ID() string {
	return ProviderID
}

// IssueAccessToken runs the client credentials grant with the migration scope.
// Any failure is an auth failure: without a token no record can progress.
func (c *Client) IssueAccessToken(ctx context.Context, clientSecret string) (core.AccessToken, error) {
	if strings.TrimSpace(clientSecret) == "" {
		return core.AccessToken{}, core.NewAuthFailure(0, "", fmt.Errorf("appleid: client secret is required"))
	}
	res, err := c.rest.Do(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    c.endpoint(TokenPath),
		Form: url.Values{
			"grant_type":    {GrantClientCreds},
			"scope":         {MigrationScope},
			"client_id":     {c.cfg.ClientID},
			"client_secret": {clientSecret},
		},
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return core.AccessToken{}, ctxErr
		}
		return core.AccessToken{}, core.NewAuthFailure(0, "", err)
	}
	if !res.OK() {
		return core.AccessToken{}, core.NewAuthFailure(res.StatusCode, string(res.Body), nil)
	}

	payload, err := decodeTokenResponse(res.Body)
	if err != nil {
		return core.AccessToken{}, core.NewAuthFailure(res.StatusCode, string(res.Body), err)
	}
	if payload.ErrorCode != "" || strings.TrimSpace(payload.AccessToken) == "" {
		return core.AccessToken{}, core.NewAuthFailure(res.StatusCode, string(res.Body), fmt.Errorf("appleid: token response missing access token"))
	}

	token := core.AccessToken{
		Value:     strings.TrimSpace(payload.AccessToken),
		TokenType: normalizeTokenType(payload.TokenType),
	}
	if expiresAt := c.resolveExpiresAt(payload.ExpiresIn); expiresAt != nil {
		token.ExpiresAt = expiresAt
	}
	return token, nil
}

// ResolveTransferSub asks for the transfer identifier of a user of the
// current team, addressed to the receiving team.
func (c *Client) ResolveTransferSub(ctx context.Context, creds core.Credentials, providerSub string) (string, error) {
	if strings.TrimSpace(providerSub) == "" {
		return "", core.NewResolutionFailure(0, "", core.ErrMissingProviderSub)
	}
	if c.cfg.TargetTeamID == "" {
		return "", fmt.Errorf("appleid: target team id is required to resolve transfer subs")
	}
	body, status, err := c.migrationInfo(ctx, creds, url.Values{
		"sub":    {providerSub},
		"target": {c.cfg.TargetTeamID},
	})
	if err != nil {
		return "", err
	}

	payload, err := decodeTransferResponse(body)
	if err != nil {
		return "", core.NewResolutionFailure(status, string(body), err)
	}
	transferSub := strings.TrimSpace(payload.TransferSub)
	if transferSub == "" {
		return "", core.NewResolutionFailure(status, string(body), core.ErrMissingTransferSub)
	}
	return transferSub, nil
}

// ExchangeTransferSub returns the identity the receiving team sees for a
// transfer identifier.
func (c *Client) ExchangeTransferSub(ctx context.Context, creds core.Credentials, transferSub string) (core.ProviderIdentity, error) {
	if strings.TrimSpace(transferSub) == "" {
		return core.ProviderIdentity{}, core.NewResolutionFailure(0, "", core.ErrMissingTransferSub)
	}
	body, status, err := c.migrationInfo(ctx, creds, url.Values{
		"transfer_sub": {transferSub},
	})
	if err != nil {
		return core.ProviderIdentity{}, err
	}

	payload, err := decodeIdentityResponse(body)
	if err != nil {
		return core.ProviderIdentity{}, core.NewResolutionFailure(status, string(body), err)
	}
	identity := core.ProviderIdentity{
		Sub:            strings.TrimSpace(payload.Sub),
		Email:          strings.TrimSpace(payload.Email),
		IsPrivateEmail: bool(payload.IsPrivateEmail),
	}
	if err := identity.Validate(); err != nil {
		return core.ProviderIdentity{}, core.NewResolutionFailure(status, string(body), err)
	}
	return identity, nil
}

func (c *Client) migrationInfo(ctx context.Context, creds core.Credentials, form url.Values) ([]byte, int, error) {
	if strings.TrimSpace(creds.AccessToken) == "" {
		return nil, 0, core.NewAuthFailure(0, "", core.ErrCredentialUnavailable)
	}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", creds.ClientSecret)

	if err := c.waitTurn(ctx); err != nil {
		return nil, 0, err
	}
	res, err := c.rest.Do(ctx, transport.Request{
		Method:      http.MethodPost,
		URL:         c.endpoint(MigrationPath),
		Form:        form,
		BearerToken: creds.AccessToken,
	})
	if err != nil {
		return nil, 0, err
	}
	if c.cfg.Limiter != nil {
		if err := c.cfg.Limiter.AfterCall(ctx, migrationBucket, ratelimit.Response{
			StatusCode: res.StatusCode,
			Headers:    res.Headers,
		}); err != nil {
			return nil, res.StatusCode, core.NewTransportFailure(err)
		}
	}
	if !res.OK() {
		return nil, res.StatusCode, core.NewResolutionFailure(res.StatusCode, string(res.Body), nil)
	}
	return res.Body, res.StatusCode, nil
}

// waitTurn blocks while the migration endpoint is throttled. A window longer
// than the limiter allows fails the record as a 429.
func (c *Client) waitTurn(ctx context.Context) error {
	if c.cfg.Limiter == nil {
		return nil
	}
	err := c.cfg.Limiter.Wait(ctx, migrationBucket)
	if err == nil {
		return nil
	}
	var throttled ratelimit.ThrottledError
	if errors.As(err, &throttled) {
		return core.NewResolutionFailure(http.StatusTooManyRequests, "", throttled.ToServiceError())
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return core.NewTransportFailure(err)
}

func (c *Client) endpoint(path string) string {
	return c.cfg.BaseURL + path
}

func (c *Client) resolveExpiresAt(expiresIn int64) *time.Time {
	ttl := c.cfg.TokenTTL
	if expiresIn > 0 {
		ttl = time.Duration(expiresIn) * time.Second
	}
	if ttl <= 0 {
		return nil
	}
	expiresAt := c.cfg.Now().Add(ttl)
	return &expiresAt
}

func normalizeTokenType(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "bearer"
	}
	return normalized
}

var (
	_ core.CredentialIssuer  = (*Client)(nil)
	_ core.TransferResolver  = (*Client)(nil)
	_ core.IdentityExchanger = (*Client)(nil)
)
