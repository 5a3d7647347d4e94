package auth

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-identity-transfer/core"
)

const (
	// ClientSecretAudience is the audience Apple expects in client secrets.
	ClientSecretAudience = "https://appleid.apple.com"
	// maxClientSecretTTL is the longest lifetime Apple accepts for a client secret.
	maxClientSecretTTL = 180 * 24 * time.Hour
)

// FileClientSecret reads a pre-signed client secret from disk on every call so
// a rotated file is picked up without a restart.
type FileClientSecret struct {
	Path string
}

func (s FileClientSecret) ClientSecret(context.Context) (string, error) {
	path := strings.TrimSpace(s.Path)
	if path == "" {
		return "", core.NewAuthFailure(0, "", fmt.Errorf("auth: client secret path is required"))
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", core.NewAuthFailure(0, "", fmt.Errorf("auth: read client secret: %w", err))
	}
	secret := strings.TrimSpace(string(raw))
	if secret == "" {
		return "", core.NewAuthFailure(0, "", fmt.Errorf("auth: client secret file %q is empty", path))
	}
	return secret, nil
}

type SignedClientSecretConfig struct {
	TeamID        string
	ClientID      string
	KeyID         string
	PrivateKeyPEM []byte
	TTL           time.Duration
	Now           func() time.Time
}

// SignedClientSecret signs ES256 client secrets with the team's private key
// and reuses a secret until half of its lifetime has passed.
type SignedClientSecret struct {
	config SignedClientSecretConfig
	signer any

	mu        sync.Mutex
	current   string
	expiresAt time.Time
}

func NewSignedClientSecret(cfg SignedClientSecretConfig) (*SignedClientSecret, error) {
	cfg.TeamID = strings.TrimSpace(cfg.TeamID)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	if cfg.TeamID == "" || cfg.ClientID == "" || cfg.KeyID == "" {
		return nil, fmt.Errorf("auth: signed client secret requires team id, client id and key id")
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(cfg.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("auth: parse client secret signing key: %w", err)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.TTL > maxClientSecretTTL {
		cfg.TTL = maxClientSecretTTL
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &SignedClientSecret{config: cfg, signer: key}, nil
}

// NewSignedClientSecretFromFile loads the PEM encoded key at path.
func NewSignedClientSecretFromFile(cfg SignedClientSecretConfig, path string) (*SignedClientSecret, error) {
	raw, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("auth: read client secret signing key: %w", err)
	}
	cfg.PrivateKeyPEM = raw
	return NewSignedClientSecret(cfg)
}

func (s *SignedClientSecret) ClientSecret(context.Context) (string, error) {
	if s == nil {
		return "", core.NewAuthFailure(0, "", fmt.Errorf("auth: signed client secret is nil"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.config.Now().UTC()
	if s.current != "" && now.Add(s.config.TTL/2).Before(s.expiresAt) {
		return s.current, nil
	}

	expiresAt := now.Add(s.config.TTL)
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.RegisteredClaims{
		Issuer:    s.config.TeamID,
		Subject:   s.config.ClientID,
		Audience:  jwt.ClaimStrings{ClientSecretAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	token.Header["kid"] = s.config.KeyID

	signed, err := token.SignedString(s.signer)
	if err != nil {
		return "", core.NewAuthFailure(0, "", fmt.Errorf("auth: sign client secret: %w", err))
	}
	s.current = signed
	s.expiresAt = expiresAt
	return signed, nil
}

// NewClientSecretSource picks the signing source when a private key is
// configured and the secret file otherwise.
func NewClientSecretSource(cfg core.Config, now func() time.Time) (core.ClientSecretSource, error) {
	signing := cfg.Provider.Signing
	if !signing.Enabled() {
		return FileClientSecret{Path: cfg.Provider.ClientSecretPath}, nil
	}
	return NewSignedClientSecretFromFile(SignedClientSecretConfig{
		TeamID:   signing.TeamID,
		ClientID: cfg.Provider.ClientID,
		KeyID:    signing.KeyID,
		TTL:      signing.TTL,
		Now:      now,
	}, signing.PrivateKeyPath)
}

var (
	_ core.ClientSecretSource = FileClientSecret{}
	_ core.ClientSecretSource = (*SignedClientSecret)(nil)
)
