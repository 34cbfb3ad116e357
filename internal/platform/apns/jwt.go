// Package apns implements the direct Apple Push Notification service
// client: the ES256 provider-token cache and the HTTP/2 sender.
package apns

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

// jwtRefreshInterval is deliberately shorter than Apple's 60-minute
// tolerance; the margin absorbs clock skew and request-in-flight latency.
const jwtRefreshInterval = 45 * time.Minute

// JWTConfig holds the key material for provider-token authentication. The
// P8 key is the base64 body of the .p8 file with header, footer and
// whitespace already stripped by the caller.
type JWTConfig struct {
	P8KeyBase64 string
	KeyID       string
	TeamID      string
}

// JWTProvider caches a self-signed ES256 provider token and refreshes it
// proactively. Same locking discipline as the FCM credential cache: shared
// lock on the read path, exclusive lock with a validity re-check on the
// refresh path.
type JWTProvider struct {
	key    *ecdsa.PrivateKey
	keyID  string
	teamID string

	mu       sync.RWMutex
	signed   string
	issuedAt time.Time

	now func() time.Time
}

// NewJWTProvider parses the private key once; a bad key is a configuration
// error at construction, not a per-request failure.
func NewJWTProvider(cfg JWTConfig) (*JWTProvider, error) {
	if cfg.P8KeyBase64 == "" || cfg.KeyID == "" || cfg.TeamID == "" {
		return nil, fmt.Errorf("%w: APNs key material incomplete (need p8 key, key id, team id)", push.ErrConfiguration)
	}

	der, err := base64.StdEncoding.DecodeString(cfg.P8KeyBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: decode P8 key: %w", push.ErrConfiguration, err)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parse P8 key: %w", push.ErrConfiguration, err)
	}
	ecKey, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: P8 key is not an ECDSA key", push.ErrConfiguration)
	}

	return &JWTProvider{
		key:    ecKey,
		keyID:  cfg.KeyID,
		teamID: cfg.TeamID,
		now:    time.Now,
	}, nil
}

// GetOrRefreshJWT returns a provider token younger than the refresh
// interval, signing a new one if needed. Signing is local, so the context
// is part of the contract rather than a suspension point.
func (p *JWTProvider) GetOrRefreshJWT(_ context.Context) (string, error) {
	p.mu.RLock()
	signed, ok := p.cached()
	p.mu.RUnlock()
	if ok {
		return signed, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if signed, ok := p.cached(); ok {
		return signed, nil
	}

	issuedAt := p.now()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": p.teamID,
		"iat": issuedAt.Unix(),
	})
	token.Header["kid"] = p.keyID

	signed, err := token.SignedString(p.key)
	if err != nil {
		return "", fmt.Errorf("%w: sign provider token: %w", push.ErrAuthentication, err)
	}
	p.signed = signed
	p.issuedAt = issuedAt
	return signed, nil
}

// cached must be called with at least the read lock held.
func (p *JWTProvider) cached() (string, bool) {
	if p.signed != "" && p.now().Sub(p.issuedAt) < jwtRefreshInterval {
		return p.signed, true
	}
	return "", false
}
