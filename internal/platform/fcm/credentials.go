// Package fcm implements the Firebase Cloud Messaging HTTP v1 client: the
// OAuth2 credential cache and the sender that speaks the messages:send wire
// protocol.
package fcm

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2/google"

	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

const (
	messagingScope = "https://www.googleapis.com/auth/firebase.messaging"

	// assumedTokenLifetime is used only when the token exchange response
	// carries no expiry of its own. Google-issued tokens live one hour.
	assumedTokenLifetime = time.Hour

	// expirySafetyBuffer absorbs clock skew and request-in-flight latency
	// so a token never expires mid-request.
	expirySafetyBuffer = 60 * time.Second
)

// CredentialsConfig locates the service account used for the token exchange.
// Inline JSON content is preferred; a file path is the fallback.
type CredentialsConfig struct {
	ServiceAccountJSON string
	ServiceAccountFile string
}

// AccessTokenProvider caches the last-obtained OAuth2 bearer token and
// refreshes it before expiry. Reads take the shared lock only; a refresh
// takes the exclusive lock and re-checks validity so concurrent callers
// trigger at most one network round-trip.
type AccessTokenProvider struct {
	mu     sync.RWMutex
	token  string
	expiry time.Time

	exchange func(ctx context.Context) (string, time.Time, error)
	now      func() time.Time
}

// NewAccessTokenProvider parses the service account credential eagerly to
// fail fast on startup if it is missing or malformed.
func NewAccessTokenProvider(cfg CredentialsConfig) (*AccessTokenProvider, error) {
	var data []byte
	switch {
	case cfg.ServiceAccountJSON != "":
		data = []byte(cfg.ServiceAccountJSON)
	case cfg.ServiceAccountFile != "":
		raw, err := os.ReadFile(cfg.ServiceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("%w: read service account file: %w", push.ErrConfiguration, err)
		}
		data = raw
	default:
		return nil, fmt.Errorf("%w: no service account JSON or file configured", push.ErrConfiguration)
	}

	conf, err := google.JWTConfigFromJSON(data, messagingScope)
	if err != nil {
		return nil, fmt.Errorf("%w: parse service account: %w", push.ErrConfiguration, err)
	}

	return &AccessTokenProvider{
		exchange: func(ctx context.Context) (string, time.Time, error) {
			tok, err := conf.TokenSource(ctx).Token()
			if err != nil {
				return "", time.Time{}, fmt.Errorf("%w: oauth2 token exchange: %w", push.ErrAuthentication, err)
			}
			expiry := tok.Expiry
			if expiry.IsZero() {
				expiry = time.Now().Add(assumedTokenLifetime)
			}
			return tok.AccessToken, expiry, nil
		},
		now: time.Now,
	}, nil
}

// GetAccessToken returns a bearer token valid for at least the safety
// buffer, refreshing it if needed.
func (p *AccessTokenProvider) GetAccessToken(ctx context.Context) (string, error) {
	p.mu.RLock()
	token, ok := p.cached()
	p.mu.RUnlock()
	if ok {
		return token, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if token, ok := p.cached(); ok {
		return token, nil
	}

	token, expiry, err := p.exchange(ctx)
	if err != nil {
		return "", err
	}
	p.token = token
	p.expiry = expiry.Add(-expirySafetyBuffer)
	return token, nil
}

// cached must be called with at least the read lock held.
func (p *AccessTokenProvider) cached() (string, bool) {
	if p.token != "" && p.now().Before(p.expiry) {
		return p.token, true
	}
	return "", false
}
