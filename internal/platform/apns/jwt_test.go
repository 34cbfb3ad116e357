package apns

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

func testP8Key(t *testing.T) (string, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(der), key
}

func TestNewJWTProvider_Configuration(t *testing.T) {
	p8, _ := testP8Key(t)

	t.Run("Valid key material", func(t *testing.T) {
		provider, err := NewJWTProvider(JWTConfig{P8KeyBase64: p8, KeyID: "ABC123DEFG", TeamID: "TEAM456789"})
		require.NoError(t, err)
		assert.NotNil(t, provider)
	})

	t.Run("Missing fields are a configuration error", func(t *testing.T) {
		_, err := NewJWTProvider(JWTConfig{P8KeyBase64: p8})
		require.Error(t, err)
		assert.ErrorIs(t, err, push.ErrConfiguration)
	})

	t.Run("Garbage base64 is a configuration error", func(t *testing.T) {
		_, err := NewJWTProvider(JWTConfig{P8KeyBase64: "!!not-base64!!", KeyID: "ABC123DEFG", TeamID: "TEAM456789"})
		require.Error(t, err)
		assert.ErrorIs(t, err, push.ErrConfiguration)
	})

	t.Run("Valid base64 of a non-key is a configuration error", func(t *testing.T) {
		_, err := NewJWTProvider(JWTConfig{
			P8KeyBase64: base64.StdEncoding.EncodeToString([]byte("hello")),
			KeyID:       "ABC123DEFG",
			TeamID:      "TEAM456789",
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, push.ErrConfiguration)
	})
}

func TestJWTProvider_Token(t *testing.T) {
	ctx := context.Background()
	p8, key := testP8Key(t)

	t.Run("Signed token carries kid, iss and iat", func(t *testing.T) {
		provider, err := NewJWTProvider(JWTConfig{P8KeyBase64: p8, KeyID: "ABC123DEFG", TeamID: "TEAM456789"})
		require.NoError(t, err)

		signed, err := provider.GetOrRefreshJWT(ctx)
		require.NoError(t, err)

		parsed, err := jwt.Parse(signed,
			func(*jwt.Token) (any, error) { return &key.PublicKey, nil },
			jwt.WithValidMethods([]string{"ES256"}),
		)
		require.NoError(t, err)
		require.True(t, parsed.Valid)

		assert.Equal(t, "ABC123DEFG", parsed.Header["kid"])
		claims := parsed.Claims.(jwt.MapClaims)
		assert.Equal(t, "TEAM456789", claims["iss"])
		iat, ok := claims["iat"].(float64)
		require.True(t, ok)
		assert.InDelta(t, time.Now().Unix(), int64(iat), 5)
	})

	t.Run("Fresh token is reused, stale token is re-signed", func(t *testing.T) {
		provider, err := NewJWTProvider(JWTConfig{P8KeyBase64: p8, KeyID: "ABC123DEFG", TeamID: "TEAM456789"})
		require.NoError(t, err)

		base := time.Now()
		current := base
		provider.now = func() time.Time { return current }

		first, err := provider.GetOrRefreshJWT(ctx)
		require.NoError(t, err)

		// 30 minutes in: still inside the 45-minute refresh window.
		current = base.Add(30 * time.Minute)
		again, err := provider.GetOrRefreshJWT(ctx)
		require.NoError(t, err)
		assert.Equal(t, first, again)

		// 46 minutes in: past the proactive refresh point.
		current = base.Add(46 * time.Minute)
		refreshed, err := provider.GetOrRefreshJWT(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, first, refreshed)
	})
}
