// Package cache decorates a TokenStore with read-aside caching so the hot
// Fetch path in the pipeline does not hammer Firestore.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// CacheClient defines the subset of Redis commands the decorator needs.
type CacheClient interface {
	// Get returns an error on a miss.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedTokenStore adds read-aside caching to any dispatch.TokenStore.
type CachedTokenStore struct {
	realStore dispatch.TokenStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedTokenStore(realStore dispatch.TokenStore, cache CacheClient, ttl time.Duration) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- Read path (read-aside) ---

func (s *CachedTokenStore) Fetch(ctx context.Context, userID string) (*dispatch.DeviceSet, error) {
	key := s.cacheKey(userID)
	var cached dispatch.DeviceSet

	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	fresh, err := s.realStore.Fetch(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization, not a transaction. If Redis is down we
	// still serve from the store.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)

	return fresh, nil
}

// --- Write paths (invalidate-on-write) ---

func (s *CachedTokenStore) RegisterFCM(ctx context.Context, userID, token string) error {
	if err := s.realStore.RegisterFCM(ctx, userID, token); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

func (s *CachedTokenStore) UnregisterFCM(ctx context.Context, userID, token string) error {
	if err := s.realStore.UnregisterFCM(ctx, userID, token); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

func (s *CachedTokenStore) RegisterAPNS(ctx context.Context, userID, token string) error {
	if err := s.realStore.RegisterAPNS(ctx, userID, token); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

func (s *CachedTokenStore) UnregisterAPNS(ctx context.Context, userID, token string) error {
	if err := s.realStore.UnregisterAPNS(ctx, userID, token); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

func (s *CachedTokenStore) RegisterWeb(ctx context.Context, userID string, sub dispatch.WebPushSubscription) error {
	if err := s.realStore.RegisterWeb(ctx, userID, sub); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

func (s *CachedTokenStore) UnregisterWeb(ctx context.Context, userID, endpoint string) error {
	if err := s.realStore.UnregisterWeb(ctx, userID, endpoint); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

// --- Helpers ---

// invalidate deletes the key so the next Fetch is forced back to the store.
// This gives immediate consistency for unregister actions.
func (s *CachedTokenStore) invalidate(ctx context.Context, userID string) error {
	return s.cache.Del(ctx, s.cacheKey(userID))
}

func (s *CachedTokenStore) cacheKey(userID string) string {
	return fmt.Sprintf("push:devices:%s", userID)
}
