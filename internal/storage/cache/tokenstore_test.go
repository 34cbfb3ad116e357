package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-gateway/internal/storage/cache"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// --- Mocks ---

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockCache) Del(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type MockRealStore struct {
	mock.Mock
}

func (m *MockRealStore) Fetch(ctx context.Context, userID string) (*dispatch.DeviceSet, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(*dispatch.DeviceSet), args.Error(1)
}
func (m *MockRealStore) RegisterAPNS(ctx context.Context, userID, token string) error {
	return m.Called(ctx, userID, token).Error(0)
}
func (m *MockRealStore) UnregisterWeb(ctx context.Context, userID, endpoint string) error {
	return m.Called(ctx, userID, endpoint).Error(0)
}

// Stubs for the methods these tests never exercise.
func (m *MockRealStore) RegisterFCM(context.Context, string, string) error    { return nil }
func (m *MockRealStore) UnregisterFCM(context.Context, string, string) error  { return nil }
func (m *MockRealStore) UnregisterAPNS(context.Context, string, string) error { return nil }
func (m *MockRealStore) RegisterWeb(context.Context, string, dispatch.WebPushSubscription) error {
	return nil
}

func TestCachedStore_ImmediateInvalidation(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	mockDB := new(MockRealStore)

	store := cache.NewCachedTokenStore(mockDB, mockCache, 1*time.Hour)
	const userID = "annoyed-user"
	const cacheKey = "push:devices:annoyed-user"

	t.Run("Unregister invalidates cache immediately", func(t *testing.T) {
		endpoint := "https://old.endpoint"

		mockDB.On("UnregisterWeb", ctx, userID, endpoint).Return(nil)
		mockCache.On("Del", ctx, cacheKey).Return(nil)

		err := store.UnregisterWeb(ctx, userID, endpoint)

		require.NoError(t, err)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Subsequent Fetch hits DB (Cache Miss)", func(t *testing.T) {
		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(assert.AnError)

		// The user disabled notifications: the source of truth is empty.
		emptyDevices := &dispatch.DeviceSet{UserID: userID, FCMTokens: []string{}}
		mockDB.On("Fetch", ctx, userID).Return(emptyDevices, nil)

		// The empty state is written back so the next read is a hit.
		mockCache.On("Set", ctx, cacheKey, emptyDevices, mock.Anything).Return(nil)

		devices, err := store.Fetch(ctx, userID)

		require.NoError(t, err)
		require.Empty(t, devices.FCMTokens)
		mockDB.AssertExpectations(t)
	})
}

func TestCachedStore_RegisterInvalidates(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	mockDB := new(MockRealStore)

	store := cache.NewCachedTokenStore(mockDB, mockCache, 1*time.Hour)
	const userID = "new-phone-user"

	mockDB.On("RegisterAPNS", ctx, userID, "apns-token-1").Return(nil)
	mockCache.On("Del", ctx, "push:devices:new-phone-user").Return(nil)

	err := store.RegisterAPNS(ctx, userID, "apns-token-1")

	require.NoError(t, err)
	mockDB.AssertExpectations(t)
	mockCache.AssertExpectations(t)
}

func TestCachedStore_CacheHitSkipsDB(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	mockDB := new(MockRealStore)

	store := cache.NewCachedTokenStore(mockDB, mockCache, 1*time.Hour)
	const userID = "hot-user"

	// The mock writes through the dest pointer like the real client does.
	mockCache.On("Get", ctx, "push:devices:hot-user", mock.Anything).
		Run(func(args mock.Arguments) {
			dest := args.Get(2).(*dispatch.DeviceSet)
			dest.UserID = userID
			dest.FCMTokens = []string{"cached-token"}
		}).
		Return(nil)

	devices, err := store.Fetch(ctx, userID)

	require.NoError(t, err)
	assert.Equal(t, []string{"cached-token"}, devices.FCMTokens)
	mockDB.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}
