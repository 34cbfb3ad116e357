package push

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassificationTablesAreDisjoint(t *testing.T) {
	// The taxonomy only works if no code is both permanently fatal and
	// transient. Guard it against future additions to either table.
	for code := range tokenInvalidCodes {
		assert.False(t, IsRetryableCode(code), "code %q is in both tables", code)
	}
	for code := range retryableCodes {
		assert.False(t, IsTokenInvalidCode(code), "code %q is in both tables", code)
	}
}

func TestClassification(t *testing.T) {
	t.Run("Token-invalid codes", func(t *testing.T) {
		for _, code := range []string{
			"UNREGISTERED", "INVALID_ARGUMENT",
			"BadDeviceToken", "Unregistered", "DeviceTokenNotForTopic",
		} {
			r := Result{Target: TokenTarget("t"), ErrorCode: code}
			assert.True(t, r.IsTokenInvalid(), code)
			assert.False(t, r.IsRetryable(), code)
		}
	})

	t.Run("Retryable codes", func(t *testing.T) {
		for _, code := range []string{
			"UNAVAILABLE", "INTERNAL", "QUOTA_EXCEEDED",
			"TooManyRequests", "InternalServerError", "ServiceUnavailable", "Shutdown",
		} {
			r := Result{Target: TokenTarget("t"), ErrorCode: code}
			assert.True(t, r.IsRetryable(), code)
			assert.False(t, r.IsTokenInvalid(), code)
		}
	})

	t.Run("A successful result is in neither class", func(t *testing.T) {
		r := Result{Success: true, MessageID: "m-1", Target: TokenTarget("t")}
		assert.False(t, r.IsTokenInvalid())
		assert.False(t, r.IsRetryable())
	})

	t.Run("Unknown codes are in neither class", func(t *testing.T) {
		r := Result{ErrorCode: "SENDER_ID_MISMATCH", Target: TokenTarget("t")}
		assert.False(t, r.IsTokenInvalid())
		assert.False(t, r.IsRetryable())
	})
}

func TestBatchResult_DerivedState(t *testing.T) {
	t.Run("Empty batch", func(t *testing.T) {
		var b BatchResult
		assert.Equal(t, 0, b.TotalCount())
		assert.False(t, b.IsFullSuccess())
		assert.False(t, b.IsPartialSuccess())
		assert.False(t, b.IsFullFailure())
	})

	t.Run("Partial success with an unregistered token", func(t *testing.T) {
		b := BatchResult{Results: []Result{
			{Success: true, MessageID: "m-1", Target: TokenTarget("good-token")},
			{Target: TokenTarget("dead-token"), ErrorCode: "UNREGISTERED", HTTPStatus: 404},
		}}

		assert.Equal(t, 2, b.TotalCount())
		assert.Equal(t, 1, b.SuccessCount())
		assert.Equal(t, 1, b.FailureCount())
		assert.True(t, b.IsPartialSuccess())
		assert.False(t, b.IsFullSuccess())
		assert.False(t, b.IsFullFailure())

		require.Equal(t, []string{"dead-token"}, b.InvalidTokens())
		assert.Empty(t, b.RetryableTokens())
	})

	t.Run("Full failure with a retryable code", func(t *testing.T) {
		b := BatchResult{Results: []Result{
			{Target: TokenTarget("t-1"), ErrorCode: "UNAVAILABLE", HTTPStatus: 503},
		}}

		assert.True(t, b.IsFullFailure())
		assert.Equal(t, []string{"t-1"}, b.RetryableTokens())
		assert.Empty(t, b.InvalidTokens())
	})

	t.Run("Topic targets never appear in InvalidTokens", func(t *testing.T) {
		b := BatchResult{Results: []Result{
			{Target: TopicTarget("news"), ErrorCode: "INVALID_ARGUMENT"},
		}}
		assert.Empty(t, b.InvalidTokens())
	})
}
