package push_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

func TestMessageBuilder_Build(t *testing.T) {
	t.Run("Empty message is rejected", func(t *testing.T) {
		_, err := push.NewMessage().Build()

		require.Error(t, err)
		assert.ErrorIs(t, err, push.ErrEmptyMessage)
	})

	t.Run("One data entry satisfies the invariant", func(t *testing.T) {
		msg, err := push.NewMessage().WithData("k", "v").Build()

		require.NoError(t, err)
		assert.Equal(t, map[string]string{"k": "v"}, msg.Data)
		assert.Nil(t, msg.Notification)
	})

	t.Run("A notification alone satisfies the invariant", func(t *testing.T) {
		msg, err := push.NewMessage().WithNotification("Title", "Body").Build()

		require.NoError(t, err)
		require.NotNil(t, msg.Notification)
		assert.Equal(t, "Title", msg.Notification.Title)
		assert.Empty(t, msg.Data)
	})

	t.Run("Silent message keeps notification nil", func(t *testing.T) {
		msg, err := push.NewMessage().WithData("event", "sync").Build()

		require.NoError(t, err)
		// nil, not an empty struct: presence of a notification is what makes
		// the message visible to the OS.
		assert.Nil(t, msg.Notification)
	})

	t.Run("DryRun propagates to the built message", func(t *testing.T) {
		msg, err := push.NewMessage().WithData("k", "v").DryRun().Build()

		require.NoError(t, err)
		assert.True(t, msg.ValidateOnly)
	})

	t.Run("WithJSONData embeds a serialized payload", func(t *testing.T) {
		type order struct {
			ID    string `json:"id"`
			Items int    `json:"items"`
		}

		msg, err := push.NewMessage().WithJSONData("order", order{ID: "o-1", Items: 3}).Build()

		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"o-1","items":3}`, msg.Data["order"])
	})

	t.Run("WithJSONData with an unserializable value fails at Build", func(t *testing.T) {
		_, err := push.NewMessage().
			WithJSONData("bad", make(chan int)).
			WithData("ok", "v").
			Build()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad")
	})
}

func TestMessageBuilder_Chaining(t *testing.T) {
	msg, err := push.NewMessage().
		WithNotification("Order shipped", "Your order is on its way").
		WithImage("https://example.com/box.png").
		WithData("order_id", "o-42").
		WithAndroid(push.AndroidOptions{Priority: push.AndroidPriorityHigh, ChannelID: "orders"}).
		WithWebpush(push.WebpushOptions{Headers: map[string]string{"TTL": "60"}}).
		WithMessageID("trace-1").
		Build()

	require.NoError(t, err)
	assert.Equal(t, "https://example.com/box.png", msg.Notification.ImageURL)
	assert.Equal(t, push.AndroidPriorityHigh, msg.Android.Priority)
	assert.Equal(t, "orders", msg.Android.ChannelID)
	assert.Equal(t, "trace-1", msg.MessageID)
	assert.Nil(t, msg.APNS)
}
