package push_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

func TestTarget_Masked(t *testing.T) {
	t.Run("Long token keeps only the edges", func(t *testing.T) {
		raw := "abcdef123xyz456" // 15 chars
		masked := push.TokenTarget(raw).Masked()

		assert.NotEqual(t, raw, masked)
		assert.True(t, strings.HasPrefix(masked, "abcdef"))
		assert.True(t, strings.HasSuffix(masked, "xyz456"))
	})

	t.Run("Short token passes through", func(t *testing.T) {
		assert.Equal(t, "short-tok", push.TokenTarget("short-tok").Masked())
	})

	t.Run("Boundary of 12 characters passes through", func(t *testing.T) {
		assert.Equal(t, "123456789012", push.TokenTarget("123456789012").Masked())
	})

	t.Run("Topic value is never masked", func(t *testing.T) {
		topic := "news-updates-for-everybody"
		assert.Equal(t, topic, push.TopicTarget(topic).Masked())
	})

	t.Run("Condition value is never masked", func(t *testing.T) {
		cond := "'stock-GOOG' in topics || 'industry-tech' in topics"
		assert.Equal(t, cond, push.ConditionTarget(cond).Masked())
	})
}
