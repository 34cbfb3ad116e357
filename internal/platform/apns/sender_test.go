package apns_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-gateway/internal/platform/apns"
	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

type stubJWTs struct {
	jwt string
	err error
}

func (s *stubJWTs) GetOrRefreshJWT(context.Context) (string, error) {
	return s.jwt, s.err
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSender(t *testing.T, jwts apns.JWTSource) *apns.Sender {
	t.Helper()
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return apns.NewSender(
		apns.Config{BundleID: "com.tinywide.messenger"},
		jwts,
		client,
		newTestLogger(),
	)
}

func deviceURL(token string) string {
	return apns.HostProduction + "/3/device/" + token
}

func mustAPNSMessage(t *testing.T, b *push.APNSMessageBuilder) *push.APNSMessage {
	t.Helper()
	msg, err := b.Build()
	require.NoError(t, err)
	return msg
}

func TestSender_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("Success with headers and merged payload", func(t *testing.T) {
		sender := newSender(t, &stubJWTs{jwt: "signed-jwt"})

		var gotHeaders http.Header
		var gotPayload map[string]any
		httpmock.RegisterResponder(http.MethodPost, deviceURL("device-1"),
			func(req *http.Request) (*http.Response, error) {
				gotHeaders = req.Header.Clone()
				require.NoError(t, json.NewDecoder(req.Body).Decode(&gotPayload))
				resp := httpmock.NewStringResponse(http.StatusOK, "")
				resp.Header.Set("apns-id", "A1B2C3")
				return resp, nil
			})

		msg := mustAPNSMessage(t, push.NewAPNSMessage().
			WithAlert("Title", "Sub", "Body").
			WithBadge(2).
			WithSound("default").
			WithCustom("conversation_id", "c-7").
			WithExpiration(time.Hour).
			WithCollapseID("latest-score"))

		res, err := sender.Send(ctx, "device-1", msg)

		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "A1B2C3", res.MessageID)

		assert.Equal(t, "Bearer signed-jwt", gotHeaders.Get("Authorization"))
		assert.Equal(t, "com.tinywide.messenger", gotHeaders.Get("apns-topic"))
		assert.Equal(t, "alert", gotHeaders.Get("apns-push-type"))
		assert.Equal(t, "10", gotHeaders.Get("apns-priority"))
		assert.Equal(t, "latest-score", gotHeaders.Get("apns-collapse-id"))
		expiration, err := strconv.ParseInt(gotHeaders.Get("apns-expiration"), 10, 64)
		require.NoError(t, err)
		assert.InDelta(t, time.Now().Add(time.Hour).Unix(), expiration, 5)

		aps := gotPayload["aps"].(map[string]any)
		alert := aps["alert"].(map[string]any)
		assert.Equal(t, "Title", alert["title"])
		assert.Equal(t, float64(2), aps["badge"])
		assert.Equal(t, "c-7", gotPayload["conversation_id"])
	})

	t.Run("Background push omits expiration and uses priority 5", func(t *testing.T) {
		sender := newSender(t, &stubJWTs{jwt: "signed-jwt"})

		var gotHeaders http.Header
		var gotPayload map[string]any
		httpmock.RegisterResponder(http.MethodPost, deviceURL("device-2"),
			func(req *http.Request) (*http.Response, error) {
				gotHeaders = req.Header.Clone()
				require.NoError(t, json.NewDecoder(req.Body).Decode(&gotPayload))
				return httpmock.NewStringResponse(http.StatusOK, ""), nil
			})

		msg := mustAPNSMessage(t, push.NewAPNSMessage().AsBackground().WithCustom("sync", "full"))

		res, err := sender.Send(ctx, "device-2", msg)

		require.NoError(t, err)
		assert.True(t, res.Success)
		// Apple has no apns-id guarantee; placeholder on absence.
		assert.Equal(t, "unknown", res.MessageID)

		assert.Equal(t, "background", gotHeaders.Get("apns-push-type"))
		assert.Equal(t, "5", gotHeaders.Get("apns-priority"))
		assert.Empty(t, gotHeaders.Get("apns-expiration"))
		assert.Empty(t, gotHeaders.Get("apns-collapse-id"))

		aps := gotPayload["aps"].(map[string]any)
		assert.Equal(t, float64(1), aps["content-available"])
		assert.NotContains(t, aps, "alert")
	})

	t.Run("Custom key cannot shadow aps", func(t *testing.T) {
		sender := newSender(t, &stubJWTs{jwt: "signed-jwt"})

		var gotPayload map[string]any
		httpmock.RegisterResponder(http.MethodPost, deviceURL("device-3"),
			func(req *http.Request) (*http.Response, error) {
				require.NoError(t, json.NewDecoder(req.Body).Decode(&gotPayload))
				return httpmock.NewStringResponse(http.StatusOK, ""), nil
			})

		msg := mustAPNSMessage(t, push.NewAPNSMessage().
			WithAlert("T", "", "B").
			WithCustom("aps", "malicious").
			WithCustom("ok", "fine"))

		_, err := sender.Send(ctx, "device-3", msg)

		require.NoError(t, err)
		aps, isMap := gotPayload["aps"].(map[string]any)
		require.True(t, isMap, "aps was shadowed by custom data")
		assert.Contains(t, aps, "alert")
		assert.Equal(t, "fine", gotPayload["ok"])
	})

	t.Run("Failure reason comes from the response body", func(t *testing.T) {
		sender := newSender(t, &stubJWTs{jwt: "signed-jwt"})
		httpmock.RegisterResponder(http.MethodPost, deviceURL("dead-device"),
			httpmock.NewStringResponder(http.StatusGone, `{"reason":"Unregistered","timestamp":1700000000}`))

		res, err := sender.Send(ctx, "dead-device",
			mustAPNSMessage(t, push.NewAPNSMessage().WithAlert("T", "", "B")))

		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, "Unregistered", res.ErrorCode)
		assert.Equal(t, http.StatusGone, res.HTTPStatus)
		assert.True(t, res.IsTokenInvalid())
	})

	t.Run("Unparsable failure body falls back to status text", func(t *testing.T) {
		sender := newSender(t, &stubJWTs{jwt: "signed-jwt"})
		httpmock.RegisterResponder(http.MethodPost, deviceURL("device-4"),
			httpmock.NewStringResponder(http.StatusServiceUnavailable, "upstream hiccup"))

		res, err := sender.Send(ctx, "device-4",
			mustAPNSMessage(t, push.NewAPNSMessage().WithAlert("T", "", "B")))

		require.NoError(t, err)
		assert.Equal(t, http.StatusText(http.StatusServiceUnavailable), res.ErrorCode)
	})

	t.Run("Dry run never touches the network", func(t *testing.T) {
		sender := newSender(t, &stubJWTs{jwt: "signed-jwt"})

		res, err := sender.Send(ctx, "device-5",
			mustAPNSMessage(t, push.NewAPNSMessage().WithAlert("T", "", "B").DryRun()))

		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Zero(t, httpmock.GetTotalCallCount())
	})

	t.Run("JWT failure halts the call", func(t *testing.T) {
		sender := newSender(t, &stubJWTs{err: errors.Join(push.ErrAuthentication, errors.New("bad key"))})

		_, err := sender.Send(ctx, "device-6",
			mustAPNSMessage(t, push.NewAPNSMessage().WithAlert("T", "", "B")))

		require.Error(t, err)
		assert.ErrorIs(t, err, push.ErrAuthentication)
		assert.Zero(t, httpmock.GetTotalCallCount())
	})
}

func TestSender_SendBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("Deduplicates and aggregates", func(t *testing.T) {
		sender := newSender(t, &stubJWTs{jwt: "signed-jwt"})

		var mu sync.Mutex
		calls := map[string]int{}
		responder := func(req *http.Request) (*http.Response, error) {
			mu.Lock()
			calls[req.URL.Path]++
			mu.Unlock()
			return httpmock.NewStringResponse(http.StatusOK, ""), nil
		}
		httpmock.RegisterResponder(http.MethodPost, deviceURL("tok-a"), responder)
		httpmock.RegisterResponder(http.MethodPost, deviceURL("tok-b"), responder)

		batch, err := sender.SendBatch(ctx, []string{"tok-a", "tok-b", "tok-a", ""},
			mustAPNSMessage(t, push.NewAPNSMessage().WithAlert("T", "", "B")))

		require.NoError(t, err)
		assert.Equal(t, 2, batch.TotalCount())
		assert.True(t, batch.IsFullSuccess())
		assert.Equal(t, 1, calls["/3/device/tok-a"])
		assert.Equal(t, 1, calls["/3/device/tok-b"])
	})

	t.Run("Empty token list short-circuits", func(t *testing.T) {
		sender := newSender(t, &stubJWTs{jwt: "signed-jwt"})

		batch, err := sender.SendBatch(ctx, nil,
			mustAPNSMessage(t, push.NewAPNSMessage().WithAlert("T", "", "B")))

		require.NoError(t, err)
		assert.Equal(t, 0, batch.TotalCount())
		assert.Zero(t, httpmock.GetTotalCallCount())
	})

	t.Run("Mixed outcomes report invalid tokens", func(t *testing.T) {
		sender := newSender(t, &stubJWTs{jwt: "signed-jwt"})
		httpmock.RegisterResponder(http.MethodPost, deviceURL("alive"),
			httpmock.NewStringResponder(http.StatusOK, ""))
		httpmock.RegisterResponder(http.MethodPost, deviceURL("dead"),
			httpmock.NewStringResponder(http.StatusBadRequest, `{"reason":"BadDeviceToken"}`))

		batch, err := sender.SendBatch(ctx, []string{"alive", "dead"},
			mustAPNSMessage(t, push.NewAPNSMessage().WithAlert("T", "", "B")))

		require.NoError(t, err)
		assert.True(t, batch.IsPartialSuccess())
		assert.Equal(t, []string{"dead"}, batch.InvalidTokens())
	})
}
