// Package web dispatches notifications to browser push endpoints using the
// VAPID Web Push protocol.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

// VapidConfig holds the server VAPID key pair and contact address.
type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type sendFunc func(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

type Dispatcher struct {
	cfg        VapidConfig
	httpClient *http.Client
	logger     *slog.Logger

	// send is swappable for tests; defaults to the webpush library.
	send sendFunc
}

func NewDispatcher(cfg VapidConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logger.With("component", "WebPushDispatcher"),
		send:       webpush.SendNotificationWithContext,
	}
}

// Dispatch sends the content to a batch of browser subscriptions and
// aggregates the outcomes like the mobile senders do. A 410/404 endpoint is
// reported with the Unregistered code so the shared pruning logic applies.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	subs []dispatch.WebPushSubscription,
	content dispatch.Content,
	data map[string]string,
) (push.BatchResult, error) {
	if len(subs) == 0 {
		return push.BatchResult{}, nil
	}

	payload, err := json.Marshal(map[string]any{
		"notification": map[string]string{
			"title": content.Title,
			"body":  content.Body,
			"icon":  content.Image,
		},
		"data": data,
	})
	if err != nil {
		return push.BatchResult{}, fmt.Errorf("marshal webpush payload: %w", err)
	}

	batch := push.BatchResult{Results: make([]push.Result, 0, len(subs))}
	for _, sub := range subs {
		batch.Results = append(batch.Results, d.sendOne(ctx, payload, sub))
	}
	d.logger.Info("Web Push batch dispatched",
		"total", batch.TotalCount(),
		"success", batch.SuccessCount(),
		"invalid", len(batch.InvalidTokens()),
	)
	return batch, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, payload []byte, sub dispatch.WebPushSubscription) push.Result {
	target := push.TokenTarget(sub.Endpoint)

	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}

	resp, err := d.send(ctx, payload, s, &webpush.Options{
		Subscriber:      d.cfg.SubscriberEmail,
		VAPIDPublicKey:  d.cfg.PublicKey,
		VAPIDPrivateKey: d.cfg.PrivateKey,
		TTL:             60,
		HTTPClient:      d.httpClient,
	})
	if err != nil {
		// Transport error: don't delete the subscription over a flaky network.
		d.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
		return push.Result{
			Target:       target,
			ErrorCode:    "ServiceUnavailable",
			ErrorMessage: err.Error(),
		}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		return push.Result{Success: true, MessageID: resp.Header.Get("Location"), Target: target, HTTPStatus: resp.StatusCode}
	case http.StatusGone, http.StatusNotFound:
		// Endpoint is dead; report it for cleanup.
		return push.Result{
			Target:       target,
			ErrorCode:    "Unregistered",
			ErrorMessage: http.StatusText(resp.StatusCode),
			HTTPStatus:   resp.StatusCode,
		}
	default:
		d.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
		return push.Result{
			Target:       target,
			ErrorCode:    http.StatusText(resp.StatusCode),
			ErrorMessage: http.StatusText(resp.StatusCode),
			HTTPStatus:   resp.StatusCode,
		}
	}
}
