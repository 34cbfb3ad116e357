package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

// The three delivery paths, narrowed to what the processor calls so tests
// can stub them.

type FCMBatchSender interface {
	SendBatch(ctx context.Context, tokens []string, msg *push.Message) (push.BatchResult, error)
}

type APNSBatchSender interface {
	SendBatch(ctx context.Context, tokens []string, msg *push.APNSMessage) (push.BatchResult, error)
}

type WebBatchSender interface {
	Dispatch(ctx context.Context, subs []dispatch.WebPushSubscription, content dispatch.Content, data map[string]string) (push.BatchResult, error)
}

// Processor handles one parsed push request end to end. A returned error
// means the message should be redelivered.
type Processor func(ctx context.Context, msgID string, req *dispatch.PushRequest) error

// NewProcessor builds the fan-out logic: look the recipient's devices up,
// dispatch down every populated path, prune registrations the providers
// reported as permanently dead, and request a retry when a path saw
// transient failures.
func NewProcessor(
	fcmSender FCMBatchSender,
	apnsSender APNSBatchSender,
	webSender WebBatchSender,
	store dispatch.TokenStore,
	logger *slog.Logger,
) Processor {
	logger = logger.With("component", "Processor")

	return func(ctx context.Context, msgID string, req *dispatch.PushRequest) error {
		procLogger := logger.With(
			"recipient_id", req.RecipientID,
			"pubsub_msg_id", msgID,
			"dispatch_id", uuid.NewString(),
		)

		devices, err := store.Fetch(ctx, req.RecipientID)
		if err != nil {
			procLogger.Error("Failed to fetch devices", "err", err)
			return err
		}

		retryable := 0

		// Path A: FCM (Android + browsers registered through Firebase).
		if len(devices.FCMTokens) > 0 {
			msg, err := buildFCMMessage(msgID, req)
			if err != nil {
				procLogger.Error("FCM message build failed", "err", err)
				return err
			}
			batch, err := fcmSender.SendBatch(ctx, devices.FCMTokens, msg)
			if err != nil {
				procLogger.Error("FCM dispatch failed", "err", err)
				return err
			}
			pruneFCM(ctx, store, req.RecipientID, batch, procLogger)
			retryable += len(batch.RetryableTokens())
			procLogger.Info("FCM dispatched", "total", batch.TotalCount(), "success", batch.SuccessCount())
		}

		// Path B: native APNs.
		if len(devices.APNSTokens) > 0 {
			msg, err := buildAPNSMessage(req)
			if err != nil {
				procLogger.Error("APNs message build failed", "err", err)
				return err
			}
			batch, err := apnsSender.SendBatch(ctx, devices.APNSTokens, msg)
			if err != nil {
				procLogger.Error("APNs dispatch failed", "err", err)
				return err
			}
			pruneAPNS(ctx, store, req.RecipientID, batch, procLogger)
			retryable += len(batch.RetryableTokens())
			procLogger.Info("APNs dispatched", "total", batch.TotalCount(), "success", batch.SuccessCount())
		}

		// Path C: Web Push (VAPID).
		if len(devices.WebSubscriptions) > 0 {
			batch, err := webSender.Dispatch(ctx, devices.WebSubscriptions, req.Content, req.Data)
			if err != nil {
				procLogger.Error("Web dispatch failed", "err", err)
				return err
			}
			pruneWeb(ctx, store, req.RecipientID, batch, procLogger)
			retryable += len(batch.RetryableTokens())
			procLogger.Info("Web dispatched", "total", batch.TotalCount(), "success", batch.SuccessCount())
		}

		if len(devices.FCMTokens) == 0 && len(devices.APNSTokens) == 0 && len(devices.WebSubscriptions) == 0 {
			procLogger.Info("No devices registered for user; dropping notification.")
			return nil
		}

		if retryable > 0 {
			return fmt.Errorf("dispatch for %q had %d retryable failures", req.RecipientID, retryable)
		}
		return nil
	}
}

func buildFCMMessage(msgID string, req *dispatch.PushRequest) (*push.Message, error) {
	b := push.NewMessage().WithMessageID(msgID)
	if req.Content.Title != "" || req.Content.Body != "" {
		b = b.WithNotification(req.Content.Title, req.Content.Body)
		if req.Content.Image != "" {
			b = b.WithImage(req.Content.Image)
		}
	}
	for k, v := range req.Data {
		b = b.WithData(k, v)
	}
	return b.Build()
}

func buildAPNSMessage(req *dispatch.PushRequest) (*push.APNSMessage, error) {
	b := push.NewAPNSMessage()
	if req.Content.Title != "" || req.Content.Body != "" {
		b = b.WithAlert(req.Content.Title, "", req.Content.Body)
		if req.Content.Sound != "" {
			b = b.WithSound(req.Content.Sound)
		}
	} else {
		b = b.AsBackground()
	}
	for k, v := range req.Data {
		b = b.WithCustom(k, v)
	}
	return b.Build()
}

// Self-healing: invalid registrations come back from the senders; removing
// them from storage is our job, not the senders'.

func pruneFCM(ctx context.Context, store dispatch.TokenStore, userID string, batch push.BatchResult, logger *slog.Logger) {
	for _, token := range batch.InvalidTokens() {
		logger.Info("Cleaning up invalid FCM token", "token", push.TokenTarget(token).Masked())
		if err := store.UnregisterFCM(ctx, userID, token); err != nil {
			logger.Warn("Failed to delete FCM token", "err", err)
		}
	}
}

func pruneAPNS(ctx context.Context, store dispatch.TokenStore, userID string, batch push.BatchResult, logger *slog.Logger) {
	for _, token := range batch.InvalidTokens() {
		logger.Info("Cleaning up invalid APNs token", "token", push.TokenTarget(token).Masked())
		if err := store.UnregisterAPNS(ctx, userID, token); err != nil {
			logger.Warn("Failed to delete APNs token", "err", err)
		}
	}
}

func pruneWeb(ctx context.Context, store dispatch.TokenStore, userID string, batch push.BatchResult, logger *slog.Logger) {
	// Web results carry the endpoint as the target value.
	for _, endpoint := range batch.InvalidTokens() {
		logger.Info("Cleaning up invalid Web subscription", "endpoint", endpoint)
		if err := store.UnregisterWeb(ctx, userID, endpoint); err != nil {
			logger.Warn("Failed to delete Web subscription", "err", err)
		}
	}
}
