package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"cloud.google.com/go/pubsub/v2"
)

const defaultMaxOutstanding = 32

// ConsumerConfig identifies the ingestion subscription and bounds how many
// messages are in flight at once.
type ConsumerConfig struct {
	SubscriptionID string
	MaxOutstanding int
}

// Consumer pulls push requests from Pub/Sub and hands them to the
// processor. Ack/Nack policy lives here: malformed messages are Nacked so
// the subscription's dead-letter policy swallows them, processor failures
// are Nacked for redelivery, everything else is Acked.
type Consumer struct {
	subscriber *pubsub.Subscriber
	process    Processor
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewConsumer(client *pubsub.Client, cfg ConsumerConfig, process Processor, logger *slog.Logger) (*Consumer, error) {
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("consumer requires a subscription ID")
	}
	if cfg.MaxOutstanding <= 0 {
		cfg.MaxOutstanding = defaultMaxOutstanding
	}

	subscriber := client.Subscriber(cfg.SubscriptionID)
	subscriber.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding

	return &Consumer{
		subscriber: subscriber,
		process:    process,
		logger:     logger.With("component", "Consumer", "subscription_id", cfg.SubscriptionID),
	}, nil
}

// Start begins the receive loop in a background goroutine. It returns
// immediately; delivery problems surface through the logger and through
// Stop's error.
func (c *Consumer) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}

	receiveCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		c.logger.Info("Consumer started.")
		err := c.subscriber.Receive(receiveCtx, c.handle)
		if err != nil && receiveCtx.Err() == nil {
			c.logger.Error("Receive loop terminated unexpectedly", "err", err)
		}
	}()
}

// Stop cancels the receive loop and waits for in-flight handlers to finish
// or for ctx to expire.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		c.logger.Info("Consumer stopped.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("consumer shutdown timed out: %w", ctx.Err())
	}
}

func (c *Consumer) handle(ctx context.Context, msg *pubsub.Message) {
	req, skip, err := ParsePushRequest(msg.Data)
	if skip {
		// Poison: redelivery can never succeed. Nack routes it to the
		// dead-letter topic once the retry policy is exhausted.
		c.logger.Warn("Rejecting unparseable message", "pubsub_msg_id", msg.ID, "err", err)
		msg.Nack()
		return
	}

	if err := c.process(ctx, msg.ID, req); err != nil {
		c.logger.Warn("Processing failed; message will be redelivered", "pubsub_msg_id", msg.ID, "err", err)
		msg.Nack()
		return
	}
	msg.Ack()
}
