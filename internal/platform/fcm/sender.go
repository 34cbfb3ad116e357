package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

const (
	DefaultEndpoint         = "https://fcm.googleapis.com"
	DefaultBatchParallelism = 16

	defaultTimeout = 10 * time.Second
)

// TokenProvider supplies a valid OAuth2 bearer token. Satisfied by
// *AccessTokenProvider; an interface so tests can stub the exchange.
type TokenProvider interface {
	GetAccessToken(ctx context.Context) (string, error)
}

// Config holds the sender's project binding and fan-out limits.
type Config struct {
	ProjectID string
	// Endpoint overrides the FCM base URL, for tests and emulators.
	Endpoint string
	// BatchParallelism bounds concurrent in-flight sends during SendBatch.
	BatchParallelism int64
}

// Sender speaks the FCM HTTP v1 protocol for single and batched sends.
type Sender struct {
	cfg    Config
	tokens TokenProvider
	client *http.Client
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewSender wires the sender. A nil client falls back to a default with a
// request timeout; callers wanting retries pass a client whose transport is
// wrapped by pkg/retry.
func NewSender(cfg Config, tokens TokenProvider, client *http.Client, logger *slog.Logger) *Sender {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.BatchParallelism <= 0 {
		cfg.BatchParallelism = DefaultBatchParallelism
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Sender{
		cfg:    cfg,
		tokens: tokens,
		client: client,
		sem:    semaphore.NewWeighted(cfg.BatchParallelism),
		logger: logger.With("component", "FCMSender"),
	}
}

// SendToToken delivers msg to a single device registration token.
func (s *Sender) SendToToken(ctx context.Context, token string, msg *push.Message) (push.Result, error) {
	return s.Send(ctx, push.TokenTarget(token), msg)
}

// SendToTopic delivers msg to every subscriber of a topic.
func (s *Sender) SendToTopic(ctx context.Context, topic string, msg *push.Message) (push.Result, error) {
	return s.Send(ctx, push.TopicTarget(topic), msg)
}

// SendToCondition delivers msg to the devices matching a boolean topic
// expression.
func (s *Sender) SendToCondition(ctx context.Context, condition string, msg *push.Message) (push.Result, error) {
	return s.Send(ctx, push.ConditionTarget(condition), msg)
}

// Send performs one protocol exchange for one target. Provider rejections
// come back inside the Result; the error return is reserved for
// configuration, authentication and transport failures.
func (s *Sender) Send(ctx context.Context, target push.Target, msg *push.Message) (push.Result, error) {
	bearer, err := s.tokens.GetAccessToken(ctx)
	if err != nil {
		return push.Result{}, err
	}

	body, err := json.Marshal(newSendRequest(target, msg))
	if err != nil {
		return push.Result{}, fmt.Errorf("marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/projects/%s/messages:send", s.cfg.Endpoint, s.cfg.ProjectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return push.Result{}, fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := s.client.Do(req)
	if err != nil {
		return push.Result{}, fmt.Errorf("%w: %w", push.ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return push.Result{}, fmt.Errorf("%w: read response: %w", push.ErrTransport, err)
	}

	result := s.parseResponse(target, resp.StatusCode, raw)
	if !result.Success {
		s.logger.Debug("FCM rejected message",
			"target", target.String(),
			"code", result.ErrorCode,
			"status", result.HTTPStatus,
		)
	}
	return result, nil
}

// parseResponse classifies the provider's answer. A malformed error body
// must still produce a structured failure, never a crash.
func (s *Sender) parseResponse(target push.Target, status int, raw []byte) push.Result {
	if status >= 200 && status < 300 {
		var ok sendResponse
		_ = json.Unmarshal(raw, &ok)
		return push.Result{
			Success:    true,
			MessageID:  ok.Name,
			Target:     target,
			HTTPStatus: status,
		}
	}

	code := http.StatusText(status)
	message := string(raw)
	var envelope errorResponse
	if err := json.Unmarshal(raw, &envelope); err == nil {
		code = envelope.errorCode(http.StatusText(status))
		if envelope.Error.Message != "" {
			message = envelope.Error.Message
		}
	}
	return push.Result{
		Target:       target,
		ErrorCode:    code,
		ErrorMessage: message,
		HTTPStatus:   status,
	}
}

// SendBatch fans msg out to many device tokens: blank targets are dropped,
// duplicates collapse to one send, and in-flight requests are bounded by
// the configured parallelism. Results arrive in completion order.
//
// Authentication and configuration failures abort the whole batch. A
// per-target transport failure that survived the retry policy is folded in
// as an UNAVAILABLE result so the caller's retryable branch sees it.
func (s *Sender) SendBatch(ctx context.Context, tokens []string, msg *push.Message) (push.BatchResult, error) {
	deduped := dedupe(tokens)
	if len(deduped) == 0 {
		return push.BatchResult{}, nil
	}

	// Surface credential problems before spawning anything.
	if _, err := s.tokens.GetAccessToken(ctx); err != nil {
		return push.BatchResult{}, err
	}

	results := make(chan push.Result, len(deduped))
	var wg sync.WaitGroup
	for _, token := range deduped {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			target := push.TokenTarget(token)
			if err := s.sem.Acquire(ctx, 1); err != nil {
				results <- transportResult(target, err)
				return
			}
			defer s.sem.Release(1)

			res, err := s.Send(ctx, target, msg)
			if err != nil {
				res = transportResult(target, err)
			}
			results <- res
		}(token)
	}
	wg.Wait()
	close(results)

	batch := push.BatchResult{Results: make([]push.Result, 0, len(deduped))}
	for res := range results {
		batch.Results = append(batch.Results, res)
	}
	s.logger.Info("FCM batch dispatched",
		"total", batch.TotalCount(),
		"success", batch.SuccessCount(),
		"invalid", len(batch.InvalidTokens()),
	)
	return batch, nil
}

func transportResult(target push.Target, err error) push.Result {
	return push.Result{
		Target:       target,
		ErrorCode:    "UNAVAILABLE",
		ErrorMessage: err.Error(),
	}
}

func dedupe(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
