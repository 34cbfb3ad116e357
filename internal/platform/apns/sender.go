package apns

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/sync/semaphore"

	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

const (
	HostProduction = "https://api.push.apple.com"
	HostSandbox    = "https://api.sandbox.push.apple.com"

	// Apple throttles harder than FCM; the default ceiling is lower.
	DefaultBatchParallelism = 8

	defaultTimeout = 10 * time.Second

	// unknownMessageID is returned when Apple omits the apns-id header.
	unknownMessageID = "unknown"
)

// JWTSource supplies a valid provider token. Satisfied by *JWTProvider.
type JWTSource interface {
	GetOrRefreshJWT(ctx context.Context) (string, error)
}

// Config binds the sender to one app and environment.
type Config struct {
	BundleID string
	// Sandbox selects the development host; production is the default.
	Sandbox bool
	// Endpoint overrides the host entirely, for tests.
	Endpoint string
	// BatchParallelism bounds concurrent in-flight sends during SendBatch.
	BatchParallelism int64
}

// Sender speaks the APNs HTTP/2 protocol, one device path per token.
type Sender struct {
	cfg    Config
	jwts   JWTSource
	client *http.Client
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewSender wires the sender. The default client always negotiates HTTP/2;
// APNs rejects HTTP/1.1 connections.
func NewSender(cfg Config, jwts JWTSource, client *http.Client, logger *slog.Logger) *Sender {
	if cfg.Endpoint == "" {
		if cfg.Sandbox {
			cfg.Endpoint = HostSandbox
		} else {
			cfg.Endpoint = HostProduction
		}
	}
	if cfg.BatchParallelism <= 0 {
		cfg.BatchParallelism = DefaultBatchParallelism
	}
	if client == nil {
		client = &http.Client{
			Timeout: defaultTimeout,
			Transport: &http2.Transport{
				DialTLSContext: func(ctx context.Context, network, addr string, tlsCfg *tls.Config) (net.Conn, error) {
					d := tls.Dialer{Config: tlsCfg}
					return d.DialContext(ctx, network, addr)
				},
			},
		}
	}
	return &Sender{
		cfg:    cfg,
		jwts:   jwts,
		client: client,
		sem:    semaphore.NewWeighted(cfg.BatchParallelism),
		logger: logger.With("component", "APNSSender"),
	}
}

// Send performs one protocol exchange for one device token. Provider
// rejections come back inside the Result; the error return is reserved for
// configuration, authentication and transport failures.
func (s *Sender) Send(ctx context.Context, deviceToken string, msg *push.APNSMessage) (push.Result, error) {
	target := push.TokenTarget(deviceToken)

	body, err := json.Marshal(buildPayload(msg))
	if err != nil {
		return push.Result{}, fmt.Errorf("marshal payload: %w", err)
	}

	// Apple has no dry-run on the wire; validate-only stops after the
	// payload is proven serializable.
	if msg.ValidateOnly {
		return push.Result{Success: true, MessageID: unknownMessageID, Target: target}, nil
	}

	bearer, err := s.jwts.GetOrRefreshJWT(ctx)
	if err != nil {
		return push.Result{}, err
	}

	url := fmt.Sprintf("%s/3/device/%s", s.cfg.Endpoint, deviceToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return push.Result{}, fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apns-topic", s.cfg.BundleID)
	req.Header.Set("apns-push-type", string(msg.PushType))
	req.Header.Set("apns-priority", strconv.Itoa(msg.Priority))
	if msg.Expiration > 0 {
		expiresAt := time.Now().Add(msg.Expiration).Unix()
		req.Header.Set("apns-expiration", strconv.FormatInt(expiresAt, 10))
	}
	if msg.CollapseID != "" {
		req.Header.Set("apns-collapse-id", msg.CollapseID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return push.Result{}, fmt.Errorf("%w: %w", push.ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return push.Result{}, fmt.Errorf("%w: read response: %w", push.ErrTransport, err)
	}

	result := s.parseResponse(target, resp, raw)
	if !result.Success {
		s.logger.Debug("APNs rejected notification",
			"target", target.String(),
			"reason", result.ErrorCode,
			"status", result.HTTPStatus,
		)
	}
	return result, nil
}

func (s *Sender) parseResponse(target push.Target, resp *http.Response, raw []byte) push.Result {
	if resp.StatusCode == http.StatusOK {
		id := resp.Header.Get("apns-id")
		if id == "" {
			id = unknownMessageID
		}
		return push.Result{
			Success:    true,
			MessageID:  id,
			Target:     target,
			HTTPStatus: resp.StatusCode,
		}
	}

	code := http.StatusText(resp.StatusCode)
	message := string(raw)
	var body struct {
		Reason    string `json:"reason"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Reason != "" {
		code = body.Reason
		message = body.Reason
	}
	return push.Result{
		Target:       target,
		ErrorCode:    code,
		ErrorMessage: message,
		HTTPStatus:   resp.StatusCode,
	}
}

// SendBatch fans msg out to many device tokens with the same dedupe,
// admission-gate and aggregation semantics as the FCM sender, at Apple's
// lower default parallelism.
func (s *Sender) SendBatch(ctx context.Context, tokens []string, msg *push.APNSMessage) (push.BatchResult, error) {
	deduped := dedupe(tokens)
	if len(deduped) == 0 {
		return push.BatchResult{}, nil
	}

	if _, err := s.jwts.GetOrRefreshJWT(ctx); err != nil {
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

			res, err := s.Send(ctx, token, msg)
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
	s.logger.Info("APNs batch dispatched",
		"total", batch.TotalCount(),
		"success", batch.SuccessCount(),
		"invalid", len(batch.InvalidTokens()),
	)
	return batch, nil
}

func transportResult(target push.Target, err error) push.Result {
	return push.Result{
		Target:       target,
		ErrorCode:    "ServiceUnavailable",
		ErrorMessage: err.Error(),
	}
}

// buildPayload merges the aps dictionary with the message's custom data.
// A custom key can never shadow aps.
func buildPayload(msg *push.APNSMessage) map[string]any {
	aps := make(map[string]any)
	if alert := msg.APS.Alert; alert != nil {
		a := make(map[string]any)
		if alert.Title != "" {
			a["title"] = alert.Title
		}
		if alert.Subtitle != "" {
			a["subtitle"] = alert.Subtitle
		}
		if alert.Body != "" {
			a["body"] = alert.Body
		}
		aps["alert"] = a
	}
	if msg.APS.Badge != nil {
		aps["badge"] = *msg.APS.Badge
	}
	if msg.APS.Sound != "" {
		aps["sound"] = msg.APS.Sound
	}
	if msg.APS.ContentAvailable != 0 {
		aps["content-available"] = msg.APS.ContentAvailable
	}
	if msg.APS.MutableContent != 0 {
		aps["mutable-content"] = msg.APS.MutableContent
	}
	if msg.APS.Category != "" {
		aps["category"] = msg.APS.Category
	}
	if msg.APS.ThreadID != "" {
		aps["thread-id"] = msg.APS.ThreadID
	}

	payload := make(map[string]any, len(msg.Custom)+1)
	for k, v := range msg.Custom {
		if k == "aps" {
			continue
		}
		payload[k] = v
	}
	payload["aps"] = aps
	return payload
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
