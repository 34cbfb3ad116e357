// Package retry wraps an http.RoundTripper with exponential backoff for
// transient transport failures and HTTP 429 responses. It sits below the
// platform senders, so a request that succeeds after retries is
// indistinguishable from one that succeeded on the first attempt.
package retry

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultBaseDelay = 500 * time.Millisecond
	maxJitter        = 200 * time.Millisecond
)

// Config describes the retry behavior of a wrapped transport.
type Config struct {
	// MaxAttempts is the number of retries after the initial request.
	// Zero disables the wrapper entirely.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff (base * 2^(attempt-1)).
	BaseDelay time.Duration
}

// NewTransport wraps base with the retry policy. With MaxAttempts == 0 the
// base transport is returned untouched.
func NewTransport(base http.RoundTripper, cfg Config, logger *slog.Logger) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if cfg.MaxAttempts <= 0 {
		return base
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	return &transport{
		base:   base,
		cfg:    cfg,
		logger: logger.With("component", "RetryTransport"),
	}
}

type transport struct {
	base   http.RoundTripper
	cfg    Config
	logger *slog.Logger
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var (
		resp *http.Response
		err  error
	)

	for attempt := 1; ; attempt++ {
		resp, err = t.base.RoundTrip(req)
		if !shouldRetry(resp, err) || attempt > t.cfg.MaxAttempts {
			return resp, err
		}

		delay := t.backoff(attempt, resp)
		if resp != nil {
			// The connection must be drained before reuse.
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		t.logger.Debug("Retrying request",
			"url", req.URL.Path,
			"attempt", attempt,
			"delay", delay,
			"err", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}

		if req.Body != nil {
			if req.GetBody == nil {
				return nil, fmt.Errorf("request body is not replayable")
			}
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("replay request body: %w", bodyErr)
			}
			req.Body = body
		}
	}
}

// shouldRetry treats network-level errors and 429 as transient. Provider
// rejections (4xx/5xx other than 429) are protocol outcomes owned by the
// sender's classification logic, not this layer.
func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode == http.StatusTooManyRequests
}

// backoff honors the provider's Retry-After hint verbatim when present,
// otherwise doubles the base delay per attempt with a 0-200ms jitter to
// keep concurrent callers from resynchronizing.
func (t *transport) backoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if after := resp.Header.Get("Retry-After"); after != "" {
			if secs, err := strconv.Atoi(after); err == nil && secs >= 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	delay := t.cfg.BaseDelay * (1 << (attempt - 1))
	return delay + time.Duration(rand.Int63n(int64(maxJitter)))
}
