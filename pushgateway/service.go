// Package pushgateway assembles the gateway service: the HTTP surface for
// device registration and the Pub/Sub pipeline that fans notifications out
// to FCM, APNs and Web Push.
package pushgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/tinywideclouds/go-push-gateway/internal/api"
	"github.com/tinywideclouds/go-push-gateway/internal/pipeline"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
	"github.com/tinywideclouds/go-push-gateway/pushgateway/config"
)

// MessageConsumer is the pipeline's ingestion loop. Satisfied by
// pipeline.Consumer; abstracted so integration tests can substitute one.
type MessageConsumer interface {
	Start(ctx context.Context)
	Stop(ctx context.Context) error
}

// Wrapper ties the HTTP server and the consumer together under one
// Start/Shutdown lifecycle.
type Wrapper struct {
	server   *http.Server
	mux      *http.ServeMux
	consumer MessageConsumer
	ready    atomic.Bool
	logger   *slog.Logger
}

// New assembles the service routes. The processor is built by the caller
// (it owns the provider clients); the wrapper owns lifecycle and transport.
func New(
	cfg *config.Config,
	consumer MessageConsumer,
	tokenStore dispatch.TokenStore,
	logger *slog.Logger,
) (*Wrapper, error) {
	if consumer == nil {
		return nil, fmt.Errorf("pushgateway requires a message consumer")
	}
	if cfg.AuthSecret == "" {
		return nil, fmt.Errorf("pushgateway requires an auth secret")
	}

	w := &Wrapper{
		mux:      http.NewServeMux(),
		consumer: consumer,
		logger:   logger.With("component", "PushGateway"),
	}
	w.server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: w.mux,
	}

	w.mux.HandleFunc("GET /healthz", w.handleHealthz)
	w.mux.HandleFunc("GET /readyz", w.handleReadyz)

	tokenAPI := api.NewTokenAPI(tokenStore, logger)
	auth := api.NewAuthMiddleware([]byte(cfg.AuthSecret), logger)

	protected := func(h http.HandlerFunc) http.Handler {
		return auth.Wrap(h)
	}

	w.mux.Handle("POST /api/v1/register/fcm", protected(tokenAPI.RegisterFCM))
	w.mux.Handle("POST /api/v1/unregister/fcm", protected(tokenAPI.UnregisterFCM))
	w.mux.Handle("POST /api/v1/register/apns", protected(tokenAPI.RegisterAPNS))
	w.mux.Handle("POST /api/v1/unregister/apns", protected(tokenAPI.UnregisterAPNS))
	w.mux.Handle("POST /api/v1/register/web", protected(tokenAPI.RegisterWeb))
	w.mux.Handle("POST /api/v1/unregister/web", protected(tokenAPI.UnregisterWeb))

	return w, nil
}

// Mux exposes the router so callers can add additional routes before Start.
func (w *Wrapper) Mux() *http.ServeMux {
	return w.mux
}

// SetReady flips the readiness probe. The consumer flips it on after start;
// shutdown flips it off before draining.
func (w *Wrapper) SetReady(ready bool) {
	w.ready.Store(ready)
}

// Start launches the consumer and then blocks serving HTTP until Shutdown
// is called or the listener fails.
func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	w.consumer.Start(ctx)
	w.SetReady(true)
	w.logger.Info("Service is now ready.", "addr", w.server.Addr)

	if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops intake first, then drains the pipeline, then the HTTP
// server. Errors are collected so a failed stage never hides the others.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	w.SetReady(false)

	var finalErr error
	if err := w.consumer.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.server.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}

func (w *Wrapper) handleHealthz(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(map[string]string{"status": "ok"})
}

func (w *Wrapper) handleReadyz(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	if !w.ready.Load() {
		rw.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(rw).Encode(map[string]string{"status": "starting"})
		return
	}
	_ = json.NewEncoder(rw).Encode(map[string]string{"status": "ready"})
}

// Compile-time check that the pipeline consumer satisfies the contract.
var _ MessageConsumer = (*pipeline.Consumer)(nil)
