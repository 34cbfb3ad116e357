package main

import (
	"context"
	"crypto/tls"
	_ "embed"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"golang.org/x/net/http2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-gateway/internal/pipeline"
	"github.com/tinywideclouds/go-push-gateway/internal/platform/apns"
	"github.com/tinywideclouds/go-push-gateway/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-gateway/internal/platform/web"
	"github.com/tinywideclouds/go-push-gateway/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-gateway/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
	"github.com/tinywideclouds/go-push-gateway/pkg/push"
	"github.com/tinywideclouds/go-push-gateway/pkg/retry"
	"github.com/tinywideclouds/go-push-gateway/pushgateway"
	"github.com/tinywideclouds/go-push-gateway/pushgateway/config"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-gateway")
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Config loading ---
	yamlCfg, err := config.ParseYamlConfig(configFile)
	if err != nil {
		logger.Error("Failed to parse embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(yamlCfg, logger)
	if err != nil {
		logger.Error("Config mapping failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("PubSub client failed", "err", err)
		os.Exit(1)
	}
	defer psClient.Close()

	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("Firestore client failed", "err", err)
		os.Exit(1)
	}
	defer fsClient.Close()

	// --- Token store (decorated) ---
	var tokenStore dispatch.TokenStore = fsStore.NewStore(fsClient)
	logger.Info("TokenStore initialized", "type", "firestore")

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		tokenStore = cache.NewCachedTokenStore(tokenStore, redisClient, cfg.CacheTTL)
		logger.Info("TokenStore upgraded", "type", "redis_cached_firestore")
	}

	// --- Delivery paths ---
	retryCfg := retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
	}

	// A. FCM over HTTP with OAuth2 service account credentials.
	fcmTokens, err := fcm.NewAccessTokenProvider(fcm.CredentialsConfig{
		ServiceAccountJSON: cfg.FCM.ServiceAccountJSON,
		ServiceAccountFile: cfg.FCM.ServiceAccountFile,
	})
	if err != nil {
		logger.Error("Failed to initialize FCM credentials", "err", err)
		os.Exit(1)
	}
	fcmClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: retry.NewTransport(http.DefaultTransport, retryCfg, logger),
	}
	fcmSender := fcm.NewSender(fcm.Config{
		ProjectID:        cfg.ProjectID,
		Endpoint:         cfg.FCM.Endpoint,
		BatchParallelism: int64(cfg.FCM.BatchParallelism),
	}, fcmTokens, fcmClient, logger)

	// B. APNs over HTTP/2 with an ES256 provider token. Optional: a
	// deployment serving only Android and Web carries no Apple key.
	var apnsSender pipeline.APNSBatchSender = disabledAPNSSender{}
	if cfg.APNS.P8KeyBase64 != "" {
		apnsJWTs, err := apns.NewJWTProvider(apns.JWTConfig{
			P8KeyBase64: cfg.APNS.P8KeyBase64,
			KeyID:       cfg.APNS.KeyID,
			TeamID:      cfg.APNS.TeamID,
		})
		if err != nil {
			logger.Error("Failed to initialize APNs credentials", "err", err)
			os.Exit(1)
		}
		apnsClient := &http.Client{
			Timeout: 30 * time.Second,
			Transport: retry.NewTransport(&http2.Transport{
				DialTLSContext: func(ctx context.Context, network, addr string, tlsCfg *tls.Config) (net.Conn, error) {
					d := tls.Dialer{Config: tlsCfg}
					return d.DialContext(ctx, network, addr)
				},
			}, retryCfg, logger),
		}
		apnsSender = apns.NewSender(apns.Config{
			BundleID:         cfg.APNS.BundleID,
			Sandbox:          cfg.APNS.Sandbox,
			Endpoint:         cfg.APNS.Endpoint,
			BatchParallelism: int64(cfg.APNS.BatchParallelism),
		}, apnsJWTs, apnsClient, logger)
	} else {
		logger.Warn("APNs key material missing in configuration. APNs delivery disabled.")
	}

	// C. Web Push (VAPID).
	if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
		logger.Warn("VAPID keys missing in configuration. Web Push will fail.")
	}
	webDispatcher := web.NewDispatcher(web.VapidConfig{
		PublicKey:       cfg.Vapid.PublicKey,
		PrivateKey:      cfg.Vapid.PrivateKey,
		SubscriberEmail: cfg.Vapid.SubscriberEmail,
	}, logger)

	// --- Pipeline ---
	processor := pipeline.NewProcessor(fcmSender, apnsSender, webDispatcher, tokenStore, logger)

	if err := ensureSubscription(ctx, cfg, psClient, logger); err != nil {
		logger.Error("Subscription setup failed", "err", err)
		os.Exit(1)
	}
	consumer, err := pipeline.NewConsumer(psClient, pipeline.ConsumerConfig{
		SubscriptionID: cfg.SubscriptionID,
		MaxOutstanding: cfg.NumPipelineWorkers,
	}, processor, logger)
	if err != nil {
		logger.Error("Consumer creation failed", "err", err)
		os.Exit(1)
	}

	// --- Service ---
	service, err := pushgateway.New(cfg, consumer, tokenStore, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("Shutdown signal received.")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := service.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown finished with error", "err", err)
		}
	}()

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

// ensureSubscription creates the ingestion subscription with its dead-letter
// policy if it does not exist yet.
func ensureSubscription(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) error {
	if cfg.IngestionTopicID == "" {
		logger.Debug("No ingestion topic configured; assuming subscription exists.")
		return nil
	}

	subConfig := &pubsubpb.Subscription{
		Name:               pubsubName(cfg.ProjectID, "subscriptions", cfg.SubscriptionID),
		Topic:              pubsubName(cfg.ProjectID, "topics", cfg.IngestionTopicID),
		AckDeadlineSeconds: 10,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     pubsubName(cfg.ProjectID, "topics", cfg.SubscriptionDLQTopicID),
			MaxDeliveryAttempts: 5,
		}
	}

	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
			return nil
		}
		return fmt.Errorf("could not create subscription %s: %w", subConfig.Name, err)
	}
	return nil
}

func pubsubName(project, kind, id string) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, kind, id)
}

// disabledAPNSSender stands in when no Apple key is configured. A user with
// registered APNs tokens in that deployment is an operator error, so the
// batch fails loudly instead of silently dropping.
type disabledAPNSSender struct{}

func (disabledAPNSSender) SendBatch(_ context.Context, _ []string, _ *push.APNSMessage) (push.BatchResult, error) {
	return push.BatchResult{}, fmt.Errorf("%w: apns is not configured", push.ErrConfiguration)
}
