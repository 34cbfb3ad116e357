package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type FCMConfig struct {
	ServiceAccountJSON string
	ServiceAccountFile string
	Endpoint           string
	BatchParallelism   int
}

type APNSConfig struct {
	P8KeyBase64      string
	KeyID            string
	TeamID           string
	BundleID         string
	Sandbox          bool
	Endpoint         string
	BatchParallelism int
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Config is the single authoritative configuration for the gateway.
type Config struct {
	ProjectID              string
	ListenAddr             string
	SubscriptionID         string
	IngestionTopicID       string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	CacheTTL               time.Duration
	AuthSecret             string

	FCM   FCMConfig
	APNS  APNSConfig
	Vapid VapidConfig
	Redis RedisConfig
	Retry RetryConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and performs
// final validation. Secrets always come from the environment in deployed
// environments; the YAML values exist for local development only.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		cfg.SubscriptionID = val
	}
	if val := os.Getenv("INGESTION_TOPIC_ID"); val != "" {
		cfg.IngestionTopicID = val
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			cfg.NumPipelineWorkers = workers
		}
	}
	if val := os.Getenv("AUTH_SECRET"); val != "" {
		cfg.AuthSecret = val
	}

	// FCM overrides
	if val := os.Getenv("FCM_SERVICE_ACCOUNT_JSON"); val != "" {
		cfg.FCM.ServiceAccountJSON = val
	}
	if val := os.Getenv("FCM_SERVICE_ACCOUNT_FILE"); val != "" {
		cfg.FCM.ServiceAccountFile = val
	}

	// APNs overrides
	if val := os.Getenv("APNS_P8_KEY_BASE64"); val != "" {
		cfg.APNS.P8KeyBase64 = val
	}
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		cfg.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_SANDBOX"); val != "" {
		sandbox, _ := strconv.ParseBool(val)
		cfg.APNS.Sandbox = sandbox
	}

	// VAPID overrides
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		cfg.Vapid.SubscriberEmail = val
	}

	// Redis overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.ProjectID == "" {
		return fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	if cfg.APNS.P8KeyBase64 != "" {
		// Apple issues 10-character key and team identifiers.
		if len(cfg.APNS.KeyID) != 10 {
			return fmt.Errorf("apns key_id must be 10 characters, got %d", len(cfg.APNS.KeyID))
		}
		if len(cfg.APNS.TeamID) != 10 {
			return fmt.Errorf("apns team_id must be 10 characters, got %d", len(cfg.APNS.TeamID))
		}
		if cfg.APNS.BundleID == "" {
			return fmt.Errorf("apns bundle_id is required when an apns key is configured")
		}
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 4
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return nil
}
