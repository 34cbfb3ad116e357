// Package config loads the gateway configuration from YAML and finalizes it
// with environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"
)

type YamlFCMConfig struct {
	ServiceAccountJSON string `yaml:"service_account_json"`
	ServiceAccountFile string `yaml:"service_account_file"`
	Endpoint           string `yaml:"endpoint"`
	BatchParallelism   int    `yaml:"batch_parallelism"`
}

type YamlAPNSConfig struct {
	P8KeyBase64      string `yaml:"p8_key_base64"`
	KeyID            string `yaml:"key_id"`
	TeamID           string `yaml:"team_id"`
	BundleID         string `yaml:"bundle_id"`
	Sandbox          bool   `yaml:"sandbox"`
	Endpoint         string `yaml:"endpoint"`
	BatchParallelism int    `yaml:"batch_parallelism"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlRetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// YamlConfig mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string          `yaml:"project_id"`
	ListenAddr             string          `yaml:"listen_addr"`
	SubscriptionID         string          `yaml:"subscription_id"`
	IngestionTopicID       string          `yaml:"ingestion_topic_id"`
	SubscriptionDLQTopicID string          `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int             `yaml:"num_pipeline_workers"`
	CacheTTL               time.Duration   `yaml:"cache_ttl"`
	AuthSecret             string          `yaml:"auth_secret"`
	FCM                    YamlFCMConfig   `yaml:"fcm"`
	APNS                   YamlAPNSConfig  `yaml:"apns"`
	Vapid                  YamlVapidConfig `yaml:"vapid"`
	Redis                  YamlRedisConfig `yaml:"redis"`
	Retry                  YamlRetryConfig `yaml:"retry"`
}

// ParseYamlConfig unmarshals raw YAML bytes, typically from an embedded
// local.yaml or a mounted config file.
func ParseYamlConfig(data []byte) (*YamlConfig, error) {
	var cfg YamlConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse yaml config: %w", err)
	}
	return &cfg, nil
}

// NewConfigFromYaml converts the raw YAML structure into the authoritative
// Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:              baseCfg.ProjectID,
		ListenAddr:             baseCfg.ListenAddr,
		SubscriptionID:         baseCfg.SubscriptionID,
		IngestionTopicID:       baseCfg.IngestionTopicID,
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
		CacheTTL:               baseCfg.CacheTTL,
		AuthSecret:             baseCfg.AuthSecret,
		FCM: FCMConfig{
			ServiceAccountJSON: baseCfg.FCM.ServiceAccountJSON,
			ServiceAccountFile: baseCfg.FCM.ServiceAccountFile,
			Endpoint:           baseCfg.FCM.Endpoint,
			BatchParallelism:   baseCfg.FCM.BatchParallelism,
		},
		APNS: APNSConfig{
			P8KeyBase64:      baseCfg.APNS.P8KeyBase64,
			KeyID:            baseCfg.APNS.KeyID,
			TeamID:           baseCfg.APNS.TeamID,
			BundleID:         baseCfg.APNS.BundleID,
			Sandbox:          baseCfg.APNS.Sandbox,
			Endpoint:         baseCfg.APNS.Endpoint,
			BatchParallelism: baseCfg.APNS.BatchParallelism,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.Vapid.PublicKey,
			PrivateKey:      baseCfg.Vapid.PrivateKey,
			SubscriberEmail: baseCfg.Vapid.SubscriberEmail,
		},
		Redis: RedisConfig{
			Addr:     baseCfg.Redis.Addr,
			Password: baseCfg.Redis.Password,
			DB:       baseCfg.Redis.DB,
			Enabled:  baseCfg.Redis.Enabled,
		},
		Retry: RetryConfig{
			MaxAttempts: baseCfg.Retry.MaxAttempts,
			BaseDelay:   baseCfg.Retry.BaseDelay,
		},
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
	)

	return cfg, nil
}
