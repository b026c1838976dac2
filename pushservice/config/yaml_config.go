package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

type YamlAPNSConfig struct {
	KeyID        string `yaml:"key_id"`
	TeamID       string `yaml:"team_id"`
	DefaultTopic string `yaml:"default_topic"`
	P8KeyContent string `yaml:"p8_key"`
}

type YamlSimplePushConfig struct {
	Timeout string `yaml:"timeout"`
}

type YamlDispatchConfig struct {
	MaxConcurrentDispatches int    `yaml:"max_concurrent_dispatches"`
	MaxDeliveryAttempts     int    `yaml:"max_delivery_attempts"`
	VariantCacheTTL         string `yaml:"variant_cache_ttl"`
	EndpointCacheTTL        string `yaml:"endpoint_cache_ttl"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string               `yaml:"project_id"`
	ListenAddr             string               `yaml:"listen_addr"`
	IdentityServiceURL     string               `yaml:"identity_service_url"`
	TopicID                string               `yaml:"topic_id"`
	SubscriptionID         string               `yaml:"subscription_id"`
	SubscriptionDLQTopicID string               `yaml:"subscription_dlq_topic_id"`
	CorsConfig             YamlCorsConfig       `yaml:"cors"`
	RedisConfig            YamlRedisConfig      `yaml:"redis"`
	VapidConfig            YamlVapidConfig      `yaml:"vapid"`
	APNSConfig             YamlAPNSConfig       `yaml:"apns"`
	SimplePushConfig       YamlSimplePushConfig `yaml:"simple_push"`
	DispatchConfig         YamlDispatchConfig   `yaml:"dispatch"`
	NumPipelineWorkers     int                  `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	simplePushTimeout, err := parseOptionalDuration("simple_push.timeout", baseCfg.SimplePushConfig.Timeout)
	if err != nil {
		return nil, err
	}
	variantTTL, err := parseOptionalDuration("dispatch.variant_cache_ttl", baseCfg.DispatchConfig.VariantCacheTTL)
	if err != nil {
		return nil, err
	}
	endpointTTL, err := parseOptionalDuration("dispatch.endpoint_cache_ttl", baseCfg.DispatchConfig.EndpointCacheTTL)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ProjectID:          baseCfg.ProjectID,
		ListenAddr:         baseCfg.ListenAddr,
		IdentityServiceURL: baseCfg.IdentityServiceURL,
		TopicID:            baseCfg.TopicID,
		SubscriptionID:     baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
		APNS: APNSConfig{
			KeyID:        baseCfg.APNSConfig.KeyID,
			TeamID:       baseCfg.APNSConfig.TeamID,
			DefaultTopic: baseCfg.APNSConfig.DefaultTopic,
			P8KeyContent: baseCfg.APNSConfig.P8KeyContent,
		},
		SimplePush: SimplePushConfig{Timeout: simplePushTimeout},
		Dispatch: DispatchConfig{
			MaxConcurrentDispatches: baseCfg.DispatchConfig.MaxConcurrentDispatches,
			MaxDeliveryAttempts:     baseCfg.DispatchConfig.MaxDeliveryAttempts,
			VariantCacheTTL:         variantTTL,
			EndpointCacheTTL:        endpointTTL,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"apns_enabled", cfg.APNS.Enabled(),
	)

	return cfg, nil
}

func parseOptionalDuration(key, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}
