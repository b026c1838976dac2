package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-unifiedpush-service/internal/dispatch"
	"github.com/tinywideclouds/go-unifiedpush-service/internal/platform/apns"
	"github.com/tinywideclouds/go-unifiedpush-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-unifiedpush-service/internal/platform/simplepush"
	"github.com/tinywideclouds/go-unifiedpush-service/internal/platform/web"
	"github.com/tinywideclouds/go-unifiedpush-service/internal/queue"
	"github.com/tinywideclouds/go-unifiedpush-service/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-unifiedpush-service/internal/storage/firestore"
	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"

	"github.com/tinywideclouds/go-unifiedpush-service/pushservice"
	"github.com/tinywideclouds/go-unifiedpush-service/pushservice/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-unifiedpush-service")
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Embedded config is invalid", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
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

	// --- Registries (Decorated) ---
	applications := cache.NewCachedApplicationStore(
		fsStore.NewApplicationStore(fsClient, logger), cfg.Dispatch.VariantCacheTTL, logger,
	)

	var installations push.InstallationStore = fsStore.NewInstallationStore(fsClient, logger)
	logger.Info("InstallationStore initialized", "type", "firestore")

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		installations = cache.NewCachedInstallationStore(installations, redisClient, cfg.Dispatch.EndpointCacheTTL, logger)
		logger.Info("InstallationStore upgraded", "type", "redis_cached_firestore")
	}

	// --- Auth ---
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(cfg.IdentityServiceURL, middleware.RSA256, logger)
	if err != nil {
		logger.Error("JWT discovery failed", "identity_url", cfg.IdentityServiceURL, "err", err)
		os.Exit(1)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		logger.Error("Failed to create auth middleware", "err", err)
		os.Exit(1)
	}

	// --- Senders ---
	senders, err := newSenders(ctx, cfg, installations, logger)
	if err != nil {
		logger.Error("Sender setup failed", "err", err)
		os.Exit(1)
	}

	// --- Producer, Consumer & Service ---
	producer := queue.NewPubsubProducer(psClient, cfg.TopicID, logger)
	defer producer.Stop()

	consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		logger.Error("Consumer setup failed", "err", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	service, err := pushservice.New(
		cfg,
		consumer,
		pushservice.Stores{Applications: applications, Installations: installations},
		senders,
		producer,
		registry,
		authMiddleware,
		logger,
	)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

// newSenders builds one sender per platform. Dead tokens reported by a platform are
// pruned from the installation store.
func newSenders(ctx context.Context, cfg *config.Config, pruner push.InstallationPruner, logger *slog.Logger) (dispatch.Senders, error) {
	var senders dispatch.Senders

	// A. Android (FCM)
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
	if err != nil {
		return senders, fmt.Errorf("failed to initialize Firebase App: %w", err)
	}
	fcmMessaging, err := fbApp.Messaging(ctx)
	if err != nil {
		return senders, fmt.Errorf("failed to create FCM messaging client: %w", err)
	}
	senders.Android = fcm.NewSender(fcmMessaging, pruner, logger)

	// B. iOS (APNs) is optional; without a key iOS variants are skipped.
	if cfg.APNS.Enabled() {
		apnsSender, err := apns.NewSender(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			DefaultTopic: cfg.APNS.DefaultTopic,
			P8KeyContent: cfg.APNS.P8KeyContent,
		}, pruner, logger)
		if err != nil {
			return senders, err
		}
		senders.IOS = apnsSender
		logger.Info("APNs sender enabled", "key_id", cfg.APNS.KeyID)
	} else {
		logger.Warn("APNs key missing in configuration. iOS variants will be skipped.")
	}

	// C. Chrome (Web Push / VAPID)
	if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
		logger.Warn("VAPID keys missing in configuration. Web Push will fail.")
	} else {
		logger.Info("Web Push sender enabled", "public_key", cfg.Vapid.PublicKey)
	}
	senders.ChromePackagedApp = web.NewSender(cfg.Vapid, &http.Client{}, pruner, logger)

	// D. SimplePush
	senders.SimplePush = simplepush.NewSender(&http.Client{Timeout: cfg.SimplePush.Timeout}, logger)

	return senders, nil
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := pubsubName(cfg.ProjectID, "subscriptions", cfg.SubscriptionID)
	topic := pubsubName(cfg.ProjectID, "topics", cfg.TopicID)

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topic,
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
		if status.Code(err) != codes.AlreadyExists {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub %s: %w", sub, err)
		}
		logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
	}

	consumerCfg := cfg.PubsubConsumerConfig
	if consumerCfg == nil {
		consumerCfg = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}
	consumerCfg.SubscriptionID = subConfig.Name
	return messagepipeline.NewGooglePubsubConsumer(consumerCfg, psClient, logger)
}

func pubsubName(project, kind, id string) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, kind, id)
}
