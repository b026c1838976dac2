// Package pushservice assembles the push dispatch service: the ingestion pipeline
// that feeds the dispatcher and the HTTP API in front of it.
package pushservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-unifiedpush-service/internal/api"
	"github.com/tinywideclouds/go-unifiedpush-service/internal/dispatch"
	"github.com/tinywideclouds/go-unifiedpush-service/internal/metrics"
	"github.com/tinywideclouds/go-unifiedpush-service/internal/pipeline"
	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
	"github.com/tinywideclouds/go-unifiedpush-service/pushservice/config"
)

// Stores groups the registries the service reads and writes. The registry admin
// routes are served only when Applications also implements push.ApplicationWriter.
type Stores struct {
	Applications  push.ApplicationStore
	Installations push.InstallationStore
}

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[push.SendRequest]
	logger          *slog.Logger
}

// New assembles the service. Senders left nil disable their platform.
// Metrics are registered on registry and exposed on /metrics.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	stores Stores,
	senders dispatch.Senders,
	producer push.IngestionProducer,
	registry *prometheus.Registry,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Instrumented senders
	collector, err := metrics.NewCollector(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	instrumented := dispatch.Senders{
		IOS:               collector.Sender(push.KindIOS, senders.IOS),
		Android:           collector.Sender(push.KindAndroid, senders.Android),
		ChromePackagedApp: collector.Sender(push.KindChromePackagedApp, senders.ChromePackagedApp),
		SimplePush:        collector.SimplePushSender(senders.SimplePush),
	}

	// 3. Dispatch core
	dispatcher := dispatch.NewService(
		stores.Applications,
		stores.Installations,
		instrumented,
		dispatch.Config{MaxConcurrentDispatches: cfg.Dispatch.MaxConcurrentDispatches},
		logger,
	)

	// 4. Pipeline
	retries := pipeline.RetryPolicy{Producer: producer, MaxAttempts: cfg.Dispatch.MaxDeliveryAttempts}
	processor := pipeline.NewProcessor(stores.Applications, dispatcher, retries, logger)
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.SendRequestTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 5. API
	sendAPI := api.NewSendAPI(stores.Applications, producer, logger)
	installationAPI := api.NewInstallationAPI(stores.Applications, stores.Installations, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	handle("POST /api/v1/applications/{appID}/send", sendAPI.Send)
	handle("POST /api/v1/variants/{variantID}/installations", installationAPI.Register)
	handle("DELETE /api/v1/variants/{variantID}/installations/{token}", installationAPI.Unregister)

	if writer, ok := stores.Applications.(push.ApplicationWriter); ok {
		applicationAPI := api.NewApplicationAPI(writer, logger)
		handle("PUT /api/v1/applications/{appID}", applicationAPI.Save)
		handle("PUT /api/v1/applications/{appID}/variants/{kind}", applicationAPI.SaveVariant)
	} else {
		logger.Warn("Application store is read-only, registry admin routes disabled")
	}

	// Global OPTIONS for the API namespace (CORS preflight)
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
