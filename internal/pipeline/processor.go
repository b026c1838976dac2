package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-unifiedpush-service/internal/dispatch"
	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

// Dispatcher is the synchronous send entry point of the dispatch core.
type Dispatcher interface {
	Send(ctx context.Context, app *push.Application, msg *push.Message) error
}

// RetryPolicy controls what happens to the variants a dispatch could not serve.
type RetryPolicy struct {
	// Producer republishes a request narrowed to the failed variants.
	// A nil Producer drops them.
	Producer push.IngestionProducer
	// MaxAttempts bounds the deliveries of one message, the first one included.
	MaxAttempts int
}

// NewProcessor creates the stage that loads the push application and hands the
// message to the dispatcher.
//
// Errors raised before anything was delivered (application or variant lookups) are
// returned, which nacks the Pub/Sub message so it is redelivered. Once delivery has
// started the message is always acked: variants that failed are republished as a
// new request targeting only them, so devices already served are not sent the
// message again.
func NewProcessor(
	apps push.ApplicationStore,
	dispatcher Dispatcher,
	retries RetryPolicy,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[push.SendRequest] {

	return func(ctx context.Context, original messagepipeline.Message, request *push.SendRequest) error {
		procLogger := logger.With(
			"application_id", request.ApplicationID,
			"message_id", request.Message.ID,
			"pubsub_msg_id", original.ID,
			"attempt", request.Attempt,
		)

		app, err := apps.FindApplication(ctx, request.ApplicationID)
		if err != nil {
			if errors.Is(err, push.ErrApplicationNotFound) {
				// Redelivery cannot make an unknown application appear; ack and drop.
				procLogger.Warn("Push application not found; dropping message")
				return nil
			}
			procLogger.Error("Failed to load push application", "err", err)
			return err
		}

		err = dispatcher.Send(ctx, app, &request.Message)
		if err == nil {
			procLogger.Info("Message dispatched")
			return nil
		}

		var deliveryErr *dispatch.DeliveryError
		if !errors.As(err, &deliveryErr) {
			procLogger.Error("Dispatch failed before delivery", "err", err)
			return err // Retryable
		}

		failed := deliveryErr.VariantIDs()
		procLogger.Warn("Dispatch partially failed", "failed_variants", failed, "err", err)
		scheduleRetry(ctx, retries, request, failed, procLogger)
		return nil
	}
}

func scheduleRetry(ctx context.Context, retries RetryPolicy, request *push.SendRequest, variantIDs []string, logger *slog.Logger) {
	if retries.Producer == nil {
		logger.Warn("No retry producer configured; dropping failed variants")
		return
	}
	next := request.Attempt + 1
	if next >= retries.MaxAttempts {
		logger.Error("Giving up on failed variants after max attempts", "max_attempts", retries.MaxAttempts)
		return
	}

	retry := *request
	retry.Attempt = next
	retry.Message.Criteria.Variants = variantIDs

	if err := retries.Producer.Publish(ctx, &retry); err != nil {
		logger.Error("Failed to republish failed variants", "err", err)
		return
	}
	logger.Info("Failed variants scheduled for retry", "next_attempt", next)
}
