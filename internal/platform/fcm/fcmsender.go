// Package fcm delivers Android variant messages through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/hashicorp/go-multierror"

	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

// MaxTokensPerBatch is the multicast limit enforced by FCM.
const MaxTokensPerBatch = 500

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Sender struct {
	client MessagingClient
	pruner push.InstallationPruner
	logger *slog.Logger
}

// NewSender accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies this interface.
func NewSender(client MessagingClient, pruner push.InstallationPruner, logger *slog.Logger) *Sender {
	return &Sender{
		client: client,
		pruner: pruner,
		logger: logger.With("component", "FCMSender"),
	}
}

// SendPushMessage delivers msg to the registration tokens of an Android variant in
// batches of MaxTokensPerBatch. Unregistered tokens are pruned; batches that fail in
// transport or report retryable per-token errors are collected into the returned error.
func (s *Sender) SendPushMessage(ctx context.Context, variant push.Variant, tokens []string, msg *push.Message) error {
	androidVariant, ok := variant.(*push.AndroidVariant)
	if !ok {
		return fmt.Errorf("fcm sender cannot deliver to %s variant %s", variant.Kind(), variant.VariantID())
	}
	if len(tokens) == 0 {
		s.logger.Debug("Skipping FCM send: no tokens", "variant_id", androidVariant.ID)
		return nil
	}

	var result *multierror.Error
	var invalidTokens []string
	successCount := 0

	for batch := range slices.Chunk(tokens, MaxTokensPerBatch) {
		br, err := s.client.SendEachForMulticast(ctx, buildMessage(androidVariant, batch, msg))
		if err != nil {
			if messaging.IsInvalidArgument(err) {
				// The message itself is malformed; resending it will not help.
				s.logger.Error("FCM rejected batch as InvalidArgument (dropping)", "variant_id", androidVariant.ID, "err", err)
				continue
			}
			result = multierror.Append(result, fmt.Errorf("fcm transport failed: %w", err))
			continue
		}

		successCount += br.SuccessCount
		retryableErrors := 0
		for idx, resp := range br.Responses {
			if resp.Success {
				continue
			}
			if messaging.IsInvalidArgument(resp.Error) || messaging.IsRegistrationTokenNotRegistered(resp.Error) {
				invalidTokens = append(invalidTokens, batch[idx])
				continue
			}
			retryableErrors++
		}
		if retryableErrors > 0 {
			result = multierror.Append(result, fmt.Errorf("fcm batch had %d retryable errors", retryableErrors))
		}
	}

	if len(invalidTokens) > 0 && s.pruner != nil {
		s.logger.Info("Removing invalid FCM tokens", "variant_id", androidVariant.ID, "count", len(invalidTokens))
		if err := s.pruner.RemoveInstallations(ctx, androidVariant.ID, invalidTokens); err != nil {
			s.logger.Warn("Failed to remove invalid FCM tokens", "variant_id", androidVariant.ID, "err", err)
		}
	}

	s.logger.Info("FCM send complete", "variant_id", androidVariant.ID, "success", successCount, "invalid", len(invalidTokens))
	return result.ErrorOrNil()
}

// buildMessage maps the native payload onto FCM data keys, the layout Android
// clients of the push service read.
func buildMessage(variant *push.AndroidVariant, tokens []string, msg *push.Message) *messaging.MulticastMessage {
	data := make(map[string]string)
	if p := msg.Data; p != nil {
		for k, v := range p.Extras {
			data[k] = v
		}
		if p.Alert != "" {
			data["alert"] = p.Alert
		}
		if p.Sound != "" {
			data["sound"] = p.Sound
		}
		if p.Badge > 0 {
			data["badge"] = strconv.Itoa(p.Badge)
		}
	}

	android := &messaging.AndroidConfig{
		Priority:              "high",
		RestrictedPackageName: variant.PackageName,
	}
	if msg.TimeToLive > 0 {
		ttl := time.Duration(msg.TimeToLive) * time.Second
		android.TTL = &ttl
	}

	return &messaging.MulticastMessage{
		Tokens:  tokens,
		Data:    data,
		Android: android,
	}
}
