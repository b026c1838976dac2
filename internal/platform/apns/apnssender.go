// Package apns delivers iOS variant messages through the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID  string
	TeamID string
	// DefaultTopic is used for variants that carry no bundle ID.
	DefaultTopic string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
}

type Sender struct {
	production   APNSClient
	development  APNSClient
	defaultTopic string
	pruner       push.InstallationPruner
	logger       *slog.Logger
}

// NewSender creates an APNs sender holding one client per gateway. Each iOS variant
// chooses the gateway through its Production flag.
// It parses the P8 key immediately to fail fast on startup if credentials are bad.
func NewSender(cfg Config, pruner push.InstallationPruner, logger *slog.Logger) (*Sender, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	return &Sender{
		production:   apns2.NewTokenClient(tokenSource).Production(),
		development:  apns2.NewTokenClient(tokenSource).Development(),
		defaultTopic: cfg.DefaultTopic,
		pruner:       pruner,
		logger:       logger.With("component", "APNSSender"),
	}, nil
}

// SendPushMessage sends msg to every device token of an iOS variant.
// APNs HTTP/2 API is unary (one request per token), so tokens are pushed one after
// the other. Transport failures do not stop the batch; they are reported once it is done.
func (s *Sender) SendPushMessage(ctx context.Context, variant push.Variant, tokens []string, msg *push.Message) error {
	iosVariant, ok := variant.(*push.IOSVariant)
	if !ok {
		return fmt.Errorf("apns sender cannot deliver to %s variant %s", variant.Kind(), variant.VariantID())
	}
	if len(tokens) == 0 {
		s.logger.Debug("Skipping APNs send: no tokens", "variant_id", iosVariant.ID)
		return nil
	}

	topic := iosVariant.BundleID
	if topic == "" {
		topic = s.defaultTopic
	}
	client := s.development
	if iosVariant.Production {
		client = s.production
	}
	builder := buildPayload(msg)

	var invalidTokens []string
	successCount := 0
	transportFailures := 0
	rejected := 0

	for i, deviceToken := range tokens {
		if err := ctx.Err(); err != nil {
			s.prune(ctx, iosVariant.ID, invalidTokens)
			return fmt.Errorf("apns delivery interrupted after %d of %d tokens: %w", i, len(tokens), err)
		}

		notification := &apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       topic,
			Payload:     builder,
			Priority:    apns2.PriorityHigh,
		}
		if msg.TimeToLive > 0 {
			notification.Expiration = time.Now().Add(time.Duration(msg.TimeToLive) * time.Second)
		}

		res, err := client.Push(notification)
		if err != nil {
			s.logger.Error("APNs transport failed", "variant_id", iosVariant.ID, "token", deviceToken, "err", err)
			transportFailures++
			continue
		}

		if res.Sent() {
			successCount++
			continue
		}

		rejected++
		switch res.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
			invalidTokens = append(invalidTokens, deviceToken)
		default:
			// TopicDisallowed, PayloadEmpty and friends point at our configuration, not the token.
			s.logger.Warn("APNs rejected notification", "variant_id", iosVariant.ID, "reason", res.Reason, "status", res.StatusCode)
		}
	}

	s.prune(ctx, iosVariant.ID, invalidTokens)
	s.logger.Info("APNs batch complete",
		"variant_id", iosVariant.ID,
		"success", successCount,
		"invalid", len(invalidTokens),
		"rejected", rejected,
		"transport_failures", transportFailures,
	)

	if transportFailures > 0 {
		return fmt.Errorf("apns transport failed for %d of %d tokens", transportFailures, len(tokens))
	}
	return nil
}

func (s *Sender) prune(ctx context.Context, variantID string, tokens []string) {
	if len(tokens) == 0 || s.pruner == nil {
		return
	}
	s.logger.Info("Removing invalid APNs tokens", "variant_id", variantID, "count", len(tokens))
	if err := s.pruner.RemoveInstallations(ctx, variantID, tokens); err != nil {
		s.logger.Warn("Failed to remove invalid APNs tokens", "variant_id", variantID, "err", err)
	}
}

func buildPayload(msg *push.Message) *payload.Payload {
	builder := payload.NewPayload()
	data := msg.Data
	if data == nil {
		return builder
	}

	if data.Alert != "" {
		builder.Alert(data.Alert)
	}
	if data.Sound != "" {
		builder.Sound(data.Sound)
	}
	if data.Badge > 0 {
		builder.Badge(data.Badge)
	}
	if data.ContentAvailable {
		builder.ContentAvailable()
	}
	for k, v := range data.Extras {
		builder.Custom(k, v)
	}
	return builder
}
