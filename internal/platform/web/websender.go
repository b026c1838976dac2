// Package web delivers Chrome packaged app messages as VAPID-signed Web Push notifications.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
	"github.com/tinywideclouds/go-unifiedpush-service/pushservice/config"
)

// defaultTTL applies when the message does not carry one.
const defaultTTL = 60

type Sender struct {
	subscriber string
	privateKey string
	publicKey  string
	pruner     push.InstallationPruner
	logger     *slog.Logger
	httpClient *http.Client
}

func NewSender(cfg config.VapidConfig, httpClient *http.Client, pruner push.InstallationPruner, logger *slog.Logger) *Sender {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Sender{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		pruner:     pruner,
		logger:     logger.With("component", "WebPushSender"),
		httpClient: httpClient,
	}
}

// SendPushMessage delivers msg to each subscription of a Chrome packaged app variant.
// Every endpoint is the JSON form of a browser PushSubscription as it was registered.
// Subscriptions the push service reports as gone (404/410) and undecodable ones are
// pruned; other client rejections are logged. Transport errors, 429 and 5xx answers
// are counted and reported as one retryable error once the batch is done.
func (s *Sender) SendPushMessage(ctx context.Context, variant push.Variant, endpoints []string, msg *push.Message) error {
	chromeVariant, ok := variant.(*push.ChromePackagedAppVariant)
	if !ok {
		return fmt.Errorf("web push sender cannot deliver to %s variant %s", variant.Kind(), variant.VariantID())
	}
	if len(endpoints) == 0 {
		return nil
	}

	payloadBytes, err := buildPayload(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	ttl := defaultTTL
	if msg.TimeToLive > 0 {
		ttl = msg.TimeToLive
	}

	var invalid []string
	successCount := 0
	rejected := 0
	failureCount := 0

	for _, raw := range endpoints {
		var sub webpush.Subscription
		if err := json.Unmarshal([]byte(raw), &sub); err != nil || sub.Endpoint == "" {
			s.logger.Warn("Pruning malformed web push subscription", "variant_id", chromeVariant.ID)
			invalid = append(invalid, raw)
			continue
		}

		resp, err := webpush.SendNotificationWithContext(ctx, payloadBytes, &sub, &webpush.Options{
			Subscriber:      s.subscriber,
			VAPIDPublicKey:  s.publicKey,
			VAPIDPrivateKey: s.privateKey,
			TTL:             ttl,
			HTTPClient:      s.httpClient,
		})
		if err != nil {
			// Transport error (DNS, Timeout) - Log and skip, don't delete
			s.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
			failureCount++
			continue
		}
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			successCount++
		case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
			invalid = append(invalid, raw)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			s.logger.Warn("WebPush temporarily unavailable", "status", resp.StatusCode, "endpoint", sub.Endpoint)
			failureCount++
		default:
			// Payload too large, bad VAPID claims: resending the same message cannot succeed.
			s.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
			rejected++
		}
	}

	if len(invalid) > 0 && s.pruner != nil {
		if err := s.pruner.RemoveInstallations(ctx, chromeVariant.ID, invalid); err != nil {
			s.logger.Warn("Failed to remove expired subscriptions", "variant_id", chromeVariant.ID, "err", err)
		}
	}

	s.logger.Info("WebPush batch complete",
		"variant_id", chromeVariant.ID,
		"success", successCount,
		"invalid", len(invalid),
		"rejected", rejected,
		"failed", failureCount,
	)
	if failureCount > 0 {
		return fmt.Errorf("web push failed for %d of %d subscriptions", failureCount, len(endpoints))
	}
	return nil
}

func buildPayload(msg *push.Message) ([]byte, error) {
	notification := map[string]any{}
	data := map[string]string{}
	if p := msg.Data; p != nil {
		if p.Alert != "" {
			notification["body"] = p.Alert
		}
		if p.Sound != "" {
			notification["sound"] = p.Sound
		}
		if p.Badge > 0 {
			notification["badge"] = p.Badge
		}
		for k, v := range p.Extras {
			data[k] = v
		}
	}
	return json.Marshal(map[string]any{
		"notification": notification,
		"data":         data,
	})
}
