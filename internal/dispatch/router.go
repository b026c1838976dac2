package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

// Senders holds the platform senders. A nil sender disables its platform: targeted
// variants of that platform are logged and skipped.
type Senders struct {
	IOS               push.Sender
	Android           push.Sender
	ChromePackagedApp push.Sender
	SimplePush        push.SimplePushSender
}

// Router forwards a resolved TargetSet to the platform senders.
type Router struct {
	endpoints      push.EndpointResolver
	pruner         push.InstallationPruner
	senders        map[push.Kind]push.Sender
	simplePush     push.SimplePushSender
	maxConcurrency int
	logger         *slog.Logger
}

// NewRouter creates a Router. maxConcurrency bounds the number of variants being
// dispatched at the same time; zero or less means unbounded.
// When endpoints also implements push.InstallationPruner, SimplePush endpoints
// reported as gone are removed from their variants.
func NewRouter(endpoints push.EndpointResolver, senders Senders, maxConcurrency int, logger *slog.Logger) *Router {
	table := make(map[push.Kind]push.Sender, 3)
	if senders.IOS != nil {
		table[push.KindIOS] = senders.IOS
	}
	if senders.Android != nil {
		table[push.KindAndroid] = senders.Android
	}
	if senders.ChromePackagedApp != nil {
		table[push.KindChromePackagedApp] = senders.ChromePackagedApp
	}
	pruner, _ := endpoints.(push.InstallationPruner)

	return &Router{
		endpoints:      endpoints,
		pruner:         pruner,
		senders:        table,
		simplePush:     senders.SimplePush,
		maxConcurrency: maxConcurrency,
		logger:         logger.With("component", "DispatchRouter"),
	}
}

// Dispatch resolves endpoints for every targeted variant and hands them to the
// platform senders. Platforms and variants are processed concurrently and
// independently. A non-nil error is always a *DeliveryError naming the variants
// whose delivery is worth retrying.
func (r *Router) Dispatch(ctx context.Context, targets *TargetSet, msg *push.Message) error {
	var (
		g        errgroup.Group
		mu       sync.Mutex
		failures []Failure
	)
	if r.maxConcurrency > 0 {
		g.SetLimit(r.maxConcurrency)
	}
	collect := func(f []Failure) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, f...)
	}

	if msg.HasNativePayload() {
		for _, kind := range push.Kinds {
			if !kind.Native() || targets.Len(kind) == 0 {
				continue
			}
			sender, ok := r.senders[kind]
			if !ok {
				r.logger.Warn("No sender configured for platform; skipping variants", "platform", kind, "variants", targets.Len(kind))
				continue
			}
			for _, variant := range targets.Variants(kind) {
				g.Go(func() error {
					if err := r.dispatchVariant(ctx, sender, variant, msg); err != nil {
						collect([]Failure{{Variants: []push.Variant{variant}, Err: err}})
					}
					return nil
				})
			}
		}
	} else {
		r.logger.Debug("Message has no native payload; skipping native platforms", "message_id", msg.ID)
	}

	if msg.HasSimplePushPayload() && targets.Len(push.KindSimplePush) > 0 {
		if r.simplePush == nil {
			r.logger.Warn("No SimplePush sender configured; skipping variants", "variants", targets.Len(push.KindSimplePush))
		} else {
			variants := targets.Variants(push.KindSimplePush)
			payload := *msg.SimplePush
			g.Go(func() error {
				collect(r.dispatchSimplePush(ctx, variants, msg.Criteria, payload))
				return nil
			})
		}
	}

	_ = g.Wait()
	if len(failures) == 0 {
		return nil
	}
	return &DeliveryError{Failures: failures}
}

func (r *Router) dispatchVariant(ctx context.Context, sender push.Sender, variant push.Variant, msg *push.Message) error {
	c := msg.Criteria
	endpoints, err := r.endpoints.FindDeviceEndpoints(ctx, variant.VariantID(), c.Categories, c.Aliases, c.DeviceTypes)
	if err != nil {
		return fmt.Errorf("failed to resolve endpoints for %s variant %s: %w", variant.Kind(), variant.VariantID(), err)
	}

	r.logger.Debug("Sending push message",
		"platform", variant.Kind(),
		"variant_id", variant.VariantID(),
		"message_id", msg.ID,
		"endpoints", len(endpoints),
	)
	if err := sender.SendPushMessage(ctx, variant, endpoints, msg); err != nil {
		return fmt.Errorf("%s delivery failed for variant %s: %w", variant.Kind(), variant.VariantID(), err)
	}
	return nil
}

// dispatchSimplePush merges the endpoints of all SimplePush variants into a single send.
// Gone endpoints are pruned from the variant that registered them.
func (r *Router) dispatchSimplePush(ctx context.Context, variants []push.Variant, c push.SendCriteria, payload string) []Failure {
	var (
		failures []Failure
		merged   []string
		sent     []push.Variant
		owned    = make(map[string][]string, len(variants))
	)
	for _, variant := range variants {
		endpoints, err := r.endpoints.FindDeviceEndpoints(ctx, variant.VariantID(), c.Categories, c.Aliases, c.DeviceTypes)
		if err != nil {
			failures = append(failures, Failure{
				Variants: []push.Variant{variant},
				Err:      fmt.Errorf("failed to resolve endpoints for %s variant %s: %w", push.KindSimplePush, variant.VariantID(), err),
			})
			continue
		}
		if len(endpoints) > 0 {
			sent = append(sent, variant)
			owned[variant.VariantID()] = endpoints
		}
		merged = append(merged, endpoints...)
	}

	r.logger.Debug("Sending SimplePush message", "variants", len(variants), "endpoints", len(merged))
	gone, err := push.SplitGone(r.simplePush.SendMessage(ctx, merged, payload))
	if len(gone) > 0 {
		r.pruneSimplePush(ctx, owned, gone)
	}
	if err != nil {
		failures = append(failures, Failure{
			Variants: sent,
			Err:      fmt.Errorf("%s delivery failed: %w", push.KindSimplePush, err),
		})
	}
	return failures
}

func (r *Router) pruneSimplePush(ctx context.Context, owned map[string][]string, gone []string) {
	if r.pruner == nil {
		r.logger.Warn("SimplePush endpoints are gone but no pruner is available", "count", len(gone))
		return
	}
	for variantID, endpoints := range owned {
		dead := slices.DeleteFunc(slices.Clone(endpoints), func(e string) bool {
			return !slices.Contains(gone, e)
		})
		if len(dead) == 0 {
			continue
		}
		r.logger.Info("Removing gone SimplePush endpoints", "variant_id", variantID, "count", len(dead))
		if err := r.pruner.RemoveInstallations(ctx, variantID, dead); err != nil {
			r.logger.Warn("Failed to remove gone SimplePush endpoints", "variant_id", variantID, "err", err)
		}
	}
}
