// Package cache adds read-aside caching in front of the registries the
// dispatcher reads on every message.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// HGet returns the field value or an error if it is not cached.
	HGet(ctx context.Context, key, field string, dest any) error
	// HSet stores the field. The TTL applies to the whole key and is set only when
	// the key is created.
	HSet(ctx context.Context, key, field string, value any, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedInstallationStore is a Decorator that adds read-aside caching of endpoint
// lookups to any push.InstallationStore. Each variant owns one Redis hash whose
// fields are the distinct criteria it was queried with, so a write to the variant
// invalidates every cached lookup at once.
type CachedInstallationStore struct {
	realStore push.InstallationStore
	cache     CacheClient
	ttl       time.Duration
	logger    *slog.Logger
}

func NewCachedInstallationStore(realStore push.InstallationStore, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedInstallationStore {
	return &CachedInstallationStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "CachedInstallationStore"),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedInstallationStore) FindDeviceEndpoints(ctx context.Context, variantID string, categories, aliases, deviceTypes []string) ([]string, error) {
	key := cacheKey(variantID)
	field := criteriaField(categories, aliases, deviceTypes)

	var cached []string
	if err := s.cache.HGet(ctx, key, field, &cached); err == nil {
		return cached, nil
	}

	fresh, err := s.realStore.FindDeviceEndpoints(ctx, variantID, categories, aliases, deviceTypes)
	if err != nil {
		return nil, err
	}

	// If Redis is down, we just serve from the DB.
	if err := s.cache.HSet(ctx, key, field, fresh, s.ttl); err != nil {
		s.logger.Debug("Failed to populate endpoint cache", "variant_id", variantID, "err", err)
	}
	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedInstallationStore) RegisterInstallation(ctx context.Context, variantID string, installation push.Installation) error {
	if err := s.realStore.RegisterInstallation(ctx, variantID, installation); err != nil {
		return err
	}
	return s.invalidate(ctx, variantID)
}

// UnregisterInstallation clears the variant's lookups once the write succeeded.
// A lookup that read the registry before the write may still repopulate the cache
// with the old endpoints; that entry lives at most one TTL.
func (s *CachedInstallationStore) UnregisterInstallation(ctx context.Context, variantID string, deviceToken string) error {
	if err := s.realStore.UnregisterInstallation(ctx, variantID, deviceToken); err != nil {
		return err
	}
	return s.invalidate(ctx, variantID)
}

func (s *CachedInstallationStore) RemoveInstallations(ctx context.Context, variantID string, tokens []string) error {
	err := s.realStore.RemoveInstallations(ctx, variantID, tokens)
	// Partial removals still changed the registry.
	if invErr := s.invalidate(ctx, variantID); invErr != nil {
		s.logger.Warn("Failed to invalidate endpoint cache", "variant_id", variantID, "err", invErr)
	}
	return err
}

// --- Helpers ---

func (s *CachedInstallationStore) invalidate(ctx context.Context, variantID string) error {
	return s.cache.Del(ctx, cacheKey(variantID))
}

func cacheKey(variantID string) string {
	return fmt.Sprintf("push:endpoints:%s", variantID)
}

// criteriaField is order-insensitive within each list. Nil and empty lists both
// mean "no filter" and share a field.
func criteriaField(categories, aliases, deviceTypes []string) string {
	lists := make([][]string, 0, 3)
	for _, list := range [][]string{categories, aliases, deviceTypes} {
		var sorted []string
		if len(list) > 0 {
			sorted = slices.Sorted(slices.Values(list))
		}
		lists = append(lists, sorted)
	}
	encoded, _ := json.Marshal(lists)
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}
