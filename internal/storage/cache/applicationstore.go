package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

// CachedApplicationStore keeps recently resolved variants in process memory.
// Variant records change rarely and are read once per explicitly targeted ID,
// so a short TTL trades a little staleness for most directory round-trips.
type CachedApplicationStore struct {
	push.ApplicationStore
	variants *gocache.Cache
	logger   *slog.Logger
}

func NewCachedApplicationStore(realStore push.ApplicationStore, ttl time.Duration, logger *slog.Logger) *CachedApplicationStore {
	return &CachedApplicationStore{
		ApplicationStore: realStore,
		variants:         gocache.New(ttl, 2*ttl),
		logger:           logger.With("component", "CachedApplicationStore"),
	}
}

// FindByVariantID serves from memory when possible. Misses are not cached, so a
// freshly created variant is visible on its first lookup.
func (s *CachedApplicationStore) FindByVariantID(ctx context.Context, variantID string) (push.Variant, error) {
	if v, ok := s.variants.Get(variantID); ok {
		return v.(push.Variant), nil
	}

	variant, err := s.ApplicationStore.FindByVariantID(ctx, variantID)
	if err != nil {
		return nil, err
	}
	s.variants.SetDefault(variantID, variant)
	return variant, nil
}

// FindApplication always reads through and refreshes the cached variants it returns.
func (s *CachedApplicationStore) FindApplication(ctx context.Context, applicationID string) (*push.Application, error) {
	app, err := s.ApplicationStore.FindApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	for _, v := range app.Variants() {
		s.variants.SetDefault(v.VariantID(), v)
	}
	return app, nil
}

// Invalidate drops one cached variant.
func (s *CachedApplicationStore) Invalidate(variantID string) {
	s.variants.Delete(variantID)
}

var _ push.ApplicationWriter = (*CachedApplicationStore)(nil)

var errReadOnly = errors.New("application store is read-only")

// SaveApplication writes through to the backing store, then drops every saved
// variant from memory so the next lookup sees the new record.
func (s *CachedApplicationStore) SaveApplication(ctx context.Context, app *push.Application) error {
	writer, ok := s.ApplicationStore.(push.ApplicationWriter)
	if !ok {
		return errReadOnly
	}
	if err := writer.SaveApplication(ctx, app); err != nil {
		return err
	}
	for _, v := range app.Variants() {
		s.Invalidate(v.VariantID())
	}
	return nil
}

func (s *CachedApplicationStore) SaveVariant(ctx context.Context, applicationID string, v push.Variant) error {
	writer, ok := s.ApplicationStore.(push.ApplicationWriter)
	if !ok {
		return errReadOnly
	}
	if err := writer.SaveVariant(ctx, applicationID, v); err != nil {
		return err
	}
	s.Invalidate(v.VariantID())
	return nil
}
