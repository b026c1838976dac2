package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-unifiedpush-service/internal/storage/cache"
	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

type MockApplicationStore struct {
	mock.Mock
}

func (m *MockApplicationStore) FindByVariantID(ctx context.Context, variantID string) (push.Variant, error) {
	args := m.Called(ctx, variantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(push.Variant), args.Error(1)
}

func (m *MockApplicationStore) FindApplication(ctx context.Context, applicationID string) (*push.Application, error) {
	args := m.Called(ctx, applicationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*push.Application), args.Error(1)
}

type MockWritableApplicationStore struct {
	MockApplicationStore
}

func (m *MockWritableApplicationStore) SaveApplication(ctx context.Context, app *push.Application) error {
	return m.Called(ctx, app).Error(0)
}

func (m *MockWritableApplicationStore) SaveVariant(ctx context.Context, applicationID string, v push.Variant) error {
	return m.Called(ctx, applicationID, v).Error(0)
}

func TestCachedApplicationStore(t *testing.T) {
	ctx := context.Background()
	a1 := &push.AndroidVariant{VariantInfo: push.VariantInfo{ID: "A1"}}

	t.Run("Second lookup is served from memory", func(t *testing.T) {
		backing := new(MockApplicationStore)
		backing.On("FindByVariantID", ctx, "A1").Return(a1, nil).Once()
		store := cache.NewCachedApplicationStore(backing, time.Minute, newTestLogger())

		for range 2 {
			v, err := store.FindByVariantID(ctx, "A1")
			require.NoError(t, err)
			assert.Same(t, a1, v)
		}
		backing.AssertNumberOfCalls(t, "FindByVariantID", 1)
	})

	t.Run("Misses are not cached", func(t *testing.T) {
		backing := new(MockApplicationStore)
		backing.On("FindByVariantID", ctx, "new").Return(nil, push.ErrVariantNotFound).Once()
		backing.On("FindByVariantID", ctx, "new").Return(a1, nil).Once()
		store := cache.NewCachedApplicationStore(backing, time.Minute, newTestLogger())

		_, err := store.FindByVariantID(ctx, "new")
		assert.ErrorIs(t, err, push.ErrVariantNotFound)

		v, err := store.FindByVariantID(ctx, "new")
		require.NoError(t, err)
		assert.Same(t, a1, v)
	})

	t.Run("FindApplication warms the variant cache", func(t *testing.T) {
		backing := new(MockApplicationStore)
		app := &push.Application{ID: "app", AndroidVariants: []*push.AndroidVariant{a1}}
		backing.On("FindApplication", ctx, "app").Return(app, nil)
		store := cache.NewCachedApplicationStore(backing, time.Minute, newTestLogger())

		_, err := store.FindApplication(ctx, "app")
		require.NoError(t, err)

		v, err := store.FindByVariantID(ctx, "A1")
		require.NoError(t, err)
		assert.Same(t, a1, v)
		backing.AssertNotCalled(t, "FindByVariantID", mock.Anything, mock.Anything)
	})

	t.Run("Invalidate forces a reload", func(t *testing.T) {
		backing := new(MockApplicationStore)
		backing.On("FindByVariantID", ctx, "A1").Return(a1, nil)
		store := cache.NewCachedApplicationStore(backing, time.Minute, newTestLogger())

		_, _ = store.FindByVariantID(ctx, "A1")
		store.Invalidate("A1")
		_, _ = store.FindByVariantID(ctx, "A1")

		backing.AssertNumberOfCalls(t, "FindByVariantID", 2)
	})

	t.Run("Saving an application drops its cached variants", func(t *testing.T) {
		backing := new(MockWritableApplicationStore)
		updated := &push.AndroidVariant{VariantInfo: push.VariantInfo{ID: "A1", Name: "renamed"}}
		backing.On("FindByVariantID", ctx, "A1").Return(a1, nil).Once()
		backing.On("FindByVariantID", ctx, "A1").Return(updated, nil).Once()
		app := &push.Application{ID: "app", AndroidVariants: []*push.AndroidVariant{updated}}
		backing.On("SaveApplication", ctx, app).Return(nil)
		store := cache.NewCachedApplicationStore(backing, time.Minute, newTestLogger())

		_, _ = store.FindByVariantID(ctx, "A1")
		require.NoError(t, store.SaveApplication(ctx, app))

		v, err := store.FindByVariantID(ctx, "A1")
		require.NoError(t, err)
		assert.Same(t, updated, v)
	})

	t.Run("Failed variant save keeps the cached copy", func(t *testing.T) {
		backing := new(MockWritableApplicationStore)
		backing.On("FindByVariantID", ctx, "A1").Return(a1, nil).Once()
		backing.On("SaveVariant", ctx, "app", mock.Anything).Return(errors.New("firestore down"))
		store := cache.NewCachedApplicationStore(backing, time.Minute, newTestLogger())

		_, _ = store.FindByVariantID(ctx, "A1")
		assert.Error(t, store.SaveVariant(ctx, "app", a1))

		_, err := store.FindByVariantID(ctx, "A1")
		require.NoError(t, err)
		backing.AssertNumberOfCalls(t, "FindByVariantID", 1)
	})

	t.Run("Read-only backing store refuses writes", func(t *testing.T) {
		store := cache.NewCachedApplicationStore(new(MockApplicationStore), time.Minute, newTestLogger())
		assert.Error(t, store.SaveApplication(ctx, &push.Application{ID: "app"}))
	})
}
