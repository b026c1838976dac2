package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-unifiedpush-service/internal/dispatch"
	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

func TestResolver_Resolve(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	a1, a2, i1 := android("A1"), android("A2"), ios("I1")
	s1, c1 := simplePush("S1"), chrome("C1")
	app := &push.Application{
		ID:                        "app-1",
		AndroidVariants:           []*push.AndroidVariant{a1, a2},
		IOSVariants:               []*push.IOSVariant{i1},
		SimplePushVariants:        []*push.SimplePushVariant{s1},
		ChromePackagedAppVariants: []*push.ChromePackagedAppVariant{c1},
	}

	t.Run("Dedup - repeated IDs resolve to one variant", func(t *testing.T) {
		directory := new(mockDirectory)
		directory.On("FindByVariantID", mock.Anything, "A1").Return(a1, nil)

		resolver := dispatch.NewResolver(directory, logger)
		targets, err := resolver.Resolve(ctx, app, push.SendCriteria{Variants: []string{"A1", "A1", "A1"}})

		require.NoError(t, err)
		assert.Equal(t, 1, targets.Len(push.KindAndroid))
		assert.Equal(t, 1, targets.Total())
		directory.AssertNumberOfCalls(t, "FindByVariantID", 3)
	})

	t.Run("Lookup miss is tolerated", func(t *testing.T) {
		directory := new(mockDirectory)
		directory.On("FindByVariantID", mock.Anything, "I1").Return(i1, nil)
		directory.On("FindByVariantID", mock.Anything, "stale-id").
			Return(nil, fmt.Errorf("lookup stale-id: %w", push.ErrVariantNotFound))

		resolver := dispatch.NewResolver(directory, logger)
		targets, err := resolver.Resolve(ctx, app, push.SendCriteria{Variants: []string{"stale-id", "I1"}})

		require.NoError(t, err)
		require.Equal(t, 1, targets.Total())
		assert.Equal(t, []push.Variant{i1}, targets.Variants(push.KindIOS))
	})

	t.Run("Default population uses every application variant", func(t *testing.T) {
		directory := new(mockDirectory)

		resolver := dispatch.NewResolver(directory, logger)
		targets, err := resolver.Resolve(ctx, app, push.SendCriteria{Categories: []string{"news"}})

		require.NoError(t, err)
		assert.Equal(t, []push.Variant{a1, a2}, targets.Variants(push.KindAndroid))
		assert.Equal(t, []push.Variant{i1}, targets.Variants(push.KindIOS))
		assert.Equal(t, []push.Variant{s1}, targets.Variants(push.KindSimplePush))
		assert.Equal(t, []push.Variant{c1}, targets.Variants(push.KindChromePackagedApp))
		directory.AssertNotCalled(t, "FindByVariantID", mock.Anything, mock.Anything)
	})

	t.Run("Explicit IDs are partitioned by platform", func(t *testing.T) {
		directory := new(mockDirectory)
		directory.On("FindByVariantID", mock.Anything, "S1").Return(s1, nil)
		directory.On("FindByVariantID", mock.Anything, "C1").Return(c1, nil)

		resolver := dispatch.NewResolver(directory, logger)
		targets, err := resolver.Resolve(ctx, app, push.SendCriteria{Variants: []string{"C1", "S1"}})

		require.NoError(t, err)
		assert.Equal(t, 1, targets.Len(push.KindSimplePush))
		assert.Equal(t, 1, targets.Len(push.KindChromePackagedApp))
		assert.Equal(t, 0, targets.Len(push.KindAndroid))
	})

	t.Run("Directory failure aborts", func(t *testing.T) {
		directory := new(mockDirectory)
		directory.On("FindByVariantID", mock.Anything, "A1").Return(nil, errors.New("firestore unavailable"))

		resolver := dispatch.NewResolver(directory, logger)
		_, err := resolver.Resolve(ctx, app, push.SendCriteria{Variants: []string{"A1"}})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "firestore unavailable")
	})

	t.Run("Nil application without explicit IDs", func(t *testing.T) {
		resolver := dispatch.NewResolver(new(mockDirectory), logger)
		targets, err := resolver.Resolve(ctx, nil, push.SendCriteria{})

		require.NoError(t, err)
		assert.Zero(t, targets.Total())
	})
}
