package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

// Resolver builds the TargetSet for a message.
type Resolver struct {
	directory push.VariantDirectory
	logger    *slog.Logger
}

func NewResolver(directory push.VariantDirectory, logger *slog.Logger) *Resolver {
	return &Resolver{
		directory: directory,
		logger:    logger.With("component", "CriteriaResolver"),
	}
}

// Resolve returns the variants a message with the given criteria is sent to.
//
// Explicit variant IDs are looked up one by one; unknown IDs are skipped. Without
// explicit IDs every variant of app is targeted. Directory failures other than
// "not found" abort the resolution.
func (r *Resolver) Resolve(ctx context.Context, app *push.Application, criteria push.SendCriteria) (*TargetSet, error) {
	if len(criteria.Variants) == 0 {
		if app == nil {
			return NewTargetSet(), nil
		}
		return Partition(app.Variants()...), nil
	}

	targets := NewTargetSet()
	for _, variantID := range criteria.Variants {
		variant, err := r.directory.FindByVariantID(ctx, variantID)
		if err != nil {
			if errors.Is(err, push.ErrVariantNotFound) {
				r.logger.Debug("Skipping unknown variant", "variant_id", variantID)
				continue
			}
			return nil, fmt.Errorf("failed to look up variant %s: %w", variantID, err)
		}
		targets.Add(variant)
	}
	return targets, nil
}
