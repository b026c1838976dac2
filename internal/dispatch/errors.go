package dispatch

import (
	"slices"

	"github.com/hashicorp/go-multierror"

	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

// Failure is a retryable delivery failure and the variants it affected.
type Failure struct {
	Variants []push.Variant
	Err      error
}

// DeliveryError is returned by Dispatch when some variants could not be served.
// Variants absent from it were delivered, or failed in a way a retry cannot fix.
type DeliveryError struct {
	Failures []Failure
}

func (e *DeliveryError) Error() string {
	var merr *multierror.Error
	for _, f := range e.Failures {
		merr = multierror.Append(merr, f.Err)
	}
	return merr.Error()
}

func (e *DeliveryError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// VariantIDs returns the sorted, distinct IDs of every failed variant.
func (e *DeliveryError) VariantIDs() []string {
	var ids []string
	for _, f := range e.Failures {
		for _, v := range f.Variants {
			ids = append(ids, v.VariantID())
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}
