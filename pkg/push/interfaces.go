package push

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrVariantNotFound is returned by a VariantDirectory for unknown IDs.
	ErrVariantNotFound = errors.New("variant not found")
	// ErrApplicationNotFound is returned by an ApplicationStore for unknown IDs.
	ErrApplicationNotFound = errors.New("push application not found")
)

// VariantDirectory maps a variant identifier to its record.
type VariantDirectory interface {
	// FindByVariantID returns ErrVariantNotFound (possibly wrapped) when no variant has the ID.
	FindByVariantID(ctx context.Context, variantID string) (Variant, error)
}

// ApplicationStore loads push applications together with their variants.
type ApplicationStore interface {
	VariantDirectory
	FindApplication(ctx context.Context, applicationID string) (*Application, error)
}

// ApplicationWriter creates or replaces applications and their variants.
type ApplicationWriter interface {
	SaveApplication(ctx context.Context, app *Application) error
	SaveVariant(ctx context.Context, applicationID string, v Variant) error
}

// EndpointResolver returns the device tokens (native platforms) or endpoint URLs
// (SimplePush, Chrome) of a variant, filtered by the criteria lists.
type EndpointResolver interface {
	FindDeviceEndpoints(ctx context.Context, variantID string, categories, aliases, deviceTypes []string) ([]string, error)
}

// Sender delivers a message to the endpoints of one variant on one native platform.
// It must attempt every endpoint; a failure of one endpoint must not stop the rest.
// Endpoints that can never succeed are pruned or logged by the sender; the returned
// error only reports failures worth retrying.
type Sender interface {
	SendPushMessage(ctx context.Context, variant Variant, endpoints []string, msg *Message) error
}

// SimplePushSender delivers a SimplePush version payload to a batch of endpoint URLs.
// Endpoints the push network reports as gone are returned in a *GoneEndpointsError;
// any other returned error is worth retrying.
type SimplePushSender interface {
	SendMessage(ctx context.Context, endpoints []string, payload string) error
}

// GoneEndpointsError lists endpoints that will never accept a message again.
// Err holds the retryable failures of the same batch, if any.
type GoneEndpointsError struct {
	Endpoints []string
	Err       error
}

func (e *GoneEndpointsError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%d endpoints are gone", len(e.Endpoints))
	}
	return fmt.Sprintf("%d endpoints are gone: %v", len(e.Endpoints), e.Err)
}

func (e *GoneEndpointsError) Unwrap() error { return e.Err }

// SplitGone separates the gone endpoints reported by a SimplePushSender from the
// failures that remain worth retrying.
func SplitGone(err error) (gone []string, retryable error) {
	var goneErr *GoneEndpointsError
	if errors.As(err, &goneErr) {
		return goneErr.Endpoints, goneErr.Err
	}
	return nil, err
}

// InstallationPruner removes installations whose tokens the platform reported as dead.
type InstallationPruner interface {
	RemoveInstallations(ctx context.Context, variantID string, tokens []string) error
}

// IngestionProducer publishes send requests for asynchronous processing.
type IngestionProducer interface {
	Publish(ctx context.Context, req *SendRequest) error
}
