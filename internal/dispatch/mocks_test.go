package dispatch_test

import (
	"context"
	"io"
	"log/slog"

	"github.com/stretchr/testify/mock"
	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) FindByVariantID(ctx context.Context, variantID string) (push.Variant, error) {
	args := m.Called(ctx, variantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(push.Variant), args.Error(1)
}

type mockEndpoints struct {
	mock.Mock
}

func (m *mockEndpoints) FindDeviceEndpoints(ctx context.Context, variantID string, categories, aliases, deviceTypes []string) ([]string, error) {
	args := m.Called(ctx, variantID, categories, aliases, deviceTypes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// mockInstallations is an EndpointResolver that can also prune.
type mockInstallations struct {
	mockEndpoints
}

func (m *mockInstallations) RemoveInstallations(ctx context.Context, variantID string, tokens []string) error {
	return m.Called(ctx, variantID, tokens).Error(0)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendPushMessage(ctx context.Context, variant push.Variant, endpoints []string, msg *push.Message) error {
	return m.Called(ctx, variant, endpoints, msg).Error(0)
}

type mockSimplePushSender struct {
	mock.Mock
}

func (m *mockSimplePushSender) SendMessage(ctx context.Context, endpoints []string, payload string) error {
	return m.Called(ctx, endpoints, payload).Error(0)
}

// --- Fixtures ---

func android(id string) *push.AndroidVariant {
	return &push.AndroidVariant{VariantInfo: push.VariantInfo{ID: id}}
}

func ios(id string) *push.IOSVariant {
	return &push.IOSVariant{VariantInfo: push.VariantInfo{ID: id}, BundleID: "com.example." + id}
}

func simplePush(id string) *push.SimplePushVariant {
	return &push.SimplePushVariant{VariantInfo: push.VariantInfo{ID: id}}
}

func chrome(id string) *push.ChromePackagedAppVariant {
	return &push.ChromePackagedAppVariant{VariantInfo: push.VariantInfo{ID: id}}
}

func strPtr(s string) *string {
	return &s
}
