package api_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/stretchr/testify/mock"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

// --- Mocks ---

type MockApplicationStore struct {
	mock.Mock
}

func (m *MockApplicationStore) FindApplication(ctx context.Context, applicationID string) (*push.Application, error) {
	args := m.Called(ctx, applicationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*push.Application), args.Error(1)
}

func (m *MockApplicationStore) FindByVariantID(ctx context.Context, variantID string) (push.Variant, error) {
	args := m.Called(ctx, variantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(push.Variant), args.Error(1)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Publish(ctx context.Context, req *push.SendRequest) error {
	return m.Called(ctx, req).Error(0)
}

type MockInstallationStore struct {
	mock.Mock
}

func (m *MockInstallationStore) FindDeviceEndpoints(ctx context.Context, variantID string, categories, aliases, deviceTypes []string) ([]string, error) {
	args := m.Called(ctx, variantID, categories, aliases, deviceTypes)
	return args.Get(0).([]string), args.Error(1)
}
func (m *MockInstallationStore) RemoveInstallations(ctx context.Context, variantID string, tokens []string) error {
	return m.Called(ctx, variantID, tokens).Error(0)
}
func (m *MockInstallationStore) RegisterInstallation(ctx context.Context, variantID string, installation push.Installation) error {
	return m.Called(ctx, variantID, installation).Error(0)
}
func (m *MockInstallationStore) UnregisterInstallation(ctx context.Context, variantID string, deviceToken string) error {
	return m.Called(ctx, variantID, deviceToken).Error(0)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Helper to inject UserID into context (simulating Auth Middleware)
func withUser(req *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(req.Context(), userID)
	return req.WithContext(ctx)
}

type MockApplicationWriter struct {
	mock.Mock
}

func (m *MockApplicationWriter) SaveApplication(ctx context.Context, app *push.Application) error {
	return m.Called(ctx, app).Error(0)
}

func (m *MockApplicationWriter) SaveVariant(ctx context.Context, applicationID string, v push.Variant) error {
	return m.Called(ctx, applicationID, v).Error(0)
}
