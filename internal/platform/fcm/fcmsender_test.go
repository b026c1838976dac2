package fcm_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-unifiedpush-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

// MockClient satisfies the MessagingClient interface
type MockClient struct {
	mock.Mock
}

func (m *MockClient) SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.BatchResponse), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func successResponse(n int) *messaging.BatchResponse {
	responses := make([]*messaging.SendResponse, n)
	for i := range responses {
		responses[i] = &messaging.SendResponse{Success: true, MessageID: "msg"}
	}
	return &messaging.BatchResponse{SuccessCount: n, Responses: responses}
}

func TestFCMSender_Lifecycle(t *testing.T) {
	logger := newTestLogger()
	ctx := context.Background()
	variant := &push.AndroidVariant{VariantInfo: push.VariantInfo{ID: "android-1"}, PackageName: "com.test.app"}
	msg := &push.Message{
		ID:         "m-1",
		Data:       &push.Payload{Alert: "Test", Sound: "default", Badge: 4, Extras: map[string]string{"id": "1"}},
		TimeToLive: 3600,
	}

	t.Run("Happy Path - payload mapped onto data keys", func(t *testing.T) {
		mockClient := new(MockClient)
		sender := fcm.NewSender(mockClient, nil, logger)
		tokens := []string{"token-1", "token-2"}

		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
			return assert.ObjectsAreEqual(tokens, m.Tokens) &&
				m.Data["alert"] == "Test" &&
				m.Data["sound"] == "default" &&
				m.Data["badge"] == "4" &&
				m.Data["id"] == "1" &&
				m.Android.RestrictedPackageName == "com.test.app" &&
				m.Android.TTL != nil && *m.Android.TTL == time.Hour
		})).Return(successResponse(2), nil)

		err := sender.SendPushMessage(ctx, variant, tokens, msg)

		require.NoError(t, err)
		mockClient.AssertExpectations(t)
	})

	t.Run("Tokens are chunked at the multicast limit", func(t *testing.T) {
		mockClient := new(MockClient)
		sender := fcm.NewSender(mockClient, nil, logger)
		tokens := make([]string, fcm.MaxTokensPerBatch+1)
		for i := range tokens {
			tokens[i] = "tok"
		}

		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
			return len(m.Tokens) == fcm.MaxTokensPerBatch
		})).Return(successResponse(fcm.MaxTokensPerBatch), nil).Once()
		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
			return len(m.Tokens) == 1
		})).Return(successResponse(1), nil).Once()

		err := sender.SendPushMessage(ctx, variant, tokens, msg)

		require.NoError(t, err)
		mockClient.AssertNumberOfCalls(t, "SendEachForMulticast", 2)
	})

	t.Run("Transport Failure (Retryable)", func(t *testing.T) {
		mockClient := new(MockClient)
		sender := fcm.NewSender(mockClient, nil, logger)

		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(nil, errors.New("network down"))

		err := sender.SendPushMessage(ctx, variant, []string{"token-1"}, msg)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "transport failed")
	})

	t.Run("Per-token failures are reported as retryable", func(t *testing.T) {
		mockClient := new(MockClient)
		sender := fcm.NewSender(mockClient, nil, logger)

		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(&messaging.BatchResponse{
			SuccessCount: 1,
			FailureCount: 1,
			Responses: []*messaging.SendResponse{
				{Success: true, MessageID: "msg-1"},
				{Success: false, Error: errors.New("internal error")},
			},
		}, nil)

		err := sender.SendPushMessage(ctx, variant, []string{"token-1", "token-2"}, msg)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 retryable errors")
	})

	t.Run("No tokens is a no-op", func(t *testing.T) {
		mockClient := new(MockClient)
		sender := fcm.NewSender(mockClient, nil, logger)

		require.NoError(t, sender.SendPushMessage(ctx, variant, nil, msg))
		mockClient.AssertNotCalled(t, "SendEachForMulticast", mock.Anything, mock.Anything)
	})

	t.Run("Rejects non-Android variants", func(t *testing.T) {
		sender := fcm.NewSender(new(MockClient), nil, logger)
		err := sender.SendPushMessage(ctx, &push.IOSVariant{VariantInfo: push.VariantInfo{ID: "i"}}, []string{"t"}, msg)
		assert.Error(t, err)
	})

	// Note: We rely on the Integration Test to verify the specific parsing of
	// IsRegistrationTokenNotRegistered errors, as mocking the internal error types
	// of the Firebase SDK is brittle.
}
