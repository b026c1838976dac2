package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-unifiedpush-service/internal/pipeline"
)

func TestSendRequestTransformer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	testCases := []struct {
		name                  string
		payload               string
		expectError           bool
		expectedErrorContains string
		expectedMessageID     string
	}{
		{
			name:              "Happy Path - native payload",
			payload:           `{"pushApplicationID":"app-1","message":{"id":"m-1","data":{"alert":"Hi"},"criteria":{"variants":["A1"]}}}`,
			expectedMessageID: "m-1",
		},
		{
			name:              "Happy Path - SimplePush only, id from transport",
			payload:           `{"pushApplicationID":"app-1","message":{"simple-push":"version=3"}}`,
			expectedMessageID: "pubsub-1",
		},
		{
			name:                  "Failure - Malformed JSON",
			payload:               "not-json",
			expectError:           true,
			expectedErrorContains: "failed to unmarshal send request",
		},
		{
			name:                  "Failure - Missing application",
			payload:               `{"message":{"data":{"alert":"Hi"}}}`,
			expectError:           true,
			expectedErrorContains: "no push application id",
		},
		{
			name:                  "Failure - No payload",
			payload:               `{"pushApplicationID":"app-1","message":{"criteria":{}}}`,
			expectError:           true,
			expectedErrorContains: "carries no payload",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg := &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "pubsub-1", Payload: []byte(tc.payload)},
			}

			req, skip, err := pipeline.SendRequestTransformer(ctx, msg)

			if tc.expectError {
				require.Error(t, err)
				assert.True(t, skip)
				assert.Contains(t, err.Error(), tc.expectedErrorContains)
				return
			}
			require.NoError(t, err)
			assert.False(t, skip)
			assert.Equal(t, "app-1", req.ApplicationID)
			assert.Equal(t, tc.expectedMessageID, req.Message.ID)
		})
	}
}
