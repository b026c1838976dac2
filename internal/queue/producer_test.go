//go:build integration

package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-unifiedpush-service/internal/queue"
	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

func TestPubsubProducer_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	projectID := "test-producer"
	topicID := "push-requests"
	subID := "push-requests-sub"

	conn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	client, err := pubsub.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err = client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, &pubsubpb.Subscription{
		Name:  fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID),
		Topic: topicName,
	})
	require.NoError(t, err)

	producer := queue.NewPubsubProducer(client, topicID, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(producer.Stop)

	alert := "Hello"
	req := &push.SendRequest{
		ApplicationID: "app-1",
		Message:       push.Message{ID: "m-1", Data: &push.Payload{Alert: alert}},
	}
	require.NoError(t, producer.Publish(ctx, req))

	var received push.SendRequest
	var attrs map[string]string
	rctx, rcancel := context.WithTimeout(ctx, 10*time.Second)
	defer rcancel()
	err = client.Subscriber(subID).Receive(rctx, func(_ context.Context, msg *pubsub.Message) {
		msg.Ack()
		attrs = msg.Attributes
		_ = json.Unmarshal(msg.Data, &received)
		rcancel()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		require.NoError(t, err)
	}

	assert.Equal(t, "app-1", received.ApplicationID)
	assert.Equal(t, alert, received.Message.Data.Alert)
	assert.Equal(t, "m-1", attrs["message_id"])
}
