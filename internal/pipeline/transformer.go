// Package pipeline contains the core message processing components for the service.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

// SendRequestTransformer is a dataflow Transformer that unmarshals and validates a
// raw message payload into a push.SendRequest.
//
// Requests that can never be delivered (malformed JSON, no application, no payload
// for any platform) return skip=true so the StreamingService can handle the Nack/DLQ logic.
func SendRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*push.SendRequest, bool, error) {
	var req push.SendRequest

	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal send request from message %s: %w", msg.ID, err)
	}
	if req.ApplicationID == "" {
		return nil, true, fmt.Errorf("send request in message %s has no push application id", msg.ID)
	}
	if !req.Message.HasNativePayload() && !req.Message.HasSimplePushPayload() {
		return nil, true, fmt.Errorf("send request in message %s carries no payload", msg.ID)
	}

	// Requests published by other producers may not carry an id.
	if req.Message.ID == "" {
		req.Message.ID = msg.ID
	}

	return &req, false, nil
}
