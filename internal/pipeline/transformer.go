// Package pipeline contains the ingestion path of the gateway: the Pub/Sub
// consumer, the payload transformer and the fan-out processor.
package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// ParsePushRequest safely unmarshals and validates a raw message payload
// into a structured dispatch.PushRequest.
//
// The skip flag tells the consumer the message is poison: it can never
// succeed no matter how often it is redelivered, so it should go to the
// dead-letter topic instead of being retried.
func ParsePushRequest(payload []byte) (*dispatch.PushRequest, bool, error) {
	var req dispatch.PushRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, true, fmt.Errorf("unmarshal push request: %w", err)
	}
	if req.RecipientID == "" {
		return nil, true, fmt.Errorf("push request has no recipient_id")
	}
	if req.Content.Title == "" && req.Content.Body == "" && len(req.Data) == 0 {
		return nil, true, fmt.Errorf("push request for %q has no content", req.RecipientID)
	}
	return &req, false, nil
}
