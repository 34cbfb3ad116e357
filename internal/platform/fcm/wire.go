package fcm

import (
	"fmt"
	"strings"

	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

// Wire shapes for POST /v1/projects/{project}/messages:send. Absent optional
// sub-objects are omitted entirely rather than emitted as nulls.

type sendRequest struct {
	ValidateOnly bool        `json:"validate_only,omitempty"`
	Message      wireMessage `json:"message"`
}

type wireMessage struct {
	// Exactly one of token/topic/condition is set.
	Token     string `json:"token,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Condition string `json:"condition,omitempty"`

	Data         map[string]string `json:"data,omitempty"`
	Notification *wireNotification `json:"notification,omitempty"`
	Android      *wireAndroid      `json:"android,omitempty"`
	APNS         *wireAPNS         `json:"apns,omitempty"`
	Webpush      *wireWebpush      `json:"webpush,omitempty"`
}

type wireNotification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
	Image string `json:"image,omitempty"`
}

type wireAndroid struct {
	Priority     string                   `json:"priority,omitempty"`
	TTL          string                   `json:"ttl,omitempty"`
	CollapseKey  string                   `json:"collapse_key,omitempty"`
	Notification *wireAndroidNotification `json:"notification,omitempty"`
}

type wireAndroidNotification struct {
	ChannelID string `json:"channel_id,omitempty"`
}

type wireAPNS struct {
	Headers map[string]string `json:"headers,omitempty"`
	Payload *wireAPNSPayload  `json:"payload,omitempty"`
}

type wireAPNSPayload struct {
	APS map[string]any `json:"aps,omitempty"`
}

type wireWebpush struct {
	Headers map[string]string `json:"headers,omitempty"`
	Data    map[string]string `json:"data,omitempty"`
}

type sendResponse struct {
	Name string `json:"name"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    int           `json:"code"`
	Message string        `json:"message"`
	Status  string        `json:"status"`
	Details []errorDetail `json:"details"`
}

type errorDetail struct {
	Type      string `json:"@type"`
	ErrorCode string `json:"errorCode"`
}

// newSendRequest translates a frozen push.Message into the provider's
// envelope for one target.
func newSendRequest(target push.Target, msg *push.Message) sendRequest {
	wm := wireMessage{Data: msg.Data}

	switch target.Type {
	case push.TargetTopic:
		wm.Topic = target.Value
	case push.TargetCondition:
		wm.Condition = target.Value
	default:
		wm.Token = target.Value
	}

	if n := msg.Notification; n != nil {
		wm.Notification = &wireNotification{Title: n.Title, Body: n.Body, Image: n.ImageURL}
	}
	if a := msg.Android; a != nil {
		wa := &wireAndroid{
			Priority:    strings.ToLower(string(a.Priority)),
			CollapseKey: a.CollapseKey,
		}
		if a.TTL > 0 {
			wa.TTL = fmt.Sprintf("%ds", int64(a.TTL.Seconds()))
		}
		if a.ChannelID != "" {
			wa.Notification = &wireAndroidNotification{ChannelID: a.ChannelID}
		}
		wm.Android = wa
	}
	if ap := msg.APNS; ap != nil {
		wap := &wireAPNS{Headers: ap.Headers}
		if len(ap.APS) > 0 {
			wap.Payload = &wireAPNSPayload{APS: ap.APS}
		}
		wm.APNS = wap
	}
	if wp := msg.Webpush; wp != nil {
		wm.Webpush = &wireWebpush{Headers: wp.Headers, Data: wp.Data}
	}

	return sendRequest{ValidateOnly: msg.ValidateOnly, Message: wm}
}

// errorCode digs the machine-readable code out of the error envelope:
// details[].errorCode when present, else the status string, else the raw
// HTTP status text.
func (e errorResponse) errorCode(httpStatusText string) string {
	for _, d := range e.Error.Details {
		if d.ErrorCode != "" {
			return d.ErrorCode
		}
	}
	if e.Error.Status != "" {
		return e.Error.Status
	}
	return httpStatusText
}
