// Package dispatch contains the public contracts between the push gateway
// core and its collaborators: the device token store and the request model
// carried through the processing pipeline.
package dispatch

import "context"

// WebPushKeys are the client-generated encryption keys of a Web Push
// subscription, base64url encoded as delivered by the browser.
type WebPushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// WebPushSubscription identifies one browser push endpoint.
type WebPushSubscription struct {
	Endpoint string      `json:"endpoint"`
	Keys     WebPushKeys `json:"keys"`
}

// DeviceSet holds every registered delivery address for one user, bucketed
// by platform.
type DeviceSet struct {
	UserID           string                `json:"user_id"`
	FCMTokens        []string              `json:"fcm_tokens"`
	APNSTokens       []string              `json:"apns_tokens"`
	WebSubscriptions []WebPushSubscription `json:"web_subscriptions"`
}

// Content is the user-visible part of a pipeline push request.
type Content struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Image string `json:"image,omitempty"`
	Sound string `json:"sound,omitempty"`
}

// PushRequest is the message consumed from the ingestion subscription. The
// request carries the content; the token store knows the devices.
type PushRequest struct {
	RecipientID string            `json:"recipient_id"`
	Content     Content           `json:"content"`
	Data        map[string]string `json:"data,omitempty"`
}

// TokenStore manages user device registrations. The gateway core never
// deletes tokens on its own; the pipeline prunes them here when a sender
// reports a registration as permanently invalid.
type TokenStore interface {
	RegisterFCM(ctx context.Context, userID, token string) error
	UnregisterFCM(ctx context.Context, userID, token string) error

	RegisterAPNS(ctx context.Context, userID, token string) error
	UnregisterAPNS(ctx context.Context, userID, token string) error

	RegisterWeb(ctx context.Context, userID string, sub WebPushSubscription) error
	UnregisterWeb(ctx context.Context, userID, endpoint string) error

	// Fetch retrieves all active devices for a user.
	Fetch(ctx context.Context, userID string) (*DeviceSet, error)
}
