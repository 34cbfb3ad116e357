package push

import (
	"encoding/json"
	"fmt"
	"time"
)

// AndroidPriority selects the FCM delivery priority on Android.
type AndroidPriority string

const (
	AndroidPriorityNormal AndroidPriority = "normal"
	AndroidPriorityHigh   AndroidPriority = "high"
)

// Notification is the OS-visible part of a message. Its absence makes the
// message a silent data push.
type Notification struct {
	Title    string
	Body     string
	ImageURL string
}

// AndroidOptions carries Android-specific delivery hints.
type AndroidOptions struct {
	Priority    AndroidPriority
	TTL         time.Duration
	CollapseKey string
	ChannelID   string
}

// APNSOptions is the pass-through used when FCM relays a message to Apple
// devices: raw apns headers plus extra fields merged into the aps dictionary.
type APNSOptions struct {
	Headers map[string]string
	APS     map[string]any
}

// WebpushOptions carries the Web Push protocol headers and data overrides.
type WebpushOptions struct {
	Headers map[string]string
	Data    map[string]string
}

// Message is the provider-agnostic push message sent through the FCM path.
// It is assembled via MessageBuilder and frozen once Build returns it;
// senders never mutate a Message and it is safe to share across goroutines.
type Message struct {
	Data         map[string]string
	Notification *Notification
	Android      *AndroidOptions
	APNS         *APNSOptions
	Webpush      *WebpushOptions
	ValidateOnly bool
	// MessageID is an optional caller-assigned id used only for log
	// correlation; it is never sent on the wire.
	MessageID string
}

// MessageBuilder accumulates message fields through chained setters. Setters
// never fail; any deferred error (e.g. a value that cannot be serialized)
// surfaces at Build together with validation.
type MessageBuilder struct {
	msg Message
	err error
}

func NewMessage() *MessageBuilder {
	return &MessageBuilder{}
}

// WithData stores a single data entry. FCM caps the total data payload at
// roughly 4KB; the builder does not enforce the limit.
func (b *MessageBuilder) WithData(key, value string) *MessageBuilder {
	if b.msg.Data == nil {
		b.msg.Data = make(map[string]string)
	}
	b.msg.Data[key] = value
	return b
}

// WithJSONData serializes an arbitrary value to JSON and stores it under key.
// FCM only accepts string data values, so structured payloads must be
// embedded this way.
func (b *MessageBuilder) WithJSONData(key string, value any) *MessageBuilder {
	raw, err := json.Marshal(value)
	if err != nil {
		if b.err == nil {
			b.err = fmt.Errorf("serialize data %q: %w", key, err)
		}
		return b
	}
	return b.WithData(key, string(raw))
}

func (b *MessageBuilder) WithNotification(title, body string) *MessageBuilder {
	if b.msg.Notification == nil {
		b.msg.Notification = &Notification{}
	}
	b.msg.Notification.Title = title
	b.msg.Notification.Body = body
	return b
}

func (b *MessageBuilder) WithImage(url string) *MessageBuilder {
	if b.msg.Notification == nil {
		b.msg.Notification = &Notification{}
	}
	b.msg.Notification.ImageURL = url
	return b
}

func (b *MessageBuilder) WithAndroid(opts AndroidOptions) *MessageBuilder {
	b.msg.Android = &opts
	return b
}

func (b *MessageBuilder) WithAPNS(opts APNSOptions) *MessageBuilder {
	b.msg.APNS = &opts
	return b
}

func (b *MessageBuilder) WithWebpush(opts WebpushOptions) *MessageBuilder {
	b.msg.Webpush = &opts
	return b
}

// DryRun sets the validate-only flag: the provider validates the message
// without delivering it.
func (b *MessageBuilder) DryRun() *MessageBuilder {
	b.msg.ValidateOnly = true
	return b
}

func (b *MessageBuilder) WithMessageID(id string) *MessageBuilder {
	b.msg.MessageID = id
	return b
}

// Build validates and freezes the message. A message must carry at least one
// data entry or a notification.
func (b *MessageBuilder) Build() (*Message, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.msg.Data) == 0 && b.msg.Notification == nil {
		return nil, fmt.Errorf("%w: add a data entry or a notification", ErrEmptyMessage)
	}
	msg := b.msg
	return &msg, nil
}
