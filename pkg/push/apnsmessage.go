package push

import (
	"fmt"
	"time"
)

// PushType is the value of the apns-push-type header.
type PushType string

const (
	PushTypeAlert        PushType = "alert"
	PushTypeBackground   PushType = "background"
	PushTypeLocation     PushType = "location"
	PushTypeVoIP         PushType = "voip"
	PushTypeComplication PushType = "complication"
	PushTypeFileProvider PushType = "fileprovider"
	PushTypeMDM          PushType = "mdm"
)

// APNs delivery priorities. Apple rejects background pushes sent at
// PriorityImmediate, so AsBackground forces PriorityThrottled.
const (
	PriorityImmediate = 10
	PriorityThrottled = 5
)

// Alert is the user-visible portion of the aps dictionary.
type Alert struct {
	Title    string
	Subtitle string
	Body     string
}

// APS models the required root dictionary of an APNs payload. Zero-valued
// fields are omitted at serialization time.
type APS struct {
	Alert            *Alert
	Badge            *int
	Sound            string
	ContentAvailable int
	MutableContent   int
	Category         string
	ThreadID         string
}

// APNSMessage is a native APNs message sent through the direct HTTP/2 path.
// Assembled via APNSMessageBuilder and immutable once built.
type APNSMessage struct {
	APS    APS
	Custom map[string]any
	// PushType defaults to alert.
	PushType PushType
	// Priority defaults to PriorityImmediate.
	Priority int
	// Expiration is seconds from now; 0 means deliver once and discard if
	// undeliverable.
	Expiration   time.Duration
	CollapseID   string
	ValidateOnly bool
}

// APNSMessageBuilder accumulates an APNSMessage through chained setters.
type APNSMessageBuilder struct {
	msg APNSMessage
}

func NewAPNSMessage() *APNSMessageBuilder {
	return &APNSMessageBuilder{
		msg: APNSMessage{
			PushType: PushTypeAlert,
			Priority: PriorityImmediate,
		},
	}
}

func (b *APNSMessageBuilder) WithAlert(title, subtitle, body string) *APNSMessageBuilder {
	b.msg.APS.Alert = &Alert{Title: title, Subtitle: subtitle, Body: body}
	return b
}

func (b *APNSMessageBuilder) WithBadge(count int) *APNSMessageBuilder {
	b.msg.APS.Badge = &count
	return b
}

func (b *APNSMessageBuilder) WithSound(sound string) *APNSMessageBuilder {
	b.msg.APS.Sound = sound
	return b
}

func (b *APNSMessageBuilder) WithCategory(category string) *APNSMessageBuilder {
	b.msg.APS.Category = category
	return b
}

func (b *APNSMessageBuilder) WithThreadID(threadID string) *APNSMessageBuilder {
	b.msg.APS.ThreadID = threadID
	return b
}

func (b *APNSMessageBuilder) WithMutableContent() *APNSMessageBuilder {
	b.msg.APS.MutableContent = 1
	return b
}

// WithCustom stores a root-level custom key merged alongside aps at
// serialization time. The key "aps" itself is reserved and skipped by the
// sender.
func (b *APNSMessageBuilder) WithCustom(key string, value any) *APNSMessageBuilder {
	if b.msg.Custom == nil {
		b.msg.Custom = make(map[string]any)
	}
	b.msg.Custom[key] = value
	return b
}

func (b *APNSMessageBuilder) WithPushType(t PushType) *APNSMessageBuilder {
	b.msg.PushType = t
	return b
}

func (b *APNSMessageBuilder) WithPriority(p int) *APNSMessageBuilder {
	b.msg.Priority = p
	return b
}

func (b *APNSMessageBuilder) WithExpiration(d time.Duration) *APNSMessageBuilder {
	b.msg.Expiration = d
	return b
}

func (b *APNSMessageBuilder) WithCollapseID(id string) *APNSMessageBuilder {
	b.msg.CollapseID = id
	return b
}

func (b *APNSMessageBuilder) DryRun() *APNSMessageBuilder {
	b.msg.ValidateOnly = true
	return b
}

// AsBackground marks the message as a silent background push. The three
// fields must change together: content-available=1, push type background,
// priority 5. Apple rejects background pushes at priority 10.
func (b *APNSMessageBuilder) AsBackground() *APNSMessageBuilder {
	b.msg.APS.ContentAvailable = 1
	b.msg.PushType = PushTypeBackground
	b.msg.Priority = PriorityThrottled
	return b
}

// Build validates and freezes the message. A message must contain at least
// an alert, a content-available flag, or non-empty custom data.
func (b *APNSMessageBuilder) Build() (*APNSMessage, error) {
	if b.msg.APS.Alert == nil && b.msg.APS.ContentAvailable == 0 && len(b.msg.Custom) == 0 {
		return nil, fmt.Errorf("%w: add an alert, custom data, or mark as background", ErrEmptyMessage)
	}
	msg := b.msg
	return &msg, nil
}
