// Package push contains the provider-agnostic domain model for the push
// gateway: message targets, the FCM and APNs message builders, and the
// per-target result types returned by the platform senders.
package push

// TargetType discriminates how a Target value is interpreted by FCM.
type TargetType string

const (
	// TargetToken addresses a single device registration token.
	TargetToken TargetType = "token"
	// TargetTopic addresses every device subscribed to a topic.
	TargetTopic TargetType = "topic"
	// TargetCondition addresses a boolean expression over topic subscriptions.
	TargetCondition TargetType = "condition"
)

// Target is an immutable delivery address. Equality is by value.
type Target struct {
	Type  TargetType
	Value string
}

func TokenTarget(token string) Target {
	return Target{Type: TargetToken, Value: token}
}

func TopicTarget(topic string) Target {
	return Target{Type: TargetTopic, Value: topic}
}

func ConditionTarget(condition string) Target {
	return Target{Type: TargetCondition, Value: condition}
}

// Masked returns a log-safe form of the target value. Device tokens are
// credentials, so only the first and last 6 characters survive; topics and
// conditions are not secret and pass through unchanged.
func (t Target) Masked() string {
	if t.Type != TargetToken || len(t.Value) <= 12 {
		return t.Value
	}
	return t.Value[:6] + "..." + t.Value[len(t.Value)-6:]
}

func (t Target) String() string {
	return string(t.Type) + ":" + t.Masked()
}
