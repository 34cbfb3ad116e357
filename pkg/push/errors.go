package push

import "errors"

// Sentinel errors forming the failure taxonomy of the gateway. Protocol
// rejections from the upstream providers are NOT errors; they come back as
// Result values so a batch can report partial success. Only infrastructure
// failures are raised through these sentinels, wrapped with context via
// fmt.Errorf("...: %w", ...) and matched with errors.Is.
var (
	// ErrConfiguration marks missing or unusable credentials/settings.
	// Fatal at construction time, never retried.
	ErrConfiguration = errors.New("push: invalid configuration")

	// ErrAuthentication marks a failed credential exchange or signing
	// operation. Not retried by this layer.
	ErrAuthentication = errors.New("push: authentication failed")

	// ErrTransport marks a network-level failure below the HTTP protocol
	// (DNS, dial, timeout) that survived the retry policy.
	ErrTransport = errors.New("push: transport failure")

	// ErrEmptyMessage is returned by Build when a message violates the
	// minimum-content invariant.
	ErrEmptyMessage = errors.New("push: message carries no content")
)
