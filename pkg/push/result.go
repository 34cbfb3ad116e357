package push

// FCM and APNs error codes that mean the target token is permanently dead.
// Callers should delete the registration. Disjoint from retryableCodes by
// construction; TestClassificationTablesAreDisjoint guards the property.
var tokenInvalidCodes = map[string]struct{}{
	// FCM
	"UNREGISTERED":     {},
	"INVALID_ARGUMENT": {},
	// APNs
	"BadDeviceToken":         {},
	"Unregistered":           {},
	"DeviceTokenNotForTopic": {},
}

// Error codes that mark a transient provider condition worth retrying later.
var retryableCodes = map[string]struct{}{
	// FCM
	"UNAVAILABLE":    {},
	"INTERNAL":       {},
	"QUOTA_EXCEEDED": {},
	// APNs
	"TooManyRequests":     {},
	"InternalServerError": {},
	"ServiceUnavailable":  {},
	"Shutdown":            {},
}

// IsTokenInvalidCode reports whether code marks a permanently rejected token.
func IsTokenInvalidCode(code string) bool {
	_, ok := tokenInvalidCodes[code]
	return ok
}

// IsRetryableCode reports whether code marks a transient failure.
func IsRetryableCode(code string) bool {
	_, ok := retryableCodes[code]
	return ok
}

// Result is the outcome of exactly one target attempt. Protocol rejections
// live here rather than in an error return; callers branch on
// IsTokenInvalid (delete the registration), IsRetryable (requeue), or
// neither (log and move on).
type Result struct {
	Success bool
	// MessageID is the provider-assigned id on success, opaque.
	MessageID string
	Target    Target
	// ErrorCode is the machine-readable provider code on failure.
	ErrorCode string
	// ErrorMessage is the human-readable provider message on failure.
	ErrorMessage string
	HTTPStatus   int
}

func (r Result) IsTokenInvalid() bool {
	return !r.Success && IsTokenInvalidCode(r.ErrorCode)
}

func (r Result) IsRetryable() bool {
	return !r.Success && IsRetryableCode(r.ErrorCode)
}

// BatchResult aggregates the results of one batch send, one entry per
// deduplicated target. Dispatch is concurrent, so the order is completion
// order, not submission order.
type BatchResult struct {
	Results []Result
}

func (b BatchResult) TotalCount() int {
	return len(b.Results)
}

func (b BatchResult) SuccessCount() int {
	n := 0
	for _, r := range b.Results {
		if r.Success {
			n++
		}
	}
	return n
}

func (b BatchResult) FailureCount() int {
	return b.TotalCount() - b.SuccessCount()
}

func (b BatchResult) IsFullSuccess() bool {
	return b.TotalCount() > 0 && b.FailureCount() == 0
}

func (b BatchResult) IsPartialSuccess() bool {
	s := b.SuccessCount()
	return s > 0 && s < b.TotalCount()
}

func (b BatchResult) IsFullFailure() bool {
	return b.TotalCount() > 0 && b.SuccessCount() == 0
}

// InvalidTokens returns the token-typed target values that were permanently
// rejected. These should be removed from storage by the caller; the gateway
// only reports them.
func (b BatchResult) InvalidTokens() []string {
	var tokens []string
	for _, r := range b.Results {
		if r.Target.Type == TargetToken && r.IsTokenInvalid() {
			tokens = append(tokens, r.Target.Value)
		}
	}
	return tokens
}

// RetryableTokens returns the token-typed target values that failed with a
// transient code and are worth re-sending later.
func (b BatchResult) RetryableTokens() []string {
	var tokens []string
	for _, r := range b.Results {
		if r.Target.Type == TargetToken && r.IsRetryable() {
			tokens = append(tokens, r.Target.Value)
		}
	}
	return tokens
}
