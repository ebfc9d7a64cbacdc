package audit

// Event type constants for security audit logging. These keep event names
// consistent across the codebase and prevent typos when logging
// security-relevant events.
const (
	// IP whitelist events

	// EventIPRejected is logged when a source IP fails the whitelist check.
	EventIPRejected = "ip_rejected"

	// EventInvalidIPFormat is logged when a source IP fails syntax validation.
	EventInvalidIPFormat = "invalid_ip_format"

	// Throttling events

	// EventRateLimitExceeded is logged when a per-minute or per-hour rate
	// limit is exceeded.
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventBurstLimitExceeded is logged when the burst-window limit is
	// exceeded.
	EventBurstLimitExceeded = "burst_limit_exceeded"

	// EventConcurrencyExceeded is logged when the concurrent-request cap is
	// exceeded.
	EventConcurrencyExceeded = "concurrency_limit_exceeded"

	// Request hygiene events

	// EventSuspiciousUserAgent is logged when a request carries a known
	// scanner or bot user agent.
	EventSuspiciousUserAgent = "suspicious_user_agent"

	// EventTokenViolation is logged when an outgoing bearer token fails
	// claim-hygiene validation.
	EventTokenViolation = "token_violation"

	// EventInsecureTransport is logged when a request would leave over a
	// non-HTTPS scheme.
	EventInsecureTransport = "insecure_transport"

	// Operational events

	// EventPolicyFailure is logged when a policy fails internally during
	// evaluation.
	EventPolicyFailure = "policy_failure"
)
