package apiguard

import "time"

// Default policy priorities. Higher priorities run first; the cheap
// protocol-hygiene checks run before the stateful ones.
const (
	DefaultTLSPolicyPriority   = 100
	DefaultWhitelistPriority   = 90
	DefaultThrottlePriority    = 80
	DefaultTokenPolicyPriority = 70
)

// ThrottleStrategy selects the admission-control algorithm used by the
// throttling engine.
type ThrottleStrategy string

const (
	// StrategySlidingWindow counts timestamps in trailing windows anchored
	// at "now". Inclusive threshold: the Nth request in the window trips
	// the limit.
	StrategySlidingWindow ThrottleStrategy = "sliding_window"

	// StrategyFixedWindow counts timestamps since the wall-clock-aligned
	// minute/hour boundary. Strict threshold: callers choosing fixed
	// window accept boundary burst behavior.
	StrategyFixedWindow ThrottleStrategy = "fixed_window"

	// StrategyTokenBucket admits a request per available token, refilled
	// continuously at MaxRequestsPerMinute tokens per minute.
	StrategyTokenBucket ThrottleStrategy = "token_bucket"

	// StrategyLeakyBucket admits a request if the bucket is below
	// capacity, leaking at MaxRequestsPerMinute requests per minute.
	StrategyLeakyBucket ThrottleStrategy = "leaky_bucket"
)

// ThrottleConfig configures the request-throttling engine. Values are
// consumed as already validated; the engine applies defaults for zero
// values where documented.
type ThrottleConfig struct {
	// Enabled turns the throttling policy on.
	Enabled bool

	// Strategy selects the admission algorithm.
	// Default: StrategySlidingWindow.
	Strategy ThrottleStrategy

	// MaxRequestsPerMinute caps requests per client key per minute. It also
	// sets the capacity of the token and leaky buckets.
	MaxRequestsPerMinute int

	// MaxRequestsPerHour caps requests per client key per hour.
	// Zero disables the hourly check.
	MaxRequestsPerHour int

	// BurstWindowSeconds is the length of the short burst window checked by
	// the sliding-window strategy. Zero disables the burst check.
	BurstWindowSeconds int

	// BurstAllowance caps requests within the burst window.
	BurstAllowance int

	// MaxConcurrentRequests caps in-flight requests per client key.
	// Zero or negative disables the concurrency check.
	MaxConcurrentRequests int

	// SweepInterval is how often the background sweep evicts idle client
	// trackers. Default: 1 minute.
	SweepInterval time.Duration

	// Priority orders the policy in the pipeline.
	// Default: DefaultThrottlePriority.
	Priority int
}

// WhitelistConfig configures the IP allow-list validator.
type WhitelistConfig struct {
	// Enabled turns IP whitelisting on. When disabled, every IP is allowed.
	Enabled bool

	// AllowedIPs lists individually allowed addresses.
	AllowedIPs []string

	// AllowedCIDRs lists allowed CIDR ranges. When nil, the validator seeds
	// itself with loopback and RFC 1918 private ranges; pass an empty,
	// non-nil slice to start with no ranges at all.
	AllowedCIDRs []string

	// RequireUserAgent flags requests without a User-Agent header.
	RequireUserAgent bool

	// SuspiciousUserAgents lists substrings (matched case-insensitively)
	// that mark a user agent as a known scanner or bot. When nil, a default
	// list is used.
	SuspiciousUserAgents []string

	// Priority orders the policy in the pipeline.
	// Default: DefaultWhitelistPriority.
	Priority int
}

// TokenPolicyConfig configures JWT claim-hygiene validation of outgoing
// bearer tokens.
type TokenPolicyConfig struct {
	// Enabled turns token validation on.
	Enabled bool

	// RequiredIssuer, when set, must match the token's iss claim.
	RequiredIssuer string

	// RequiredAudience, when set, must be present in the token's aud claim.
	RequiredAudience string

	// RequiredClaims lists claim names that must be present.
	RequiredClaims []string

	// MaxTokenAge fails tokens issued longer ago than this.
	// Zero disables the age check.
	MaxTokenAge time.Duration

	// ExpiryWarningWindow emits a warning when a token expires within this
	// window. Default: 5 minutes.
	ExpiryWarningWindow time.Duration

	// ClockSkewGrace is the grace period applied to expiry checks to
	// absorb clock drift between systems. Default: 5 seconds.
	ClockSkewGrace time.Duration

	// Priority orders the policy in the pipeline.
	// Default: DefaultTokenPolicyPriority.
	Priority int
}

// TLSPolicyConfig configures transport-scheme enforcement and response
// security-header advisories.
type TLSPolicyConfig struct {
	// Enabled turns TLS enforcement on.
	Enabled bool

	// AllowLoopback exempts loopback hosts from the HTTPS requirement,
	// which keeps local development and test servers usable.
	AllowLoopback bool

	// CheckResponseHeaders enables Info-level advisories for missing
	// recommended response security headers (HSTS, content-type options).
	CheckResponseHeaders bool

	// Priority orders the policy in the pipeline.
	// Default: DefaultTLSPolicyPriority.
	Priority int
}
