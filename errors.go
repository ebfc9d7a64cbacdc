package apiguard

import (
	"errors"
	"fmt"
)

// Stable machine-readable violation codes. These are part of the public
// contract: downstream violation handlers and dashboards key on them, so
// they must never change once released.
const (
	// Throttling codes
	CodeRateLimitMinuteExceeded = "RATE_LIMIT_MINUTE_EXCEEDED"
	CodeRateLimitHourExceeded   = "RATE_LIMIT_HOUR_EXCEEDED"
	CodeBurstLimitExceeded      = "BURST_LIMIT_EXCEEDED"
	CodeRateLimitExceeded       = "RATE_LIMIT_EXCEEDED"
	CodeConcurrencyExceeded     = "CONCURRENCY_LIMIT_EXCEEDED"

	// IP whitelist codes
	CodeInvalidIPAddress  = "INVALID_IP_ADDRESS"
	CodeInvalidIPFormat   = "INVALID_IP_FORMAT"
	CodeIPNotWhitelisted  = "IP_NOT_WHITELISTED"
	CodeMissingUserAgent  = "MISSING_USER_AGENT"
	CodeSuspiciousAgent   = "SUSPICIOUS_USER_AGENT"

	// Token validation codes
	CodeTokenMissing          = "TOKEN_MISSING"
	CodeTokenMalformed        = "TOKEN_MALFORMED"
	CodeTokenIssuerMismatch   = "TOKEN_ISSUER_MISMATCH"
	CodeTokenAudienceMismatch = "TOKEN_AUDIENCE_MISMATCH"
	CodeTokenMissingClaim     = "TOKEN_MISSING_CLAIM"
	CodeTokenTooOld           = "TOKEN_TOO_OLD"
	CodeTokenExpired          = "TOKEN_EXPIRED"
	CodeTokenExpiringSoon     = "TOKEN_EXPIRING_SOON"

	// TLS enforcement codes
	CodeInsecureScheme        = "INSECURE_SCHEME"
	CodeMissingSecurityHeader = "MISSING_SECURITY_HEADER"

	// Pipeline codes
	CodePolicyExecutionFailed = "POLICY_EXECUTION_FAILED"
)

// Argument-validation faults. These indicate programmer errors at the call
// boundary, not runtime security events, and are never represented as
// violations.
var (
	// ErrNilRequest is returned when EvaluateRequest is given a nil request.
	ErrNilRequest = errors.New("apiguard: request must not be nil")

	// ErrNilResponse is returned when EvaluateResponse is given a nil response.
	ErrNilResponse = errors.New("apiguard: response must not be nil")

	// ErrNilContext is returned when a security context is nil.
	ErrNilContext = errors.New("apiguard: security context must not be nil")

	// ErrNilPolicy is returned when Use is given a nil policy.
	ErrNilPolicy = errors.New("apiguard: policy must not be nil")
)

// PolicyError wraps a fault that occurred inside a single policy. The
// pipeline converts these into Error-severity violations so one
// malfunctioning policy never aborts evaluation of the remaining policies.
type PolicyError struct {
	PolicyName string
	Phase      string // "request" or "response"
	Err        error
}

// Error implements the error interface.
func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy %q failed during %s validation: %v", e.PolicyName, e.Phase, e.Err)
}

// Unwrap returns the underlying fault.
func (e *PolicyError) Unwrap() error {
	return e.Err
}
