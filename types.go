package apiguard

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity classifies how serious a policy violation is.
// Info and Warning are advisory and never fail a verdict; Error and
// Critical fail the verdict, with Critical logged at highest urgency.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns a human-readable name for the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Blocking reports whether a violation of this severity fails the verdict.
func (s Severity) Blocking() bool {
	return s >= SeverityError
}

// SecurityContext is the immutable per-call value describing who is making
// an outbound call. It is created once per call by the caller and is
// read-only to policies.
type SecurityContext struct {
	// ClientIP is the source IP of the caller, if known.
	ClientIP string

	// OrganizationCode identifies the tenant on whose behalf the call is made.
	OrganizationCode string

	// APIKey is the credential attached to the call. It is never logged
	// raw; see LogValue and APIKeyFingerprint.
	APIKey string

	// UserIdentity identifies the acting user, if known.
	UserIdentity string

	// RequestID correlates this call across logs and audit events.
	RequestID string

	// CreatedAt is when the context was created.
	CreatedAt time.Time
}

// NewSecurityContext creates a security context for one outbound call.
func NewSecurityContext(clientIP, organizationCode, apiKey, userIdentity string) *SecurityContext {
	return &SecurityContext{
		ClientIP:         clientIP,
		OrganizationCode: organizationCode,
		APIKey:           apiKey,
		UserIdentity:     userIdentity,
		RequestID:        uuid.NewString(),
		CreatedAt:        time.Now(),
	}
}

// NewSecurityContextFromRequest creates a security context deriving the
// client IP from the request. When trustProxy is set, X-Forwarded-For and
// X-Real-IP are consulted first; trustedProxyCount selects how many proxies
// to trust from the right of the X-Forwarded-For chain. Only enable
// trustProxy behind a reverse proxy you control.
func NewSecurityContextFromRequest(r *http.Request, organizationCode, apiKey, userIdentity string, trustProxy bool, trustedProxyCount int) *SecurityContext {
	return NewSecurityContext(clientIPFromRequest(r, trustProxy, trustedProxyCount), organizationCode, apiKey, userIdentity)
}

// LogValue implements slog.LogValuer so that contexts logged with slog never
// leak the raw API key.
func (sc *SecurityContext) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("client_ip", sc.ClientIP),
		slog.String("organization", sc.OrganizationCode),
		slog.String("api_key_fp", sc.APIKeyFingerprint()),
		slog.String("user_id_hash", hashForLogging(sc.UserIdentity)),
		slog.String("request_id", sc.RequestID),
	)
}

// APIKeyFingerprint returns a short, non-reversible fingerprint of the API
// key suitable for log correlation.
func (sc *SecurityContext) APIKeyFingerprint() string {
	return hashForLogging(sc.APIKey)
}

// Violation records a single policy breach. Violations are immutable once
// created: policies create them, the pipeline and violation handlers consume
// them.
type Violation struct {
	// ID is a unique correlation identifier for this violation.
	ID string

	// PolicyName names the policy that produced the violation.
	PolicyName string

	// Severity classifies the violation.
	Severity Severity

	// Code is a stable machine-readable violation code (see errors.go).
	Code string

	// Message is the human-readable description.
	Message string

	// Metadata carries violation-specific details.
	Metadata map[string]any

	// Timestamp is when the violation was created.
	Timestamp time.Time
}

// NewViolation creates a violation for the named policy.
func NewViolation(policyName string, severity Severity, code, message string, metadata map[string]any) Violation {
	return Violation{
		ID:         uuid.NewString(),
		PolicyName: policyName,
		Severity:   severity,
		Code:       code,
		Message:    message,
		Metadata:   metadata,
		Timestamp:  time.Now(),
	}
}

// Result is the outcome of one policy evaluation (or of a whole pipeline
// pass, when produced by the Pipeline). Success is defined as the absence of
// any violation with severity Error or above.
type Result struct {
	// Violations lists the violations in the order they were detected.
	Violations []Violation

	// Metadata carries evaluation-wide details.
	Metadata map[string]any
}

// NewResult returns an empty, successful result.
func NewResult() *Result {
	return &Result{}
}

// Success reports whether the evaluation passed: true iff no violation has
// severity Error or above.
func (r *Result) Success() bool {
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			return false
		}
	}
	return true
}

// Add appends a violation to the result.
func (r *Result) Add(v Violation) {
	r.Violations = append(r.Violations, v)
}

// Merge appends all violations and metadata from other into r.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
	for k, v := range other.Metadata {
		r.SetMetadata(k, v)
	}
}

// SetMetadata records an evaluation-wide detail.
func (r *Result) SetMetadata(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// BlockingViolations returns the violations that fail the verdict
// (severity Error or above), preserving order.
func (r *Result) BlockingViolations() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// hashForLogging creates a short SHA256 fingerprint of sensitive data for
// log correlation without exposing the value itself.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}

// clientIPFromRequest extracts the client IP for a request, optionally
// trusting proxy headers.
//
// X-Forwarded-For format is "client, proxy1, proxy2, ...": the rightmost
// entries are the proxies we control, so with trustedProxyCount trusted
// proxies the client sits at index len(ips)-trustedProxyCount-1.
func clientIPFromRequest(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := ipFromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" && net.ParseIP(xri) != nil {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ipFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	ips := strings.Split(xff, ",")

	proxyCount := trustedProxyCount
	if proxyCount == 0 {
		proxyCount = 1
	}
	clientIndex := len(ips) - proxyCount - 1
	if clientIndex < 0 {
		clientIndex = 0
	}

	clientIP := strings.TrimSpace(ips[clientIndex])
	if net.ParseIP(clientIP) != nil {
		return clientIP
	}
	return ""
}
