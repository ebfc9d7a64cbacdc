// Package audit provides the security audit sink for the policy pipeline:
// structured, fire-and-forget violation logging with PII protection, flood
// limiting, and optional sealing of sensitive metadata.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pubflow/apiguard/internal/util"
)

// maxDescriptionLen bounds audit descriptions so a hostile input cannot
// bloat log storage.
const maxDescriptionLen = 512

// DefaultFloodLimit is the default per-violation-type audit log rate
// (events per second) when flood limiting is enabled.
const DefaultFloodLimit = 10

// DefaultFloodBurst is the default burst allowance for the flood limiter.
const DefaultFloodBurst = 20

// sensitiveMetadataKeys lists metadata keys whose values are sealed (when a
// sealer is configured) or fingerprinted before logging.
var sensitiveMetadataKeys = map[string]bool{
	"api_key":       true,
	"token":         true,
	"authorization": true,
}

// Auditor handles security violation logging with PII protection. It is the
// audit sink for every policy's HandleViolation path and for the whitelist
// validator's IP checks: calls never return errors and never panic back
// into the policy path.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	sealer  *Sealer

	// Per-violation-type flood limiters so a violation storm cannot
	// saturate the log sink.
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	floodLimit rate.Limit
	floodBurst int
	suppressed map[string]int64
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithSealer configures sealing of sensitive metadata values.
func WithSealer(s *Sealer) Option {
	return func(a *Auditor) { a.sealer = s }
}

// WithFloodLimit overrides the per-violation-type log rate and burst.
// A non-positive eventsPerSecond disables flood limiting.
func WithFloodLimit(eventsPerSecond float64, burst int) Option {
	return func(a *Auditor) {
		a.floodLimit = rate.Limit(eventsPerSecond)
		a.floodBurst = burst
	}
}

// NewAuditor creates a security auditor.
func NewAuditor(logger *slog.Logger, enabled bool, opts ...Option) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Auditor{
		logger:     logger,
		enabled:    enabled,
		limiters:   make(map[string]*rate.Limiter),
		floodLimit: DefaultFloodLimit,
		floodBurst: DefaultFloodBurst,
		suppressed: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Event represents a security audit event.
type Event struct {
	Type         string
	UserIdentity string
	IPAddress    string
	Description  string
	Metadata     map[string]any
	Timestamp    time.Time
}

// LogSecurityViolation logs a security violation. User identity is hashed
// before logging; sensitive metadata values are sealed or fingerprinted.
// The call is fire-and-forget: it never returns an error and recovers its
// own panics so an audit failure cannot affect the call outcome.
func (a *Auditor) LogSecurityViolation(violationType, description, userIdentity, ipAddress string, metadata map[string]any) {
	a.LogEvent(Event{
		Type:         violationType,
		UserIdentity: userIdentity,
		IPAddress:    ipAddress,
		Description:  description,
		Metadata:     metadata,
	})
}

// LogEvent logs a security event with hashed PII.
func (a *Auditor) LogEvent(event Event) {
	defer func() {
		if r := recover(); r != nil {
			// The sink itself may be what panicked, so the report is
			// guarded too.
			func() {
				defer func() { _ = recover() }()
				a.logger.Error("audit sink panicked", "panic", r)
			}()
		}
	}()

	if !a.enabled {
		return
	}

	if !a.allow(event.Type) {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"description", util.SafeTruncate(event.Description, maxDescriptionLen),
		"user_id_hash", hashForLogging(event.UserIdentity),
		"ip_address", event.IPAddress,
		"details", a.protectMetadata(event.Metadata),
		"timestamp", event.Timestamp,
	)
}

// allow applies the per-type flood limiter. Suppressed events are counted
// and surfaced via Suppressed.
func (a *Auditor) allow(violationType string) bool {
	if a.floodLimit <= 0 {
		return true
	}

	a.mu.Lock()
	limiter, ok := a.limiters[violationType]
	if !ok {
		limiter = rate.NewLimiter(a.floodLimit, a.floodBurst)
		a.limiters[violationType] = limiter
	}
	allowed := limiter.Allow()
	if !allowed {
		a.suppressed[violationType]++
	}
	a.mu.Unlock()

	if !allowed {
		a.logger.Debug("audit event suppressed by flood limiter", "event_type", violationType)
	}
	return allowed
}

// Suppressed returns how many events of the given type were dropped by the
// flood limiter.
func (a *Auditor) Suppressed(violationType string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.suppressed[violationType]
}

// protectMetadata returns a copy of metadata with sensitive values sealed
// (when a sealer is configured) or replaced by fingerprints.
func (a *Auditor) protectMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return nil
	}

	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if !sensitiveMetadataKeys[k] {
			out[k] = v
			continue
		}

		s, ok := v.(string)
		if !ok {
			out[k] = "<redacted>"
			continue
		}
		if a.sealer != nil && a.sealer.Enabled() {
			sealed, err := a.sealer.Seal(s)
			if err == nil {
				out[k] = sealed
				continue
			}
			a.logger.Warn("failed to seal audit metadata", "key", k, "error", err)
		}
		out[k] = hashForLogging(s)
	}
	return out
}

// hashForLogging creates a short SHA256 fingerprint of sensitive data.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
