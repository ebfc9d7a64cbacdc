package apiguard

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/pubflow/apiguard/audit"
)

// TLSPolicyName is the stable name the TLS policy reports to the pipeline.
const TLSPolicyName = "tls_enforcement"

// recommendedResponseHeaders lists response security headers whose absence
// is surfaced as an Info-level advisory, with a predicate for headers whose
// mere presence is not enough.
var recommendedResponseHeaders = []struct {
	name  string
	valid func(string) bool
}{
	{"Strict-Transport-Security", func(v string) bool { return strings.Contains(strings.ToLower(v), "max-age") }},
	{"X-Content-Type-Options", func(v string) bool { return strings.EqualFold(strings.TrimSpace(v), "nosniff") }},
}

// TLSEnforcementPolicy enforces HTTPS-only outgoing requests and surfaces
// advisories for missing recommended response security headers.
type TLSEnforcementPolicy struct {
	cfg     TLSPolicyConfig
	auditor *audit.Auditor
	logger  *slog.Logger
}

// NewTLSEnforcementPolicy creates the TLS enforcement policy. The auditor
// may be nil, in which case violation handling only logs.
func NewTLSEnforcementPolicy(cfg TLSPolicyConfig, auditor *audit.Auditor, logger *slog.Logger) *TLSEnforcementPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Priority == 0 {
		cfg.Priority = DefaultTLSPolicyPriority
	}
	return &TLSEnforcementPolicy{cfg: cfg, auditor: auditor, logger: logger}
}

// Name implements Policy.
func (p *TLSEnforcementPolicy) Name() string { return TLSPolicyName }

// Priority implements Policy.
func (p *TLSEnforcementPolicy) Priority() int { return p.cfg.Priority }

// Enabled implements Policy.
func (p *TLSEnforcementPolicy) Enabled() bool { return p.cfg.Enabled }

// ValidateRequest fails any request that would leave over a non-HTTPS
// scheme with a Critical violation.
func (p *TLSEnforcementPolicy) ValidateRequest(req *http.Request, _ *SecurityContext) *Result {
	res := NewResult()
	if !p.cfg.Enabled || req == nil || req.URL == nil {
		return res
	}

	if strings.EqualFold(req.URL.Scheme, "https") {
		return res
	}
	if p.cfg.AllowLoopback && isLoopbackHost(req.URL.Hostname()) {
		return res
	}

	res.Add(NewViolation(TLSPolicyName, SeverityCritical, CodeInsecureScheme,
		fmt.Sprintf("request to %q uses scheme %q; only https is permitted", req.URL.Host, req.URL.Scheme),
		map[string]any{"scheme": req.URL.Scheme, "host": req.URL.Host}))
	return res
}

// ValidateResponse surfaces Info-level advisories for missing recommended
// response security headers.
func (p *TLSEnforcementPolicy) ValidateResponse(resp *http.Response, _ *SecurityContext) *Result {
	res := NewResult()
	if !p.cfg.Enabled || !p.cfg.CheckResponseHeaders || resp == nil {
		return res
	}

	for _, h := range recommendedResponseHeaders {
		value := resp.Header.Get(h.name)
		if value != "" && h.valid(value) {
			continue
		}
		res.Add(NewViolation(TLSPolicyName, SeverityInfo, CodeMissingSecurityHeader,
			fmt.Sprintf("response is missing recommended security header %q", h.name),
			map[string]any{"header": h.name}))
	}
	return res
}

// HandleViolation routes a transport violation to the audit sink.
func (p *TLSEnforcementPolicy) HandleViolation(v Violation, sc *SecurityContext) {
	p.logger.Warn("transport violation",
		"code", v.Code,
		"severity", v.Severity.String(),
		"context", sc)

	if p.auditor == nil {
		return
	}
	p.auditor.LogSecurityViolation(audit.EventInsecureTransport, v.Message, sc.UserIdentity, sc.ClientIP, v.Metadata)
}

// isLoopbackHost reports whether a hostname resolves textually to loopback:
// "localhost", the 127.0.0.0/8 range, or ::1.
func isLoopbackHost(hostname string) bool {
	if hostname == "localhost" {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
