package whitelist

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/pubflow/apiguard"
	"github.com/pubflow/apiguard/audit"
)

// PolicyName is the stable name the validator reports to the pipeline.
const PolicyName = "ip_whitelist"

// DefaultCIDRs seeds the validator when no ranges are configured: loopback
// plus the RFC 1918 private ranges.
var DefaultCIDRs = []string{
	"127.0.0.0/8",
	"::1/128",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
}

// defaultSuspiciousAgents lists substrings of known scanner and bot user
// agents, matched case-insensitively.
var defaultSuspiciousAgents = []string{
	"sqlmap",
	"nikto",
	"nessus",
	"nmap",
	"masscan",
	"metasploit",
	"dirbuster",
	"gobuster",
	"wpscan",
	"acunetix",
}

// Validator decides whether a source IP is permitted and runs secondary
// request hygiene checks. It implements the apiguard.Policy contract.
// Whitelist entries live for the validator's lifetime unless mutated via
// the Add/Remove methods, which are safe for concurrent use with the
// request path.
type Validator struct {
	cfg     apiguard.WhitelistConfig
	auditor *audit.Auditor
	logger  *slog.Logger

	mu         sync.RWMutex
	addresses  map[string]struct{} // canonical form of individually allowed IPs
	ranges     []*IPRange
	suspicious []string
}

// NewValidator creates an IP whitelist validator. Malformed configured
// addresses or CIDRs are argument faults and fail construction. The auditor
// may be nil, in which case failure paths only log.
func NewValidator(cfg apiguard.WhitelistConfig, auditor *audit.Auditor, logger *slog.Logger) (*Validator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Priority == 0 {
		cfg.Priority = apiguard.DefaultWhitelistPriority
	}

	v := &Validator{
		cfg:       cfg,
		auditor:   auditor,
		logger:    logger,
		addresses: make(map[string]struct{}),
	}

	for _, ip := range cfg.AllowedIPs {
		if err := v.AddIP(ip); err != nil {
			return nil, err
		}
	}

	cidrs := cfg.AllowedCIDRs
	if cidrs == nil {
		cidrs = DefaultCIDRs
	}
	for _, cidr := range cidrs {
		if err := v.AddCIDR(cidr); err != nil {
			return nil, err
		}
	}

	v.suspicious = cfg.SuspiciousUserAgents
	if v.suspicious == nil {
		v.suspicious = defaultSuspiciousAgents
	}

	return v, nil
}

// Name implements apiguard.Policy.
func (v *Validator) Name() string { return PolicyName }

// Priority implements apiguard.Policy.
func (v *Validator) Priority() int { return v.cfg.Priority }

// Enabled implements apiguard.Policy.
func (v *Validator) Enabled() bool { return v.cfg.Enabled }

// AddIP adds an individually allowed address.
func (v *Validator) AddIP(ip string) error {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return fmt.Errorf("invalid IP address %q", ip)
	}
	v.mu.Lock()
	v.addresses[parsed.String()] = struct{}{}
	v.mu.Unlock()
	return nil
}

// RemoveIP removes an individually allowed address.
func (v *Validator) RemoveIP(ip string) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return
	}
	v.mu.Lock()
	delete(v.addresses, parsed.String())
	v.mu.Unlock()
}

// AddCIDR adds an allowed CIDR range.
func (v *Validator) AddCIDR(cidr string) error {
	r, err := ParseIPRange(cidr)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.ranges = append(v.ranges, r)
	v.mu.Unlock()
	return nil
}

// RemoveCIDR removes an allowed CIDR range by its canonical notation.
func (v *Validator) RemoveCIDR(cidr string) {
	r, err := ParseIPRange(cidr)
	if err != nil {
		return
	}
	notation := r.CIDRNotation()

	v.mu.Lock()
	for i, existing := range v.ranges {
		if existing.CIDRNotation() == notation {
			v.ranges = append(v.ranges[:i], v.ranges[i+1:]...)
			break
		}
	}
	v.mu.Unlock()
}

// IsIPAllowed reports whether the source IP is permitted. Every failure
// path emits an audit event with a reason code. When whitelisting is
// disabled, every IP is allowed unconditionally.
func (v *Validator) IsIPAllowed(ip string) bool {
	if !v.cfg.Enabled {
		return true
	}

	code := v.checkIP(ip)
	if code == "" {
		return true
	}
	v.auditFailure(code, ip)
	return false
}

// checkIP validates syntax and whitelist membership, returning an empty
// string when allowed or the violation code otherwise.
func (v *Validator) checkIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return apiguard.CodeInvalidIPAddress
	}

	v6 := strings.Contains(ip, ":")
	if v6 {
		// Detailed IPv6 validation is delegated to the platform parser;
		// the group-count gate rejects obviously truncated forms first.
		if strings.Count(ip, ":") < 2 {
			return apiguard.CodeInvalidIPFormat
		}
	} else {
		if !validIPv4Syntax(ip) {
			return apiguard.CodeInvalidIPFormat
		}
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return apiguard.CodeInvalidIPFormat
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if _, ok := v.addresses[parsed.String()]; ok {
		return ""
	}
	for _, r := range v.ranges {
		if r.IsIPv4() == v6 {
			continue
		}
		if r.Contains(parsed) {
			return ""
		}
	}
	return apiguard.CodeIPNotWhitelisted
}

// validIPv4Syntax enforces strict dotted-quad form: exactly four octets,
// each 0-255, with no leading zeros ("010" and "00" are rejected, "0" is
// accepted).
func validIPv4Syntax(ip string) bool {
	octets := strings.Split(ip, ".")
	if len(octets) != 4 {
		return false
	}
	for _, octet := range octets {
		if octet == "" || len(octet) > 3 {
			return false
		}
		if len(octet) > 1 && octet[0] == '0' {
			return false
		}
		n := 0
		for _, c := range octet {
			if c < '0' || c > '9' {
				return false
			}
			n = n*10 + int(c-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}

// ValidateRequest checks the context's source IP against the whitelist and
// runs user-agent hygiene checks. Rate limiting is not performed here; that
// is the throttling engine's job.
func (v *Validator) ValidateRequest(req *http.Request, sc *apiguard.SecurityContext) *apiguard.Result {
	res := apiguard.NewResult()
	if !v.cfg.Enabled || sc == nil {
		return res
	}

	if code := v.checkIP(sc.ClientIP); code != "" {
		v.auditFailure(code, sc.ClientIP)
		res.Add(apiguard.NewViolation(
			PolicyName,
			apiguard.SeverityError,
			code,
			fmt.Sprintf("source IP %q is not permitted: %s", sc.ClientIP, code),
			map[string]any{"ip": sc.ClientIP},
		))
	}

	if req != nil {
		v.checkUserAgent(req.UserAgent(), res)
	}
	return res
}

// ValidateResponse is a no-op for the whitelist policy.
func (v *Validator) ValidateResponse(_ *http.Response, _ *apiguard.SecurityContext) *apiguard.Result {
	return apiguard.NewResult()
}

// HandleViolation routes a whitelist violation to the audit sink.
func (v *Validator) HandleViolation(violation apiguard.Violation, sc *apiguard.SecurityContext) {
	v.logger.Warn("whitelist violation",
		"code", violation.Code,
		"severity", violation.Severity.String(),
		"context", sc)

	if v.auditor == nil {
		return
	}
	v.auditor.LogSecurityViolation(audit.EventIPRejected, violation.Message, sc.UserIdentity, sc.ClientIP, violation.Metadata)
}

// checkUserAgent flags empty or scanner-like user agents as Warning-level
// violations.
func (v *Validator) checkUserAgent(ua string, res *apiguard.Result) {
	if ua == "" {
		if v.cfg.RequireUserAgent {
			res.Add(apiguard.NewViolation(
				PolicyName,
				apiguard.SeverityWarning,
				apiguard.CodeMissingUserAgent,
				"request has no User-Agent header",
				nil,
			))
		}
		return
	}

	lower := strings.ToLower(ua)
	for _, marker := range v.suspicious {
		if strings.Contains(lower, strings.ToLower(marker)) {
			res.Add(apiguard.NewViolation(
				PolicyName,
				apiguard.SeverityWarning,
				apiguard.CodeSuspiciousAgent,
				fmt.Sprintf("user agent matches known scanner signature %q", marker),
				map[string]any{"user_agent": ua, "marker": marker},
			))
			return
		}
	}
}

// auditFailure emits the audit event for a failed IP check.
func (v *Validator) auditFailure(code, ip string) {
	if v.auditor == nil {
		return
	}
	event := audit.EventIPRejected
	if code == apiguard.CodeInvalidIPFormat || code == apiguard.CodeInvalidIPAddress {
		event = audit.EventInvalidIPFormat
	}
	v.auditor.LogSecurityViolation(event, "IP validation failed: "+code, "", ip, map[string]any{"code": code})
}
