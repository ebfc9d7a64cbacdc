package apiguard

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/pubflow/apiguard/audit"
	"github.com/pubflow/apiguard/internal/util"
)

// TokenPolicyName is the stable name the token policy reports to the pipeline.
const TokenPolicyName = "token_validation"

const (
	// DefaultClockSkewGrace absorbs NTP drift between systems in expiry
	// checks. A token is only treated as expired once it has been expired
	// for longer than this.
	DefaultClockSkewGrace = 5 * time.Second

	// DefaultExpiryWarningWindow is how close to expiry a token may get
	// before an expiring-soon warning is emitted.
	DefaultExpiryWarningWindow = 5 * time.Minute
)

// TokenValidationPolicy validates the claim hygiene of bearer tokens
// attached to outgoing requests: structural parse-ability, issuer, audience,
// claim presence, token age, and expiry. Signature verification is the
// receiving server's job; this policy catches stale or misrouted tokens
// before they leave the process.
type TokenValidationPolicy struct {
	cfg     TokenPolicyConfig
	auditor *audit.Auditor
	logger  *slog.Logger

	// now is the time source; replaced in tests for determinism.
	now func() time.Time
}

// NewTokenValidationPolicy creates the token validation policy. The auditor
// may be nil, in which case violation handling only logs.
func NewTokenValidationPolicy(cfg TokenPolicyConfig, auditor *audit.Auditor, logger *slog.Logger) *TokenValidationPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ExpiryWarningWindow <= 0 {
		cfg.ExpiryWarningWindow = DefaultExpiryWarningWindow
	}
	if cfg.ClockSkewGrace <= 0 {
		cfg.ClockSkewGrace = DefaultClockSkewGrace
	}
	if cfg.Priority == 0 {
		cfg.Priority = DefaultTokenPolicyPriority
	}
	return &TokenValidationPolicy{
		cfg:     cfg,
		auditor: auditor,
		logger:  logger,
		now:     time.Now,
	}
}

// Name implements Policy.
func (p *TokenValidationPolicy) Name() string { return TokenPolicyName }

// Priority implements Policy.
func (p *TokenValidationPolicy) Priority() int { return p.cfg.Priority }

// Enabled implements Policy.
func (p *TokenValidationPolicy) Enabled() bool { return p.cfg.Enabled }

// ValidateRequest checks the bearer token on an outgoing request.
func (p *TokenValidationPolicy) ValidateRequest(req *http.Request, _ *SecurityContext) *Result {
	res := NewResult()
	if !p.cfg.Enabled || req == nil {
		return res
	}

	raw, ok := bearerToken(req)
	if !ok {
		res.Add(NewViolation(TokenPolicyName, SeverityError, CodeTokenMissing,
			"request carries no bearer token", nil))
		return res
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		res.Add(NewViolation(TokenPolicyName, SeverityError, CodeTokenMalformed,
			fmt.Sprintf("bearer token is not a structurally valid JWT: %v", err), nil))
		return res
	}

	p.checkIssuer(claims, res)
	p.checkAudience(claims, res)
	p.checkRequiredClaims(claims, res)
	p.checkAge(claims, res)
	p.checkExpiry(claims, res)
	return res
}

// ValidateResponse is a no-op for the token policy.
func (p *TokenValidationPolicy) ValidateResponse(_ *http.Response, _ *SecurityContext) *Result {
	return NewResult()
}

// HandleViolation routes a token violation to the audit sink.
func (p *TokenValidationPolicy) HandleViolation(v Violation, sc *SecurityContext) {
	p.logger.Warn("token violation",
		"code", v.Code,
		"severity", v.Severity.String(),
		"context", sc)

	if p.auditor == nil {
		return
	}
	p.auditor.LogSecurityViolation(audit.EventTokenViolation, v.Message, sc.UserIdentity, sc.ClientIP, v.Metadata)
}

// ValidateOAuth2Token checks the freshness of an opaque OAuth2 token for
// callers that hold an *oauth2.Token rather than a raw JWT. The same expiry
// and expiring-soon semantics apply.
func (p *TokenValidationPolicy) ValidateOAuth2Token(tok *oauth2.Token) *Result {
	res := NewResult()
	if tok == nil || tok.AccessToken == "" {
		res.Add(NewViolation(TokenPolicyName, SeverityError, CodeTokenMissing,
			"no OAuth2 access token present", nil))
		return res
	}
	p.checkExpiryTime(tok.Expiry, res)
	return res
}

func (p *TokenValidationPolicy) checkIssuer(claims jwt.MapClaims, res *Result) {
	if p.cfg.RequiredIssuer == "" {
		return
	}
	issuer, err := claims.GetIssuer()
	if err != nil || util.NormalizeURL(issuer) != util.NormalizeURL(p.cfg.RequiredIssuer) {
		res.Add(NewViolation(TokenPolicyName, SeverityError, CodeTokenIssuerMismatch,
			fmt.Sprintf("token issuer %q does not match required issuer %q", issuer, p.cfg.RequiredIssuer),
			map[string]any{"issuer": issuer}))
	}
}

func (p *TokenValidationPolicy) checkAudience(claims jwt.MapClaims, res *Result) {
	if p.cfg.RequiredAudience == "" {
		return
	}
	audiences, err := claims.GetAudience()
	if err == nil {
		for _, aud := range audiences {
			if util.NormalizeURL(aud) == util.NormalizeURL(p.cfg.RequiredAudience) {
				return
			}
		}
	}
	res.Add(NewViolation(TokenPolicyName, SeverityError, CodeTokenAudienceMismatch,
		fmt.Sprintf("token audience does not include required audience %q", p.cfg.RequiredAudience),
		map[string]any{"audience": []string(audiences)}))
}

func (p *TokenValidationPolicy) checkRequiredClaims(claims jwt.MapClaims, res *Result) {
	for _, name := range p.cfg.RequiredClaims {
		if _, ok := claims[name]; !ok {
			res.Add(NewViolation(TokenPolicyName, SeverityError, CodeTokenMissingClaim,
				fmt.Sprintf("token is missing required claim %q", name),
				map[string]any{"claim": name}))
		}
	}
}

func (p *TokenValidationPolicy) checkAge(claims jwt.MapClaims, res *Result) {
	if p.cfg.MaxTokenAge <= 0 {
		return
	}
	issuedAt, err := claims.GetIssuedAt()
	if err != nil || issuedAt == nil {
		return
	}
	if age := p.now().Sub(issuedAt.Time); age > p.cfg.MaxTokenAge {
		res.Add(NewViolation(TokenPolicyName, SeverityError, CodeTokenTooOld,
			fmt.Sprintf("token was issued %s ago (maximum age %s)", age.Round(time.Second), p.cfg.MaxTokenAge),
			map[string]any{"issued_at": issuedAt.Time, "max_age": p.cfg.MaxTokenAge.String()}))
	}
}

func (p *TokenValidationPolicy) checkExpiry(claims jwt.MapClaims, res *Result) {
	expiresAt, err := claims.GetExpirationTime()
	if err != nil || expiresAt == nil {
		return
	}
	p.checkExpiryTime(expiresAt.Time, res)
}

func (p *TokenValidationPolicy) checkExpiryTime(expiresAt time.Time, res *Result) {
	if expiresAt.IsZero() {
		return
	}
	now := p.now()

	// Grace period absorbs clock drift: only treat the token as expired
	// once it has been expired for longer than the grace.
	if now.After(expiresAt.Add(p.cfg.ClockSkewGrace)) {
		res.Add(NewViolation(TokenPolicyName, SeverityError, CodeTokenExpired,
			fmt.Sprintf("token expired at %s", expiresAt.Format(time.RFC3339)),
			map[string]any{"expires_at": expiresAt}))
		return
	}
	if now.Add(p.cfg.ExpiryWarningWindow).After(expiresAt) {
		res.Add(NewViolation(TokenPolicyName, SeverityWarning, CodeTokenExpiringSoon,
			fmt.Sprintf("token expires at %s (within %s)", expiresAt.Format(time.RFC3339), p.cfg.ExpiryWarningWindow),
			map[string]any{"expires_at": expiresAt}))
	}
}

// bearerToken extracts the bearer credential from the Authorization header.
func bearerToken(req *http.Request) (string, bool) {
	auth := req.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(auth[len(prefix):]), true
}
