package apiguard

import (
	"errors"
	"strings"
	"testing"
)

func TestPolicyError(t *testing.T) {
	inner := errors.New("boom")
	perr := &PolicyError{PolicyName: "request_throttling", Phase: "request", Err: inner}

	msg := perr.Error()
	if !strings.Contains(msg, "request_throttling") || !strings.Contains(msg, "request") {
		t.Errorf("Error() = %q, want policy name and phase included", msg)
	}
	if !errors.Is(perr, inner) {
		t.Error("errors.Is does not see through PolicyError")
	}

	var target *PolicyError
	if !errors.As(error(perr), &target) {
		t.Error("errors.As failed for *PolicyError")
	}
}

func TestViolationCodesAreDistinct(t *testing.T) {
	codes := []string{
		CodeRateLimitMinuteExceeded, CodeRateLimitHourExceeded,
		CodeBurstLimitExceeded, CodeRateLimitExceeded, CodeConcurrencyExceeded,
		CodeInvalidIPAddress, CodeInvalidIPFormat, CodeIPNotWhitelisted,
		CodeMissingUserAgent, CodeSuspiciousAgent,
		CodeTokenMissing, CodeTokenMalformed, CodeTokenIssuerMismatch,
		CodeTokenAudienceMismatch, CodeTokenMissingClaim, CodeTokenTooOld,
		CodeTokenExpired, CodeTokenExpiringSoon,
		CodeInsecureScheme, CodeMissingSecurityHeader,
		CodePolicyExecutionFailed,
	}

	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		if code == "" {
			t.Error("empty violation code")
		}
		if seen[code] {
			t.Errorf("duplicate violation code %q", code)
		}
		seen[code] = true
	}
}
