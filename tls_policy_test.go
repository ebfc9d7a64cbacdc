package apiguard

import (
	"net/http"
	"testing"

	"github.com/pubflow/apiguard/internal/testutil"
)

func TestTLSPolicyValidateRequest(t *testing.T) {
	tests := []struct {
		name          string
		url           string
		allowLoopback bool
		wantViolation bool
	}{
		{"https passes", "https://api.example.com/v1", false, false},
		{"http fails", "http://api.example.com/v1", false, true},
		{"scheme check is case-insensitive", "HTTPS://api.example.com", false, false},
		{"http to localhost fails by default", "http://localhost:8080/debug", false, true},
		{"http to localhost allowed with loopback exemption", "http://localhost:8080/debug", true, false},
		{"http to 127.0.0.1 allowed with loopback exemption", "http://127.0.0.1:8080", true, false},
		{"http to [::1] allowed with loopback exemption", "http://[::1]:8080", true, false},
		{"loopback exemption does not cover remote hosts", "http://api.example.com", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewTLSEnforcementPolicy(TLSPolicyConfig{
				Enabled:       true,
				AllowLoopback: tt.allowLoopback,
			}, nil, testLogger())

			res := p.ValidateRequest(testutil.NewRequest("GET", tt.url), nil)
			if tt.wantViolation {
				if len(res.Violations) != 1 {
					t.Fatalf("expected 1 violation, got %v", res.Violations)
				}
				v := res.Violations[0]
				if v.Code != CodeInsecureScheme {
					t.Errorf("code = %q, want %q", v.Code, CodeInsecureScheme)
				}
				if v.Severity != SeverityCritical {
					t.Errorf("severity = %s, want critical", v.Severity)
				}
				if res.Success() {
					t.Error("insecure scheme must fail the verdict")
				}
			} else if len(res.Violations) != 0 {
				t.Errorf("unexpected violations: %v", res.Violations)
			}
		})
	}
}

func TestTLSPolicyDisabled(t *testing.T) {
	p := NewTLSEnforcementPolicy(TLSPolicyConfig{Enabled: false}, nil, testLogger())

	res := p.ValidateRequest(testutil.NewRequest("GET", "http://api.example.com"), nil)
	if len(res.Violations) != 0 {
		t.Errorf("disabled policy produced violations: %v", res.Violations)
	}
}

func TestTLSPolicyResponseHeaders(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    int // number of advisories
	}{
		{
			name: "all recommended headers present",
			headers: map[string]string{
				"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
				"X-Content-Type-Options":    "nosniff",
			},
			want: 0,
		},
		{
			name:    "all headers missing",
			headers: nil,
			want:    2,
		},
		{
			name: "hsts present but without max-age",
			headers: map[string]string{
				"Strict-Transport-Security": "includeSubDomains",
				"X-Content-Type-Options":    "nosniff",
			},
			want: 1,
		},
		{
			name: "content type options with wrong value",
			headers: map[string]string{
				"Strict-Transport-Security": "max-age=63072000",
				"X-Content-Type-Options":    "sniff-away",
			},
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewTLSEnforcementPolicy(TLSPolicyConfig{
				Enabled:              true,
				CheckResponseHeaders: true,
			}, nil, testLogger())

			resp := &http.Response{StatusCode: 200, Header: make(http.Header)}
			for k, v := range tt.headers {
				resp.Header.Set(k, v)
			}

			res := p.ValidateResponse(resp, nil)
			if len(res.Violations) != tt.want {
				t.Fatalf("got %d advisories, want %d: %v", len(res.Violations), tt.want, res.Violations)
			}
			// Header advisories are informational and never fail the verdict.
			if !res.Success() {
				t.Error("header advisories must not fail the verdict")
			}
			for _, v := range res.Violations {
				if v.Code != CodeMissingSecurityHeader || v.Severity != SeverityInfo {
					t.Errorf("advisory = %s/%s, want %s/info", v.Code, v.Severity, CodeMissingSecurityHeader)
				}
			}
		})
	}
}

func TestTLSPolicyResponseHeadersDisabled(t *testing.T) {
	p := NewTLSEnforcementPolicy(TLSPolicyConfig{Enabled: true}, nil, testLogger())

	resp := &http.Response{StatusCode: 200, Header: make(http.Header)}
	res := p.ValidateResponse(resp, nil)
	if len(res.Violations) != 0 {
		t.Errorf("header checks ran without CheckResponseHeaders: %v", res.Violations)
	}
}

func TestIsLoopbackHost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"localhost", true},
		{"127.0.0.1", true},
		{"127.0.53.53", true},
		{"::1", true},
		{"api.example.com", false},
		{"10.0.0.1", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := isLoopbackHost(tt.host); got != tt.want {
			t.Errorf("isLoopbackHost(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}
