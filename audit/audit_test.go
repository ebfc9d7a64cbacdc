package audit

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func capturingAuditor(opts ...Option) (*Auditor, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	return NewAuditor(logger, true, opts...), &buf
}

func TestAuditorDisabled(t *testing.T) {
	var buf bytes.Buffer
	a := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), false)

	a.LogSecurityViolation(EventIPRejected, "rejected", "alice", "8.8.8.8", nil)
	if buf.Len() != 0 {
		t.Errorf("disabled auditor wrote output: %s", buf.String())
	}
}

func TestAuditorHashesUserIdentity(t *testing.T) {
	a, buf := capturingAuditor()

	a.LogSecurityViolation(EventTokenViolation, "token expired", "alice@example.com", "10.0.0.1", nil)

	out := buf.String()
	if strings.Contains(out, "alice@example.com") {
		t.Error("audit log leaks the raw user identity")
	}
	if !strings.Contains(out, EventTokenViolation) {
		t.Error("audit log missing event type")
	}
	if !strings.Contains(out, "10.0.0.1") {
		t.Error("audit log missing IP address")
	}
}

func TestAuditorProtectsSensitiveMetadata(t *testing.T) {
	a, buf := capturingAuditor()

	a.LogSecurityViolation(EventRateLimitExceeded, "limit hit", "", "10.0.0.1", map[string]any{
		"api_key":    "super-secret-key",
		"client_key": "10.0.0.1:acme",
	})

	out := buf.String()
	if strings.Contains(out, "super-secret-key") {
		t.Error("audit log leaks the raw API key")
	}
	if !strings.Contains(out, "10.0.0.1:acme") {
		t.Error("non-sensitive metadata was dropped")
	}
}

func TestAuditorSealsSensitiveMetadata(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	sealer, err := NewSealer(key)
	if err != nil {
		t.Fatal(err)
	}
	a, buf := capturingAuditor(WithSealer(sealer))

	a.LogSecurityViolation(EventTokenViolation, "bad token", "", "10.0.0.1", map[string]any{
		"token": "eyJhbGciOiJIUzI1NiJ9.payload.sig",
	})

	if strings.Contains(buf.String(), "eyJhbGciOiJIUzI1NiJ9") {
		t.Error("audit log leaks the raw token despite sealing")
	}
}

func TestAuditorRedactsNonStringSensitiveValues(t *testing.T) {
	a, buf := capturingAuditor()

	a.LogSecurityViolation(EventTokenViolation, "bad token", "", "", map[string]any{
		"token": 12345,
	})

	if !strings.Contains(buf.String(), "<redacted>") {
		t.Errorf("non-string sensitive value not redacted: %s", buf.String())
	}
}

func TestAuditorTruncatesDescription(t *testing.T) {
	a, buf := capturingAuditor()

	long := strings.Repeat("x", 4*maxDescriptionLen)
	a.LogSecurityViolation(EventIPRejected, long, "", "10.0.0.1", nil)

	if strings.Contains(buf.String(), strings.Repeat("x", maxDescriptionLen+1)) {
		t.Error("description was not truncated")
	}
}

func TestAuditorFloodLimiter(t *testing.T) {
	a, _ := capturingAuditor(WithFloodLimit(1, 2))

	for i := 0; i < 10; i++ {
		a.LogSecurityViolation(EventRateLimitExceeded, "limit hit", "", "10.0.0.1", nil)
	}

	if n := a.Suppressed(EventRateLimitExceeded); n == 0 {
		t.Error("flood limiter suppressed nothing across 10 immediate events")
	}

	// Other event types keep their own budget.
	a.LogSecurityViolation(EventIPRejected, "rejected", "", "8.8.8.8", nil)
	if n := a.Suppressed(EventIPRejected); n != 0 {
		t.Errorf("unrelated event type suppressed: %d", n)
	}
}

func TestAuditorFloodLimiterDisabled(t *testing.T) {
	a, buf := capturingAuditor(WithFloodLimit(0, 0))

	for i := 0; i < 100; i++ {
		a.LogSecurityViolation(EventRateLimitExceeded, "limit hit", "", "10.0.0.1", nil)
	}
	if n := a.Suppressed(EventRateLimitExceeded); n != 0 {
		t.Errorf("suppression active with flood limiting disabled: %d", n)
	}
	if got := strings.Count(buf.String(), "security_audit"); got != 100 {
		t.Errorf("logged %d events, want 100", got)
	}
}

// panicHandler is a slog.Handler whose Handle always panics, standing in for
// a broken log sink.
type panicHandler struct{}

func (panicHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (panicHandler) Handle(context.Context, slog.Record) error { panic("sink down") }
func (panicHandler) WithAttrs([]slog.Attr) slog.Handler        { return panicHandler{} }
func (panicHandler) WithGroup(string) slog.Handler             { return panicHandler{} }

func TestAuditorSinkPanicContained(t *testing.T) {
	a := NewAuditor(slog.New(panicHandler{}), true)

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("audit sink panic escaped: %v", r)
		}
	}()
	a.LogSecurityViolation(EventIPRejected, "rejected", "alice", "8.8.8.8", nil)
}

func TestAuditorNilLoggerFallsBack(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	a := NewAuditor(nil, true)
	a.LogSecurityViolation(EventIPRejected, "rejected", "", "8.8.8.8", nil)
}
