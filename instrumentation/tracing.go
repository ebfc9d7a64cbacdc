package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span aliases trace.Span so pipeline code does not import the otel trace
// package directly.
type Span = trace.Span

// Common span attribute keys.
//
// SECURITY WARNING: never attach actual credential values (API keys, bearer
// tokens) to spans. Traces are persisted, widely readable, and replicated
// across monitoring infrastructure; only metadata such as violation codes,
// severities, and counts belongs here.
const (
	// Pipeline attributes
	AttrPhase          = "pipeline.phase" // "request" or "response"
	AttrSuccess        = "pipeline.success"
	AttrViolationCount = "pipeline.violation_count"

	// Policy attributes
	AttrPolicyName        = "policy.name"
	AttrViolationCode     = "policy.violation.code"
	AttrViolationSeverity = "policy.violation.severity"

	// Throttle attributes
	AttrThrottleStrategy = "throttle.strategy"
	AttrClientKey        = "throttle.client_key"

	// Security attributes
	AttrClientIP = "security.client_ip" // gate behind ShouldLogClientIPs
)

// StartPipelineSpan starts a span for one pipeline evaluation pass.
func StartPipelineSpan(ctx context.Context, inst *Instrumentation, phase string) (context.Context, Span) {
	ctx, span := inst.Tracer("pipeline").Start(ctx, "apiguard.pipeline.evaluate")
	SetSpanAttributes(span, attribute.String(AttrPhase, phase))
	return ctx, span
}

// EndPipelineSpan finalizes a pipeline span with the verdict (nil-safe).
func EndPipelineSpan(span Span, phase string, success bool, violations int) {
	if span == nil {
		return
	}
	SetSpanAttributes(span,
		attribute.String(AttrPhase, phase),
		attribute.Bool(AttrSuccess, success),
		attribute.Int(AttrViolationCount, violations),
	)
	if success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, "policy violations detected")
	}
	span.End()
}

// RecordError records an error on a span with proper status codes (nil-safe).
func RecordError(span Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe).
func SetSpanAttributes(span Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddPolicyAttributes adds policy identification attributes to a span
// (nil-safe).
func AddPolicyAttributes(span Span, policyName string) {
	if policyName != "" {
		SetSpanAttributes(span, attribute.String(AttrPolicyName, policyName))
	}
}

// AddViolationAttributes adds violation metadata to a span (nil-safe).
func AddViolationAttributes(span Span, code, severity string) {
	SetSpanAttributes(span,
		attribute.String(AttrViolationCode, code),
		attribute.String(AttrViolationSeverity, severity),
	)
}

// AddSecurityAttributes adds the client IP to a span (nil-safe).
//
// PRIVACY NOTE: client IPs may be PII. Gate calls behind
// Instrumentation.ShouldLogClientIPs.
func AddSecurityAttributes(span Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
