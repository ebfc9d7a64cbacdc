package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the security pipeline.
type Metrics struct {
	// Pipeline metrics
	PolicyEvaluationsTotal   metric.Int64Counter
	PolicyEvaluationDuration metric.Float64Histogram
	ViolationsTotal          metric.Int64Counter

	// Throttling metrics
	ThrottledRequestsTotal metric.Int64Counter
	ActiveTrackers         metric.Int64ObservableGauge

	// Whitelist metrics
	WhitelistRejectionsTotal metric.Int64Counter

	// Audit metrics
	AuditEventsTotal metric.Int64Counter

	pipelineMeter metric.Meter
	throttleMeter metric.Meter
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{
		pipelineMeter: inst.Meter("pipeline"),
		throttleMeter: inst.Meter("throttle"),
	}
	whitelistMeter := inst.Meter("whitelist")
	auditMeter := inst.Meter("audit")

	var err error
	m.PolicyEvaluationsTotal, err = m.pipelineMeter.Int64Counter(
		"apiguard.policy.evaluations.total",
		metric.WithDescription("Total number of pipeline evaluations"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy.evaluations.total counter: %w", err)
	}

	m.PolicyEvaluationDuration, err = m.pipelineMeter.Float64Histogram(
		"apiguard.policy.evaluation.duration",
		metric.WithDescription("Pipeline evaluation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy.evaluation.duration histogram: %w", err)
	}

	m.ViolationsTotal, err = m.pipelineMeter.Int64Counter(
		"apiguard.policy.violations.total",
		metric.WithDescription("Total number of policy violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy.violations.total counter: %w", err)
	}

	m.ThrottledRequestsTotal, err = m.throttleMeter.Int64Counter(
		"apiguard.throttle.requests.total",
		metric.WithDescription("Total number of requests throttled"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create throttle.requests.total counter: %w", err)
	}

	m.ActiveTrackers, err = m.throttleMeter.Int64ObservableGauge(
		"apiguard.throttle.trackers.active",
		metric.WithDescription("Number of client trackers currently held by the throttling engine"),
		metric.WithUnit("{tracker}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create throttle.trackers.active gauge: %w", err)
	}

	m.WhitelistRejectionsTotal, err = whitelistMeter.Int64Counter(
		"apiguard.whitelist.rejections.total",
		metric.WithDescription("Total number of IPs rejected by the whitelist"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create whitelist.rejections.total counter: %w", err)
	}

	m.AuditEventsTotal, err = auditMeter.Int64Counter(
		"apiguard.audit.events.total",
		metric.WithDescription("Total number of audit events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events.total counter: %w", err)
	}

	return m, nil
}

// TrackerCountCallback returns the current number of client trackers.
type TrackerCountCallback func() int64

// RegisterTrackerCountCallback registers the throttling engine's tracker
// count for the active-trackers gauge.
func (i *Instrumentation) RegisterTrackerCountCallback(cb TrackerCountCallback) error {
	m := i.metrics
	_, err := m.throttleMeter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(m.ActiveTrackers, cb())
			return nil
		},
		m.ActiveTrackers,
	)
	if err != nil {
		return fmt.Errorf("failed to register tracker count callback: %w", err)
	}
	return nil
}

// Helper methods for common metric recording patterns

// RecordPolicyEvaluation records one pipeline evaluation.
func (m *Metrics) RecordPolicyEvaluation(ctx context.Context, phase string, success bool, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("phase", phase),
		attribute.Bool("success", success),
	}
	m.PolicyEvaluationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.PolicyEvaluationDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("phase", phase)))
}

// RecordViolation records a policy violation.
func (m *Metrics) RecordViolation(ctx context.Context, policy, severity, code string) {
	m.ViolationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("policy", policy),
		attribute.String("severity", severity),
		attribute.String("code", code),
	))
}

// RecordThrottledRequest records a request that hit a throttling limit.
func (m *Metrics) RecordThrottledRequest(ctx context.Context, strategy string) {
	m.ThrottledRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", strategy),
	))
}

// RecordWhitelistRejection records a rejected source IP.
func (m *Metrics) RecordWhitelistRejection(ctx context.Context, code string) {
	m.WhitelistRejectionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("code", code),
	))
}

// RecordAuditEvent records an emitted audit event.
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}
