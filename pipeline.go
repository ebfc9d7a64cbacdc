package apiguard

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/pubflow/apiguard/instrumentation"
)

// Policy is the contract every pipeline participant implements. The pipeline
// depends only on this interface, never on concrete policy types.
//
// ValidateRequest and ValidateResponse must perform local, non-blocking
// checks only (no network or disk I/O) and must be safe for concurrent
// callers. HandleViolation is a fire-and-forget side effect: it must never
// panic into the caller, and its failures must not affect the call outcome.
type Policy interface {
	// Name returns the stable policy name used in violations and logs.
	Name() string

	// Priority orders policies in the pipeline; higher runs first.
	Priority() int

	// Enabled reports whether the policy participates in evaluation.
	Enabled() bool

	// ValidateRequest checks an outgoing request before it is transmitted.
	ValidateRequest(req *http.Request, sc *SecurityContext) *Result

	// ValidateResponse mirrors ValidateRequest after the network call
	// returns; used for housekeeping and passive checks.
	ValidateResponse(resp *http.Response, sc *SecurityContext) *Result

	// HandleViolation reacts to a blocking violation (logging, alerting).
	HandleViolation(v Violation, sc *SecurityContext)
}

// Pipeline orchestrates an ordered set of security policies. Policies run in
// descending priority order (stable on ties), every enabled policy runs even
// after one fails, and the overall verdict is the logical AND of the
// per-policy results. The pipeline only classifies; the caller decides
// whether to block the request.
type Pipeline struct {
	mu       sync.RWMutex
	policies []Policy

	logger *slog.Logger
	inst   *instrumentation.Instrumentation
}

// NewPipeline creates an empty pipeline. Both logger and inst are optional;
// a nil logger falls back to slog.Default() and a nil inst disables
// instrumentation.
func NewPipeline(logger *slog.Logger, inst *instrumentation.Instrumentation) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		logger: logger,
		inst:   inst,
	}
}

// Use registers a policy. Policies are kept sorted by descending priority;
// for equal priorities, insertion order is preserved.
func (p *Pipeline) Use(policy Policy) error {
	if policy == nil {
		return ErrNilPolicy
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.policies = append(p.policies, policy)
	sort.SliceStable(p.policies, func(i, j int) bool {
		return p.policies[i].Priority() > p.policies[j].Priority()
	})

	p.logger.Debug("policy registered",
		"policy", policy.Name(),
		"priority", policy.Priority(),
		"enabled", policy.Enabled())
	return nil
}

// Policies returns the registered policies in evaluation order.
func (p *Pipeline) Policies() []Policy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Policy, len(p.policies))
	copy(out, p.policies)
	return out
}

// EvaluateRequest runs every enabled policy against an outgoing request and
// aggregates their violations. The context is used for instrumentation only;
// the checks themselves are synchronous and in-memory.
//
// Blocking violations (severity Error or above) are routed to the producing
// policy's HandleViolation before the verdict is returned.
func (p *Pipeline) EvaluateRequest(ctx context.Context, req *http.Request, sc *SecurityContext) (*Result, error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	return p.evaluate(ctx, "request", sc, func(policy Policy) *Result {
		return policy.ValidateRequest(req, sc)
	})
}

// EvaluateResponse runs every enabled policy against a received response.
// Callers should invoke this after every ValidateRequest, even on transport
// failure with a synthesized response, so that policies keeping per-call
// counters (concurrency accounting) stay balanced.
func (p *Pipeline) EvaluateResponse(ctx context.Context, resp *http.Response, sc *SecurityContext) (*Result, error) {
	if resp == nil {
		return nil, ErrNilResponse
	}
	return p.evaluate(ctx, "response", sc, func(policy Policy) *Result {
		return policy.ValidateResponse(resp, sc)
	})
}

func (p *Pipeline) evaluate(ctx context.Context, phase string, sc *SecurityContext, validate func(Policy) *Result) (*Result, error) {
	if sc == nil {
		return nil, ErrNilContext
	}

	start := time.Now()
	ctx, span := p.startSpan(ctx, phase)

	policies := p.Policies()
	aggregate := NewResult()
	byName := make(map[string]Policy, len(policies))

	for _, policy := range policies {
		if !policy.Enabled() {
			continue
		}
		byName[policy.Name()] = policy

		res := p.runPolicy(policy, phase, validate)
		aggregate.Merge(res)
	}

	// Route blocking violations to their producing policy. Handler failures
	// are swallowed so an audit outage cannot block traffic.
	for _, v := range aggregate.BlockingViolations() {
		if policy, ok := byName[v.PolicyName]; ok {
			p.safeHandle(policy, v, sc)
		}
	}

	p.record(ctx, span, phase, sc, aggregate, time.Since(start))
	return aggregate, nil
}

// runPolicy executes one policy's validation, converting any panic into an
// Error-severity violation so a malfunctioning policy never aborts
// evaluation of the remaining policies.
func (p *Pipeline) runPolicy(policy Policy, phase string, validate func(Policy) *Result) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			perr := &PolicyError{PolicyName: policy.Name(), Phase: phase, Err: fmt.Errorf("panic: %v", r)}
			p.logger.Error("policy panicked during evaluation",
				"policy", policy.Name(),
				"phase", phase,
				"panic", fmt.Sprint(r))
			res = NewResult()
			res.Add(NewViolation(policy.Name(), SeverityError, CodePolicyExecutionFailed, perr.Error(), nil))
		}
	}()

	res = validate(policy)
	if res == nil {
		res = NewResult()
	}
	return res
}

// safeHandle invokes HandleViolation, swallowing panics. Violation handling
// is best-effort per the error-handling contract.
func (p *Pipeline) safeHandle(policy Policy, v Violation, sc *SecurityContext) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("violation handler panicked",
				"policy", policy.Name(),
				"code", v.Code,
				"panic", fmt.Sprint(r))
		}
	}()
	policy.HandleViolation(v, sc)
}

func (p *Pipeline) startSpan(ctx context.Context, phase string) (context.Context, instrumentation.Span) {
	if p.inst == nil {
		return ctx, nil
	}
	return instrumentation.StartPipelineSpan(ctx, p.inst, phase)
}

func (p *Pipeline) record(ctx context.Context, span instrumentation.Span, phase string, sc *SecurityContext, res *Result, elapsed time.Duration) {
	success := res.Success()

	if !success {
		p.logger.Warn("pipeline evaluation failed",
			"phase", phase,
			"context", sc,
			"violations", len(res.Violations),
			"blocking", len(res.BlockingViolations()))
	}

	if p.inst == nil {
		return
	}

	m := p.inst.Metrics()
	m.RecordPolicyEvaluation(ctx, phase, success, float64(elapsed.Milliseconds()))
	for _, v := range res.Violations {
		m.RecordViolation(ctx, v.PolicyName, v.Severity.String(), v.Code)
	}

	instrumentation.EndPipelineSpan(span, phase, success, len(res.Violations))
}
