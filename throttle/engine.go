// Package throttle implements the request-throttling policy: per-client
// admission control with interchangeable strategies (sliding window, fixed
// window, token bucket, leaky bucket), concurrent-request accounting, and a
// background sweep that evicts idle client trackers.
package throttle

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pubflow/apiguard"
	"github.com/pubflow/apiguard/audit"
)

// PolicyName is the stable name the engine reports to the pipeline.
const PolicyName = "request_throttling"

const (
	// trackerRetention bounds both timestamp history and tracker lifetime:
	// timestamps older than this are pruned, and trackers idle longer than
	// this are evicted by the sweep.
	trackerRetention = time.Hour

	// DefaultSweepInterval is how often the background sweep runs.
	DefaultSweepInterval = time.Minute

	// unknownPart substitutes for missing client key components. Co-located
	// anonymous clients therefore share one bucket; accepted tradeoff.
	unknownPart = "unknown"
)

// Engine decides, per client key, whether a new request is admissible. It
// implements the apiguard.Policy contract and is safe for unlimited
// concurrent callers: tracker creation is an atomic get-or-insert on a
// concurrent map, and each tracker's state is guarded by its own lock.
type Engine struct {
	cfg     apiguard.ThrottleConfig
	auditor *audit.Auditor
	logger  *slog.Logger

	trackers sync.Map // client key -> *RequestTracker

	// now is the time source; replaced in tests for determinism.
	now func() time.Time

	stopSweep chan struct{}
	stopOnce  sync.Once

	totalAllowed   atomic.Int64
	totalThrottled atomic.Int64
	totalSweeps    atomic.Int64
}

// NewEngine creates a throttling engine and starts its background sweep.
// Callers must Stop the engine when done with it. The auditor may be nil,
// in which case violation handling only logs.
func NewEngine(cfg apiguard.ThrottleConfig, auditor *audit.Auditor, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Strategy == "" {
		cfg.Strategy = apiguard.StrategySlidingWindow
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Priority == 0 {
		cfg.Priority = apiguard.DefaultThrottlePriority
	}

	e := &Engine{
		cfg:       cfg,
		auditor:   auditor,
		logger:    logger,
		now:       time.Now,
		stopSweep: make(chan struct{}),
	}
	go e.sweepLoop()

	logger.Debug("throttling engine initialized",
		"strategy", string(cfg.Strategy),
		"per_minute", cfg.MaxRequestsPerMinute,
		"per_hour", cfg.MaxRequestsPerHour,
		"max_concurrent", cfg.MaxConcurrentRequests)
	return e
}

// Name implements apiguard.Policy.
func (e *Engine) Name() string { return PolicyName }

// Priority implements apiguard.Policy.
func (e *Engine) Priority() int { return e.cfg.Priority }

// Enabled implements apiguard.Policy.
func (e *Engine) Enabled() bool { return e.cfg.Enabled }

// ClientKey derives the tracker key for a security context as
// "{ip}:{organizationCode}", defaulting unknown parts to "unknown".
func ClientKey(sc *apiguard.SecurityContext) string {
	ip := sc.ClientIP
	if ip == "" {
		ip = unknownPart
	}
	org := sc.OrganizationCode
	if org == "" {
		org = unknownPart
	}
	return ip + ":" + org
}

// ValidateRequest runs the admission check for one outgoing request.
//
// Under the tracker's lock it prunes stale timestamps, runs the selected
// strategy against the timestamps recorded so far, appends the current
// request's timestamp, and finally bumps the concurrency counter. The
// append happens after the strategy check so the just-evaluated window
// reflects prior requests, not the one being admitted.
func (e *Engine) ValidateRequest(_ *http.Request, sc *apiguard.SecurityContext) *apiguard.Result {
	res := apiguard.NewResult()
	if !e.cfg.Enabled || sc == nil {
		return res
	}

	key := ClientKey(sc)
	tracker := e.tracker(key)
	now := e.now()

	tracker.mu.Lock()
	tracker.prune(now.Add(-trackerRetention))

	violations := e.admit(tracker, now, key)

	tracker.timestamps = append(tracker.timestamps, now)
	tracker.lastRequest = now

	tracker.concurrent++
	if e.cfg.MaxConcurrentRequests > 0 && tracker.concurrent > e.cfg.MaxConcurrentRequests {
		violations = append(violations, apiguard.NewViolation(
			PolicyName,
			apiguard.SeverityError,
			apiguard.CodeConcurrencyExceeded,
			fmt.Sprintf("client %q has %d concurrent requests (limit %d)", key, tracker.concurrent, e.cfg.MaxConcurrentRequests),
			map[string]any{
				"client_key":     key,
				"concurrent":     tracker.concurrent,
				"max_concurrent": e.cfg.MaxConcurrentRequests,
			},
		))
	}
	tracker.mu.Unlock()

	if len(violations) == 0 {
		e.totalAllowed.Add(1)
	} else {
		e.totalThrottled.Add(1)
	}

	for _, v := range violations {
		res.Add(v)
	}
	return res
}

// ValidateResponse decrements the client's concurrency counter (floored at
// zero). It always succeeds; the call exists for bookkeeping symmetry with
// ValidateRequest.
func (e *Engine) ValidateResponse(_ *http.Response, sc *apiguard.SecurityContext) *apiguard.Result {
	res := apiguard.NewResult()
	if !e.cfg.Enabled || sc == nil {
		return res
	}

	if v, ok := e.trackers.Load(ClientKey(sc)); ok {
		tracker := v.(*RequestTracker)
		tracker.mu.Lock()
		if tracker.concurrent > 0 {
			tracker.concurrent--
		}
		tracker.mu.Unlock()
	}
	return res
}

// HandleViolation routes a throttling violation to the audit sink.
func (e *Engine) HandleViolation(v apiguard.Violation, sc *apiguard.SecurityContext) {
	e.logger.Warn("throttling violation",
		"code", v.Code,
		"severity", v.Severity.String(),
		"context", sc)

	if e.auditor == nil {
		return
	}
	e.auditor.LogSecurityViolation(auditEventFor(v.Code), v.Message, sc.UserIdentity, sc.ClientIP, v.Metadata)
}

// tracker resolves or creates the client's tracker with an atomic
// get-or-insert.
func (e *Engine) tracker(key string) *RequestTracker {
	if v, ok := e.trackers.Load(key); ok {
		return v.(*RequestTracker)
	}
	v, _ := e.trackers.LoadOrStore(key, &RequestTracker{})
	return v.(*RequestTracker)
}

// admit runs the configured strategy against the tracker's current state.
// Must be called with the tracker lock held, before the current request's
// timestamp is appended.
func (e *Engine) admit(t *RequestTracker, now time.Time, key string) []apiguard.Violation {
	switch e.cfg.Strategy {
	case apiguard.StrategySlidingWindow:
		return e.admitSlidingWindow(t, now, key)
	case apiguard.StrategyFixedWindow:
		return e.admitFixedWindow(t, now, key)
	case apiguard.StrategyTokenBucket:
		return e.admitTokenBucket(t, now, key)
	case apiguard.StrategyLeakyBucket:
		return e.admitLeakyBucket(t, now, key)
	default:
		return e.admitSlidingWindow(t, now, key)
	}
}

// sweepLoop periodically evicts idle trackers so memory stays bounded to
// active clients.
func (e *Engine) sweepLoop() {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.Sweep()
		case <-e.stopSweep:
			return
		}
	}
}

// Sweep prunes stale timestamps and removes trackers idle for longer than
// the retention window. It acquires each tracker's own lock one entry at a
// time; it never holds a lock across the whole tracker set, so it
// interleaves safely with request-path callers.
func (e *Engine) Sweep() {
	now := e.now()
	cutoff := now.Add(-trackerRetention)
	removed := 0

	e.trackers.Range(func(key, value any) bool {
		tracker := value.(*RequestTracker)

		tracker.mu.Lock()
		tracker.prune(cutoff)
		idle := !tracker.lastRequest.IsZero() && tracker.lastRequest.Before(cutoff)
		tracker.mu.Unlock()

		if idle {
			e.trackers.Delete(key)
			removed++
		}
		return true
	})

	e.totalSweeps.Add(1)
	if removed > 0 {
		e.logger.Debug("tracker sweep completed",
			"removed", removed,
			"remaining", e.TrackerCount())
	}
}

// Stop terminates the background sweep. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopSweep) })
}

// TrackerCount returns the number of client trackers currently held.
func (e *Engine) TrackerCount() int {
	n := 0
	e.trackers.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Stats holds engine statistics for monitoring.
type Stats struct {
	ActiveTrackers int   // client trackers currently held
	TotalAllowed   int64 // requests admitted without violations
	TotalThrottled int64 // requests that produced at least one violation
	TotalSweeps    int64 // sweep passes completed
}

// GetStats returns current engine statistics.
func (e *Engine) GetStats() Stats {
	return Stats{
		ActiveTrackers: e.TrackerCount(),
		TotalAllowed:   e.totalAllowed.Load(),
		TotalThrottled: e.totalThrottled.Load(),
		TotalSweeps:    e.totalSweeps.Load(),
	}
}

// auditEventFor maps a violation code to its audit event type.
func auditEventFor(code string) string {
	switch code {
	case apiguard.CodeBurstLimitExceeded:
		return audit.EventBurstLimitExceeded
	case apiguard.CodeConcurrencyExceeded:
		return audit.EventConcurrencyExceeded
	default:
		return audit.EventRateLimitExceeded
	}
}
