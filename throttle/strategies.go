package throttle

import (
	"fmt"
	"time"

	"github.com/pubflow/apiguard"
)

// Strategy admission checks. All run with the tracker lock held, against the
// timestamps recorded before the current request, so a request never counts
// against its own limit check.
//
// The sliding-window strategy uses an inclusive (>=) threshold while the
// fixed-window strategy uses a strict (>) one. The asymmetry is intentional
// per-strategy semantics: callers choosing fixed windows accept boundary
// burst behavior.

// admitSlidingWindow counts timestamps within the trailing one-minute,
// one-hour, and burst windows anchored at now.
func (e *Engine) admitSlidingWindow(t *RequestTracker, now time.Time, key string) []apiguard.Violation {
	var violations []apiguard.Violation

	if e.cfg.MaxRequestsPerMinute > 0 {
		if n := t.countSince(now.Add(-time.Minute)); n >= e.cfg.MaxRequestsPerMinute {
			violations = append(violations, e.windowViolation(
				apiguard.SeverityError, apiguard.CodeRateLimitMinuteExceeded,
				key, n, e.cfg.MaxRequestsPerMinute, "minute"))
		}
	}

	if e.cfg.MaxRequestsPerHour > 0 {
		if n := t.countSince(now.Add(-time.Hour)); n >= e.cfg.MaxRequestsPerHour {
			violations = append(violations, e.windowViolation(
				apiguard.SeverityError, apiguard.CodeRateLimitHourExceeded,
				key, n, e.cfg.MaxRequestsPerHour, "hour"))
		}
	}

	if e.cfg.BurstWindowSeconds > 0 && e.cfg.BurstAllowance > 0 {
		burst := time.Duration(e.cfg.BurstWindowSeconds) * time.Second
		if n := t.countSince(now.Add(-burst)); n >= e.cfg.BurstAllowance {
			violations = append(violations, e.windowViolation(
				apiguard.SeverityCritical, apiguard.CodeBurstLimitExceeded,
				key, n, e.cfg.BurstAllowance, fmt.Sprintf("%ds burst", e.cfg.BurstWindowSeconds)))
		}
	}

	return violations
}

// admitFixedWindow counts timestamps since the wall-clock-aligned minute and
// hour boundaries.
func (e *Engine) admitFixedWindow(t *RequestTracker, now time.Time, key string) []apiguard.Violation {
	var violations []apiguard.Violation

	if e.cfg.MaxRequestsPerMinute > 0 {
		if n := t.countSince(now.Truncate(time.Minute)); n > e.cfg.MaxRequestsPerMinute {
			violations = append(violations, e.windowViolation(
				apiguard.SeverityError, apiguard.CodeRateLimitMinuteExceeded,
				key, n, e.cfg.MaxRequestsPerMinute, "minute"))
		}
	}

	if e.cfg.MaxRequestsPerHour > 0 {
		if n := t.countSince(now.Truncate(time.Hour)); n > e.cfg.MaxRequestsPerHour {
			violations = append(violations, e.windowViolation(
				apiguard.SeverityError, apiguard.CodeRateLimitHourExceeded,
				key, n, e.cfg.MaxRequestsPerHour, "hour"))
		}
	}

	return violations
}

// admitTokenBucket refills the client's bucket for the elapsed time, then
// attempts to consume one token. Capacity is MaxRequestsPerMinute; refill
// rate is MaxRequestsPerMinute tokens per minute.
func (e *Engine) admitTokenBucket(t *RequestTracker, now time.Time, key string) []apiguard.Violation {
	capacity := float64(e.cfg.MaxRequestsPerMinute)
	if capacity <= 0 {
		return nil
	}

	if t.tokens == nil {
		t.tokens = &tokenBucket{max: capacity, available: capacity, lastRefill: now}
	}
	t.tokens.refill(now, capacity)

	if t.tokens.consume() {
		return nil
	}
	return []apiguard.Violation{apiguard.NewViolation(
		PolicyName,
		apiguard.SeverityError,
		apiguard.CodeRateLimitExceeded,
		fmt.Sprintf("client %q has no tokens available (capacity %d/min)", key, e.cfg.MaxRequestsPerMinute),
		map[string]any{
			"client_key": key,
			"strategy":   string(apiguard.StrategyTokenBucket),
			"capacity":   e.cfg.MaxRequestsPerMinute,
		},
	)}
}

// admitLeakyBucket leaks the client's bucket for the elapsed time, then
// attempts to add the incoming request. Capacity is MaxRequestsPerMinute;
// leak rate is MaxRequestsPerMinute requests per minute.
func (e *Engine) admitLeakyBucket(t *RequestTracker, now time.Time, key string) []apiguard.Violation {
	capacity := float64(e.cfg.MaxRequestsPerMinute)
	if capacity <= 0 {
		return nil
	}

	if t.leaky == nil {
		t.leaky = &leakyBucket{max: capacity, lastLeak: now}
	}
	t.leaky.leak(now, capacity)

	if t.leaky.add() {
		return nil
	}
	return []apiguard.Violation{apiguard.NewViolation(
		PolicyName,
		apiguard.SeverityError,
		apiguard.CodeRateLimitExceeded,
		fmt.Sprintf("client %q bucket is full (capacity %d)", key, e.cfg.MaxRequestsPerMinute),
		map[string]any{
			"client_key": key,
			"strategy":   string(apiguard.StrategyLeakyBucket),
			"capacity":   e.cfg.MaxRequestsPerMinute,
		},
	)}
}

func (e *Engine) windowViolation(sev apiguard.Severity, code, key string, count, limit int, window string) apiguard.Violation {
	return apiguard.NewViolation(
		PolicyName,
		sev,
		code,
		fmt.Sprintf("client %q made %d requests in the last %s (limit %d)", key, count, window, limit),
		map[string]any{
			"client_key": key,
			"strategy":   string(e.cfg.Strategy),
			"count":      count,
			"limit":      limit,
			"window":     window,
		},
	)
}
