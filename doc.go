// Package apiguard implements an outbound security-policy enforcement
// pipeline for API clients: every outgoing request (and its response) is
// inspected against a composable, priority-ordered set of security policies
// before and after it reaches the network.
//
// The pipeline never blocks a request itself. It classifies: each policy
// returns a validation result, the pipeline aggregates violations across all
// enabled policies, and the caller decides what to do with a failing verdict.
//
// # Policies
//
// Four policies ship with the library, all implementing the same Policy
// contract:
//
//   - throttle.Engine: multi-strategy request throttling (sliding window,
//     fixed window, token bucket, leaky bucket) with per-client concurrency
//     accounting and a background sweep of idle client trackers.
//   - whitelist.Validator: CIDR-based source IP allow-listing plus
//     user-agent hygiene checks.
//   - TokenValidationPolicy: JWT structural and claim hygiene checks
//     (issuer, audience, age, expiry).
//   - TLSEnforcementPolicy: HTTPS-only scheme enforcement and response
//     security-header advisories.
//
// # Example Usage
//
//	auditor := audit.NewAuditor(logger, true)
//	eng := throttle.NewEngine(apiguard.ThrottleConfig{
//	    Enabled:              true,
//	    Strategy:             apiguard.StrategySlidingWindow,
//	    MaxRequestsPerMinute: 60,
//	    MaxRequestsPerHour:   1000,
//	}, auditor, logger)
//	defer eng.Stop()
//
//	ips, err := whitelist.NewValidator(apiguard.WhitelistConfig{Enabled: true}, auditor, logger)
//	if err != nil {
//	    // malformed whitelist entry in configuration
//	}
//
//	pipe := apiguard.NewPipeline(logger, nil)
//	pipe.Use(eng)
//	pipe.Use(ips)
//
//	sc := apiguard.NewSecurityContextFromRequest(req, "org-42", apiKey, userID, false, 0)
//	result, err := pipe.EvaluateRequest(ctx, req, sc)
//	if err != nil {
//	    // programmer error (nil request/context), not a security event
//	}
//	if !result.Success() {
//	    // caller decides: block, degrade, or log and proceed
//	}
//	// ... perform the network call ...
//	pipe.EvaluateResponse(ctx, resp, sc) // always, to keep counters balanced
//
// # Concurrency
//
// All pipeline and policy methods are safe for unlimited concurrent callers.
// Rate-limit and whitelist state is in-memory and per-process; nothing is
// persisted across restarts.
package apiguard
