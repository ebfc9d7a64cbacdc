package throttle

import (
	"sync"
	"time"
)

// tokenBucket is the lazily-initialized token-bucket state for one client.
// Invariant: 0 <= available <= max.
type tokenBucket struct {
	max        float64
	available  float64
	lastRefill time.Time
}

// refill adds tokens for the time elapsed since the last refill, capped at
// capacity, then advances the refill timestamp.
func (b *tokenBucket) refill(now time.Time, perMinute float64) {
	elapsed := now.Sub(b.lastRefill).Minutes()
	if elapsed <= 0 {
		return
	}
	b.available += elapsed * perMinute
	if b.available > b.max {
		b.available = b.max
	}
	b.lastRefill = now
}

// consume takes one token if available.
func (b *tokenBucket) consume() bool {
	if b.available < 1 {
		return false
	}
	b.available--
	return true
}

// leakyBucket is the lazily-initialized leaky-bucket state for one client.
// Invariant: 0 <= current <= max.
type leakyBucket struct {
	max      float64
	current  float64
	lastLeak time.Time
}

// leak drains the bucket for the time elapsed since the last leak, floored
// at zero, then advances the leak timestamp.
func (b *leakyBucket) leak(now time.Time, perMinute float64) {
	elapsed := now.Sub(b.lastLeak).Minutes()
	if elapsed <= 0 {
		return
	}
	b.current -= elapsed * perMinute
	if b.current < 0 {
		b.current = 0
	}
	b.lastLeak = now
}

// add admits the incoming request unless the bucket is at capacity.
func (b *leakyBucket) add() bool {
	if b.current >= b.max {
		return false
	}
	b.current++
	return true
}

// RequestTracker holds the per-client mutable throttling state. One instance
// exists per distinct client key, owned exclusively by the engine; every
// mutation happens under the tracker's own lock so unrelated clients never
// contend.
type RequestTracker struct {
	mu sync.Mutex

	// timestamps of requests within the retention window, oldest first.
	timestamps []time.Time

	// lastRequest is when the client was last seen; drives sweep eviction.
	lastRequest time.Time

	// concurrent counts in-flight requests (ValidateRequest increments,
	// ValidateResponse decrements).
	concurrent int

	tokens *tokenBucket
	leaky  *leakyBucket
}

// prune drops timestamps older than the retention window. Must be called
// with the tracker lock held.
func (t *RequestTracker) prune(cutoff time.Time) {
	idx := 0
	for idx < len(t.timestamps) && t.timestamps[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		t.timestamps = append(t.timestamps[:0], t.timestamps[idx:]...)
	}
}

// countSince returns how many tracked timestamps are at or after the given
// boundary. Must be called with the tracker lock held.
func (t *RequestTracker) countSince(boundary time.Time) int {
	// timestamps are ordered, so scan from the tail.
	n := 0
	for i := len(t.timestamps) - 1; i >= 0; i-- {
		if t.timestamps[i].Before(boundary) {
			break
		}
		n++
	}
	return n
}
