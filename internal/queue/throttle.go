package queue

import (
	"sync"
	"time"
)

// throttle is a token bucket rate limiter applied at pop time, grounded on
// syslog-ng's log_queue_check_items: buckets accumulate at rate tokens per
// second, capped at rate, and popping a message consumes exactly one token.
// A rate of zero disables throttling entirely.
type throttle struct {
	mu        sync.Mutex
	rate      int
	buckets   float64
	lastCheck time.Time
}

func newThrottle(ratePerSec int) *throttle {
	return &throttle{rate: ratePerSec, lastCheck: time.Now()}
}

// refill recomputes buckets based on elapsed wall-clock time since the last
// check, matching the new_buckets = rate * elapsed / 1e9 accumulation and
// the cap at rate.
func (t *throttle) refill(now time.Time) {
	if t.rate <= 0 {
		return
	}
	elapsed := now.Sub(t.lastCheck)
	if elapsed < 0 {
		elapsed = 0
	}
	t.lastCheck = now
	newBuckets := float64(t.rate) * elapsed.Seconds()
	t.buckets += newBuckets
	if t.buckets > float64(t.rate) {
		t.buckets = float64(t.rate)
	}
}

// peek reports whether a token is currently available without consuming
// one, refilling the bucket first. Used by CheckItems, which must answer
// "is there throttle-permitted work" without being the call that actually
// pops a message.
func (t *throttle) peek(now time.Time) (ok bool, retryAfter time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rate <= 0 {
		return true, 0
	}
	t.refill(now)
	if t.buckets < 1 {
		return false, time.Duration(1000/t.rate+1) * time.Millisecond
	}
	return true, 0
}

// tryConsume reports whether a token was available and consumed. When the
// rate is zero (disabled) it always succeeds. On failure, retryAfter holds
// 1000/rate + 1 milliseconds, matching the source's timeout computation.
func (t *throttle) tryConsume(now time.Time) (ok bool, retryAfter time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rate <= 0 {
		return true, 0
	}
	t.refill(now)
	if t.buckets < 1 {
		return false, time.Duration(1000/t.rate+1) * time.Millisecond
	}
	t.buckets--
	return true, 0
}
