// Package coalescer implements the deferred-timer primitive used to
// schedule reopen/throttle/batch-timeout wakeups from any thread while
// guaranteeing the underlying OS timer is only ever touched from the main
// scheduler thread. It is grounded directly on syslog-ng's
// lib/ml-batched-timer.c: multiple postpone/cancel calls in quick
// succession collapse into a single main-loop reschedule.
package coalescer

import (
	"sync"
	"time"
)

// MainCaller is the subset of internal/scheduler's Scheduler that the
// coalescer needs: a way to run a closure on the main thread without
// blocking the caller. internal/scheduler.Scheduler.CallOnMainAsync
// satisfies this.
type MainCaller interface {
	CallOnMainAsync(fn func())
}

// Registrar is how the coalescer asks the scheduler to (re)arm or cancel
// the single underlying OS timer it owns. Only ever invoked on the main
// thread, from within a CallOnMainAsync closure.
type Registrar interface {
	// Arm schedules handler to fire once at deadline, replacing any
	// previously armed deadline for this timer.
	Arm(deadline time.Time, handler func())
	// Disarm cancels a previously armed deadline, if any.
	Disarm()
}

// Timer is a batched, coalescing deferred timer. The zero value is not
// usable; construct with New.
type Timer struct {
	caller MainCaller
	reg    Registrar
	handler func()

	mu      sync.Mutex
	expires time.Time // zero means "cancelled"
	updated bool      // true once the previous update has been applied
}

// New constructs a Timer that invokes handler when it fires. caller and reg
// are normally backed by the same Scheduler.
func New(caller MainCaller, reg Registrar, handler func()) *Timer {
	return &Timer{caller: caller, reg: reg, handler: handler, updated: true}
}

// Postpone requests the timer fire at most d from now. Safe to call from
// any goroutine at any rate; concurrent calls that land on the same whole
// second collapse into a single main-thread reschedule, because the
// sub-second component is deliberately truncated to zero before comparing
// against the previously requested deadline — the same normalization
// ml_batched_timer_postpone uses to raise the collapse probability.
func (t *Timer) Postpone(d time.Duration) {
	next := time.Now().Add(d).Truncate(time.Second)
	t.update(next)
}

// Cancel requests the timer not fire. Safe to call from any goroutine.
func (t *Timer) Cancel() {
	t.update(time.Time{})
}

// update records next as the requested deadline. A main-thread reschedule
// is queued only when none is already pending; a pending one picks up the
// latest deadline when it runs.
func (t *Timer) update(next time.Time) {
	t.mu.Lock()
	if next.Equal(t.expires) {
		t.mu.Unlock()
		return
	}
	t.expires = next
	invoke := t.updated
	t.updated = false
	t.mu.Unlock()
	if !invoke {
		return
	}

	t.caller.CallOnMainAsync(t.applyUpdate)
}

// applyUpdate runs on the main thread: it marks the timer ready to accept
// another collapsible update and re-registers (or disarms) the underlying
// OS timer with the most recently requested deadline.
func (t *Timer) applyUpdate() {
	t.mu.Lock()
	deadline := t.expires
	t.updated = true
	t.mu.Unlock()

	t.reg.Disarm()
	if !deadline.IsZero() {
		t.reg.Arm(deadline, t.handler)
	}
}
