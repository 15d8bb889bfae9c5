package scheduler

import "sync"

// CallSite is a reusable per-caller token that serializes nested
// CallOnMain(wait=true) calls issued by the same logical caller, grounded
// on syslog-ng's lib/mainloop-call.c: a thread that issues a second
// blocking call-into-main while its first is still pending blocks on its
// own latch instead of racing a second entry into the shared task queue.
//
// Go has no ambient thread-local storage, so callers that want this
// serialization create one CallSite (via NewCallSite) per logical calling
// goroutine — typically once per destination worker or source reader
// goroutine — and reuse it for every CallOnMain call that goroutine makes.
// Passing a nil CallSite is valid and simply opts out of serialization.
type CallSite struct {
	mu sync.Mutex
}

// NewCallSite allocates a fresh, unlocked call site.
func NewCallSite() *CallSite { return &CallSite{} }

type mainTask struct {
	fn   func()
	done chan struct{}
}

// CallOnMain enqueues fn to run on the scheduler's reactor goroutine. If
// wait is true, CallOnMain blocks until fn has finished running. If site is
// non-nil, a second concurrent call through the same site blocks on site's
// own lock until the first completes, rather than both racing onto the
// shared queue — this is what prevents a caller from deadlocking itself
// via reentrant calls.
//
// CallOnMain must only be used by goroutines other than the scheduler's own
// Run loop; code that already runs on the reactor goroutine calls its
// target function directly. There is no "caller is the main thread, call
// inline" branch here: a wait=true call made from the reactor goroutine
// blocks forever, because nothing else drains the task queue.
func (s *Scheduler) CallOnMain(site *CallSite, fn func(), wait bool) {
	if site != nil && wait {
		site.mu.Lock()
		defer site.mu.Unlock()
	}

	task := mainTask{fn: fn}
	if wait {
		task.done = make(chan struct{})
	}

	select {
	case s.mainCh <- task:
	case <-s.stopped:
		return
	}

	if wait {
		<-task.done
	}
}

// CallOnMainAsync is CallOnMain with wait=false and no call-site
// serialization; it satisfies internal/coalescer.MainCaller.
func (s *Scheduler) CallOnMainAsync(fn func()) {
	s.CallOnMain(nil, fn, false)
}

func runMainTask(t mainTask) {
	defer func() {
		if t.done != nil {
			close(t.done)
		}
	}()
	t.fn()
}
