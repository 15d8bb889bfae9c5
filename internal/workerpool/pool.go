package workerpool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// RunFunc is a worker's body. It receives its allocated ThreadID (which may
// be InvalidThreadID if the registry was exhausted) and must call started
// exactly once, as soon as its own initialization has succeeded or failed,
// mirroring the started_up latch a destination worker signals before the
// pool's Spawn call returns.
type RunFunc func(ctx context.Context, id ThreadID, started func(ok bool))

type workerHandle struct {
	id     ThreadID
	cancel context.CancelFunc
}

// Pool is the bounded worker pool and thread registry of spec §4.2. The
// zero value is not usable; construct with NewPool.
//
// Benign race note (same shape as the teacher's worker_pool.go comment):
// several JobComplete calls can race jobsRunning toward zero from different
// goroutines. This is intentional — only JobComplete drains syncActions
// (RequestAllWorkersToExit merely sets the quit flag and fires exit
// notifications), and only the caller whose atomic decrement lands on zero
// performs the drain.
type Pool struct {
	registry threadRegistry

	mu      sync.Mutex
	workers map[ThreadID]*workerHandle

	exitNotifyMu sync.Mutex
	exitNotify   []func()

	batchMu sync.Mutex
	batch   map[ThreadID][]func()

	jobsRunning atomic.Int64
	quiescing   atomic.Bool
	quit        atomic.Bool

	syncMu      sync.Mutex
	syncActions []func()
}

// NewPool constructs an empty Pool.
func NewPool() *Pool {
	return &Pool{
		workers: make(map[ThreadID]*workerHandle),
		batch:   make(map[ThreadID][]func()),
	}
}

// Spawn allocates a thread index, starts run in a new goroutine, and blocks
// until run signals its own startup result. It returns the allocated id
// (possibly InvalidThreadID) and whether startup succeeded.
func (p *Pool) Spawn(ctx context.Context, run RunFunc) (ThreadID, bool) {
	id := p.registry.allocate()

	workerCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.workers[id] = &workerHandle{id: id, cancel: cancel}
	p.mu.Unlock()

	startedCh := make(chan bool, 1)
	go func() {
		defer p.registry.release(id)
		run(workerCtx, id, func(ok bool) { startedCh <- ok })
	}()

	ok := <-startedCh
	if !ok {
		p.mu.Lock()
		delete(p.workers, id)
		p.mu.Unlock()
		cancel()
	}
	return id, ok
}

// RegisterExitNotify adds cb to the set of callbacks invoked by
// RequestAllWorkersToExit. Typically each worker registers a callback that
// cancels its own context or wakes its own reactor.
func (p *Pool) RegisterExitNotify(cb func()) {
	p.exitNotifyMu.Lock()
	defer p.exitNotifyMu.Unlock()
	p.exitNotify = append(p.exitNotify, cb)
}

// RequestAllWorkersToExit fires every registered exit-notify callback and
// sets the global quit flag; workers observe it at their next safe point
// (reactor poll boundary or insert step).
func (p *Pool) RequestAllWorkersToExit() {
	p.quit.Store(true)
	p.exitNotifyMu.Lock()
	cbs := append([]func(){}, p.exitNotify...)
	p.exitNotifyMu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// Quitting reports whether RequestAllWorkersToExit has been called. Workers
// poll this at every reactor iteration and every insert step.
func (p *Pool) Quitting() bool { return p.quit.Load() }

// JobStart marks one unit of worker-thread job work as in flight. Paired
// with JobComplete; the count between them gates SyncCall.
func (p *Pool) JobStart() { p.jobsRunning.Add(1) }

// JobComplete marks one unit of job work as finished. If this call observes
// the running count reach zero while a quiesce is pending, it drains the
// deferred sync-action FIFO and re-enables job submission. The drain is
// deliberately done by whichever caller's decrement actually lands on zero,
// not eagerly by SyncCall itself, so that sync actions queued by an
// in-flight reconfiguration are never silently skipped.
func (p *Pool) JobComplete() {
	remaining := p.jobsRunning.Add(-1)
	if remaining == 0 && p.quiescing.Load() {
		p.reenableWorkerJobs()
	}
}

// SyncCall is the quiesce-barrier primitive: if no job is currently in
// flight, fn runs immediately on the caller's goroutine. Otherwise fn is
// queued and every worker is asked to exit; the worker whose JobComplete
// call drives the running count to zero performs the drain.
func (p *Pool) SyncCall(fn func()) {
	if p.jobsRunning.Load() == 0 {
		fn()
		return
	}
	p.quiescing.Store(true)
	p.syncMu.Lock()
	p.syncActions = append(p.syncActions, fn)
	p.syncMu.Unlock()
	p.RequestAllWorkersToExit()
}

func (p *Pool) reenableWorkerJobs() {
	p.syncMu.Lock()
	actions := p.syncActions
	p.syncActions = nil
	p.syncMu.Unlock()

	for _, action := range actions {
		action()
	}
	p.quiescing.Store(false)
	p.quit.Store(false)
}

// RegisterBatchCallback adds cb to thread id's end-of-batch callback list.
// It is invoked (and removed) by the next InvokeBatchCallbacks(id) call,
// which is how internal/queue's producer-local FlushInput gets scheduled
// without taking a lock on every push.
func (p *Pool) RegisterBatchCallback(id ThreadID, cb func()) {
	p.batchMu.Lock()
	defer p.batchMu.Unlock()
	p.batch[id] = append(p.batch[id], cb)
}

// InvokeBatchCallbacks runs and clears every callback registered for id
// since the last call. A worker thread calls this at its own logical batch
// boundary (e.g. after draining one round of I/O readiness).
func (p *Pool) InvokeBatchCallbacks(id ThreadID) {
	p.batchMu.Lock()
	cbs := p.batch[id]
	delete(p.batch, id)
	p.batchMu.Unlock()

	for _, cb := range cbs {
		cb()
	}
}

// Stop cancels every worker's context and returns without waiting for the
// workers to exit or the registry to empty.
// Not safe to call more than once per process: like the scheduler it pairs
// with, this pool's lifetime is the process lifetime.
func (p *Pool) Stop() {
	p.mu.Lock()
	handles := make([]*workerHandle, 0, len(p.workers))
	for _, h := range p.workers {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	slog.Debug("workerpool: stop requested", slog.Int("workers", len(handles)))
}

// AllocatedThreads reports how many thread-registry slots are currently in
// use, for diagnostics and tests.
func (p *Pool) AllocatedThreads() int { return p.registry.allocated() }
