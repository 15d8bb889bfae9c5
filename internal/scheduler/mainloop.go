// Package scheduler implements the single-threaded reactor described in
// spec §4.1: it owns timer registration, serializes configuration
// transitions, and exposes the cross-thread call_on_main primitive in
// call.go. It is grounded on syslog-ng's lib/mainloop.c (reactor loop,
// signal-driven reload/shutdown) and lib/mainloop-worker.c (the quiesce
// barrier a reload or shutdown waits on).
package scheduler

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// QuiesceBarrier is the subset of internal/workerpool's Pool the scheduler
// needs to safely apply a reload or run final shutdown deinitialization:
// run fn once no worker job is in flight, having first asked every worker
// to exit if one currently is.
type QuiesceBarrier interface {
	SyncCall(fn func())
}

// ReloadFunc parses whatever configuration source the caller wires in and
// returns an apply function to run once the scheduler has quiesced, or an
// error if the candidate configuration was invalid. On error the scheduler
// keeps running the previous configuration untouched.
type ReloadFunc func() (apply func(), err error)

// Hooks bundles the optional callbacks the scheduler invokes around
// lifecycle transitions. Every field may be left nil.
type Hooks struct {
	Reload       ReloadFunc // SIGHUP
	Reopen       func()     // SIGUSR1: reopen log/output files
	PreShutdown  func()     // SIGTERM/SIGINT, before the grace timer
	FinalDeinit  func()     // SIGTERM/SIGINT, after the grace timer and quiesce
}

// Scheduler is the C1 reactor. The zero value is not usable; construct
// with New.
type Scheduler struct {
	barrier QuiesceBarrier
	hooks   Hooks

	mainCh chan mainTask

	timersMu sync.Mutex
	timers   map[int]*time.Timer
	nextID   int

	quiescing   atomic.Bool
	terminating atomic.Bool

	stopped    chan struct{}
	stopOnce   sync.Once
	exitReason chan struct{}

	shutdownGrace time.Duration
}

// New constructs a Scheduler backed by barrier for quiesce operations.
// shutdownGrace is the pre-shutdown timer duration (100ms in the source);
// zero selects that default.
func New(barrier QuiesceBarrier, hooks Hooks, shutdownGrace time.Duration) *Scheduler {
	if shutdownGrace <= 0 {
		shutdownGrace = 100 * time.Millisecond
	}
	return &Scheduler{
		barrier:       barrier,
		hooks:         hooks,
		mainCh:        make(chan mainTask, 256),
		timers:        make(map[int]*time.Timer),
		stopped:       make(chan struct{}),
		exitReason:    make(chan struct{}),
		shutdownGrace: shutdownGrace,
	}
}

// RegisterTimer arms a one-shot timer that posts handler onto the main
// task queue at deadline. It returns a timer id usable with UnregisterTimer.
func (s *Scheduler) RegisterTimer(deadline time.Time, handler func()) int {
	s.timersMu.Lock()
	id := s.nextID
	s.nextID++
	s.timersMu.Unlock()

	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	t := time.AfterFunc(d, func() {
		s.PostEvent(handler)
	})

	s.timersMu.Lock()
	s.timers[id] = t
	s.timersMu.Unlock()
	return id
}

// UnregisterTimer cancels a previously registered timer. It is a no-op if
// the timer already fired or was already unregistered.
func (s *Scheduler) UnregisterTimer(id int) {
	s.timersMu.Lock()
	t, ok := s.timers[id]
	delete(s.timers, id)
	s.timersMu.Unlock()
	if ok {
		t.Stop()
	}
}

// PostEvent enqueues handler to run on the reactor goroutine. Unlike the
// eventfd-backed primitive in the source, a buffered Go channel needs no
// separate "coalesce the wakeup" bookkeeping: each post is simply one more
// item the reactor drains in order.
func (s *Scheduler) PostEvent(handler func()) {
	select {
	case s.mainCh <- mainTask{fn: handler}:
	case <-s.stopped:
	}
}

// Quiesce sets the scheduler's quiescing flag, asks the worker-pool barrier
// to run applyFn once no job is in flight, and clears quiescing when it
// returns. applyFn always runs on whatever goroutine the barrier chooses to
// run it on (immediately, inline, if no job was in flight) — callers that
// need it on the reactor goroutine should wrap it in PostEvent/CallOnMain
// themselves.
func (s *Scheduler) Quiesce(applyFn func()) {
	s.quiescing.Store(true)
	s.barrier.SyncCall(func() {
		applyFn()
		s.quiescing.Store(false)
	})
}

// Quiescing reports whether a Quiesce call is currently in flight.
func (s *Scheduler) Quiescing() bool { return s.quiescing.Load() }

// Terminating reports whether shutdown has been initiated.
func (s *Scheduler) Terminating() bool { return s.terminating.Load() }

// Run starts the reactor loop and blocks until ctx is cancelled or a
// termination signal (SIGTERM/SIGINT) completes its shutdown sequence. It
// also installs handlers for SIGHUP (reload) and SIGUSR1 (reopen). Run must
// only be called once per Scheduler; like the worker pool it pairs with,
// this scheduler's lifetime is the process lifetime.
func (s *Scheduler) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1, syscall.SIGCHLD)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case <-s.exitReason:
			return nil
		case sig := <-sigCh:
			s.handleSignal(sig)
		case task := <-s.mainCh:
			runMainTask(task)
		}
	}
}

func (s *Scheduler) handleSignal(sig os.Signal) {
	switch sig {
	case syscall.SIGHUP:
		s.handleReload()
	case syscall.SIGUSR1:
		if s.hooks.Reopen != nil {
			s.hooks.Reopen()
		}
	case syscall.SIGTERM, syscall.SIGINT:
		s.handleTerminate()
	case syscall.SIGCHLD:
		// No child processes are forked by this core; os/exec already
		// reaps its own children, so there is nothing to do here. Kept
		// in the signal set only so an embedder that does fork/exec
		// elsewhere doesn't have its SIGCHLD silently swallowed by the
		// default Go disposition before it can install its own handler.
	}
}

// handleReload implements the RTRT ordering rule noted in the source: a
// reload that arrives concurrently with (or after) a termination request
// must never win. Termination, once observed, takes priority.
func (s *Scheduler) handleReload() {
	if s.terminating.Load() {
		slog.Debug("scheduler: ignoring SIGHUP, termination already in progress")
		return
	}
	if s.hooks.Reload == nil {
		return
	}
	apply, err := s.hooks.Reload()
	if err != nil {
		slog.Error("scheduler: configuration reload failed, keeping current configuration", slog.Any("error", err))
		return
	}
	s.Quiesce(apply)
}

func (s *Scheduler) handleTerminate() {
	if !s.terminating.CompareAndSwap(false, true) {
		return
	}
	if s.hooks.PreShutdown != nil {
		s.hooks.PreShutdown()
	}
	s.RegisterTimer(time.Now().Add(s.shutdownGrace), func() {
		s.Quiesce(func() {
			if s.hooks.FinalDeinit != nil {
				s.hooks.FinalDeinit()
			}
		})
		s.requestExit()
	})
}

// shutdown runs the same sequence as handleTerminate but synchronously,
// used when Run's ctx is cancelled directly rather than via a signal.
func (s *Scheduler) shutdown() {
	if !s.terminating.CompareAndSwap(false, true) {
		return
	}
	if s.hooks.PreShutdown != nil {
		s.hooks.PreShutdown()
	}
	s.Quiesce(func() {
		if s.hooks.FinalDeinit != nil {
			s.hooks.FinalDeinit()
		}
	})
}

func (s *Scheduler) requestExit() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		close(s.exitReason)
	})
}
