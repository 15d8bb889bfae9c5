package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// immediateBarrier always runs fn inline, standing in for a workerpool.Pool
// with no in-flight jobs.
type immediateBarrier struct{}

func (immediateBarrier) SyncCall(fn func()) { fn() }

func TestCallOnMainWaitRunsBeforeReturning(t *testing.T) {
	s := New(immediateBarrier{}, Hooks{}, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var ran int32
	s.CallOnMain(nil, func() { atomic.StoreInt32(&ran, 1) }, true)

	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("CallOnMain(wait=true) returned before fn ran")
	}
}

func TestCallOnMainSiteSerializesNestedCalls(t *testing.T) {
	s := New(immediateBarrier{}, Hooks{}, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	site := NewCallSite()
	var order []int
	var mu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.CallOnMain(site, func() {
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			order = append(order, 1)
			mu.Unlock()
		}, true)
	}()
	time.Sleep(5 * time.Millisecond)
	go func() {
		defer wg.Done()
		s.CallOnMain(site, func() {
			mu.Lock()
			order = append(order, 2)
			mu.Unlock()
		}, true)
	}()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("calls through the same site ran out of order: %v", order)
	}
}

func TestReloadAppliesOnSuccess(t *testing.T) {
	var applied int32
	hooks := Hooks{
		Reload: func() (func(), error) {
			return func() { atomic.StoreInt32(&applied, 1) }, nil
		},
	}
	s := New(immediateBarrier{}, hooks, time.Millisecond)
	s.handleReload()

	if atomic.LoadInt32(&applied) != 1 {
		t.Fatalf("apply function did not run after a successful reload")
	}
}

func TestReloadKeepsOldConfigOnError(t *testing.T) {
	var applied int32
	hooks := Hooks{
		Reload: func() (func(), error) {
			return func() { atomic.StoreInt32(&applied, 1) }, errors.New("bad config")
		},
	}
	s := New(immediateBarrier{}, hooks, time.Millisecond)
	s.handleReload()

	if atomic.LoadInt32(&applied) != 0 {
		t.Fatalf("apply function ran despite a reload error")
	}
}

func TestRTRTTerminationWinsOverConcurrentReload(t *testing.T) {
	var applied int32
	hooks := Hooks{
		Reload: func() (func(), error) {
			return func() { atomic.StoreInt32(&applied, 1) }, nil
		},
	}
	s := New(immediateBarrier{}, hooks, time.Millisecond)
	s.terminating.Store(true)

	s.handleReload()

	if atomic.LoadInt32(&applied) != 0 {
		t.Fatalf("reload was applied even though termination was already in progress")
	}
}

func TestQuiescingFlagClearsAfterQuiesce(t *testing.T) {
	s := New(immediateBarrier{}, Hooks{}, time.Millisecond)
	s.Quiesce(func() {})
	if s.Quiescing() {
		t.Fatalf("Quiescing() should be false once Quiesce's apply fn has run")
	}
}
