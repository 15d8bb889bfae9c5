// Package queue implements the producer/consumer message FIFO at the heart
// of the core: a three-stage pipeline (per-producer unlocked staging, a
// shared locked waiting list, a consumer-local output list) plus an
// in-flight backlog for the acknowledgement protocol. It is grounded on
// syslog-ng's LogQueueFifo (lib/logqueue-fifo.c) and the shared counter and
// throttle bookkeeping in lib/logqueue.c.
//
// The lock is only ever taken at stage boundaries (flush_input, pop_head's
// wait->output swap), whose frequency is proportional to batch size rather
// than per-message rate, which is what lets many producer threads push
// without contending on a single mutex.
package queue

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/logrelay/internal/mlist"
	"github.com/ChuLiYu/logrelay/pkg/message"
)

// ThreadID identifies a producer's stable slot in the queue's per-thread
// input array. InvalidThreadID marks a caller that never registered with
// the thread registry (internal/workerpool); such callers fall back to the
// slow, always-locked push path straight onto wait.
type ThreadID int

const InvalidThreadID ThreadID = -1

type entry struct {
	msg  *message.Message
	opts message.PathOptions
}

// Config bundles the scalars a Queue needs at construction. MaxThreads must
// be at least as large as the thread registry's hard cap (internal/workerpool
// enforces 64) since it sizes the per-thread input array once, up front.
type Config struct {
	Capacity     int
	MaxThreads   int
	UseBacklog   bool
	ThrottleRate int // messages/sec; 0 disables throttling
}

// Queue is the FIFO described in spec §4.3. The zero value is not usable;
// construct with New.
type Queue struct {
	mu    sync.Mutex // protects wait, queued/memoryUsage/dropped under push/flush, and notify
	input []mlist.List[*entry]
	wait  mlist.List[*entry]

	// output and backlog are touched only by the single consumer thread
	// and therefore need no lock of their own.
	output  mlist.List[*entry]
	backlog mlist.List[*entry]

	capacity   int
	useBacklog bool

	queued      atomic.Int64
	dropped     atomic.Int64
	memoryUsage atomic.Int64

	notifyMu sync.Mutex
	notify   func()

	throttle *throttle

	// pendingFlush[t] is true once a message has been appended to
	// input[t] since the last FlushInput(t); registerFlush is invoked
	// exactly once per such transition so that the caller's worker-pool
	// batch-callback list gets exactly one flush_input(T) scheduled per
	// batch, never zero and never more than one.
	pendingFlush  []bool
	pendingMu     []sync.Mutex
	registerFlush func(t ThreadID, cb func())
}

// New constructs a Queue ready to accept pushes from thread ids in
// [0, cfg.MaxThreads) as well as InvalidThreadID.
func New(cfg Config) *Queue {
	q := &Queue{
		input:        make([]mlist.List[*entry], cfg.MaxThreads),
		capacity:     cfg.Capacity,
		useBacklog:   cfg.UseBacklog,
		throttle:     newThrottle(cfg.ThrottleRate),
		pendingFlush: make([]bool, cfg.MaxThreads),
		pendingMu:    make([]sync.Mutex, cfg.MaxThreads),
	}
	return q
}

// SetFlushRegistrar installs the callback the queue uses to ask the caller
// to schedule a FlushInput(t) call at the next batch boundary for thread t.
// Typically wired to a workerpool.Pool's per-thread batch-callback list.
func (q *Queue) SetFlushRegistrar(fn func(t ThreadID, cb func())) {
	q.registerFlush = fn
}

// Len reports the number of messages currently on wait and output. Messages
// staged in a producer's input list are counted only once FlushInput has
// moved them onto wait.
func (q *Queue) Len() int { return int(q.queued.Load()) }

// Dropped reports the cumulative number of messages dropped on overflow.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// MemoryUsage reports the approximate cumulative byte footprint of queued
// messages.
func (q *Queue) MemoryUsage() int64 { return q.memoryUsage.Load() }

// PushTail stages msg for delivery. If t is a valid thread index the append
// is entirely lock-free; on the first append since the last flush boundary
// it asks the registered flush registrar (if any) to schedule a FlushInput
// call. If t is InvalidThreadID the append takes the queue lock directly
// and lands on wait, same as syslog-ng's slow path for non-worker threads.
func (q *Queue) PushTail(t ThreadID, msg *message.Message, opts message.PathOptions) {
	n := mlist.NewNode(&entry{msg: msg, opts: opts})

	if t >= 0 && int(t) < len(q.input) {
		q.input[t].PushBack(n)

		q.pendingMu[t].Lock()
		first := !q.pendingFlush[t]
		q.pendingFlush[t] = true
		q.pendingMu[t].Unlock()

		if first && q.registerFlush != nil {
			tid := t
			q.registerFlush(tid, func() { q.FlushInput(tid) })
		}
		return
	}

	q.mu.Lock()
	q.wait.PushBack(n)
	q.queued.Add(1)
	q.memoryUsage.Add(int64(msg.SizeBytes()))
	q.fireNotifyLocked()
	q.mu.Unlock()
}

// FlushInput moves every node staged in input[t] onto the shared wait list,
// dropping the oldest excess nodes first if doing so would push the queue
// over capacity. Flow-controlled excess nodes are never dropped; they are
// spliced through regardless, and capacity becomes a soft bound for them.
// This is invoked at a batch boundary (normally via the registrar installed
// through SetFlushRegistrar) or directly by a consumer forcing a drain.
func (q *Queue) FlushInput(t ThreadID) {
	if t < 0 || int(t) >= len(q.input) {
		return
	}

	q.pendingMu[t].Lock()
	q.pendingFlush[t] = false
	q.pendingMu[t].Unlock()

	q.mu.Lock()
	defer q.mu.Unlock()

	in := &q.input[t]
	if in.Empty() {
		return
	}

	queued := int(q.queued.Load())
	if q.capacity > 0 && queued+in.Len() > q.capacity {
		excess := in.Len() - max(0, q.capacity-queued)
		var held mlist.List[*entry]
		dropped := 0
		for dropped < excess {
			n := in.PopFront()
			if n == nil {
				break
			}
			if n.Value.opts.FlowControlRequested {
				// Flow-controlled messages are never dropped; hold it aside
				// so it is restored to its original position and keep
				// scanning past it for further droppable nodes.
				held.PushBack(n)
				continue
			}
			dropped++
			q.dropped.Add(1)
			n.Value.msg.Ack(n.Value.opts, message.AckProcessed)
		}
		in.SpliceHeadInit(&held)
	}

	moved := in.Len()
	var movedBytes int64
	in.Each(func(n *mlist.Node[*entry]) { movedBytes += int64(n.Value.msg.SizeBytes()) })

	q.wait.SpliceTailInit(in)
	q.queued.Add(int64(moved))
	q.memoryUsage.Add(movedBytes)
	q.fireNotifyLocked()
}

// max is a small local helper that shadows Go's builtin max (available
// since Go 1.21); spelling it out keeps the overflow math readable at the
// call site above.
func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (q *Queue) fireNotifyLocked() {
	q.notifyMu.Lock()
	fn := q.notify
	q.notify = nil
	q.notifyMu.Unlock()
	if fn != nil {
		fn()
	}
}

// PopHead removes and returns the head message for the consumer thread.
// When the queue is empty it returns ok=false. When use_backlog is set the
// popped node moves to backlog instead of being freed, awaiting Ack or
// Rewind. Throttling is applied here: if no token is available the node is
// put back (without counting as a drop) and ok is false with retryAfter set
// to the wait duration.
func (q *Queue) PopHead() (msg *message.Message, opts message.PathOptions, ok bool, retryAfter time.Duration) {
	if q.output.Empty() {
		q.mu.Lock()
		q.output.SpliceTailInit(&q.wait)
		q.mu.Unlock()
	}
	if q.output.Empty() {
		return nil, message.PathOptions{}, false, 0
	}

	if allowed, wait := q.throttle.tryConsume(time.Now()); !allowed {
		return nil, message.PathOptions{}, false, wait
	}

	n := q.output.PopFront()
	e := n.Value

	q.queued.Add(-1)
	q.memoryUsage.Add(-int64(e.msg.SizeBytes()))

	if q.useBacklog {
		q.backlog.PushBack(n)
	}
	return e.msg, e.opts, true, 0
}

// PushHead returns a just-popped message to the front of output, used by
// the destination worker when it could not send it. No capacity check is
// applied; this path only ever runs in the consumer thread.
func (q *Queue) PushHead(msg *message.Message, opts message.PathOptions) {
	n := mlist.NewNode(&entry{msg: msg, opts: opts})
	q.output.PushFront(n)
	q.queued.Add(1)
	q.memoryUsage.Add(int64(msg.SizeBytes()))
}

// Ack releases the first n backlog entries, running each message's ack
// callback with AckProcessed and freeing the node. It panics if n exceeds
// the current backlog length: that is the "backlog empty on ack" fatal
// invariant violation spec §7 says should abort the process. A queue built
// without UseBacklog keeps no backlog, and Ack does nothing on it.
func (q *Queue) Ack(n int) {
	if !q.useBacklog {
		return
	}
	if n > q.backlog.Len() {
		panic(fmt.Sprintf("queue: ack(%d) exceeds backlog length %d", n, q.backlog.Len()))
	}
	for i := 0; i < n; i++ {
		node := q.backlog.PopFront()
		node.Value.msg.Ack(node.Value.opts, message.AckProcessed)
	}
}

// Rewind moves the last n backlog entries back onto the head of output,
// preserving their original relative order, and re-increments queued. It
// panics under the same fatal-invariant condition as Ack. Without
// UseBacklog there is nothing to rewind and Rewind does nothing.
func (q *Queue) Rewind(n int) {
	if !q.useBacklog {
		return
	}
	if n > q.backlog.Len() {
		panic(fmt.Sprintf("queue: rewind(%d) exceeds backlog length %d", n, q.backlog.Len()))
	}
	var moved mlist.List[*entry]
	for i := 0; i < n; i++ {
		node := q.backlog.PopBack()
		moved.PushFront(node)
	}
	q.output.SpliceHeadInit(&moved)
	q.queued.Add(int64(n))
}

// RewindAll moves the entire backlog back to the head of output, preserving
// order, and re-increments queued by the moved count. Used on shutdown so a
// subsequent run replays exactly the unacked tail of the previous one.
func (q *Queue) RewindAll() {
	n := q.backlog.Len()
	if n == 0 {
		return
	}
	q.output.SpliceHeadInit(&q.backlog)
	q.queued.Add(int64(n))
}

// BacklogLen reports how many entries are currently awaiting Ack or Rewind.
func (q *Queue) BacklogLen() int { return q.backlog.Len() }

// CheckItems reports whether work is currently available for popping. If
// the queue is empty it installs onNonEmpty as a one-shot wakeup (replacing
// any prior registration) and returns false with retryAfter==0; the caller
// is expected to park until that callback fires. If items are present but
// the throttle has no tokens left, it still returns false, with retryAfter
// set to the throttle's wait duration, matching log_queue_check_items
// returning FALSE even on a non-empty queue when throttled.
func (q *Queue) CheckItems(onNonEmpty func()) (ok bool, retryAfter time.Duration) {
	q.mu.Lock()
	empty := q.queued.Load() == 0
	if empty {
		q.notifyMu.Lock()
		q.notify = onNonEmpty
		q.notifyMu.Unlock()
		q.mu.Unlock()
		return false, 0
	}
	q.notifyMu.Lock()
	q.notify = nil
	q.notifyMu.Unlock()
	q.mu.Unlock()

	if allowed, wait := q.throttle.peek(time.Now()); !allowed {
		return false, wait
	}
	return true, 0
}
