// Package destworker implements the destination worker state machine of
// spec §4.4: it pops messages from a queue.Queue, feeds them to a
// corecontract.Transport, batches, retries, reconnects, and throttles, and
// forces a final flush + rewind on shutdown so the next run replays
// exactly what was unsent. It is grounded on syslog-ng's
// lib/logthrdestdrv.c.
package destworker

import (
	"context"
	"encoding/binary"
	"log/slog"
	"strconv"
	"time"

	"github.com/ChuLiYu/logrelay/internal/queue"
	"github.com/ChuLiYu/logrelay/pkg/corecontract"
	"github.com/ChuLiYu/logrelay/pkg/message"
)

// Config bundles the scalars a Worker needs, normally sourced from a
// corecontract.ConfigProvider.
type Config struct {
	DriverName        string
	WorkerIndex       int
	BatchLines        int
	BatchTimeout      time.Duration
	ReopenDelay       time.Duration
	MaxRetries        int
	MaxRetriesOnError int
}

// Counters is the small set of destination-level measurements spec §7 says
// must be user-visible: processed (acked, including destination-level
// permanent drops), written (accepted by the transport), dropped
// (destination-level permanent drops specifically), suppressed (messages
// rewound back to the queue for redelivery after ERROR, NOT_CONNECTED or
// RETRY).
type Counters struct {
	Processed  int64
	Written    int64
	Dropped    int64
	Suppressed int64
	Flushes    int64
	Reconnects int64
}

// Worker is one C4 destination worker instance, feeding from a single
// queue.Queue (already scoped to this worker by whatever round-robin or
// hashing policy the driver-level fan-out uses).
type Worker struct {
	cfg       Config
	q         *queue.Queue
	transport corecontract.Transport
	metrics   corecontract.MetricsSink
	persist   corecontract.PersistStore

	state          State
	batchSize      int
	retries        int
	retriesOnError int
	seqnum         uint64
	batchStarted   time.Time // when the first message of the current batch was inserted

	Counters Counters

	wake chan struct{}

	metricProcessed  any
	metricWritten    any
	metricDropped    any
	metricSuppressed any
	metricFlushes    any
	metricReconnects any
}

// New constructs a Worker. persist and metrics may be nil, in which case
// sequence-number persistence and metric emission are skipped.
func New(cfg Config, q *queue.Queue, transport corecontract.Transport, metrics corecontract.MetricsSink, persist corecontract.PersistStore) *Worker {
	w := &Worker{
		cfg:       cfg,
		q:         q,
		transport: transport,
		metrics:   metrics,
		persist:   persist,
		state:     StateDisconnected,
		wake:      make(chan struct{}, 1),
	}
	if persist != nil {
		if raw, ok, _ := persist.Get(formatSeqnumKey(cfg.DriverName, cfg.WorkerIndex)); ok && len(raw) == 8 {
			w.seqnum = binary.BigEndian.Uint64(raw)
		}
	}
	if metrics != nil {
		w.registerMetrics()
	}
	q.CheckItems(w.onQueueNonEmpty)
	return w
}

// registerMetrics obtains the counter handles spec §7 requires (processed,
// written, dropped, suppressed, flushes, reconnects), labeled by driver name
// and worker index so multiple workers on the same driver stay distinct.
func (w *Worker) registerMetrics() {
	labels := map[string]string{
		"driver": w.cfg.DriverName,
		"worker": strconv.Itoa(w.cfg.WorkerIndex),
	}
	register := func(name string) any {
		handle, err := w.metrics.RegisterCounter(name, labels)
		if err != nil {
			slog.Warn("destworker: failed to register metric", slog.String("name", name), slog.Any("error", err))
			return nil
		}
		return handle
	}
	w.metricProcessed = register("destworker_processed_total")
	w.metricWritten = register("destworker_written_total")
	w.metricDropped = register("destworker_dropped_total")
	w.metricSuppressed = register("destworker_suppressed_total")
	w.metricFlushes = register("destworker_flushes_total")
	w.metricReconnects = register("destworker_reconnects_total")
}

// addMetric adds n to the counter behind handle, if metrics are enabled and
// the handle registered successfully.
func (w *Worker) addMetric(handle any, n int64) {
	if w.metrics == nil || handle == nil || n == 0 {
		return
	}
	w.metrics.Add(handle, float64(n))
}

func (w *Worker) onQueueNonEmpty() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// State reports the worker's current lifecycle state, for diagnostics and
// tests.
func (w *Worker) State() State { return w.state }

// quitter is satisfied by *workerpool.Pool; kept as a narrow interface here
// so destworker does not need to import workerpool.
type quitter interface {
	Quitting() bool
}

// Run is the worker's own reactor loop, suitable for workerpool.RunFunc.
// It performs the replay-partial-batch step on entry (rewinding any
// backlog an earlier Run left in this worker's in-memory queue), signals
// startup success, then repeatedly executes the do_work decision tree
// until ctx is cancelled or q quitter reports Quitting().
func (w *Worker) Run(ctx context.Context, pool quitter, started func(ok bool)) {
	w.q.RewindAll()
	started(true)

	for {
		if ctx.Err() != nil || (pool != nil && pool.Quitting()) {
			w.shutdownFlush(context.Background())
			w.transport.Disconnect()
			w.state = StateDisconnected
			return
		}

		wait := w.doWork(ctx)
		if wait.immediate {
			continue
		}

		select {
		case <-ctx.Done():
			continue
		case <-w.wake:
			continue
		case <-after(wait.reopen):
			continue
		case <-after(wait.throttle):
			continue
		case <-after(wait.flush):
			continue
		}
	}
}

// after returns a channel that fires once after d, or a nil channel (which
// blocks forever in a select) if d is zero, letting callers freely compose
// several optional timeouts in one select statement.
func after(d time.Duration) <-chan time.Time {
	if d <= 0 {
		return nil
	}
	return time.After(d)
}

type armedWait struct {
	immediate bool // doWork wants to run again right away, no need to block
	reopen    time.Duration
	throttle  time.Duration
	flush     time.Duration
}

// doWork runs exactly one step of the decision tree in spec §4.4:
//  1. not connected -> try to connect
//  2. connected and the queue has items -> insert a batch, maybe flush
//  3. a partial batch is sitting unflushed -> flush it if its deadline
//     passed, otherwise wait for it
//  4. throttled -> wait out the throttle window
//  5. otherwise park until the queue signals non-empty
func (w *Worker) doWork(ctx context.Context) armedWait {
	if w.state == StateDisconnected {
		if err := w.transport.Connect(ctx); err != nil {
			slog.Debug("destworker: connect failed, suspending", slog.String("driver", w.cfg.DriverName), slog.Any("error", err))
			return armedWait{reopen: w.cfg.ReopenDelay}
		}
		w.state = StateConnected
		w.Counters.Reconnects++
		w.addMetric(w.metricReconnects, 1)
		return armedWait{immediate: true}
	}

	ok, retryAfter := w.q.CheckItems(w.onQueueNonEmpty)
	if ok {
		return w.performInserts(ctx)
	}
	if w.batchSize > 0 {
		remaining := w.cfg.BatchTimeout - time.Since(w.batchStarted)
		if remaining <= 0 {
			return w.flush(ctx)
		}
		return armedWait{flush: remaining}
	}
	if retryAfter > 0 {
		return armedWait{throttle: retryAfter}
	}
	return armedWait{}
}

// performInserts pops and inserts messages until the batch is full, the
// transport signals a problem, or the queue runs dry, then flushes if the
// batch is due.
func (w *Worker) performInserts(ctx context.Context) armedWait {
	suspended := false

	for w.batchSize < w.cfg.BatchLines {
		msg, opts, ok, retryAfter := w.q.PopHead()
		if !ok {
			if retryAfter > 0 {
				break
			}
			break
		}

		if w.batchSize == 0 {
			w.batchStarted = time.Now()
		}
		res := w.transport.Insert(ctx, msg)
		w.batchSize++
		out := w.classify(res)
		w.applyOutcome(out, opts)
		if out.suspend {
			suspended = true
			break
		}
	}

	if suspended {
		return armedWait{reopen: w.cfg.ReopenDelay}
	}

	if w.batchSize >= w.cfg.BatchLines || (w.batchSize > 0 && time.Since(w.batchStarted) >= w.cfg.BatchTimeout) {
		return w.flush(ctx)
	}
	if w.batchSize > 0 {
		return armedWait{flush: w.cfg.BatchTimeout}
	}
	return armedWait{immediate: true}
}

func (w *Worker) flush(ctx context.Context) armedWait {
	if w.batchSize == 0 {
		return armedWait{}
	}
	res := w.transport.Flush(ctx)
	w.Counters.Flushes++
	w.addMetric(w.metricFlushes, 1)
	out := w.classify(res)
	w.applyOutcome(out, message.PathOptions{})
	if out.suspend {
		return armedWait{reopen: w.cfg.ReopenDelay}
	}
	return armedWait{immediate: true}
}

// outcome is the normalized effect of one Result, computed by classify and
// applied uniformly whether it came from Insert or Flush.
type outcome struct {
	ack      bool
	drop     bool
	rewind   bool
	suspend  bool
	noAction bool
}

// classify implements the per-result decision table in spec §4.4, modeled
// on syslog-ng's _process_result_* family in lib/logthrdestdrv.c. ERROR
// drops the batch only once MaxRetriesOnError retries have also failed,
// i.e. on attempt MaxRetriesOnError+1.
func (w *Worker) classify(res corecontract.Result) outcome {
	switch res {
	case corecontract.ResultSuccess:
		w.retriesOnError = 0
		return outcome{ack: true}
	case corecontract.ResultQueued:
		return outcome{}
	case corecontract.ResultDrop:
		w.retriesOnError = 0
		return outcome{drop: true, suspend: true}
	case corecontract.ResultError:
		w.retriesOnError++
		if w.retriesOnError > w.cfg.MaxRetriesOnError {
			w.retriesOnError = 0
			return outcome{drop: true, suspend: true}
		}
		return outcome{rewind: true, suspend: true}
	case corecontract.ResultNotConnected:
		w.retries = 0
		w.state = StateDisconnected
		return outcome{rewind: true, suspend: true}
	case corecontract.ResultRetry:
		w.retries++
		if w.retries >= w.cfg.MaxRetries {
			w.retries = 0
			w.state = StateDisconnected
			return outcome{rewind: true, suspend: true}
		}
		return outcome{rewind: true}
	case corecontract.ResultExplicitAckMgmt:
		return outcome{noAction: true}
	default:
		w.retriesOnError = 0
		return outcome{drop: true, suspend: true}
	}
}

func (w *Worker) applyOutcome(out outcome, lastOpts message.PathOptions) {
	switch {
	case out.noAction:
		w.batchSize = 0
	case out.ack:
		n := w.batchSize
		w.q.Ack(n)
		w.batchSize = 0
		w.Counters.Processed += int64(n)
		w.Counters.Written += int64(n)
		w.addMetric(w.metricProcessed, int64(n))
		w.addMetric(w.metricWritten, int64(n))
		w.advanceSeqnum(n)
	case out.drop:
		n := w.batchSize
		w.q.Ack(n)
		w.batchSize = 0
		w.Counters.Processed += int64(n)
		w.Counters.Dropped += int64(n)
		w.addMetric(w.metricProcessed, int64(n))
		w.addMetric(w.metricDropped, int64(n))
	case out.rewind:
		n := w.batchSize
		w.q.Rewind(n)
		w.batchSize = 0
		w.Counters.Suppressed += int64(n)
		w.addMetric(w.metricSuppressed, int64(n))
	}
}

func (w *Worker) advanceSeqnum(n int) {
	w.seqnum += uint64(n)
	if w.persist == nil {
		return
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, w.seqnum)
	if err := w.persist.Put(formatSeqnumKey(w.cfg.DriverName, w.cfg.WorkerIndex), buf); err != nil {
		slog.Warn("destworker: failed to stage sequence number", slog.String("driver", w.cfg.DriverName), slog.Any("error", err))
		return
	}
	if err := w.persist.Commit(); err != nil {
		slog.Warn("destworker: failed to commit sequence number", slog.String("driver", w.cfg.DriverName), slog.Any("error", err))
	}
}

// shutdownFlush forces a final flush ignoring the normal quitting checks
// (the source's "final forced flush" that runs even though workers_quit is
// already set), then rewinds whatever remains in the backlog so the next
// run replays it from the start.
func (w *Worker) shutdownFlush(ctx context.Context) {
	if w.batchSize > 0 {
		res := w.transport.Flush(ctx)
		out := w.classify(res)
		w.applyOutcome(out, message.PathOptions{})
	}
	w.q.RewindAll()
}

// Seqnum reports the worker's current persisted sequence-number high-water
// mark, for diagnostics and tests.
func (w *Worker) Seqnum() uint64 { return w.seqnum }
