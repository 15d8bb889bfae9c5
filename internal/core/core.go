// Package core wires the scheduler, worker pool, queues, destination
// workers, metrics sink, persist store, and config provider into one
// runnable system. It is grounded on the teacher's internal/controller,
// generalized from a single job-state coordinator hard-wired to one
// WAL/snapshot/worker-pool trio into a driver-count-agnostic assembly of
// the five core components (spec §2): the controller's
// load-snapshot/replay-WAL/requeue-in-flight recovery sequence becomes
// persist.Open's load-then-replay-partial-batch-via-RewindAll sequence,
// and its four concurrent loops become each destworker.Worker's own
// reactor goroutine spawned through the pool instead of four centrally
// owned loops.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ChuLiYu/logrelay/internal/destworker"
	"github.com/ChuLiYu/logrelay/internal/metrics"
	"github.com/ChuLiYu/logrelay/internal/persist"
	"github.com/ChuLiYu/logrelay/internal/queue"
	"github.com/ChuLiYu/logrelay/internal/scheduler"
	"github.com/ChuLiYu/logrelay/internal/workerpool"
	"github.com/ChuLiYu/logrelay/pkg/corecontract"
)

// TransportFactory constructs one Transport instance per destination
// worker, given the driver name and worker index; this is how cmd/logrelayd
// plugs in a concrete destination implementation without core depending on
// it directly.
type TransportFactory func(driverName string, workerIndex int) (corecontract.Transport, error)

// Destination is one configured output: a name, how many parallel workers
// fan out over it, and the factory that builds each worker's Transport.
type Destination struct {
	Name    string
	Workers int
	Factory TransportFactory
}

// Config bundles everything System needs to assemble.
type Config struct {
	Cfg          corecontract.ConfigProvider
	PersistDir   string // directory holding <driver>.seqnum persist files; empty disables persistence
	Destinations []Destination
}

// System is the assembled, runnable core: one Scheduler, one Pool, and one
// Queue+[]Worker set per configured Destination.
type System struct {
	scheduler *scheduler.Scheduler
	pool      *workerpool.Pool
	metrics   *metrics.Sink

	destinations []*destination
}

type destination struct {
	name    string
	queues  []*queue.Queue
	workers []*destworker.Worker
}

// New assembles a System without starting it. Construction can fail if a
// destination's persist store can't be opened or a Transport factory
// errors.
func New(cfg Config) (*System, error) {
	pool := workerpool.NewPool()
	sched := scheduler.New(pool, scheduler.Hooks{}, 0)
	sink := metrics.NewSink()

	s := &System{scheduler: sched, pool: pool, metrics: sink}

	for _, d := range cfg.Destinations {
		numWorkers := d.Workers
		if numWorkers <= 0 {
			numWorkers = 1
		}

		dst := &destination{name: d.Name}
		for i := 0; i < numWorkers; i++ {
			var store corecontract.PersistStore
			if cfg.PersistDir != "" {
				path := filepath.Join(cfg.PersistDir, fmt.Sprintf("%s.%d.json", d.Name, i))
				st, err := persist.Open(path)
				if err != nil {
					return nil, fmt.Errorf("core: opening persist store for %s worker %d: %w", d.Name, i, err)
				}
				store = st
			}

			transport, err := d.Factory(d.Name, i)
			if err != nil {
				return nil, fmt.Errorf("core: building transport for %s worker %d: %w", d.Name, i, err)
			}

			q := queue.New(queue.Config{
				Capacity:     cfg.Cfg.Capacity(),
				MaxThreads:   workerpool.MaxThreads,
				UseBacklog:   cfg.Cfg.UseBacklog(),
				ThrottleRate: cfg.Cfg.ThrottleRate(),
			})
			q.SetFlushRegistrar(func(t queue.ThreadID, cb func()) {
				pool.RegisterBatchCallback(workerpool.ThreadID(t), cb)
			})

			w := destworker.New(destworker.Config{
				DriverName:        d.Name,
				WorkerIndex:       i,
				BatchLines:        cfg.Cfg.BatchLines(),
				BatchTimeout:      msDuration(cfg.Cfg.BatchTimeoutMS()),
				ReopenDelay:       secDuration(cfg.Cfg.ReopenSec()),
				MaxRetries:        cfg.Cfg.MaxRetries(),
				MaxRetriesOnError: cfg.Cfg.MaxRetriesOnError(),
			}, q, transport, sink, store)

			dst.queues = append(dst.queues, q)
			dst.workers = append(dst.workers, w)
		}
		s.destinations = append(s.destinations, dst)
	}

	return s, nil
}

// Run spawns every destination worker in the pool, starts the scheduler's
// reactor loop, and blocks until ctx is cancelled or the scheduler
// terminates on its own (SIGTERM/SIGINT).
func (s *System) Run(ctx context.Context) error {
	for _, dst := range s.destinations {
		for _, w := range dst.workers {
			w := w
			_, ok := s.pool.Spawn(ctx, func(ctx context.Context, id workerpool.ThreadID, started func(ok bool)) {
				w.Run(ctx, s.pool, started)
			})
			if !ok {
				slog.Warn("core: destination worker could not be spawned, thread registry exhausted", slog.String("destination", dst.name))
			}
		}
	}

	return s.scheduler.Run(ctx)
}

// Stop cancels every running worker's context. Run's caller should cancel
// the ctx it passed to Run instead of calling this directly in normal
// operation; Stop exists for callers (such as tests) that hold a *System
// without holding that ctx's cancel func.
func (s *System) Stop() {
	s.pool.Stop()
}

// Destination returns the queue and workers for a configured destination
// name, or nil if no such destination was configured. Intended for tests
// and for the stats-dump control command that cmd/logrelayd serves.
func (s *System) Destination(name string) (queues []*queue.Queue, workers []*destworker.Worker) {
	for _, d := range s.destinations {
		if d.name == name {
			return d.queues, d.workers
		}
	}
	return nil, nil
}

// DestinationNames lists every configured destination name, in
// configuration order, for callers (such as a stats-dump control command)
// that want to enumerate all of them.
func (s *System) DestinationNames() []string {
	names := make([]string, len(s.destinations))
	for i, d := range s.destinations {
		names[i] = d.name
	}
	return names
}

// Metrics returns the system's metrics sink, for mounting its HTTP handler
// (via metrics.Sink.Handler) in cmd/logrelayd.
func (s *System) Metrics() *metrics.Sink { return s.metrics }

func msDuration(ms int) time.Duration  { return time.Duration(ms) * time.Millisecond }
func secDuration(sec int) time.Duration { return time.Duration(sec) * time.Second }
