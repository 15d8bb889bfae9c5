// Package corecontract defines the abstract interfaces the core consumes at
// its boundary: Transport, MetricsSink, PersistStore, and ConfigProvider.
// Nothing in internal/queue, internal/destworker, internal/scheduler, or
// internal/workerpool imports a concrete transport, metrics, or storage
// backend directly — they only ever see these interfaces, so that codecs,
// metric backends, and persistence strategies stay external collaborators.
package corecontract

import "context"

// Result is the outcome of a single Transport.Insert or Transport.Flush
// call. Destination workers interpret it to decide whether to ack, rewind,
// drop, or suspend the current batch.
type Result int

const (
	// ResultSuccess accepts the current message and any prior buffered
	// messages; the worker acks the whole batch.
	ResultSuccess Result = iota
	// ResultQueued means the transport buffered the message internally;
	// the worker enables batching and keeps going without acking yet.
	ResultQueued
	// ResultDrop is a permanent failure; the batch is dropped and the
	// worker suspends.
	ResultDrop
	// ResultError is transient; retried up to a configured limit before
	// the batch is dropped.
	ResultError
	// ResultNotConnected means the transport lost its connection
	// mid-batch; the retry counter resets, the batch rewinds, the worker
	// suspends and reconnects.
	ResultNotConnected
	// ResultRetry is transient like ResultError but tracked with its own
	// counter and, unlike ResultError, does not suspend until its own
	// limit is reached (at which point it is treated as
	// ResultNotConnected).
	ResultRetry
	// ResultExplicitAckMgmt tells the worker to take no implicit action on
	// the batch: it neither acks nor rewinds it and only resets its batch
	// count. The worker exposes no ack or rewind method a transport could
	// call to settle those messages later.
	ResultExplicitAckMgmt
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "SUCCESS"
	case ResultQueued:
		return "QUEUED"
	case ResultDrop:
		return "DROP"
	case ResultError:
		return "ERROR"
	case ResultNotConnected:
		return "NOT_CONNECTED"
	case ResultRetry:
		return "RETRY"
	case ResultExplicitAckMgmt:
		return "EXPLICIT_ACK_MGMT"
	default:
		return "UNKNOWN"
	}
}

// Transport is the opaque delivery endpoint a destination worker pumps
// messages into. Implementations own their own wire protocol; the core
// never inspects message bytes beyond calling Format for codec-heavy
// transports that want to pre-render before Insert.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	Insert(ctx context.Context, msg any) Result
	Flush(ctx context.Context) Result
}

// Formatter is an optional capability a Transport may also implement when
// it wants the worker to pre-render a message to bytes before Insert,
// instead of accepting the opaque message value directly.
type Formatter interface {
	Format(msg any) ([]byte, error)
}

// MetricsSink is the abstract counter/gauge backend the core emits named
// measurements through. Handles are opaque and returned by the Register*
// calls; Add/Set/Inc/Dec operate on a previously registered handle.
type MetricsSink interface {
	RegisterCounter(name string, labels map[string]string) (handle any, err error)
	RegisterGauge(name string, labels map[string]string) (handle any, err error)
	Add(handle any, n float64)
	Set(handle any, n float64)
	Inc(handle any)
	Dec(handle any)
}

// PersistStore is the opaque, versioned key/value store used for the
// per-driver sequence number and, in reliable mode, queue head/tail
// pointers. All values are length-prefixed byte blobs; callers stage writes
// with Put and make them visible with Commit, or discard the stage with
// Cancel.
type PersistStore interface {
	Get(key string) (value []byte, ok bool, err error)
	Put(key string, value []byte) error
	Commit() error
	Cancel() error
}

// MarkMode selects when MARK messages are generated by a source/destination
// pairing; the core only threads the value through, it does not interpret
// it.
type MarkMode int

const (
	MarkModeNone MarkMode = iota
	MarkModeGlobal
	MarkModeDstIdle
	MarkModeHostIdle
	MarkModeInternal
	MarkModePeriodical
)

// ConfigProvider supplies the read-only scalars the core needs at init.
// There is no grammar or file format implied here; internal/config
// provides one concrete YAML-backed implementation, but the core only ever
// depends on this interface.
type ConfigProvider interface {
	Capacity() int
	BatchLines() int
	BatchTimeoutMS() int
	ReopenSec() int
	MaxRetries() int
	MaxRetriesOnError() int
	NumWorkers() int
	ThrottleRate() int
	UseBacklog() bool
	MarkMode() MarkMode
}
