// Package integration exercises the assembled core (internal/core) across
// its component boundaries rather than one package at a time, the way the
// teacher's test/integration suite exercises its controller end to end.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ChuLiYu/logrelay/internal/config"
	"github.com/ChuLiYu/logrelay/internal/core"
	"github.com/ChuLiYu/logrelay/internal/queue"
	"github.com/ChuLiYu/logrelay/pkg/corecontract"
	"github.com/ChuLiYu/logrelay/pkg/message"
)

type countingTransport struct {
	written chan struct{}
}

func newCountingTransport() *countingTransport {
	return &countingTransport{written: make(chan struct{}, 100000)}
}

func (c *countingTransport) Connect(ctx context.Context) error { return nil }
func (c *countingTransport) Disconnect()                        {}
func (c *countingTransport) Insert(ctx context.Context, msg any) corecontract.Result {
	c.written <- struct{}{}
	return corecontract.ResultSuccess
}
func (c *countingTransport) Flush(ctx context.Context) corecontract.Result {
	return corecontract.ResultSuccess
}

func buildSystem(t testing.TB, persistDir string, transport corecontract.Transport) *core.System {
	t.Helper()
	cfg := config.FromFile(config.File{})
	sys, err := core.New(core.Config{
		Cfg:        cfg,
		PersistDir: persistDir,
		Destinations: []core.Destination{
			{
				Name:    "sink",
				Workers: 1,
				Factory: func(name string, idx int) (corecontract.Transport, error) { return transport, nil },
			},
		},
	})
	if err != nil {
		t.Fatalf("core.New: %v", err)
	}
	return sys
}

// TestEndToEndMessageDelivery pushes messages directly onto a destination's
// queue and confirms the assembled system delivers every one of them
// through to the transport within a generous deadline.
func TestEndToEndMessageDelivery(t *testing.T) {
	dir := t.TempDir()
	transport := newCountingTransport()
	sys := buildSystem(t, dir, transport)

	queues, _ := sys.Destination("sink")
	if len(queues) != 1 {
		t.Fatalf("expected 1 queue, got %d", len(queues))
	}
	q := queues[0]

	const n = 200
	for i := 0; i < n; i++ {
		q.PushTail(queue.InvalidThreadID, message.New([]byte("line")), message.PathOptions{})
	}
	q.FlushInput(queue.InvalidThreadID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sys.Run(ctx)

	received := 0
	deadline := time.After(5 * time.Second)
	for received < n {
		select {
		case <-transport.written:
			received++
		case <-deadline:
			t.Fatalf("only %d/%d messages delivered before deadline", received, n)
		}
	}
}

// TestSeqnumSurvivesSystemRestart confirms a destination worker's persisted
// sequence number carries over when a fresh System is assembled against
// the same persist directory, the in-process analogue of a daemon restart.
func TestSeqnumSurvivesSystemRestart(t *testing.T) {
	dir := t.TempDir()
	transport := newCountingTransport()
	sys := buildSystem(t, dir, transport)

	queues, _ := sys.Destination("sink")
	q := queues[0]
	const n = 10
	for i := 0; i < n; i++ {
		q.PushTail(queue.InvalidThreadID, message.New([]byte("x")), message.PathOptions{})
	}
	q.FlushInput(queue.InvalidThreadID)

	ctx, cancel := context.WithCancel(context.Background())
	go sys.Run(ctx)

	for i := 0; i < n; i++ {
		select {
		case <-transport.written:
		case <-time.After(5 * time.Second):
			t.Fatalf("delivery timed out before first run completed")
		}
	}
	cancel()
	time.Sleep(50 * time.Millisecond)

	sys2 := buildSystem(t, dir, newCountingTransport())
	_, workers := sys2.Destination("sink")
	if workers[0].Seqnum() != n {
		t.Fatalf("seqnum after restart = %d, want %d", workers[0].Seqnum(), n)
	}
}

func TestPersistDirLayoutIsOnePerWorker(t *testing.T) {
	dir := t.TempDir()
	sys := buildSystem(t, dir, newCountingTransport())
	queues, _ := sys.Destination("sink")
	q := queues[0]
	q.PushTail(queue.InvalidThreadID, message.New([]byte("y")), message.PathOptions{})
	q.FlushInput(queue.InvalidThreadID)

	ctx, cancel := context.WithCancel(context.Background())
	go sys.Run(ctx)
	defer cancel()

	path := filepath.Join(dir, "sink.0.json")
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected a persist file at %s", path)
}
