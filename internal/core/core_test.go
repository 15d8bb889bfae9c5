package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChuLiYu/logrelay/internal/config"
	"github.com/ChuLiYu/logrelay/pkg/corecontract"
)

type countingTransport struct {
	inserted atomic.Int64
}

func (c *countingTransport) Connect(ctx context.Context) error { return nil }
func (c *countingTransport) Disconnect()                        {}
func (c *countingTransport) Insert(ctx context.Context, msg any) corecontract.Result {
	c.inserted.Add(1)
	return corecontract.ResultSuccess
}
func (c *countingTransport) Flush(ctx context.Context) corecontract.Result {
	return corecontract.ResultSuccess
}

func TestSystemAssemblesOneQueuePerWorker(t *testing.T) {
	cfg := config.FromFile(config.File{})
	tr := &countingTransport{}

	sys, err := New(Config{
		Cfg: cfg,
		Destinations: []Destination{
			{
				Name:    "console",
				Workers: 2,
				Factory: func(name string, idx int) (corecontract.Transport, error) { return tr, nil },
			},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	queues, workers := sys.Destination("console")
	if len(queues) != 2 || len(workers) != 2 {
		t.Fatalf("queues=%d workers=%d, want 2 and 2", len(queues), len(workers))
	}
}

func TestSystemRunSpawnsWorkersAndRespectsCancellation(t *testing.T) {
	cfg := config.FromFile(config.File{})
	tr := &countingTransport{}

	sys, err := New(Config{
		Cfg: cfg,
		Destinations: []Destination{
			{
				Name:    "console",
				Workers: 1,
				Factory: func(name string, idx int) (corecontract.Transport, error) { return tr, nil },
			},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sys.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("System.Run did not return after context cancellation")
	}
}

func TestUnknownDestinationReturnsNil(t *testing.T) {
	cfg := config.FromFile(config.File{})
	sys, err := New(Config{Cfg: cfg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	queues, workers := sys.Destination("nope")
	if queues != nil || workers != nil {
		t.Fatalf("expected nil, nil for an unconfigured destination")
	}
}
