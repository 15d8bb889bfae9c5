package integration

import (
	"context"
	"testing"

	"github.com/ChuLiYu/logrelay/internal/queue"
	"github.com/ChuLiYu/logrelay/pkg/message"
)

// BenchmarkThroughput pushes b.N messages through one assembled
// destination and reports ns/op for the full PushTail+FlushInput+deliver
// path, mirroring the teacher's BenchmarkThroughput shape.
func BenchmarkThroughput(b *testing.B) {
	dir := b.TempDir()
	transport := newCountingTransport()
	sys := buildSystem(b, dir, transport)

	queues, _ := sys.Destination("sink")
	q := queues[0]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sys.Run(ctx)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.PushTail(queue.InvalidThreadID, message.New([]byte("line")), message.PathOptions{})
	}
	q.FlushInput(queue.InvalidThreadID)
	for i := 0; i < b.N; i++ {
		<-transport.written
	}
	b.StopTimer()
}
