package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/ChuLiYu/logrelay/pkg/corecontract"
	"github.com/ChuLiYu/logrelay/pkg/message"
)

// stdoutTransport is the default corecontract.Transport this daemon wires
// up: it writes each message's body to stdout, one per line, prefixed with
// "[tag] " where tag is the destination's name. A real
// deployment supplies its own Transport (a syslog, OTel, or SQL driver);
// this one exists so the daemon is runnable and testable end-to-end
// without depending on an external endpoint, matching the source
// specification's own non-goal of not prescribing a wire protocol.
type stdoutTransport struct {
	mu  sync.Mutex
	w   *bufio.Writer
	tag string
}

func newStdoutTransport(tag string) *stdoutTransport {
	return &stdoutTransport{w: bufio.NewWriter(os.Stdout), tag: tag}
}

func (t *stdoutTransport) Connect(ctx context.Context) error { return nil }

func (t *stdoutTransport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.w.Flush()
}

func (t *stdoutTransport) Insert(ctx context.Context, msg any) corecontract.Result {
	m, ok := msg.(*message.Message)
	if !ok {
		return corecontract.ResultDrop
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "[%s] %s\n", t.tag, m.Body())
	return corecontract.ResultSuccess
}

func (t *stdoutTransport) Flush(ctx context.Context) corecontract.Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.w.Flush(); err != nil {
		return corecontract.ResultError
	}
	return corecontract.ResultSuccess
}
