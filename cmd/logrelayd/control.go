package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/ChuLiYu/logrelay/internal/core"
)

// controlServer implements the local IPC endpoint the source specification
// describes: a listener that accepts reload, reopen, stop, and stats-dump
// commands. reload/reopen/stop are delivered to this same process as the
// signals the scheduler's reactor already knows how to handle (SIGHUP,
// SIGUSR1, SIGTERM); stats-dump is answered directly since it only reads
// in-process state. verify-config is intentionally not handled here — it
// never needs a running daemon, so cmd/logrelayctl implements it by loading
// the config file itself.
type controlServer struct {
	sys *core.System
}

func startControlServer(socketPath string, sys *core.System) (*net.UnixListener, error) {
	os.Remove(socketPath)
	addr, err := net.ResolveUnixAddr("unix", socketPath)
	if err != nil {
		return nil, err
	}
	l, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, err
	}

	srv := &controlServer{sys: sys}
	go srv.acceptLoop(l)
	return l, nil
}

func (s *controlServer) acceptLoop(l *net.UnixListener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			return // listener closed
		}
		go s.handle(conn)
	}
}

func (s *controlServer) handle(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}
	cmd := strings.TrimSpace(scanner.Text())

	switch cmd {
	case "reload":
		syscall.Kill(os.Getpid(), syscall.SIGHUP)
		fmt.Fprintln(conn, "ok")
	case "reopen":
		syscall.Kill(os.Getpid(), syscall.SIGUSR1)
		fmt.Fprintln(conn, "ok")
	case "stop":
		syscall.Kill(os.Getpid(), syscall.SIGTERM)
		fmt.Fprintln(conn, "ok")
	case "stats-dump":
		s.writeStats(conn)
	default:
		slog.Warn("logrelayd: unknown control command", slog.String("command", cmd))
		fmt.Fprintf(conn, "error: unknown command %q\n", cmd)
	}
}

func (s *controlServer) writeStats(conn net.Conn) {
	for _, name := range s.sys.DestinationNames() {
		queues, workers := s.sys.Destination(name)
		for i, q := range queues {
			w := workers[i]
			fmt.Fprintf(conn, "%s.%d queued=%d dropped=%d backlog=%d state=%s processed=%d written=%d suppressed=%d\n",
				name, i, q.Len(), q.Dropped(), q.BacklogLen(), w.State(),
				w.Counters.Processed, w.Counters.Written, w.Counters.Suppressed)
		}
	}
}
