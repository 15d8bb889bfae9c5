// Command logrelayd is the daemon entry point: it loads configuration,
// assembles the core (internal/core), starts the local control socket, and
// runs until a termination signal completes its shutdown sequence. It is
// grounded on the teacher's cmd/queue/main.go (panic recovery, ldflags
// version injection, cobra command construction).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/logrelay/internal/config"
	"github.com/ChuLiYu/logrelay/internal/core"
	"github.com/ChuLiYu/logrelay/pkg/corecontract"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "logrelayd: fatal error: %v\n", r)
			os.Exit(1)
		}
	}()

	var configPath, persistDir, socketPath string

	root := &cobra.Command{
		Use:     "logrelayd",
		Short:   "Run the logrelay message-flow core as a daemon",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, persistDir, socketPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "logrelay.yaml", "config file path")
	root.Flags().StringVar(&persistDir, "persist-dir", "", "directory for per-destination sequence number persistence (disabled if empty)")
	root.Flags().StringVar(&socketPath, "control-socket", "/tmp/logrelayd.sock", "path to the local control IPC socket")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "logrelayd: %v\n", err)
		os.Exit(1)
	}
}

// run implements the exit-code contract: 1 for configuration errors, 2 for
// persist-state init errors, 0 on clean shutdown.
func run(configPath, persistDir, socketPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logrelayd: configuration error: %v\n", err)
		os.Exit(1)
	}

	sys, err := core.New(core.Config{
		Cfg:        cfg,
		PersistDir: persistDir,
		Destinations: []core.Destination{
			{
				Name:    "stdout",
				Workers: cfg.NumWorkers(),
				Factory: func(name string, idx int) (corecontract.Transport, error) {
					return newStdoutTransport(name), nil
				},
			},
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logrelayd: persist-state init error: %v\n", err)
		os.Exit(2)
	}

	listener, err := startControlServer(socketPath, sys)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logrelayd: control socket error: %v\n", err)
		os.Exit(2)
	}
	defer listener.Close()

	slog.Info("logrelayd: starting", slog.String("config", configPath), slog.String("control_socket", socketPath))

	if err := sys.Run(context.Background()); err != nil {
		return err
	}
	slog.Info("logrelayd: clean shutdown")
	return nil
}
