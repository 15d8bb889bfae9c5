// Command logrelayctl is the control-plane CLI for a running logrelayd: it
// speaks the local IPC endpoint's line protocol over a unix socket to issue
// reload, reopen, stop, and stats-dump, and independently validates a
// config file with verify-config (which needs no running daemon at all).
// It is grounded on the teacher's internal/cli command-tree layout.
package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/logrelay/internal/config"
)

func main() {
	var socketPath string

	root := &cobra.Command{
		Use:   "logrelayctl",
		Short: "Control a running logrelayd instance",
	}
	root.PersistentFlags().StringVar(&socketPath, "control-socket", "/tmp/logrelayd.sock", "path to the daemon's control IPC socket")

	for _, cmdName := range []string{"reload", "reopen", "stop", "stats-dump"} {
		cmdName := cmdName
		root.AddCommand(&cobra.Command{
			Use:   cmdName,
			Short: fmt.Sprintf("Send %q to the daemon's control socket", cmdName),
			RunE: func(cmd *cobra.Command, args []string) error {
				return sendCommand(socketPath, cmdName)
			},
		})
	}

	var configPath string
	verifyCmd := &cobra.Command{
		Use:   "verify-config",
		Short: "Parse a config file without starting or contacting a daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return verifyConfig(configPath)
		},
	}
	verifyCmd.Flags().StringVarP(&configPath, "config", "c", "logrelay.yaml", "config file path")
	root.AddCommand(verifyCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "logrelayctl: %v\n", err)
		os.Exit(1)
	}
}

func sendCommand(socketPath, command string) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logrelayctl: connecting to %s: %v\n", socketPath, err)
		os.Exit(1)
	}
	defer conn.Close()

	if _, err := fmt.Fprintln(conn, command); err != nil {
		return err
	}

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			fmt.Print(line)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func verifyConfig(path string) error {
	if _, err := config.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "logrelayctl: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s: ok\n", path)
	return nil
}
