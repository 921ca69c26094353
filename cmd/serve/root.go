// Package serve starts a long-running blackwidow session: it opens the
// five typed engines once under --data-dir and keeps them open while
// reading commands from stdin, rather than paying the open/close cost of
// cmd/widow's one-shot subcommands for every line.
//
// It is an operator REPL, not a network server: spec.md §1 rules
// top-level command routing and network/CLI framing out of scope for the
// core, so this reads lines from stdin rather than accepting
// connections. The teacher's cmd/serve/root.go started a long-lived RPC
// server/raft node host with explicit shutdown; this keeps that same
// "start once, run until signaled, shut down cleanly" shape for the
// background compaction worker the engine owns.
package serve

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	cmdutil "github.com/justforfun1323/blackwidow/cmd/util"
	"github.com/justforfun1323/blackwidow/cmd/widow"
	"github.com/justforfun1323/blackwidow/internal/engine"
	"github.com/justforfun1323/blackwidow/internal/logging"
)

var log = logging.GetLogger("serve")

// ServeCmd opens a session against --data-dir and reads commands from
// stdin until EOF or a termination signal.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open a long-running blackwidow session and read commands from stdin",
	RunE:  run,
}

func init() {
	cobra.OnInitialize(cmdutil.InitConfig)
	cmdutil.AddEngineFlags(ServeCmd)
}

func run(cmd *cobra.Command, _ []string) error {
	if err := cmdutil.BindCommandFlags(cmd); err != nil {
		return err
	}

	opts := cmdutil.EngineOptions()
	dataDir := cmdutil.DataDir()

	log.Infof("opening blackwidow session at %s", dataDir)
	e, err := engine.Open(dataDir, opts)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			log.Infof("received %s, shutting down", sig)
		case <-done:
		}
		if err := e.Close(); err != nil {
			log.Errorf("close engine: %v", err)
		}
	}()
	defer close(done)

	fmt.Fprintln(os.Stdout, "blackwidow session ready. Type HELP for the command list, QUIT to exit.")
	return repl(e, os.Stdin, os.Stdout)
}

func repl(e *engine.Engine, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch strings.ToUpper(fields[0]) {
		case "QUIT", "EXIT":
			return nil
		case "HELP":
			fmt.Fprintln(out, strings.Join(widow.Commands(), " "))
			continue
		}

		reply, err := widow.Dispatch(e, fields)
		if err != nil {
			fmt.Fprintf(out, "(error) %v\n", err)
			continue
		}
		fmt.Fprintln(out, reply)
	}
}
