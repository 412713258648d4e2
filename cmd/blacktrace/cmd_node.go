package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli"

	"github.com/blacktrace-labs/blacktrace/internal/app"
	"github.com/blacktrace-labs/blacktrace/internal/blacktracelog"
)

// nodeCommand starts a long-lived BlackTrace node: it listens for peers,
// optionally dials one on startup, and accepts order/negotiate/query
// commands on stdin until interrupted or EOF, sharing the exact dispatch
// logic the standalone subcommands use.
var nodeCommand = cli.Command{
	Name:  "node",
	Usage: "run a BlackTrace node, listening for peers and commands on stdin",
	Action: func(ctx *cli.Context) error {
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		blacktracelog.AppLog.Infof("node %v listening on %v", a.Self, a.Addr())

		stop := make(chan struct{})
		go a.Run(stop)
		defer close(stop)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		lines := make(chan string)
		go readStdinLines(lines)

		for {
			select {
			case <-sigCh:
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				runREPLLine(a, line)
			}
		}
	},
}

func readStdinLines(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// runREPLLine parses one stdin line as an "order|negotiate|query ..."
// command, runs it against the node's own App, and prints the result or
// error the way the one-shot subcommands do.
func runREPLLine(a *app.App, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	out, err := dispatch(a, fields)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	if out != "" {
		fmt.Println(out)
	}
}
