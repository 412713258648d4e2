// Command blacktrace is the node and control-plane CLI for BlackTrace,
// grounded on the teacher's cmd/lncli (urfave/cli.App with global
// connection flags and a flat Commands list), adapted from lncli's
// gRPC-client-to-a-running-daemon shape to a single in-process binary:
// BlackTrace has no RPC surface (§6), so `node` is the one command that
// keeps a façade alive, and the other subcommands are useful standalone
// for scripting and for the test suite that exercises them (§6's "CLI
// surface, specified only because tests exercise it").
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/blacktrace-labs/blacktrace/internal/blacktracelog"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[blacktrace] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "blacktrace"
	app.Usage = "peer-to-peer OTC settlement node"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "port",
			Value: 0,
			Usage: "TCP port to listen for peer connections on (0 picks a free port)",
		},
		cli.StringFlag{
			Name:  "connect",
			Usage: "address of a peer to dial on startup (host:port)",
		},
		cli.StringFlag{
			Name:  "debuglevel",
			Value: "info",
			Usage: "logging level: trace, debug, info, warn, error, critical",
		},
		cli.StringFlag{
			Name:  "bus-url",
			Value: "nats://localhost:4222",
			Usage: "pub/sub bus URL for the settlement coordinator",
		},
		cli.StringFlag{
			Name:  "node-id-seed",
			Usage: "deterministic seed for this node's identity keypair (test/dev use)",
		},
		cli.BoolFlag{
			Name:  "no-bus",
			Usage: "skip connecting to the settlement bus (order/negotiate-only usage)",
		},
	}
	app.Before = func(ctx *cli.Context) error {
		blacktracelog.SetLogLevels(ctx.GlobalString("debuglevel"))
		return nil
	}
	app.Commands = []cli.Command{
		nodeCommand,
		orderCommand,
		negotiateCommand,
		queryCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
