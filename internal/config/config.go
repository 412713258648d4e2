// Package config loads BlackTrace node configuration, following the
// teacher's lnd.go/loadConfig pattern of a flags-annotated struct parsed by
// a jessevdk/go-flags parser (the modern fork of the vendored
// btcsuite/go-flags the teacher imports).
package config

import (
	"fmt"

	flags "github.com/jessevdk/go-flags"
)

// DefaultBusURL is used when BLACKTRACE_BUS_URL is unset, matching §6's
// "<bus>://localhost:<default-port>" convention — NATS' default port 4222.
const DefaultBusURL = "nats://localhost:4222"

// DefaultDebugLevel is the log level applied when --debuglevel is omitted.
const DefaultDebugLevel = "info"

// Config holds the node's command-line-configurable parameters.
type Config struct {
	Port       uint16 `long:"port" description:"TCP port to listen for peer connections on"`
	Connect    string `long:"connect" description:"address of a peer to dial on startup (host:port)"`
	DebugLevel string `long:"debuglevel" description:"logging level: trace, debug, info, warn, error, critical"`
	BusURL     string `long:"bus-url" env:"BLACKTRACE_BUS_URL" description:"pub/sub bus URL for the settlement coordinator"`
	NodeSeed   string `long:"node-id-seed" description:"deterministic seed for this node's identity keypair (test/dev use)"`
}

// Load parses args into a Config, applying the same defaults-then-override
// approach as the teacher's loadConfig (defaults first, flags second).
func Load(args []string) (*Config, error) {
	cfg := &Config{
		DebugLevel: DefaultDebugLevel,
		BusURL:     DefaultBusURL,
	}

	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}
