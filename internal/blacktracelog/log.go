// Package blacktracelog centralizes btclog configuration the way the
// teacher's lnd.go/peer.go does with its package-level backendLog and
// per-subsystem loggers (ltndLog, peerLog, ...). Each BlackTrace package
// logs through the exported subsystem logger for its component
// (TransportLog, NegotiationLog, ...), all writing to one shared backend.
package blacktracelog

import (
	"os"
	"strings"

	"github.com/btcsuite/btclog"
)

// backendLog is the shared btclog backend all subsystem loggers write
// through, matching the teacher's lnd.go backendLog.
var backendLog = btclog.NewBackend(logWriter{})

// logWriter sends logged output to stdout, mirroring lnd's default console
// backend (file rotation is left to the operator's process supervisor,
// matching §1's framing of the CLI/logging surface as a collaborator).
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	return os.Stdout.Write(p)
}

// logClosure defers formatting a log argument until it is actually
// printed, matching the teacher's newLogClosure helper used by peer.go's
// logWireMessage to avoid spew.Sdump-ing every message at levels below
// trace.
type logClosure func() string

func (c logClosure) String() string {
	return c()
}

// NewLogClosure wraps fn so it satisfies fmt.Stringer, evaluated only if
// the logger actually renders the argument.
func NewLogClosure(fn func() string) logClosure {
	return logClosure(fn)
}

// NewSubsystemLogger creates a logger at btclog's default level (info) tagged with the
// given subsystem name, following the teacher's convention of a short
// all-caps tag (PEER, SRVR, ...).
func NewSubsystemLogger(tag string) btclog.Logger {
	return backendLog.Logger(tag)
}

// Subsystem loggers for each BlackTrace component, named after the
// component the way the teacher names ltndLog/peerLog/htsLog/fndgLog.
var (
	TransportLog   = NewSubsystemLogger("XPRT")
	NegotiationLog = NewSubsystemLogger("NEGO")
	SettlementLog  = NewSubsystemLogger("STTL")
	HTLCLog        = NewSubsystemLogger("HTLC")
	AppLog         = NewSubsystemLogger("APP ")
)

var subsystemLoggers = map[string]btclog.Logger{
	"XPRT": TransportLog,
	"NEGO": NegotiationLog,
	"STTL": SettlementLog,
	"HTLC": HTLCLog,
	"APP":  AppLog,
}

// SetLogLevels parses a comma-separated "SUBSYS=level" list (or a bare
// level applied to every subsystem) and applies it, the way the teacher's
// loadConfig --debuglevel flag does.
func SetLogLevels(levelSpec string) {
	if levelSpec == "" {
		return
	}

	if level, ok := btclog.LevelFromString(levelSpec); ok {
		for _, logger := range subsystemLoggers {
			logger.SetLevel(level)
		}
		return
	}

	for _, pair := range strings.Split(levelSpec, ",") {
		fields := strings.SplitN(pair, "=", 2)
		if len(fields) != 2 {
			continue
		}
		logger, ok := subsystemLoggers[strings.TrimSpace(fields[0])]
		level, levelOK := btclog.LevelFromString(strings.TrimSpace(fields[1]))
		if ok && levelOK {
			logger.SetLevel(level)
		}
	}
}
