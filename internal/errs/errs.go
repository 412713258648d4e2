// Package errs defines the BlackTrace error taxonomy. Every error surfaced
// by the core subsystems carries a Kind so callers can match on failure
// category the way the rest of the codebase expects, while still wrapping
// github.com/go-errors/errors so a stack trace is available for logging —
// the same pattern peer.go and htlcswitch/switch.go use for their errors.
package errs

import (
	"errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Kind enumerates the categories of error BlackTrace can produce.
type Kind int

const (
	// Transport errors.
	KindNetworkConnection Kind = iota
	KindMessageRouting
	KindPeerNotFound
	KindPeerTimeout

	// Crypto errors.
	KindProofGeneration
	KindProofVerification
	KindInvalidSecret
	KindSecretHashMismatch

	// Order/session errors.
	KindOrderNotFound
	KindOrderExpired
	KindSessionNotFound
	KindInvalidStateTransition
	KindInvalidProposal
	KindNullifierReused
	KindInsufficientBalance
	KindNotReceiver
	KindNotSender

	// Settlement errors.
	KindSettlementFailed
	KindTimelockNotExpired
	KindTimelockExpired
	KindInsufficientConfirmations

	// Encoding errors.
	KindSerialization
	KindDeserialization
	KindHexDecode
)

var kindNames = map[Kind]string{
	KindNetworkConnection:         "network_connection",
	KindMessageRouting:            "message_routing",
	KindPeerNotFound:              "peer_not_found",
	KindPeerTimeout:               "peer_timeout",
	KindProofGeneration:           "proof_generation",
	KindProofVerification:         "proof_verification",
	KindInvalidSecret:             "invalid_secret",
	KindSecretHashMismatch:        "secret_hash_mismatch",
	KindOrderNotFound:             "order_not_found",
	KindOrderExpired:              "order_expired",
	KindSessionNotFound:           "session_not_found",
	KindInvalidStateTransition:    "invalid_state_transition",
	KindInvalidProposal:           "invalid_proposal",
	KindNullifierReused:           "nullifier_reused",
	KindInsufficientBalance:       "insufficient_balance",
	KindNotReceiver:               "not_receiver",
	KindNotSender:                 "not_sender",
	KindSettlementFailed:          "settlement_failed",
	KindTimelockNotExpired:        "timelock_not_expired",
	KindTimelockExpired:           "timelock_expired",
	KindInsufficientConfirmations: "insufficient_confirmations",
	KindSerialization:             "serialization",
	KindDeserialization:           "deserialization",
	KindHexDecode:                 "hex_decode",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error is a BlackTrace error: a Kind plus a wrapped go-errors/errors for
// stack-trace capable logging.
type Error struct {
	Kind Kind
	err  *goerrors.Error
}

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind: kind,
		err:  goerrors.Errorf(format, args...),
	}
}

// Wrap creates an Error of the given kind wrapping an existing error,
// preserving its stack trace if it already carries one.
func Wrap(kind Kind, err error) *Error {
	return &Error{
		Kind: kind,
		err:  goerrors.Wrap(err, 1),
	}
}

func (e *Error) Error() string {
	return e.err.Error()
}

// Unwrap allows errors.Is / errors.As to see through to the error the
// underlying go-errors/errors value wraps.
func (e *Error) Unwrap() error {
	return e.err.Err
}

// ErrorStack returns the formatted stack trace captured at creation time,
// mirroring go-errors/errors' own ErrorStack() used elsewhere in the
// codebase for panic-free diagnostics.
func (e *Error) ErrorStack() string {
	return e.err.ErrorStack()
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var bte *Error
	if errors.As(err, &bte) {
		return bte.Kind == kind
	}
	return false
}

// InsufficientBalanceDetail is the structured variant carrying required/available
// amounts, matching the Rust prototype's
// BlackTraceError::InsufficientBalance { required, available }.
type InsufficientBalanceDetail struct {
	Required  uint64
	Available uint64
}

// NewInsufficientBalance builds a KindInsufficientBalance error with the
// standard message shape.
func NewInsufficientBalance(required, available uint64) *Error {
	return New(KindInsufficientBalance,
		"insufficient balance: required %d, available %d", required, available)
}

// InsufficientConfirmationsDetail mirrors
// BlackTraceError::InsufficientConfirmations { current, required }.
type InsufficientConfirmationsDetail struct {
	Current  uint32
	Required uint32
}

// NewInsufficientConfirmations builds a KindInsufficientConfirmations error.
func NewInsufficientConfirmations(current, required uint32) *Error {
	return New(KindInsufficientConfirmations,
		"insufficient confirmations: %d/%d", current, required)
}

// compile-time check that Kind satisfies fmt.Stringer, so kinds render by
// name in logs.
var _ fmt.Stringer = Kind(0)
