// Package htlc implements the per-chain escrow contract (§4.6): lock, claim,
// and refund against a HASH160 hashlock and a timeout. Grounded on
// original_source/connectors/solana/htlc-contract/src/lib.rs's
// blacktrace_htlc program (the same lock/claim/refund state machine
// originally expressed as an Anchor on-chain program), rewritten as a Go
// in-process ledger the way the teacher's contractcourt package models
// on-chain contract state as plain structs guarded by a registry
// (contractcourt/htlc_timeout_resolver.go's htlcTimeoutResolver tracks
// resolved/outputIncubating booleans the same shape as Escrow's
// claimed/refunded booleans here).
package htlc

import (
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/blacktrace-labs/blacktrace/internal/errs"
	"github.com/blacktrace-labs/blacktrace/internal/ids"
)

// protocolTag scopes AccountKey derivation to BlackTrace, so its escrow
// accounts never collide with another protocol's deterministic key
// derived from the same hashlock, per §6's "(protocol_tag, hash_lock)"
// account key derivation.
var protocolTag = []byte("blacktrace/htlc/v1")

// AccountKey deterministically derives the on-chain account location for
// an escrow from (protocol_tag, hash_lock), per §6's External Interfaces
// ABI note: "chosen so both parties compute the same location."
func AccountKey(hashLock ids.HashLock) chainhash.Hash {
	sum := chainhash.DoubleHashB(append(append([]byte{}, protocolTag...), hashLock[:]...))
	h, _ := chainhash.NewHash(sum)
	return *h
}

func defaultNowUnix() int64 {
	return time.Now().Unix()
}

// Escrow is one locked HTLC account, mirroring the Solana program's HTLC
// account layout field for field.
type Escrow struct {
	HashLock   ids.HashLock
	AccountKey chainhash.Hash
	Sender     ids.PeerID
	Receiver   ids.PeerID
	Amount     uint64
	Timeout    int64 // unix seconds after which the sender may refund

	Claimed  bool
	Refunded bool
}

// ClaimedEvent is emitted when a receiver successfully reveals the secret,
// mirroring the source program's Claimed event.
type ClaimedEvent struct {
	HashLock ids.HashLock
	Secret   ids.SecretPreimage
	Amount   uint64
}

// RefundedEvent is emitted when a sender reclaims funds after timeout.
type RefundedEvent struct {
	HashLock ids.HashLock
	Amount   uint64
}

// Ledger tracks every Escrow this node knows about, keyed by hashlock,
// playing the registry role contractcourt's chainWatcher and resolver set
// play for on-chain contract state — here entirely in memory, since
// BlackTrace's Non-goals exclude durable storage across restarts.
type Ledger struct {
	mu      sync.Mutex
	escrows map[ids.HashLock]*Escrow
	nowUnix func() int64
}

// NewLedger creates an empty escrow ledger. nowUnix defaults to the wall
// clock; tests may override it to exercise timeout boundaries
// deterministically.
func NewLedger(nowUnix func() int64) *Ledger {
	if nowUnix == nil {
		nowUnix = defaultNowUnix
	}
	return &Ledger{
		escrows: make(map[ids.HashLock]*Escrow),
		nowUnix: nowUnix,
	}
}

// Lock creates a new escrow locking amount under hashLock, payable to
// receiver, refundable to sender after timeout. Mirrors the source
// program's lock instruction and its InvalidTimeout/InvalidAmount guards.
func (l *Ledger) Lock(hashLock ids.HashLock, sender, receiver ids.PeerID, amount uint64, timeout int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if timeout <= l.nowUnix() {
		return errs.New(errs.KindInvalidStateTransition, "htlc timeout %d is not in the future", timeout)
	}
	if amount == 0 {
		return errs.New(errs.KindInvalidProposal, "htlc amount must be nonzero")
	}
	if _, exists := l.escrows[hashLock]; exists {
		return errs.New(errs.KindInvalidStateTransition, "htlc %v already locked", hashLock)
	}

	l.escrows[hashLock] = &Escrow{
		HashLock:   hashLock,
		AccountKey: AccountKey(hashLock),
		Sender:     sender,
		Receiver:   receiver,
		Amount:     amount,
		Timeout:    timeout,
	}
	return nil
}

// Claim reveals secret against the escrow identified by hashLock on behalf
// of caller. Requires the escrow exist, be neither claimed nor refunded,
// caller equal Escrow.Receiver, and HASH160(secret) equal hashLock (§4.6
// claim) — mirroring the source program's
// require!(ctx.accounts.receiver.key() == htlc.receiver, ...) guard.
func (l *Ledger) Claim(hashLock ids.HashLock, caller ids.PeerID, secret ids.SecretPreimage) (ClaimedEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.escrows[hashLock]
	if !ok {
		return ClaimedEvent{}, errs.New(errs.KindOrderNotFound, "no htlc locked under %v", hashLock)
	}
	if e.Claimed {
		return ClaimedEvent{}, errs.New(errs.KindInvalidStateTransition, "htlc %v already claimed", hashLock)
	}
	if e.Refunded {
		return ClaimedEvent{}, errs.New(errs.KindInvalidStateTransition, "htlc %v already refunded", hashLock)
	}
	if caller != e.Receiver {
		return ClaimedEvent{}, errs.New(errs.KindNotReceiver, "%v is not the receiver of htlc %v", caller, hashLock)
	}
	if secret.HashLock() != hashLock {
		return ClaimedEvent{}, errs.New(errs.KindSecretHashMismatch, "secret does not hash to %v", hashLock)
	}

	e.Claimed = true

	return ClaimedEvent{HashLock: hashLock, Secret: secret, Amount: e.Amount}, nil
}

// Refund reclaims funds back to caller once the timeout has passed (§4.6
// refund / end-to-end scenario 3), requiring caller equal Escrow.Sender —
// mirroring the source program's require!(ctx.accounts.sender.key() ==
// htlc.sender, ...) guard.
func (l *Ledger) Refund(hashLock ids.HashLock, caller ids.PeerID) (RefundedEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.escrows[hashLock]
	if !ok {
		return RefundedEvent{}, errs.New(errs.KindOrderNotFound, "no htlc locked under %v", hashLock)
	}
	if e.Claimed {
		return RefundedEvent{}, errs.New(errs.KindInvalidStateTransition, "htlc %v already claimed", hashLock)
	}
	if e.Refunded {
		return RefundedEvent{}, errs.New(errs.KindInvalidStateTransition, "htlc %v already refunded", hashLock)
	}
	if caller != e.Sender {
		return RefundedEvent{}, errs.New(errs.KindNotSender, "%v is not the sender of htlc %v", caller, hashLock)
	}
	if l.nowUnix() < e.Timeout {
		return RefundedEvent{}, errs.New(errs.KindTimelockNotExpired,
			"htlc %v timeout %d not yet reached", hashLock, e.Timeout)
	}

	e.Refunded = true

	return RefundedEvent{HashLock: hashLock, Amount: e.Amount}, nil
}

// Get returns a copy of the escrow state for hashLock, if any.
func (l *Ledger) Get(hashLock ids.HashLock) (Escrow, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.escrows[hashLock]
	if !ok {
		return Escrow{}, false
	}
	return *e, true
}
