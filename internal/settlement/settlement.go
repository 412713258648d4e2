// Package settlement implements the atomic-swap coordinator (§4.4/§4.5): it
// takes signed negotiation terms, mints an HTLC secret, tracks lock status
// on both chains, and reveals the secret once both legs are locked. Grounded
// on original_source/blacktrace-go/settlement-service/src/main.rs's
// NATS-subscribed event processing loop and on the teacher's
// htlcswitch/switch.go htlcForwarder — a single goroutine selecting over
// multiple channels and dispatching to per-key state, generalized here from
// an in-process htlcPlex channel to two NATS subscriptions (settlement's
// "channels" per §4.5), the idiomatic Go analogue of async_nats.
package settlement

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/blacktrace-labs/blacktrace/internal/blacktracelog"
	"github.com/blacktrace-labs/blacktrace/internal/errs"
	"github.com/blacktrace-labs/blacktrace/internal/ids"
)

// Status tags a SettlementState's progress through the atomic swap, per
// §3's SettlementState.status enum.
type Status string

const (
	StatusReady        Status = "ready"
	StatusNativeLocked Status = "native_locked"
	StatusBothLocked   Status = "both_locked"
	StatusRevealed     Status = "revealed"
)

// State is the coordinator-side record for one in-flight swap, keyed by
// ProposalID, matching §3's SettlementState shape exactly.
type State struct {
	ProposalID       string
	OrderID          ids.OrderID
	MakerID          ids.PeerID
	TakerID          ids.PeerID
	NativeAmount     uint64
	StablecoinAmount uint64
	Secret           ids.SecretPreimage
	HashLock         ids.HashLock
	Status           Status
	NativeLocked     bool
	StableLocked     bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Request is published on settlement.request.<proposal_id> to kick off a
// new swap, mirroring the source service's SettlementRequest.
type Request struct {
	ProposalID       string      `json:"proposal_id"`
	OrderID          ids.OrderID `json:"order_id"`
	MakerID          ids.PeerID  `json:"maker_id"`
	TakerID          ids.PeerID  `json:"taker_id"`
	NativeAmount     uint64      `json:"native_amount"`
	StablecoinAmount uint64      `json:"stablecoin_amount"`
}

// LockEvent is published on settlement.status.<proposal_id> by each
// chain's watcher when a leg of the swap locks, per §4.5's native_lock /
// stable_lock events.
type LockEvent struct {
	ProposalID string `json:"proposal_id"`
	Leg        Leg    `json:"leg"`
}

// Leg identifies which chain's lock a LockEvent reports.
type Leg string

const (
	LegNative Leg = "native"
	LegStable Leg = "stable"
)

// HTLCParams is published on settlement.htlc.<proposal_id> once a secret is
// minted, carrying the public hashlock both chains' contracts lock against.
type HTLCParams struct {
	ProposalID        string `json:"proposal_id"`
	HashHex           string `json:"hash_hex"`
	NativeTimeoutUnix int64  `json:"native_timeout_unix"`
	StableTimeoutUnix int64  `json:"stable_timeout_unix"`
}

// SecretReveal is published on settlement.secret.<proposal_id> once both
// legs are locked, per §4.5 step 4.
type SecretReveal struct {
	ProposalID              string `json:"proposal_id"`
	SecretHex               string `json:"secret_hex"`
	HashHex                 string `json:"hash_hex"`
	MakerCanClaim           bool   `json:"maker_can_claim"`
	TakerCanClaimAfterMaker bool   `json:"taker_can_claim_after_maker"`
	Ts                      int64  `json:"ts"`
}

// nativeLockLead is how much longer the stable chain's timelock must run
// past the native chain's, so the maker can safely observe the taker's
// on-chain claim and still have time to claim on the other chain before its
// own timeout (§4.6 cross-chain safety argument).
const nativeLockLead = 2 * time.Hour

// Coordinator runs the settlement event loop: one goroutine selects over a
// request subscription and a lock-status subscription, the same "single
// select loop over multiple channels" shape as htlcswitch/switch.go's
// htlcForwarder. The SettlementState map is guarded by mu, since
// HandleRequest, HandleLockEvent and State may also be called directly from
// other goroutines.
type Coordinator struct {
	nc *nats.Conn

	mu     sync.Mutex
	states map[string]*State

	// publish sends a marshaled message on subject. It defaults to
	// publishing on nc, but tests substitute a recording stub so the
	// event-handling logic can be exercised without a live NATS server.
	publish func(subject string, v interface{})

	reqSub    *nats.Subscription
	statusSub *nats.Subscription

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewCoordinator connects to the pub/sub bus at busURL and subscribes to
// settlement.request.* and settlement.status.* (§4.5).
func NewCoordinator(busURL string) (*Coordinator, error) {
	nc, err := nats.Connect(busURL)
	if err != nil {
		return nil, errs.Wrap(errs.KindNetworkConnection, err)
	}

	c := &Coordinator{
		nc:     nc,
		states: make(map[string]*State),
		quit:   make(chan struct{}),
	}
	c.publish = c.publishToBus

	reqCh := make(chan *nats.Msg, 64)
	reqSub, err := nc.ChanSubscribe("settlement.request.*", reqCh)
	if err != nil {
		nc.Close()
		return nil, errs.Wrap(errs.KindNetworkConnection, err)
	}
	c.reqSub = reqSub

	statusCh := make(chan *nats.Msg, 64)
	statusSub, err := nc.ChanSubscribe("settlement.status.*", statusCh)
	if err != nil {
		reqSub.Unsubscribe()
		nc.Close()
		return nil, errs.Wrap(errs.KindNetworkConnection, err)
	}
	c.statusSub = statusSub

	c.wg.Add(1)
	go c.eventLoop(reqCh, statusCh)

	return c, nil
}

// eventLoop is the coordinator's single select loop: it handles every
// request and lock-status message from the bus in one goroutine, in
// arrival order; each handler takes mu while it reads or updates the state
// map, so a single proposal's updates are serialized.
//
// NOTE: This method MUST be run as a goroutine.
func (c *Coordinator) eventLoop(reqCh, statusCh chan *nats.Msg) {
	defer c.wg.Done()

	for {
		select {
		case msg := <-reqCh:
			c.HandleRequest(msg.Data)

		case msg := <-statusCh:
			c.HandleLockEvent(msg.Data)

		case <-c.quit:
			return
		}
	}
}

// HandleRequest processes a new settlement request: mints a secret,
// creates a StatusReady state, and publishes HTLCParams (§4.4/§4.5 steps
// 1-2). Exported so tests can drive the coordinator's logic directly
// without a live NATS connection, the same "business logic separate from
// the wire loop" split the teacher's htlcswitch package draws between
// handlePacketForward and the channel plumbing around it.
func (c *Coordinator) HandleRequest(data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		blacktracelog.SettlementLog.Warnf("malformed settlement request: %v", err)
		return
	}

	secret, err := ids.NewSecretPreimage()
	if err != nil {
		blacktracelog.SettlementLog.Errorf("unable to mint secret for %v: %v", req.ProposalID, err)
		return
	}
	hashLock := secret.HashLock()

	now := time.Now()
	state := &State{
		ProposalID:       req.ProposalID,
		OrderID:          req.OrderID,
		MakerID:          req.MakerID,
		TakerID:          req.TakerID,
		NativeAmount:     req.NativeAmount,
		StablecoinAmount: req.StablecoinAmount,
		Secret:           secret,
		HashLock:         hashLock,
		Status:           StatusReady,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	c.mu.Lock()
	c.states[req.ProposalID] = state
	c.mu.Unlock()

	nativeTimeout := now.Add(24 * time.Hour).Unix()
	stableTimeout := now.Add(24*time.Hour + nativeLockLead).Unix()

	c.publish("settlement.htlc."+req.ProposalID, HTLCParams{
		ProposalID:        req.ProposalID,
		HashHex:           hashLock.Hex(),
		NativeTimeoutUnix: nativeTimeout,
		StableTimeoutUnix: stableTimeout,
	})

	blacktracelog.SettlementLog.Infof("%v: ready, hash_lock=%v", req.ProposalID, hashLock)
}

// HandleLockEvent applies a native_lock or stable_lock event to its
// proposal's state, advancing status and revealing the secret once both
// flags are true (§4.5 steps 2-4). Exported for the same testability
// reason as HandleRequest.
func (c *Coordinator) HandleLockEvent(data []byte) {
	var ev LockEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		blacktracelog.SettlementLog.Warnf("malformed lock event: %v", err)
		return
	}

	c.mu.Lock()
	state, ok := c.states[ev.ProposalID]
	if !ok {
		c.mu.Unlock()
		blacktracelog.SettlementLog.Warnf("lock event for unknown proposal %v", ev.ProposalID)
		return
	}

	if state.Status == StatusRevealed {
		// Idempotent: re-delivery after reveal is a no-op (§4.5
		// Idempotency).
		c.mu.Unlock()
		return
	}

	switch ev.Leg {
	case LegNative:
		state.NativeLocked = true
	case LegStable:
		state.StableLocked = true
	default:
		c.mu.Unlock()
		blacktracelog.SettlementLog.Warnf("unknown lock leg %q for %v", ev.Leg, ev.ProposalID)
		return
	}
	state.UpdatedAt = time.Now()

	// Per §4.5, only native_lock alone has a named intermediate status
	// (native_locked); a solo stable_lock leaves status at its prior
	// value until the other leg catches up, at which point both flags
	// are true and the state moves straight to both_locked/revealed.
	var reveal *SecretReveal
	switch {
	case state.NativeLocked && state.StableLocked:
		state.Status = StatusRevealed
		reveal = &SecretReveal{
			ProposalID:              state.ProposalID,
			SecretHex:               state.Secret.Hex(),
			HashHex:                 state.HashLock.Hex(),
			MakerCanClaim:           true,
			TakerCanClaimAfterMaker: true,
			Ts:                      state.UpdatedAt.Unix(),
		}
	case state.NativeLocked:
		state.Status = StatusNativeLocked
	}
	c.mu.Unlock()

	if reveal != nil {
		c.publish("settlement.secret."+state.ProposalID, *reveal)
		blacktracelog.SettlementLog.Infof("%v: secret revealed", state.ProposalID)
	}
}

// publishToBus marshals v and sends it on subject, logging (never
// panicking) on failure — matching §7's "transport write errors are
// logged" propagation policy applied to the bus as well as the peer
// transport.
func (c *Coordinator) publishToBus(subject string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		blacktracelog.SettlementLog.Errorf("unable to marshal %T for %v: %v", v, subject, err)
		return
	}
	if err := c.nc.Publish(subject, data); err != nil {
		blacktracelog.SettlementLog.Errorf("unable to publish to %v: %v", subject, err)
	}
}

// NewForTesting builds a Coordinator with no live bus connection, routing
// every publish through onPublish instead. Used by package tests to drive
// HandleRequest/HandleLockEvent and observe what would have been published.
func NewForTesting(onPublish func(subject string, v interface{})) *Coordinator {
	return &Coordinator{
		states:  make(map[string]*State),
		publish: onPublish,
		quit:    make(chan struct{}),
	}
}

// State returns a copy of the settlement state for proposalID, if any.
func (c *Coordinator) State(proposalID string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.states[proposalID]
	if !ok {
		return State{}, false
	}
	return *s, true
}

// Close unsubscribes and disconnects from the bus.
func (c *Coordinator) Close() error {
	close(c.quit)
	c.reqSub.Unsubscribe()
	c.statusSub.Unsubscribe()
	c.wg.Wait()
	c.nc.Close()
	return nil
}
