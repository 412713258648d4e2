// Package transport implements BlackTrace's peer-to-peer messaging fabric
// (§4.1): length-prefixed TCP framing, one reader goroutine and one writer
// goroutine per connection, and a non-blocking event queue the application
// layer drains at its own pace. Grounded on the teacher's peer.go
// (readHandler/writeHandler/queueHandler/pingHandler) and server.go (the
// peer table and its newPeers/donePeers channels), generalized from lnd's
// lnwire-typed channel messaging to BlackTrace's opaque wire.Encode/Decode
// frames, and from server.go's int32 peer IDs to ids.PeerID.
package transport

import (
	"container/list"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/blacktrace-labs/blacktrace/internal/blacktracelog"
	"github.com/blacktrace-labs/blacktrace/internal/errs"
	"github.com/blacktrace-labs/blacktrace/internal/ids"
)

// maxFrameSize bounds a single frame's payload, guarding against a
// malicious or corrupted length prefix exhausting memory.
const maxFrameSize = 16 << 20 // 16 MiB

// pingInterval mirrors the teacher's peer.go pingInterval, keeping idle
// connections alive and giving both sides an RTT estimate.
const pingInterval = 30 * time.Second

// outgoingQueueLen is the buffer size of each peer's outgoing message
// channel, matching peer.go's outgoingQueueLen.
const outgoingQueueLen = 50

// eventQueueLen bounds the transport-wide event channel PollEvent drains.
const eventQueueLen = 256

// EventKind tags the variant carried by an Event.
type EventKind int

// The three event kinds named in §4.1.
const (
	EventPeerConnected EventKind = iota
	EventPeerDisconnected
	EventMessageReceived
)

// Event is one entry in the transport's event stream, drained by the
// application layer via PollEvent. Peer is always set; Payload is set only
// when Kind is EventMessageReceived.
type Event struct {
	Kind    EventKind
	Peer    ids.PeerID
	Payload []byte // set only for EventMessageReceived
}

// outgoingMsg packages a raw frame to be sent out on the wire, mirroring
// peer.go's outgoinMsg. result, if non-nil, receives the outcome of the
// write (nil on success) exactly once, letting Send surface a write
// failure to its caller the way network_manager.rs's send_to_peer does
// synchronously.
type outgoingMsg struct {
	payload []byte
	result  chan error
}

// conn represents one active peer connection, playing the role of the
// teacher's peer struct: per-connection reader/writer/queue goroutines
// coordinating over channels, with no lock held across a blocking I/O call.
type conn struct {
	id   ids.PeerID
	nc   net.Conn
	bt   *Transport
	quit chan struct{}
	wg   sync.WaitGroup

	sendQueue     chan outgoingMsg
	outgoingQueue chan outgoingMsg

	disconnectOnce sync.Once
}

// Transport is a BlackTrace node's P2P fabric: it accepts inbound
// connections, dials outbound ones, and exposes a peer table plus a
// non-blocking event stream, the same division of responsibility as
// server.go's server struct (peers map + newPeers/donePeers channels) minus
// the Lightning-specific channel/funding machinery.
type Transport struct {
	selfID ids.PeerID

	mu    sync.RWMutex
	peers map[ids.PeerID]*conn

	listener net.Listener

	events chan Event
	quit   chan struct{}
	wg     sync.WaitGroup
}

// New creates a Transport identified by selfID. It does not yet listen or
// dial; call Listen and/or Dial to start accepting traffic.
func New(selfID ids.PeerID) *Transport {
	return &Transport{
		selfID: selfID,
		peers:  make(map[ids.PeerID]*conn),
		events: make(chan Event, eventQueueLen),
		quit:   make(chan struct{}),
	}
}

// Listen starts accepting inbound connections on the given TCP port.
func (t *Transport) Listen(port uint16) error {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return errs.Wrap(errs.KindNetworkConnection, err)
	}
	t.listener = l

	t.wg.Add(1)
	go t.acceptLoop(l)

	blacktracelog.TransportLog.Infof("listening on %v", l.Addr())
	return nil
}

// acceptLoop accepts inbound connections until the listener is closed,
// mirroring server.go's listener goroutine.
//
// NOTE: This method MUST be run as a goroutine.
func (t *Transport) acceptLoop(l net.Listener) {
	defer t.wg.Done()

	for {
		nc, err := l.Accept()
		if err != nil {
			select {
			case <-t.quit:
				return
			default:
				blacktracelog.TransportLog.Errorf("accept failed: %v", err)
				return
			}
		}

		go t.handshakeInbound(nc)
	}
}

// handshakeInbound reads the remote's identity frame and registers the
// resulting connection. BlackTrace has no channel-funding handshake like
// lnd's init message exchange, but the same "identify before admitting to
// the peer table" shape from peer.go's Start carries over: the first frame
// on a new connection MUST be the peer's identity.
func (t *Transport) handshakeInbound(nc net.Conn) {
	remoteID, err := readIdentity(nc)
	if err != nil {
		blacktracelog.TransportLog.Errorf("inbound handshake with %v failed: %v",
			nc.RemoteAddr(), err)
		nc.Close()
		return
	}

	if err := writeIdentity(nc, t.selfID); err != nil {
		blacktracelog.TransportLog.Errorf("inbound handshake with %v failed: %v",
			nc.RemoteAddr(), err)
		nc.Close()
		return
	}

	t.register(remoteID, nc)
}

// Dial opens an outbound connection to addr, performs the identity
// handshake, and registers the resulting peer.
func (t *Transport) Dial(addr string) (ids.PeerID, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return "", errs.Wrap(errs.KindNetworkConnection, err)
	}

	if err := writeIdentity(nc, t.selfID); err != nil {
		nc.Close()
		return "", errs.Wrap(errs.KindNetworkConnection, err)
	}

	remoteID, err := readIdentity(nc)
	if err != nil {
		nc.Close()
		return "", errs.Wrap(errs.KindNetworkConnection, err)
	}

	t.register(remoteID, nc)
	return remoteID, nil
}

// register admits a handshaked connection to the peer table and starts its
// goroutines, the same role as server.go's addPeer plus peer.Start.
func (t *Transport) register(remoteID ids.PeerID, nc net.Conn) {
	c := &conn{
		id:            remoteID,
		nc:            nc,
		bt:            t,
		quit:          make(chan struct{}),
		sendQueue:     make(chan outgoingMsg),
		outgoingQueue: make(chan outgoingMsg, outgoingQueueLen),
	}

	t.mu.Lock()
	if old, ok := t.peers[remoteID]; ok {
		t.mu.Unlock()
		old.disconnect()
		t.mu.Lock()
	}
	t.peers[remoteID] = c
	t.mu.Unlock()

	c.wg.Add(4)
	go c.readLoop()
	go c.writeLoop()
	go c.queueLoop()
	go c.pingLoop()

	t.emit(Event{Kind: EventPeerConnected, Peer: remoteID})
}

// emit pushes an event onto the transport's queue without blocking the
// caller. eventQueueLen is sized generously, but a stalled consumer must
// not be allowed to wedge a reader goroutine, so when the queue is full the
// new event is logged and dropped.
func (t *Transport) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		blacktracelog.TransportLog.Warnf("event queue full, dropping %v event for %v",
			ev.Kind, ev.Peer)
	}
}

// PollEvent returns the next queued event, or ok=false if none is pending.
// Callers drain this in their own loop; the transport never blocks waiting
// for a consumer.
func (t *Transport) PollEvent() (Event, bool) {
	select {
	case ev := <-t.events:
		return ev, true
	default:
		return Event{}, false
	}
}

// Addr returns the listener's bound address, or nil if Listen has not been
// called. Useful for tests and for logging the actual port when the caller
// asked to listen on port 0.
func (t *Transport) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// ConnectedPeers returns the IDs of all currently connected peers.
func (t *Transport) ConnectedPeers() []ids.PeerID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ids.PeerID, 0, len(t.peers))
	for id := range t.peers {
		out = append(out, id)
	}
	return out
}

// Send queues payload for delivery to peer and blocks until the frame is
// actually written to the wire (or the attempt fails), surfacing the
// write's outcome to the caller. Returns KindPeerNotFound if peer isn't
// connected, or KindMessageRouting if the connection closes before the
// frame is queued or written, or if the write itself fails — matching
// network_manager.rs's synchronous send_to_peer.
func (t *Transport) Send(peer ids.PeerID, payload []byte) error {
	t.mu.RLock()
	c, ok := t.peers[peer]
	t.mu.RUnlock()
	if !ok {
		return errs.New(errs.KindPeerNotFound, "peer %v not connected", peer)
	}
	return c.sendSync(payload)
}

// Broadcast queues payload for delivery to every connected peer without
// waiting for delivery; per-peer write failures are logged by writeLoop
// and otherwise not surfaced, since there is no single caller to report a
// partial-broadcast failure to.
func (t *Transport) Broadcast(payload []byte) {
	t.mu.RLock()
	peers := make([]*conn, 0, len(t.peers))
	for _, c := range t.peers {
		peers = append(peers, c)
	}
	t.mu.RUnlock()

	for _, c := range peers {
		c.queue(payload, nil)
	}
}

// Close shuts down the listener and every active peer connection.
func (t *Transport) Close() error {
	close(t.quit)
	if t.listener != nil {
		t.listener.Close()
	}

	t.mu.RLock()
	peers := make([]*conn, 0, len(t.peers))
	for _, c := range t.peers {
		peers = append(peers, c)
	}
	t.mu.RUnlock()

	for _, c := range peers {
		c.disconnect()
	}

	t.wg.Wait()
	return nil
}

// disconnect tears down a single connection and removes it from the peer
// table, the conn-level analogue of peer.go's Disconnect.
func (c *conn) disconnect() {
	c.disconnectOnce.Do(func() {
		c.nc.Close()
		close(c.quit)

		c.bt.mu.Lock()
		if cur, ok := c.bt.peers[c.id]; ok && cur == c {
			delete(c.bt.peers, c.id)
		}
		c.bt.mu.Unlock()

		c.bt.emit(Event{Kind: EventPeerDisconnected, Peer: c.id})
	})
}

// queue hands payload to the queueLoop for eventual transmission, matching
// peer.go's queueMsg. Reports whether the message was actually queued;
// false means the connection was already tearing down.
func (c *conn) queue(payload []byte, result chan error) bool {
	select {
	case c.outgoingQueue <- outgoingMsg{payload: payload, result: result}:
		return true
	case <-c.quit:
		return false
	}
}

// sendSync queues payload and blocks until writeLoop reports the write's
// outcome, or the connection tears down first.
func (c *conn) sendSync(payload []byte) error {
	result := make(chan error, 1)
	if !c.queue(payload, result) {
		return errs.New(errs.KindMessageRouting, "connection to %v closed before message could be queued", c.id)
	}

	select {
	case err := <-result:
		if err != nil {
			return errs.Wrap(errs.KindMessageRouting, err)
		}
		return nil
	case <-c.quit:
		return errs.New(errs.KindMessageRouting, "connection to %v closed before message could be sent", c.id)
	}
}

// readLoop reads length-prefixed frames off the wire in series and forwards
// each as a MessageReceived event, the BlackTrace analogue of peer.go's
// readHandler loop (minus lnd's per-message-type channel dispatch, which
// BlackTrace's application layer performs itself after wire.Decode).
//
// NOTE: This method MUST be run as a goroutine.
func (c *conn) readLoop() {
	defer c.wg.Done()

	for {
		payload, err := readFrame(c.nc)
		if err != nil {
			blacktracelog.TransportLog.Infof("unable to read frame from %v: %v",
				c.id, err)
			break
		}

		blacktracelog.TransportLog.Tracef("readFrame from %v: %v", c.id,
			blacktracelog.NewLogClosure(func() string {
				return spew.Sdump(payload)
			}))

		c.bt.emit(Event{Kind: EventMessageReceived, Peer: c.id, Payload: payload})
	}

	c.disconnect()
}

// writeLoop drains sendQueue and writes each frame to the wire, the
// BlackTrace analogue of peer.go's writeHandler.
//
// NOTE: This method MUST be run as a goroutine.
func (c *conn) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case out := <-c.sendQueue:
			blacktracelog.TransportLog.Tracef("writeFrame to %v: %v", c.id,
				blacktracelog.NewLogClosure(func() string {
					return spew.Sdump(out.payload)
				}))

			err := writeFrame(c.nc, out.payload)
			if out.result != nil {
				out.result <- err
			}
			if err != nil {
				blacktracelog.TransportLog.Errorf("unable to write frame to %v: %v",
					c.id, err)
				go c.disconnect()
				return
			}
		case <-c.quit:
			return
		}
	}
}

// queueLoop ferries messages from the buffered outgoingQueue to the
// unbuffered sendQueue, the BlackTrace analogue of peer.go's queueHandler.
// It exists so that enqueueing a frame never blocks on a slow writer;
// Broadcast returns once its frames are queued, while Send still waits for
// its own frame's write result.
//
// NOTE: This method MUST be run as a goroutine.
func (c *conn) queueLoop() {
	defer c.wg.Done()

	pending := list.New()
	for {
		for {
			elem := pending.Front()
			if elem == nil {
				break
			}

			select {
			case c.sendQueue <- elem.Value.(outgoingMsg):
				pending.Remove(elem)
			case <-c.quit:
				return
			default:
				goto acceptMore
			}
		}

	acceptMore:
		// While frames are pending, keep offering the front one to the
		// writer so it is sent as soon as the writer is free, rather than
		// only when another frame arrives.
		var sendCh chan outgoingMsg
		var front outgoingMsg
		if elem := pending.Front(); elem != nil {
			sendCh, front = c.sendQueue, elem.Value.(outgoingMsg)
		}
		select {
		case <-c.quit:
			return
		case msg := <-c.outgoingQueue:
			pending.PushBack(msg)
		case sendCh <- front:
			pending.Remove(pending.Front())
		}
	}
}

// pingLoop periodically sends a ping frame to keep the connection alive and
// detect a dead peer, the BlackTrace analogue of peer.go's pingHandler. A
// ping is a frame carrying an 8-byte random nonce; BlackTrace has no Pong reply to measure
// RTT from, since unlike lnd's wire protocol there is no ping/pong message
// pair in the §4.2 taxonomy — liveness here is "the write succeeded". The
// receiving side sees it as an ordinary MessageReceived event whose payload
// fails wire.Decode and is dropped per §4.2's discard-unmatched-frames rule.
func (c *conn) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var nonce [8]byte
			if _, err := rand.Read(nonce[:]); err != nil {
				continue
			}
			c.queue(nonce[:], nil)
		case <-c.quit:
			return
		}
	}
}

// readFrame reads one 4-byte-big-endian-length-prefixed frame.
func readFrame(nc net.Conn) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(nc, lenBuf[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, errs.New(errs.KindDeserialization, "frame of %d bytes exceeds max %d", n, maxFrameSize)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(nc, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// writeFrame writes payload prefixed with its 4-byte big-endian length.
func writeFrame(nc net.Conn, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))

	if _, err := nc.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := nc.Write(payload); err != nil {
		return err
	}
	return nil
}

// identityFrame is the first frame exchanged on a new connection: a bare
// length-prefixed PeerID string, playing the role of lnd's init message
// exchange in peer.go's Start, minus feature-vector negotiation.
func writeIdentity(nc net.Conn, id ids.PeerID) error {
	return writeFrame(nc, []byte(id))
}

func readIdentity(nc net.Conn) (ids.PeerID, error) {
	payload, err := readFrame(nc)
	if err != nil {
		return "", err
	}
	return ids.PeerID(payload), nil
}
