package p2p

import (
	"bufio"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// connState is a peer connection's position in the handshake state
// machine: initial -> handshaking -> ready -> closed.
type connState int

const (
	stateInit connState = iota
	stateHandshaking
	stateReady
	stateClosed
)

// Peer is one connected node, wrapping the raw TCP connection plus the
// bookkeeping needed to enforce the protocol's state machine, idle
// timeouts, and rate limits. Exactly one of in-flight reader/writer
// goroutine pair owns the connection at a time; everything else is
// synchronized through sendCh and the mutex below.
type Peer struct {
	ID      PeerID
	Conn    net.Conn
	Reader  *bufio.Reader
	Address string // remote host:port, as dialed or accepted
	Source  string // "seed", "inbound", "addr"

	Outbound    bool
	ConnectedAt time.Time

	limiter *rate.Limiter

	sendCh chan Envelope
	closed chan struct{}
	once   sync.Once

	mu                sync.Mutex
	state             connState
	lastMessageAt     time.Time
	awaitingPong      bool
	version           uint32
	height            uint64
	genesisHash       types.Hash
	cumulativeWork    string
	listenPort        int
	handshakeComplete bool

	// blocksInFlight is not updated by any code; the syncer tracks
	// outstanding block fetches in its own inFlight map.
	blocksInFlight int
}

// newPeer wraps an established connection. outbound is true for
// connections this node initiated (dialed a seed or persisted address).
func newPeer(conn net.Conn, address string, outbound bool, source string) *Peer {
	return &Peer{
		ID:          PeerID(address),
		Conn:        conn,
		Reader:      bufio.NewReaderSize(conn, 64*1024),
		Address:     address,
		Source:      source,
		Outbound:    outbound,
		ConnectedAt: time.Now(),
		limiter:     newMessageLimiter(),
		sendCh:      make(chan Envelope, 64),
		closed:      make(chan struct{}),
		state:       stateInit,
	}
}

// State returns the peer's current connection state.
func (p *Peer) State() connState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) setState(s connState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Ready reports whether the peer has completed the handshake.
func (p *Peer) Ready() bool {
	return p.State() == stateReady
}

// touch records that a message was just received, for idle-ping tracking.
func (p *Peer) touch() {
	p.mu.Lock()
	p.lastMessageAt = time.Now()
	p.mu.Unlock()
}

func (p *Peer) lastMessageTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastMessageAt
}

func (p *Peer) setAwaitingPong(v bool) {
	p.mu.Lock()
	p.awaitingPong = v
	p.mu.Unlock()
}

func (p *Peer) isAwaitingPong() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.awaitingPong
}

// recordVersion stores the peer-reported fields from its version message.
func (p *Peer) recordVersion(v VersionPayload) {
	p.mu.Lock()
	p.version = v.Version
	p.height = v.Height
	p.genesisHash = v.GenesisHash
	p.cumulativeWork = v.CumulativeWork
	p.listenPort = v.ListenPort
	p.mu.Unlock()
}

// Height returns the best height this peer last announced.
func (p *Peer) Height() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.height
}

// setHeight updates the peer's last-known best height (e.g. after it
// announces a new block via inv).
func (p *Peer) setHeight(h uint64) {
	p.mu.Lock()
	if h > p.height {
		p.height = h
	}
	p.mu.Unlock()
}

// CumulativeWork returns the work value this peer last announced.
func (p *Peer) CumulativeWork() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cumulativeWork
}

// Send queues an envelope for the write loop. Returns false if the send
// buffer is full or the connection is already closed — the caller should
// treat either as a reason to disconnect a peer that isn't draining
// messages.
func (p *Peer) Send(env Envelope) bool {
	select {
	case p.sendCh <- env:
		return true
	case <-p.closed:
		return false
	default:
		return false
	}
}

// Close shuts down the connection exactly once.
func (p *Peer) Close() {
	p.once.Do(func() {
		p.setState(stateClosed)
		close(p.closed)
		p.Conn.Close()
	})
}
