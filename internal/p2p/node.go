// Package p2p implements the peer-to-peer gossip and sync layer: a raw,
// length-prefixed JSON protocol over TCP, with handshake, inventory relay,
// header-first block sync, rate limiting and misbehavior banning.
package p2p

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/qubitcoin-project/qcoind/internal/chain"
	klog "github.com/qubitcoin-project/qcoind/internal/log"
	"github.com/qubitcoin-project/qcoind/internal/storage"
	"github.com/qubitcoin-project/qcoind/pkg/block"
	"github.com/qubitcoin-project/qcoind/pkg/tx"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// Config configures a Node's listening address, seeds and connection limits.
type Config struct {
	ListenAddr  string
	Port        int
	Seeds       []string
	MaxPeers    int
	MaxOutbound int
	NoDiscover  bool
	DB          storage.DB
	DataDir     string
}

// BlockHandler is invoked whenever a peer delivers a new block. A non-nil
// error is treated as an invalid-block offense against that peer.
type BlockHandler func(from PeerID, blk *block.Block) error

// TxHandler is invoked whenever a peer relays a transaction. A non-nil
// error is treated as an invalid-tx offense against that peer.
type TxHandler func(from PeerID, transaction *tx.Transaction) error

// Node is a raw-TCP peer manager: it accepts and dials connections,
// performs the version handshake, and dispatches application messages to
// the handlers registered by the orchestrator that owns chain state. Block
// and header sync logic lives in sync.go (the syncer type, held in the
// syncer field).
type Node struct {
	cfg         Config
	id          PeerID
	genesisHash types.Hash
	chain       *chain.Chain

	peerStore  *PeerStore
	banManager *BanManager

	mu    sync.RWMutex
	peers map[PeerID]*Peer

	blockHandler    BlockHandler
	txHandler       TxHandler
	txProvider      func(types.Hash) *tx.Transaction
	onPeerConnected func(PeerID)

	syncer *syncer

	listener net.Listener
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a Node. SetGenesisHash and SetChain should be called before
// Start so the handshake and sync logic have real values to work with.
func New(cfg Config) (*Node, error) {
	if cfg.MaxOutbound == 0 {
		cfg.MaxOutbound = MaxOutboundDefault
	}
	id, err := LoadOrCreateIdentity(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("load node identity: %w", err)
	}

	n := &Node{
		cfg:    cfg,
		id:     id,
		peers:  make(map[PeerID]*Peer),
		stopCh: make(chan struct{}),
	}
	if cfg.DB != nil {
		n.peerStore = NewPeerStore(cfg.DB)
		n.banManager = NewBanManager(NewBanStore(cfg.DB), n)
	} else {
		n.banManager = NewBanManager(nil, n)
	}
	n.syncer = newSyncer(n)
	return n, nil
}

// SetGenesisHash sets the genesis hash advertised and checked during the
// version handshake.
func (n *Node) SetGenesisHash(h types.Hash) { n.genesisHash = h }

// SetChain wires the chain view the handshake reports height/work from,
// and that the syncer drives headers-first sync against.
func (n *Node) SetChain(c *chain.Chain) { n.chain = c }

// SetBlockHandler registers the callback invoked on an incoming block.
func (n *Node) SetBlockHandler(h BlockHandler) { n.blockHandler = h }

// SetTxHandler registers the callback invoked on an incoming transaction.
func (n *Node) SetTxHandler(h TxHandler) { n.txHandler = h }

// SetTxProvider registers the lookup used to answer getdata requests for
// transaction inventory (typically the mempool).
func (n *Node) SetTxProvider(fn func(types.Hash) *tx.Transaction) { n.txProvider = fn }

// SetPeerConnectedHandler registers a callback fired once a peer finishes
// its handshake, in addition to the syncer's own use of that event.
func (n *Node) SetPeerConnectedHandler(h func(PeerID)) { n.onPeerConnected = h }

// ID returns this node's own identity.
func (n *Node) ID() PeerID { return n.id }

// Addr returns the address the node is listening on, if started.
func (n *Node) Addr() string {
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// BanManager exposes the node's ban manager for RPC ban-list views.
func (n *Node) BanManager() *BanManager { return n.banManager }

// ClearBans removes every active ban and accumulated offense score.
func (n *Node) ClearBans() {
	for _, b := range n.banManager.BanList() {
		n.banManager.Unban(PeerID(b.ID))
	}
}

// Start begins listening for inbound connections and, unless NoDiscover is
// set, dialing seeds and previously known peers.
func (n *Node) Start() error {
	if n.banManager != nil {
		n.banManager.LoadBans()
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.banManager.RunPruneLoop(n.stopCh)
		}()
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.ListenAddr, n.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	n.listener = ln

	klog.P2P.Info().Str("addr", ln.Addr().String()).Str("id", string(n.id)).Msg("p2p node listening")

	n.wg.Add(1)
	go n.acceptLoop()

	if !n.cfg.NoDiscover {
		n.wg.Add(1)
		go n.dialLoop()
	}

	if n.peerStore != nil {
		n.wg.Add(1)
		go n.persistLoop()
	}

	return nil
}

// Stop closes the listener and every open peer connection, waiting for all
// background goroutines to exit.
func (n *Node) Stop() {
	close(n.stopCh)
	if n.listener != nil {
		n.listener.Close()
	}
	n.mu.RLock()
	for _, p := range n.peers {
		p.Close()
	}
	n.mu.RUnlock()
	n.wg.Wait()
}

// PeerCount returns the number of peers currently in the ready state.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	count := 0
	for _, p := range n.peers {
		if p.Ready() {
			count++
		}
	}
	return count
}

// PeerList returns a snapshot of every currently tracked peer.
func (n *Node) PeerList() []*Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	return out
}

func (n *Node) getPeer(id PeerID) (*Peer, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.peers[id]
	return p, ok
}

// DisconnectPeer closes the connection to a specific peer, if connected. It
// satisfies the hook BanManager uses to enforce bans immediately.
func (n *Node) DisconnectPeer(id PeerID) error {
	p, ok := n.getPeer(id)
	if !ok {
		return fmt.Errorf("peer %s not connected", id)
	}
	p.Close()
	return nil
}

// Broadcast announces a piece of inventory (a block or transaction hash)
// to every ready peer via an inv message.
func (n *Node) Broadcast(item InvItem) {
	env, err := encode(MsgInv, InvPayload{Items: []InvItem{item}})
	if err != nil {
		return
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, p := range n.peers {
		if p.Ready() {
			p.Send(env)
		}
	}
}

func (n *Node) acceptLoop() {
	defer n.wg.Done()
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				klog.P2P.Warn().Err(err).Msg("accept error")
				return
			}
		}
		if n.atPeerCap() {
			conn.Close()
			continue
		}
		p := newPeer(conn, conn.RemoteAddr().String(), false, "inbound")
		n.wg.Add(1)
		go n.runPeer(p)
	}
}

func (n *Node) atPeerCap() bool {
	if n.cfg.MaxPeers <= 0 {
		return false
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers) >= n.cfg.MaxPeers
}

// dialLoop periodically attempts outbound connections to seeds and
// previously known peers until MaxOutbound is reached.
func (n *Node) dialLoop() {
	defer n.wg.Done()

	n.connectBatch(n.cfg.Seeds)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			if n.outboundCount() >= n.cfg.MaxOutbound {
				continue
			}
			n.connectBatch(n.cfg.Seeds)
			if n.peerStore != nil {
				if recs, err := n.peerStore.LoadAll(); err == nil {
					addrs := make([]string, 0, len(recs))
					for _, r := range recs {
						addrs = append(addrs, r.Address)
					}
					n.connectBatch(addrs)
				}
			}
		}
	}
}

func (n *Node) outboundCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	count := 0
	for _, p := range n.peers {
		if p.Outbound {
			count++
		}
	}
	return count
}

func (n *Node) connectBatch(addrs []string) {
	for _, addr := range addrs {
		if addr == "" || n.outboundCount() >= n.cfg.MaxOutbound {
			continue
		}
		if n.hasPeerAddr(addr) {
			continue
		}
		conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
		if err != nil {
			klog.P2P.Debug().Str("addr", addr).Err(err).Msg("dial failed")
			continue
		}
		p := newPeer(conn, addr, true, "seed")
		n.wg.Add(1)
		go n.runPeer(p)
	}
}

func (n *Node) hasPeerAddr(addr string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, p := range n.peers {
		if p.Address == addr {
			return true
		}
	}
	return false
}

// runPeer drives one peer's full lifecycle: registration, handshake, and a
// read loop dispatching inbound messages until the connection closes.
func (n *Node) runPeer(p *Peer) {
	defer n.wg.Done()
	defer p.Close()

	if n.banManager != nil && n.banManager.IsBanned(p.ID) {
		return
	}

	n.addPeer(p)
	defer n.removePeer(p)

	go n.writeLoop(p)

	if err := n.handshake(p); err != nil {
		klog.P2P.Debug().Str("peer", p.Address).Err(err).Msg("handshake failed")
		return
	}

	if n.peerStore != nil {
		n.peerStore.Save(PeerRecord{
			ID:       string(p.ID),
			Address:  p.Address,
			LastSeen: time.Now().Unix(),
			Source:   p.Source,
		})
	}
	if n.onPeerConnected != nil {
		n.onPeerConnected(p.ID)
	}
	n.syncer.onPeerReady(p)

	go n.idleLoop(p)

	for {
		env, err := ReadEnvelope(p.Reader)
		if err != nil {
			if n.banManager != nil {
				n.banManager.RecordOffense(p.ID, PenaltyBadFrame, "malformed frame: "+err.Error())
			}
			return
		}
		if !p.limiter.Allow() {
			if n.banManager != nil {
				n.banManager.RecordOffense(p.ID, PenaltyBadFrame, "rate limit exceeded")
			}
			return
		}
		p.touch()
		n.dispatch(p, env)
	}
}

func (n *Node) writeLoop(p *Peer) {
	for {
		select {
		case env, ok := <-p.sendCh:
			if !ok {
				return
			}
			if err := WriteEnvelope(p.Conn, env); err != nil {
				p.Close()
				return
			}
		case <-p.closed:
			return
		}
	}
}

// idleLoop pings a quiet peer and disconnects it if it never answers.
func (n *Node) idleLoop(p *Peer) {
	ticker := time.NewTicker(IdlePingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.closed:
			return
		case <-n.stopCh:
			return
		case <-ticker.C:
			if time.Since(p.lastMessageTime()) < IdlePingInterval {
				continue
			}
			if p.isAwaitingPong() {
				klog.P2P.Debug().Str("peer", p.Address).Msg("ping timeout, disconnecting")
				p.Close()
				return
			}
			env, err := encode(MsgPing, nil)
			if err != nil {
				continue
			}
			p.setAwaitingPong(true)
			p.Send(env)
			peer := p
			time.AfterFunc(PongTimeout, func() {
				if peer.isAwaitingPong() {
					peer.Close()
				}
			})
		}
	}
}

func (n *Node) addPeer(p *Peer) {
	n.mu.Lock()
	n.peers[p.ID] = p
	n.mu.Unlock()
}

func (n *Node) removePeer(p *Peer) {
	n.mu.Lock()
	delete(n.peers, p.ID)
	n.mu.Unlock()
}

func (n *Node) persistLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.peerStore.PruneStale(staleThreshold)
		}
	}
}
