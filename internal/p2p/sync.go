package p2p

import (
	"encoding/json"
	"sync"

	klog "github.com/qubitcoin-project/qcoind/internal/log"
	"github.com/qubitcoin-project/qcoind/pkg/block"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// dispatch routes one inbound, already rate-limited envelope to its handler.
func (n *Node) dispatch(p *Peer, env Envelope) {
	switch env.Type {
	case MsgPing:
		pong, err := encode(MsgPong, nil)
		if err == nil {
			p.Send(pong)
		}

	case MsgPong:
		p.setAwaitingPong(false)

	case MsgGetHeaders:
		var payload GetHeadersPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			n.penalizeFrame(p, "bad getheaders payload")
			return
		}
		n.syncer.handleGetHeaders(p, payload)

	case MsgHeaders:
		var payload HeadersPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			n.penalizeFrame(p, "bad headers payload")
			return
		}
		n.syncer.handleHeaders(p, payload)

	case MsgGetData:
		var payload GetDataPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			n.penalizeFrame(p, "bad getdata payload")
			return
		}
		n.syncer.handleGetData(p, payload)

	case MsgBlocks:
		var payload BlocksPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			n.penalizeFrame(p, "bad blocks payload")
			return
		}
		n.syncer.handleBlocks(p, payload)

	case MsgTx:
		var payload TxPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			n.penalizeFrame(p, "bad tx payload")
			return
		}
		if payload.Transaction == nil {
			n.penalizeFrame(p, "empty tx payload")
			return
		}
		if n.txHandler != nil {
			if err := n.txHandler(p.ID, payload.Transaction); err != nil {
				if n.banManager != nil {
					n.banManager.RecordOffense(p.ID, PenaltyInvalidTx, "invalid tx: "+err.Error())
				}
			}
		}

	case MsgInv:
		var payload InvPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			n.penalizeFrame(p, "bad inv payload")
			return
		}
		n.syncer.handleInv(p, payload)

	case MsgAddr:
		var payload AddrPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			n.penalizeFrame(p, "bad addr payload")
			return
		}
		n.handleAddr(payload)

	case MsgGetAddr:
		n.handleGetAddr(p)

	case MsgReject:
		var payload RejectPayload
		json.Unmarshal(env.Payload, &payload)
		klog.P2P.Debug().Str("peer", p.Address).Str("reason", payload.Reason).Msg("peer sent reject")

	default:
		n.penalizeFrame(p, "unknown message type "+env.Type)
	}
}

func (n *Node) penalizeFrame(p *Peer, reason string) {
	if n.banManager != nil {
		n.banManager.RecordOffense(p.ID, PenaltyBadFrame, reason)
	}
}

func (n *Node) handleAddr(payload AddrPayload) {
	if n.peerStore == nil {
		return
	}
	for _, a := range payload.Addrs {
		if a.Address == "" {
			continue
		}
		n.peerStore.Save(PeerRecord{
			ID:       a.Address,
			Address:  a.Address,
			LastSeen: a.LastSeen,
			Source:   "addr",
		})
	}
}

func (n *Node) handleGetAddr(p *Peer) {
	if n.peerStore == nil {
		return
	}
	recs, err := n.peerStore.LoadAll()
	if err != nil {
		return
	}
	if len(recs) > 100 {
		recs = recs[:100]
	}
	entries := make([]AddrEntry, 0, len(recs))
	for _, r := range recs {
		entries = append(entries, AddrEntry{Address: r.Address, LastSeen: r.LastSeen})
	}
	env, err := encode(MsgAddr, AddrPayload{Addrs: entries})
	if err != nil {
		return
	}
	p.Send(env)
}

// syncer drives headers-first initial block download: once a peer reports
// a height above ours, request its headers from our tip, then fetch the
// bodies of whatever headers extend our chain.
type syncer struct {
	node *Node

	mu       sync.Mutex
	inFlight map[PeerID]int
	seenTx   map[types.Hash]struct{}
}

func newSyncer(n *Node) *syncer {
	return &syncer{
		node:     n,
		inFlight: make(map[PeerID]int),
		seenTx:   make(map[types.Hash]struct{}),
	}
}

// onPeerReady is called right after a peer's handshake completes. If the
// peer claims to be ahead of us, kick off a getheaders request.
func (s *syncer) onPeerReady(p *Peer) {
	if s.node.chain == nil {
		return
	}
	if p.Height() <= s.node.chain.Height() {
		return
	}
	s.requestHeaders(p)
}

func (s *syncer) requestHeaders(p *Peer) {
	locator := s.buildLocator()
	env, err := encode(MsgGetHeaders, GetHeadersPayload{LocatorHashes: locator})
	if err != nil {
		return
	}
	p.Send(env)
}

// buildLocator returns a sparse list of this node's block hashes, densest
// near the tip and exponentially thinning toward genesis, so a peer can
// find the most recent common ancestor in a single round trip.
func (s *syncer) buildLocator() []types.Hash {
	c := s.node.chain
	height := c.Height()
	var hashes []types.Hash
	step := uint64(1)
	h := height
	for {
		blk, err := c.GetBlockByHeight(h)
		if err == nil {
			hashes = append(hashes, blk.Hash)
		}
		if h == 0 {
			break
		}
		if len(hashes) >= 10 {
			step *= 2
		}
		if h < step {
			h = 0
		} else {
			h -= step
		}
	}
	return hashes
}

// collectHeaders returns up to MaxHeadersPerMessage consecutive headers
// starting at fromHeight, stopping early at stopHash if it's reached.
func (s *syncer) collectHeaders(fromHeight uint64, stopHash types.Hash) []*block.Header {
	c := s.node.chain
	var hdrs []*block.Header
	for height := fromHeight; height <= c.Height() && len(hdrs) < MaxHeadersPerMessage; height++ {
		blk, err := c.GetBlockByHeight(height)
		if err != nil {
			break
		}
		hdrs = append(hdrs, blk.Header)
		if blk.Hash == stopHash {
			break
		}
	}
	return hdrs
}

func (s *syncer) handleGetHeaders(p *Peer, payload GetHeadersPayload) {
	c := s.node.chain
	if c == nil {
		return
	}

	startHeight := uint64(0)
	for _, h := range payload.LocatorHashes {
		if blk, err := c.GetBlock(h); err == nil {
			startHeight = blk.Height
			break
		}
	}

	hdrs := s.collectHeaders(startHeight+1, payload.StopHash)
	env, err := encode(MsgHeaders, HeadersPayload{Headers: hdrs})
	if err != nil {
		return
	}
	p.Send(env)
}

func (s *syncer) handleHeaders(p *Peer, payload HeadersPayload) {
	c := s.node.chain
	if c == nil || len(payload.Headers) == 0 {
		return
	}

	var want []InvItem
	for _, h := range payload.Headers {
		hash := h.Hash()
		if _, err := c.GetBlock(hash); err == nil {
			continue // already have it
		}
		want = append(want, InvItem{Type: InvTypeBlock, Hash: hash})
	}
	if len(want) == 0 {
		return
	}

	s.mu.Lock()
	budget := MaxBlocksInFlight - s.inFlight[p.ID]
	if budget <= 0 {
		s.mu.Unlock()
		return
	}
	if len(want) > budget {
		want = want[:budget]
	}
	s.inFlight[p.ID] += len(want)
	s.mu.Unlock()

	env, err := encode(MsgGetData, GetDataPayload{Items: want})
	if err != nil {
		return
	}
	p.Send(env)

	// Headers responses are capped at MaxHeadersPerMessage; if we received a
	// full batch there is likely more, so keep walking forward.
	if len(payload.Headers) >= MaxHeadersPerMessage {
		s.requestHeaders(p)
	}
}

func (s *syncer) handleGetData(p *Peer, payload GetDataPayload) {
	c := s.node.chain
	for _, item := range payload.Items {
		switch item.Type {
		case InvTypeBlock:
			if c == nil {
				continue
			}
			blk, err := c.GetBlock(item.Hash)
			if err != nil {
				continue
			}
			env, err := encode(MsgBlocks, BlocksPayload{Blocks: []*block.Block{blk}})
			if err == nil {
				p.Send(env)
			}
		case InvTypeTx:
			if s.node.txProvider == nil {
				continue
			}
			transaction := s.node.txProvider(item.Hash)
			if transaction == nil {
				continue
			}
			env, err := encode(MsgTx, TxPayload{Transaction: transaction})
			if err == nil {
				p.Send(env)
			}
		}
	}
}

func (s *syncer) handleBlocks(p *Peer, payload BlocksPayload) {
	s.mu.Lock()
	s.inFlight[p.ID] -= len(payload.Blocks)
	if s.inFlight[p.ID] < 0 {
		s.inFlight[p.ID] = 0
	}
	s.mu.Unlock()

	for _, blk := range payload.Blocks {
		if s.node.blockHandler == nil {
			continue
		}
		if err := s.node.blockHandler(p.ID, blk); err != nil {
			if s.node.banManager != nil {
				s.node.banManager.RecordOffense(p.ID, PenaltyInvalidBlock, "invalid block: "+err.Error())
			}
			return
		}
	}

	// Keep pulling: if we're still behind this peer, request more headers.
	c := s.node.chain
	if c != nil && p.Height() > c.Height() {
		s.requestHeaders(p)
	}
}

func (s *syncer) handleInv(p *Peer, payload InvPayload) {
	c := s.node.chain
	var wanted []InvItem
	for _, item := range payload.Items {
		switch item.Type {
		case InvTypeBlock:
			if c != nil {
				if _, err := c.GetBlock(item.Hash); err == nil {
					continue
				}
			}
			wanted = append(wanted, item)
		case InvTypeTx:
			s.mu.Lock()
			_, seen := s.seenTx[item.Hash]
			if !seen {
				if len(s.seenTx) > 200_000 {
					s.seenTx = make(map[types.Hash]struct{})
				}
				s.seenTx[item.Hash] = struct{}{}
			}
			s.mu.Unlock()
			if !seen {
				wanted = append(wanted, item)
			}
		}
	}
	if len(wanted) == 0 {
		return
	}
	env, err := encode(MsgGetData, GetDataPayload{Items: wanted})
	if err != nil {
		return
	}
	p.Send(env)
}
