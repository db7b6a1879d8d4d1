package p2p

import (
	"encoding/json"
	"fmt"

	"github.com/qubitcoin-project/qcoind/pkg/block"
	"github.com/qubitcoin-project/qcoind/pkg/tx"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// Envelope is the wire format of every message: a type tag plus an
// optional type-specific payload. Payload is left raw so a peer can be
// rejected for an unknown type before its body is ever parsed.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// encode wraps a payload value into an envelope of the given type.
func encode(msgType string, payload interface{}) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: msgType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}

// VersionPayload announces a node's identity and state during handshake.
type VersionPayload struct {
	Version        uint32     `json:"version"`
	Height         uint64     `json:"height"`
	GenesisHash    types.Hash `json:"genesisHash"`
	UserAgent      string     `json:"userAgent"`
	ListenPort     int        `json:"listenPort"`
	CumulativeWork string     `json:"cumulativeWork"`
}

// RejectPayload explains why a peer is about to be disconnected.
type RejectPayload struct {
	Reason string `json:"reason"`
}

// GetBlocksPayload requests blocks by height range. This node neither sends
// nor answers getblocks: dispatch penalizes an inbound one as an unknown
// message type.
type GetBlocksPayload struct {
	FromHeight uint64 `json:"fromHeight"`
	MaxBlocks  uint32 `json:"maxBlocks"`
}

// BlocksPayload carries full blocks, in ascending height order.
type BlocksPayload struct {
	Blocks []*block.Block `json:"blocks"`
}

// TxPayload carries a single relayed transaction.
type TxPayload struct {
	Transaction *tx.Transaction `json:"transaction"`
}

// InvItem names a single piece of inventory a peer is announcing.
type InvItem struct {
	Type string     `json:"type"` // InvTypeBlock or InvTypeTx
	Hash types.Hash `json:"hash"`
}

// InvPayload announces newly-seen inventory the sender has accepted.
type InvPayload struct {
	Items []InvItem `json:"items"`
}

// GetDataPayload requests the full contents of previously-announced
// inventory items.
type GetDataPayload struct {
	Items []InvItem `json:"items"`
}

// GetHeadersPayload requests headers starting after the first locator
// hash the receiver recognizes on its best chain, walking forward up to
// StopHash (or chain tip, if StopHash is zero).
type GetHeadersPayload struct {
	LocatorHashes []types.Hash `json:"locatorHashes"`
	StopHash      types.Hash   `json:"stopHash,omitempty"`
}

// HeadersPayload carries headers only, strictly increasing by height,
// with no transaction bodies — the backbone of headers-first IBD.
type HeadersPayload struct {
	Headers []*block.Header `json:"headers"`
}

// AddrEntry is a single peer address shared in an addr message.
type AddrEntry struct {
	Address  string `json:"address"` // host:port
	LastSeen int64  `json:"lastSeen"`
}

// AddrPayload shares known peer addresses, merged into the receiver's
// persistent peer registry.
type AddrPayload struct {
	Addrs []AddrEntry `json:"addrs"`
}
