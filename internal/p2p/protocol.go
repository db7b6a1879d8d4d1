package p2p

import "time"

// ProtocolVersion is the version this node speaks and advertises in its
// version message.
const ProtocolVersion uint32 = 2

// MinProtocolVersion is the lowest peer version accepted. Peers below this
// fail the handshake and are disconnected with a reject message.
const MinProtocolVersion uint32 = 2

// MaxMessageSize bounds a single framed message's payload. Anything larger
// is a protocol violation.
const MaxMessageSize = 5 * 1024 * 1024 // 5 MiB

// Message type identifiers carried in an envelope's "type" field.
const (
	MsgVersion    = "version"
	MsgVerack     = "verack"
	MsgReject     = "reject"
	MsgPing       = "ping"
	MsgPong       = "pong"
	MsgGetBlocks  = "getblocks"
	MsgBlocks     = "blocks"
	MsgTx         = "tx"
	MsgInv        = "inv"
	MsgGetData    = "getdata"
	MsgGetHeaders = "getheaders"
	MsgHeaders    = "headers"
	MsgAddr       = "addr"
	MsgGetAddr    = "getaddr"
)

// Inventory item kinds, used in inv/getdata payloads.
const (
	InvTypeBlock = "block"
	InvTypeTx    = "tx"
)

// Timing constants governing the peer connection state machine.
const (
	// HandshakeTimeout bounds the version/verack exchange. A peer that
	// hasn't completed it within this window is disconnected.
	HandshakeTimeout = 10 * time.Second

	// IdlePingInterval is how long a ready connection may go without any
	// inbound message before this node pings it to check liveness.
	IdlePingInterval = 120 * time.Second

	// PongTimeout bounds how long a ping may go unanswered before the peer
	// is considered unresponsive and disconnected.
	PongTimeout = 30 * time.Second

	// IBDStallTimeout is a headers/blocks request timeout for initial block
	// download. The syncer does not read it: unanswered requests are not
	// timed out or retried.
	IBDStallTimeout = 60 * time.Second
)

// Rate limiting: a token bucket per connection, refilled continuously and
// drained one token per inbound message. Exceeding capacity is treated as
// misbehavior and disconnects the peer.
const (
	RateLimitCapacity = 200
	RateLimitRefill   = 100 // tokens per second
)

// Misbehavior scores. A peer is disconnected and banned once its
// accumulated score reaches BanThreshold.
const (
	PenaltyBadFrame     = 25
	PenaltyInvalidBlock = 50
	PenaltyInvalidTx    = 10

	BanThreshold = 100
	BanDuration  = 24 * time.Hour
)

// MaxHeadersPerMessage caps how many headers a single headers response may
// carry, keeping IBD responses well under MaxMessageSize.
const MaxHeadersPerMessage = 2000

// MaxBlocksInFlight caps how many getdata block requests this node keeps
// outstanding to a single peer at once during IBD.
const MaxBlocksInFlight = 16

// MaxOutboundDefault is the default number of outbound connections a node
// maintains when Config.MaxOutbound is unset.
const MaxOutboundDefault = 8
