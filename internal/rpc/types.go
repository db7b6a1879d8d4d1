package rpc

import (
	"github.com/qubitcoin-project/qcoind/internal/p2p"
	"github.com/qubitcoin-project/qcoind/internal/utxo"
	"github.com/qubitcoin-project/qcoind/pkg/block"
	"github.com/qubitcoin-project/qcoind/pkg/tx"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ── Param types ─────────────────────────────────────────────────────────

// HashParam is used by endpoints that take a single hash.
type HashParam struct {
	Hash string `json:"hash"`
}

// HeightParam is used by endpoints that take a block height.
type HeightParam struct {
	Height uint64 `json:"height"`
}

// OutpointParam is used by utxo_get.
type OutpointParam struct {
	TxID  string `json:"txId"`
	Index uint32 `json:"outputIndex"`
}

// AddressParam is used by utxo_getByAddress and utxo_getBalance.
type AddressParam struct {
	Address string `json:"address"`
}

// BtcAddressParam is used by claim_isClaimed.
type BtcAddressParam struct {
	BtcAddress string `json:"btcAddress"`
}

// TxSubmitParam is used by tx_submit and tx_validate.
type TxSubmitParam struct {
	Transaction *tx.Transaction `json:"transaction"`
}

// ── Block/Tx result types ───────────────────────────────────────────────

// BlockResult wraps a block for RPC responses. Block already carries its
// own hash and height fields.
type BlockResult struct {
	Hash         string          `json:"hash"`
	Height       uint64          `json:"height"`
	Header       *block.Header   `json:"header"`
	Transactions []*tx.Transaction `json:"transactions"`
}

// NewBlockResult creates a BlockResult from a block.
func NewBlockResult(b *block.Block) *BlockResult {
	return &BlockResult{
		Hash:         b.Hash.String(),
		Height:       b.Height,
		Header:       b.Header,
		Transactions: b.Transactions,
	}
}

// ── Result types ────────────────────────────────────────────────────────

// ChainInfoResult is returned by chain_getInfo.
type ChainInfoResult struct {
	ChainID     string `json:"chainId"`
	Height      uint64 `json:"height"`
	TipHash     string `json:"tipHash"`
	GenesisHash string `json:"genesisHash"`
	Difficulty  string `json:"difficulty"`
	Supply      uint64 `json:"supply"`
}

// BalanceResult is returned by utxo_getBalance.
type BalanceResult struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
}

// UTXOListResult is returned by utxo_getByAddress.
type UTXOListResult struct {
	Address string       `json:"address"`
	UTXOs   []*utxo.UTXO `json:"utxos"`
}

// TxSubmitResult is returned by tx_submit.
type TxSubmitResult struct {
	TxID string `json:"txId"`
	Fee  uint64 `json:"fee"`
}

// TxValidateResult is returned by tx_validate.
type TxValidateResult struct {
	Valid bool   `json:"valid"`
	Fee   uint64 `json:"fee,omitempty"`
	Error string `json:"error,omitempty"`
}

// MempoolInfoResult is returned by mempool_getInfo.
type MempoolInfoResult struct {
	Count      int    `json:"count"`
	Bytes      int    `json:"bytes"`
	MinFeeRate uint64 `json:"minFeeRate"`
}

// MempoolContentResult is returned by mempool_getContent.
type MempoolContentResult struct {
	TxIDs []string `json:"txIds"`
}

// PeerInfo describes a connected peer.
type PeerInfo struct {
	ID          string `json:"id"`
	Address     string `json:"address"`
	Outbound    bool   `json:"outbound"`
	Height      uint64 `json:"height"`
	Ready       bool   `json:"ready"`
	ConnectedAt string `json:"connectedAt"`
}

// PeerInfoResult is returned by net_getPeerInfo.
type PeerInfoResult struct {
	Count int        `json:"count"`
	Peers []PeerInfo `json:"peers"`
}

// NewPeerInfo builds a PeerInfo snapshot from a live peer connection.
func NewPeerInfo(p *p2p.Peer) PeerInfo {
	return PeerInfo{
		ID:          string(p.ID),
		Address:     p.Address,
		Outbound:    p.Outbound,
		Height:      p.Height(),
		Ready:       p.Ready(),
		ConnectedAt: p.ConnectedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// NodeInfoResult is returned by net_getNodeInfo.
type NodeInfoResult struct {
	ID         string `json:"id"`
	ListenAddr string `json:"listenAddr"`
	PeerCount  int    `json:"peerCount"`
}

// BanEntry describes a single banned peer.
type BanEntry struct {
	ID        string `json:"id"`
	Reason    string `json:"reason"`
	Score     int    `json:"score"`
	BannedAt  int64  `json:"bannedAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

// BanListResult is returned by net_getBanList.
type BanListResult struct {
	Count int        `json:"count"`
	Bans  []BanEntry `json:"bans"`
}

// ClaimStatsResult is returned by claim_getStats.
type ClaimStatsResult struct {
	ClaimedCount int    `json:"claimedCount"`
	BlockHash    string `json:"blockHash,omitempty"`
}

// ClaimStatusResult is returned by claim_isClaimed.
type ClaimStatusResult struct {
	BtcAddress string `json:"btcAddress"`
	Claimed    bool   `json:"claimed"`
}

// BlockTemplateResult is returned by mining_getBlockTemplate.
type BlockTemplateResult struct {
	Height     uint64        `json:"height"`
	Header     *block.Header `json:"header"`
	TxCount    int           `json:"txCount"`
	TotalFees  uint64        `json:"totalFees"`
}

// SubmitBlockParam is used by mining_submitBlock.
type SubmitBlockParam struct {
	Block *block.Block `json:"block"`
}
