// Package miner assembles and seals new blocks from pending transactions.
package miner

import (
	"context"
	"fmt"
	"time"

	"github.com/qubitcoin-project/qcoind/config"
	"github.com/qubitcoin-project/qcoind/internal/consensus"
	"github.com/qubitcoin-project/qcoind/pkg/block"
	"github.com/qubitcoin-project/qcoind/pkg/tx"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// coinbaseReserve is subtracted from the block size budget before packing
// pending transactions, leaving room for the coinbase transaction itself
// (whose exact size depends on the miner's address and optional message).
const coinbaseReserve = 4096

// ChainState is the read-only chain view the miner needs to assemble a
// candidate block against the current tip.
type ChainState interface {
	Height() uint64
	TipHash() types.Hash
	TipTimestamp() int64
	GetDifficulty() ([32]byte, error)
	MedianTimePast(height uint64) (int64, error)
}

// FeeTracker exposes the fee a pooled transaction was admitted with, so
// the coinbase can pay out the exact sum collected from the block's
// contents without re-resolving every input against the UTXO set.
type FeeTracker interface {
	FeeOf(id types.Hash) uint64
}

// MempoolSource supplies the ordered set of pending transactions a
// candidate block should consider for inclusion: claims first, then
// regular transactions by descending fee rate.
type MempoolSource interface {
	GetTransactionsForBlock() []*tx.Transaction
}

// Miner assembles candidate blocks and seals them with proof of work.
type Miner struct {
	chain    ChainState
	pow      *consensus.PoW
	pool     MempoolSource
	fees     FeeTracker
	coinbase types.Address
}

// New creates a block producer paying coinbase rewards to coinbaseAddr.
// pool and fees may be nil (e.g. before the mempool is wired up), in
// which case candidates carry only the coinbase.
func New(chain ChainState, pow *consensus.PoW, pool MempoolSource, fees FeeTracker, coinbaseAddr types.Address) *Miner {
	return &Miner{
		chain:    chain,
		pow:      pow,
		pool:     pool,
		fees:     fees,
		coinbase: coinbaseAddr,
	}
}

// AssembleCandidate builds an unsealed candidate block extending the
// current tip: a coinbase paying the block subsidy plus collected fees,
// followed by as many pending transactions (claims first, then regular
// ones by fee rate) as fit the block size budget. msg, if non-empty, is
// embedded in the coinbase input's public key field — the only place a
// miner can attach a message, since the coinbase carries no signature to
// forge and needs none to verify.
func (m *Miner) AssembleCandidate(msg []byte) (*block.Block, error) {
	height := m.chain.Height() + 1

	target, err := m.chain.GetDifficulty()
	if err != nil {
		return nil, fmt.Errorf("get difficulty: %w", err)
	}

	timestamp, err := m.nextTimestamp()
	if err != nil {
		return nil, fmt.Errorf("compute timestamp: %w", err)
	}

	included, totalFees := m.selectTransactions()

	coinbase := buildCoinbase(m.coinbase, config.Subsidy(height)+totalFees, msg, timestamp)

	txs := make([]*tx.Transaction, 0, 1+len(included))
	txs = append(txs, coinbase)
	txs = append(txs, included...)

	txHashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		txHashes[i] = t.ID
	}

	header := &block.Header{
		Version:    block.CurrentVersion,
		PrevHash:   m.chain.TipHash(),
		MerkleRoot: block.ComputeMerkleRoot(txHashes),
		Timestamp:  timestamp,
		Nonce:      0,
	}
	m.pow.Prepare(header, target)

	return block.NewBlock(header, txs, height), nil
}

// nextTimestamp picks the candidate's header timestamp: strictly after
// both the median time past and the current tip's own timestamp, but no
// earlier than wall-clock time.
func (m *Miner) nextTimestamp() (int64, error) {
	mtp, err := m.chain.MedianTimePast(m.chain.Height())
	if err != nil {
		return 0, err
	}
	ts := time.Now().UnixMilli()
	if ts <= mtp {
		ts = mtp + 1
	}
	if tip := m.chain.TipTimestamp(); ts <= tip {
		ts = tip + 1
	}
	return ts, nil
}

// selectTransactions greedily packs pending transactions, in the order
// the pool already returns them, into the remaining block size budget.
func (m *Miner) selectTransactions() ([]*tx.Transaction, uint64) {
	if m.pool == nil {
		return nil, 0
	}
	pending := m.pool.GetTransactionsForBlock()

	budget := config.MaxBlockSize - block.HeaderSize - coinbaseReserve
	var included []*tx.Transaction
	var totalFees uint64
	used := 0
	for _, t := range pending {
		size := t.Size()
		if used+size > budget {
			continue
		}
		used += size
		included = append(included, t)
		if m.fees != nil {
			totalFees += m.fees.FeeOf(t.ID)
		}
	}
	return included, totalFees
}

// buildCoinbase creates the block's coinbase transaction: a single
// sentinel input (with msg, if any, carried in the unused public-key
// field) and a single output paying reward to addr.
func buildCoinbase(addr types.Address, reward uint64, msg []byte, timestamp int64) *tx.Transaction {
	t := &tx.Transaction{
		Timestamp: timestamp,
		Inputs: []tx.Input{{
			TxID:        tx.CoinbaseTxID,
			OutputIndex: tx.CoinbaseOutputIndex,
			PublicKey:   msg,
		}},
		Outputs: []tx.Output{{
			Address: addr,
			Amount:  reward,
		}},
	}
	t.ID = t.ComputeID()
	return t
}

// Mine runs the nonce search for a candidate block, cooperatively
// cancellable via ctx. The search is delegated to the proof-of-work
// engine's own cancellable sealing, which already checks ctx in batches;
// Mine's job is only to keep retrying across nonce-space exhaustion by
// advancing the header timestamp, which is itself a wire-visible change
// and therefore resets the search space.
func (m *Miner) Mine(ctx context.Context, blk *block.Block) error {
	for {
		err := m.pow.SealWithCancel(ctx, blk)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Nonce space exhausted: bump the timestamp by 1ms and retry with a
		// fresh nonce range rather than looping forever on the same header.
		blk.Header.Timestamp++
		blk.Header.Nonce = 0
	}
}
