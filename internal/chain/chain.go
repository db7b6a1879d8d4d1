// Package chain implements the blockchain state machine.
package chain

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/qubitcoin-project/qcoind/config"
	"github.com/qubitcoin-project/qcoind/internal/consensus"
	"github.com/qubitcoin-project/qcoind/internal/storage"
	"github.com/qubitcoin-project/qcoind/internal/utxo"
	"github.com/qubitcoin-project/qcoind/pkg/block"
	"github.com/qubitcoin-project/qcoind/pkg/tx"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// TipChanged is sent on a chain's notification channel whenever AddBlock
// moves the active tip, whether by simple extension or by reorg.
// UndoneBlocks is empty for a simple extension, and holds the reverted
// main-chain blocks (oldest first) when a reorg occurred.
type TipChanged struct {
	NewTip       *block.Block
	UndoneBlocks []*block.Block
}

// SnapshotEntry and Snapshot are the chain's view over a loaded Bitcoin
// claim snapshot; defined once in internal/utxo so the mempool's claim
// admission check and the chain's claim block-validation share the exact
// same shape against the snapshot loader.
type SnapshotEntry = utxo.SnapshotEntry
type Snapshot = utxo.Snapshot

// Chain represents a blockchain instance with state, storage, and consensus.
type Chain struct {
	mu sync.Mutex // Protects all state mutations (AddBlock, Reorg).

	state     *State
	blocks    *BlockStore
	utxos     *utxo.Store
	claims    *utxo.ClaimStore
	pow       *consensus.PoW
	validator *consensus.Validator

	genesisHash types.Hash // Hash of the genesis block (immutable).
	snapshot    Snapshot

	tipChanged chan TipChanged
}

// New creates a new chain around the given storage, UTXO set, claim
// registry, and proof-of-work engine, recovering tip state from whatever
// blocks are already in db.
func New(db storage.DB, utxoStore *utxo.Store, claimStore *utxo.ClaimStore, pow *consensus.PoW) (*Chain, error) {
	if db == nil {
		return nil, fmt.Errorf("storage db is nil")
	}
	if utxoStore == nil {
		return nil, fmt.Errorf("utxo store is nil")
	}
	if claimStore == nil {
		return nil, fmt.Errorf("claim store is nil")
	}
	if pow == nil {
		return nil, fmt.Errorf("pow engine is nil")
	}

	blocks := NewBlockStore(db)

	tipHash, height, supply, err := blocks.GetTip()
	if err != nil {
		return nil, fmt.Errorf("recover tip: %w", err)
	}

	var genesisHash types.Hash
	if genBlk, gErr := blocks.GetBlockByHeight(0); gErr == nil {
		genesisHash = genBlk.Hash
	}

	c := &Chain{
		state: &State{
			TipHash:        tipHash,
			Height:         height,
			Supply:         supply,
			CumulativeWork: blocks.GetCumulativeWork(),
		},
		blocks:      blocks,
		utxos:       utxoStore,
		claims:      claimStore,
		pow:         pow,
		validator:   consensus.NewValidator(pow),
		genesisHash: genesisHash,
		tipChanged:  make(chan TipChanged, 16),
	}

	if !tipHash.IsZero() {
		if tipBlk, tErr := blocks.GetBlock(tipHash); tErr == nil {
			c.state.TipTimestamp = tipBlk.Header.Timestamp
		}
	}

	// A crash mid-reorg leaves a checkpoint marker; recover by rebuilding
	// the UTXO set and claim registry from the indexed chain of blocks.
	if _, found := blocks.GetReorgCheckpoint(); found {
		if err := c.RebuildUTXOs(); err != nil {
			return nil, fmt.Errorf("recover from interrupted reorg: %w", err)
		}
	}

	return c, nil
}

// InitFromGenesis initializes a fresh chain from genesis configuration.
// Returns an error if the chain already has blocks.
func (c *Chain) InitFromGenesis(gen *config.Genesis) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.IsGenesis() {
		return fmt.Errorf("chain already initialized at height %d", c.state.Height)
	}

	blk, err := CreateGenesisBlock(gen)
	if err != nil {
		return fmt.Errorf("create genesis: %w", err)
	}

	// Genesis bypasses the normal consensus pipeline: it has no parent to
	// link against and is accepted on config authority alone.
	if _, err := c.applyBlockWithUndo(blk); err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	if err := c.blocks.PutBlock(blk); err != nil {
		return fmt.Errorf("store genesis: %w", err)
	}

	var supply uint64
	for _, v := range gen.Alloc {
		supply += v
	}
	work := WorkForTarget(blk.Header.Target)

	if err := c.blocks.SetTip(blk.Hash, 0, supply); err != nil {
		return fmt.Errorf("set genesis tip: %w", err)
	}
	if err := c.blocks.SetCumulativeWork(work); err != nil {
		return fmt.Errorf("set genesis cumulative work: %w", err)
	}

	c.state.TipHash = blk.Hash
	c.state.Height = 0
	c.state.Supply = supply
	c.state.CumulativeWork = work
	c.state.TipTimestamp = blk.Header.Timestamp
	c.genesisHash = blk.Hash

	return nil
}

// SetSnapshot installs the Bitcoin claim snapshot that claim transactions
// are validated against. Must be called before any claim transaction can
// be accepted.
func (c *Chain) SetSnapshot(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = s
}

// Notifications returns the channel on which the chain reports tip
// changes. Sends are best-effort: a slow or absent reader never blocks
// block processing.
func (c *Chain) Notifications() <-chan TipChanged {
	return c.tipChanged
}

func (c *Chain) notify(tc TipChanged) {
	select {
	case c.tipChanged <- tc:
	default:
	}
}

// State returns a copy of the current chain state.
func (c *Chain) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Height:         c.state.Height,
		TipHash:        c.state.TipHash,
		Supply:         c.state.Supply,
		CumulativeWork: new(big.Int).Set(c.state.CumulativeWork),
		TipTimestamp:   c.state.TipTimestamp,
	}
}

// GetBlock retrieves a block by its hash.
func (c *Chain) GetBlock(hash types.Hash) (*block.Block, error) {
	return c.blocks.GetBlock(hash)
}

// GetBlockByHeight retrieves a block by its height.
func (c *Chain) GetBlockByHeight(height uint64) (*block.Block, error) {
	return c.blocks.GetBlockByHeight(height)
}

// Height returns the current chain height.
func (c *Chain) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Height
}

// TipHash returns the hash of the current chain tip.
func (c *Chain) TipHash() types.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.TipHash
}

// TipTimestamp returns the current tip block's timestamp, used by the miner
// to enforce a strictly-increasing header timestamp on the next block.
func (c *Chain) TipTimestamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.TipTimestamp
}

// Supply returns the total coins in circulation.
func (c *Chain) Supply() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Supply
}

// GenesisHash returns the hash of this chain's genesis block.
func (c *Chain) GenesisHash() types.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.genesisHash
}

// GetUTXOs returns every UTXO currently owned by addr.
func (c *Chain) GetUTXOs(addr types.Address) ([]*utxo.UTXO, error) {
	return c.utxos.GetByAddress(addr)
}

// GetBalance returns the sum of every UTXO currently owned by addr.
func (c *Chain) GetBalance(addr types.Address) (uint64, error) {
	utxos, err := c.utxos.GetByAddress(addr)
	if err != nil {
		return 0, fmt.Errorf("load utxos for %s: %w", addr, err)
	}
	var total uint64
	for _, u := range utxos {
		total += u.Amount
	}
	return total, nil
}

// GetDifficulty returns the target the next block must meet: the tip's own
// target, unless the next height is a retarget boundary.
func (c *Chain) GetDifficulty() ([32]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.TipHash.IsZero() {
		return c.pow.InitialTarget, nil
	}
	tip, err := c.blocks.GetBlock(c.state.TipHash)
	if err != nil {
		return [32]byte{}, fmt.Errorf("load tip: %w", err)
	}
	return c.pow.ExpectedTarget(c.state.Height+1, tip.Header.Target, c.getBlockTimestamp), nil
}

// ClaimStats summarizes the claim registry's progress.
type ClaimStats struct {
	ClaimedCount int
}

// GetClaimStats reports how many snapshot-eligible addresses have redeemed
// their balance so far.
func (c *Chain) GetClaimStats() (ClaimStats, error) {
	count, err := c.claims.Count()
	if err != nil {
		return ClaimStats{}, fmt.Errorf("count claims: %w", err)
	}
	return ClaimStats{ClaimedCount: count}, nil
}

// IsClaimed reports whether btcAddress has already redeemed its snapshot
// balance.
func (c *Chain) IsClaimed(btcAddress string) (bool, error) {
	return c.claims.IsClaimed(btcAddress)
}

// getBlockTimestamp returns the timestamp of the active chain's block at
// the given height. Used by consensus.PoW to walk chain history.
func (c *Chain) getBlockTimestamp(height uint64) (int64, error) {
	blk, err := c.blocks.GetBlockByHeight(height)
	if err != nil {
		return 0, err
	}
	return blk.Header.Timestamp, nil
}

// RebuildUTXOs clears the UTXO set and claim registry and replays all
// blocks from genesis to the current tip. Used to recover from a crash
// during reorg, where the UTXO set may be inconsistent with the indexed
// chain.
func (c *Chain) RebuildUTXOs() error {
	if err := c.utxos.ClearAll(); err != nil {
		return fmt.Errorf("clear utxo set: %w", err)
	}
	if err := c.claims.ClearAll(); err != nil {
		return fmt.Errorf("clear claim registry: %w", err)
	}

	var supply uint64
	cumWork := new(big.Int)
	for h := uint64(0); h <= c.state.Height; h++ {
		blk, err := c.blocks.GetBlockByHeight(h)
		if err != nil {
			return fmt.Errorf("load block at height %d: %w", h, err)
		}
		undo, err := c.applyBlockWithUndo(blk)
		if err != nil {
			return fmt.Errorf("replay block at height %d: %w", h, err)
		}
		if err := c.putUndo(blk.Hash, undo); err != nil {
			return fmt.Errorf("store undo at height %d: %w", h, err)
		}
		if h == 0 {
			// Genesis carries no subsidy; its coinbase pays out the allocations.
			alloc, err := blk.Transactions[0].TotalOutputValue()
			if err != nil {
				return fmt.Errorf("genesis output total: %w", err)
			}
			supply += alloc
		} else {
			supply += config.Subsidy(h)
		}
		cumWork.Add(cumWork, WorkForTarget(blk.Header.Target))
	}

	c.state.Supply = supply
	c.state.CumulativeWork = cumWork

	if err := c.blocks.SetTip(c.state.TipHash, c.state.Height, supply); err != nil {
		return fmt.Errorf("set tip after rebuild: %w", err)
	}
	if err := c.blocks.SetCumulativeWork(cumWork); err != nil {
		return fmt.Errorf("set cumulative work after rebuild: %w", err)
	}
	if err := c.blocks.DeleteReorgCheckpoint(); err != nil {
		return fmt.Errorf("delete reorg checkpoint: %w", err)
	}
	return nil
}

// ResetToHeight rolls the chain's tip pointer back to height and rebuilds
// the UTXO set and claim registry from genesis. Operator/test tool only:
// blocks above height remain in storage, unreferenced by the height index
// once a new block at height+1 is accepted.
func (c *Chain) ResetToHeight(height uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if height > c.state.Height {
		return fmt.Errorf("reset height %d exceeds current height %d", height, c.state.Height)
	}

	tip, err := c.blocks.GetBlockByHeight(height)
	if err != nil {
		return fmt.Errorf("load block at height %d: %w", height, err)
	}

	c.state.TipHash = tip.Hash
	c.state.Height = height
	c.state.TipTimestamp = tip.Header.Timestamp

	return c.RebuildUTXOs()
}

// GetTransaction looks up a confirmed transaction by id via the tx index.
func (c *Chain) GetTransaction(id types.Hash) (*tx.Transaction, error) {
	_, blockHash, err := c.blocks.GetTxLocation(id)
	if err != nil {
		return nil, fmt.Errorf("locate tx: %w", err)
	}
	blk, err := c.blocks.GetBlock(blockHash)
	if err != nil {
		return nil, fmt.Errorf("load block for tx: %w", err)
	}
	for _, t := range blk.Transactions {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("tx %s not found in block %s (index corrupt)", id, blockHash)
}

// putUndo is a small helper shared by the apply/replay paths that marshals
// undo data and stores it keyed by block hash.
func (c *Chain) putUndo(hash types.Hash, undo *UndoData) error {
	data, err := undo.Marshal()
	if err != nil {
		return fmt.Errorf("marshal undo: %w", err)
	}
	return c.blocks.PutUndo(hash, data)
}
