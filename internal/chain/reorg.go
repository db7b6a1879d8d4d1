package chain

import (
	"fmt"
	"math/big"

	"github.com/qubitcoin-project/qcoind/config"
	"github.com/qubitcoin-project/qcoind/pkg/block"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// ErrReorgTooDeep is returned when a reorg would revert more than
// MaxReorgDepth blocks.
var ErrReorgTooDeep = fmt.Errorf("reorg too deep")

// ErrGenesisReorg is returned when a reorg would replace the genesis block.
var ErrGenesisReorg = fmt.Errorf("reorg would replace genesis block")

// MaxReorgDepth is the maximum number of blocks a reorg may revert.
const MaxReorgDepth = 1000

// Reorg compares the branch ending at newTipHash against the active chain
// and, if the new branch carries strictly more cumulative proof-of-work,
// switches the active chain onto it. The switch is all-or-nothing: if
// replaying any block in the new branch fails, the reverted blocks are
// restored exactly before Reorg returns its error, leaving the active
// chain unchanged.
func (c *Chain) Reorg(newTipHash types.Hash) error {
	newBranch, err := c.collectBranch(newTipHash)
	if err != nil {
		return fmt.Errorf("collect new branch: %w", err)
	}
	if len(newBranch) == 0 {
		return fmt.Errorf("empty new branch")
	}

	forkHeight := newBranch[0].Height - 1
	oldHeight := c.state.Height

	newWork := new(big.Int)
	for _, blk := range newBranch {
		newWork.Add(newWork, WorkForTarget(blk.Header.Target))
	}

	oldBranch := make([]*block.Block, 0)
	oldWork := new(big.Int)
	for h := forkHeight + 1; h <= oldHeight; h++ {
		blk, err := c.blocks.GetBlockByHeight(h)
		if err != nil {
			return fmt.Errorf("load old branch block at height %d: %w", h, err)
		}
		oldBranch = append(oldBranch, blk)
		oldWork.Add(oldWork, WorkForTarget(blk.Header.Target))
	}

	if newWork.Cmp(oldWork) <= 0 {
		return nil // New branch does not outweigh the active chain.
	}

	if err := c.blocks.PutReorgCheckpoint(forkHeight); err != nil {
		return fmt.Errorf("write reorg checkpoint: %w", err)
	}

	// Revert the old branch, newest block first.
	for i := len(oldBranch) - 1; i >= 0; i-- {
		blk := oldBranch[i]
		undoBytes, err := c.blocks.GetUndo(blk.Hash)
		if err != nil {
			return c.rebuildFromScratch(newBranch, oldBranch, forkHeight)
		}
		undo, err := unmarshalUndo(undoBytes)
		if err != nil {
			return fmt.Errorf("decode undo for block %s: %w", blk.Hash, err)
		}
		if err := c.revertBlock(undo); err != nil {
			return fmt.Errorf("revert block %s: %w", blk.Hash, err)
		}
		c.state.Supply -= config.Subsidy(blk.Height)
		c.state.CumulativeWork.Sub(c.state.CumulativeWork, WorkForTarget(blk.Header.Target))
		if err := c.blocks.DeleteUndo(blk.Hash); err != nil {
			return fmt.Errorf("delete undo for block %s: %w", blk.Hash, err)
		}
	}

	// Replay the new branch with full validation. Any failure restores the
	// old branch exactly before returning, so the chain never ends up in a
	// state that belongs to neither branch.
	for i, blk := range newBranch {
		if err := c.replayBlock(blk); err != nil {
			// Unwind the new-branch blocks that did replay, newest first.
			for j := i - 1; j >= 0; j-- {
				nb := newBranch[j]
				undoBytes, uerr := c.blocks.GetUndo(nb.Hash)
				var undo *UndoData
				if uerr == nil {
					undo, uerr = unmarshalUndo(undoBytes)
				}
				if uerr == nil {
					uerr = c.revertBlock(undo)
				}
				if uerr != nil {
					return fmt.Errorf("replay failed (%v) AND unwind failed (%w) — state may be inconsistent", err, uerr)
				}
				c.state.Supply -= config.Subsidy(nb.Height)
				c.state.CumulativeWork.Sub(c.state.CumulativeWork, WorkForTarget(nb.Header.Target))
			}
			if rerr := c.restoreOldBranch(oldBranch); rerr != nil {
				return fmt.Errorf("replay failed (%v) AND restore failed (%w) — state may be inconsistent", err, rerr)
			}
			if derr := c.blocks.DeleteReorgCheckpoint(); derr != nil {
				return fmt.Errorf("replay failed: %v (checkpoint not cleared: %w)", err, derr)
			}
			return fmt.Errorf("replay new branch at height %d: %w", blk.Height, err)
		}
	}

	tip := newBranch[len(newBranch)-1]
	c.state.TipHash = tip.Hash
	c.state.Height = tip.Height
	c.state.TipTimestamp = tip.Header.Timestamp

	if err := c.blocks.SetTip(tip.Hash, tip.Height, c.state.Supply); err != nil {
		return fmt.Errorf("set tip: %w", err)
	}
	if err := c.blocks.SetCumulativeWork(c.state.CumulativeWork); err != nil {
		return fmt.Errorf("set cumulative work: %w", err)
	}
	if err := c.blocks.DeleteReorgCheckpoint(); err != nil {
		return fmt.Errorf("delete reorg checkpoint: %w", err)
	}

	c.notify(TipChanged{NewTip: tip, UndoneBlocks: oldBranch})
	return nil
}

// replayBlock validates and applies a single new-branch block during a
// reorg, mutating in-memory Supply/CumulativeWork but deferring the
// persisted tip pointer until the whole branch has replayed successfully.
func (c *Chain) replayBlock(blk *block.Block) error {
	if err := c.validator.ValidateBlock(blk); err != nil {
		return fmt.Errorf("structure/consensus: %w", err)
	}
	fees, err := c.validateBlockState(blk)
	if err != nil {
		return fmt.Errorf("state validation: %w", err)
	}
	subsidy := config.Subsidy(blk.Height)
	if err := c.checkCoinbaseAmount(blk, subsidy, fees); err != nil {
		return err
	}

	undo, err := c.applyBlockWithUndo(blk)
	if err != nil {
		return fmt.Errorf("apply block: %w", err)
	}
	if err := c.putUndo(blk.Hash, undo); err != nil {
		return fmt.Errorf("store undo: %w", err)
	}
	if err := c.blocks.PutBlock(blk); err != nil {
		return fmt.Errorf("store block: %w", err)
	}

	c.state.Supply += subsidy
	c.state.CumulativeWork.Add(c.state.CumulativeWork, WorkForTarget(blk.Header.Target))
	return nil
}

// restoreOldBranch re-applies the original old-branch blocks, oldest to
// newest, undoing a partial reorg attempt. It restores the UTXO set, claim
// registry, undo records, and height/tx indexes exactly as they were
// before Reorg started reverting them.
func (c *Chain) restoreOldBranch(oldBranch []*block.Block) error {
	for _, blk := range oldBranch {
		undo, err := c.applyBlockWithUndo(blk)
		if err != nil {
			return fmt.Errorf("restore block %s: %w", blk.Hash, err)
		}
		if err := c.putUndo(blk.Hash, undo); err != nil {
			return fmt.Errorf("restore undo for block %s: %w", blk.Hash, err)
		}
		if err := c.blocks.PutBlock(blk); err != nil {
			return fmt.Errorf("restore block index for %s: %w", blk.Hash, err)
		}
		c.state.Supply += config.Subsidy(blk.Height)
		c.state.CumulativeWork.Add(c.state.CumulativeWork, WorkForTarget(blk.Header.Target))
	}
	return nil
}

// rebuildFromScratch handles the case where undo data for an old-branch
// block has been lost: rather than reverting individual blocks, it indexes
// the new branch, clears the UTXO set and claim registry entirely, and
// replays every block from genesis through the new tip.
func (c *Chain) rebuildFromScratch(newBranch, oldBranch []*block.Block, forkHeight uint64) error {
	for _, blk := range newBranch {
		if err := c.blocks.PutBlock(blk); err != nil {
			return fmt.Errorf("index new branch block at height %d: %w", blk.Height, err)
		}
	}

	if err := c.utxos.ClearAll(); err != nil {
		return fmt.Errorf("clear utxo set: %w", err)
	}
	if err := c.claims.ClearAll(); err != nil {
		return fmt.Errorf("clear claim registry: %w", err)
	}

	newTip := newBranch[len(newBranch)-1]
	var supply uint64
	cumWork := new(big.Int)
	for h := uint64(0); h <= newTip.Height; h++ {
		blk, err := c.blocks.GetBlockByHeight(h)
		if err != nil {
			return fmt.Errorf("load block at height %d: %w", h, err)
		}
		if h > 0 {
			if err := c.validator.ValidateBlock(blk); err != nil {
				return fmt.Errorf("validate block at height %d: %w", h, err)
			}
			fees, err := c.validateBlockState(blk)
			if err != nil {
				return fmt.Errorf("validate state at height %d: %w", h, err)
			}
			if err := c.checkCoinbaseAmount(blk, config.Subsidy(h), fees); err != nil {
				return err
			}
		}
		undo, err := c.applyBlockWithUndo(blk)
		if err != nil {
			return fmt.Errorf("apply block at height %d: %w", h, err)
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

	c.state.TipHash = newTip.Hash
	c.state.Height = newTip.Height
	c.state.TipTimestamp = newTip.Header.Timestamp
	c.state.Supply = supply
	c.state.CumulativeWork = cumWork

	if err := c.blocks.SetTip(newTip.Hash, newTip.Height, supply); err != nil {
		return fmt.Errorf("set tip: %w", err)
	}
	if err := c.blocks.SetCumulativeWork(cumWork); err != nil {
		return fmt.Errorf("set cumulative work: %w", err)
	}
	if err := c.blocks.DeleteReorgCheckpoint(); err != nil {
		return fmt.Errorf("delete reorg checkpoint: %w", err)
	}

	c.notify(TipChanged{NewTip: newTip, UndoneBlocks: oldBranch})
	return nil
}

// collectBranch walks backward from tipHash to the point where it joins
// the active chain (or genesis), returning the branch's blocks in forward
// (oldest-first) order.
func (c *Chain) collectBranch(tipHash types.Hash) ([]*block.Block, error) {
	var branch []*block.Block
	hash := tipHash

	for {
		blk, err := c.blocks.GetBlock(hash)
		if err != nil {
			return nil, fmt.Errorf("load block %s: %w", hash, err)
		}
		branch = append(branch, blk)

		if len(branch) > MaxReorgDepth {
			return nil, fmt.Errorf("%w: branch exceeds %d blocks", ErrReorgTooDeep, MaxReorgDepth)
		}

		if blk.Height == 0 {
			if !c.genesisHash.IsZero() && blk.Hash != c.genesisHash {
				return nil, ErrGenesisReorg
			}
			break
		}

		mainBlock, err := c.blocks.GetBlockByHeight(blk.Height - 1)
		if err == nil && mainBlock.Hash == blk.Header.PrevHash {
			break
		}
		hash = blk.Header.PrevHash
	}

	for i, j := 0, len(branch)-1; i < j; i, j = i+1, j-1 {
		branch[i], branch[j] = branch[j], branch[i]
	}
	return branch, nil
}
