package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/qubitcoin-project/qcoind/config"
	"github.com/qubitcoin-project/qcoind/internal/utxo"
	"github.com/qubitcoin-project/qcoind/pkg/block"
	"github.com/qubitcoin-project/qcoind/pkg/tx"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// Block processing errors.
var (
	ErrBlockKnown           = errors.New("block already known")
	ErrPrevNotFound         = errors.New("previous block not found")
	ErrBadTimestamp         = errors.New("block timestamp out of bounds")
	ErrBadCoinbaseAmount    = errors.New("coinbase amount exceeds subsidy plus fees")
	ErrMissingSnapshot      = errors.New("claim transaction but no snapshot loaded")
	ErrClaimUnknownAddr     = errors.New("claim btcAddress not present in snapshot")
	ErrClaimAlreadyRedeemed = errors.New("btc address already claimed")
)

// UndoData stores the information needed to revert a block's effect on the
// UTXO set and claim registry.
type UndoData struct {
	SpentUTXOs       []utxo.UTXO      `json:"spentUtxos"`
	CreatedOutpoints []types.Outpoint `json:"createdOutpoints"`
	ClaimedAddresses []string         `json:"claimedAddresses"`
	TxIDs            []types.Hash     `json:"txIds"`
}

// Marshal encodes undo data for storage.
func (u *UndoData) Marshal() ([]byte, error) {
	return json.Marshal(u)
}

// unmarshalUndo decodes undo data previously written by Marshal.
func unmarshalUndo(data []byte) (*UndoData, error) {
	var u UndoData
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("unmarshal undo: %w", err)
	}
	return &u, nil
}

// AddBlock validates blk and, on success, links it into the chain: either
// extending the active tip directly, or — if it descends from a known
// ancestor that is not the tip — storing it as a side-branch candidate and
// reorging onto it if its branch now carries more cumulative work than the
// active chain.
//
// Height is assigned here from the parent's height, overriding whatever
// the wire block claimed: Height is not part of the hashed header, so it
// cannot be trusted from an untrusted peer.
func (c *Chain) AddBlock(blk *block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	known, err := c.blocks.HasBlock(blk.Hash)
	if err != nil {
		return fmt.Errorf("check known block: %w", err)
	}
	if known {
		return ErrBlockKnown
	}

	parent, err := c.blocks.GetBlock(blk.Header.PrevHash)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPrevNotFound, blk.Header.PrevHash)
	}
	blk.Height = parent.Height + 1

	if err := c.validator.ValidateBlock(blk); err != nil {
		return fmt.Errorf("structure/consensus: %w", err)
	}

	expectedTarget := c.pow.ExpectedTarget(blk.Height, parent.Header.Target, c.getBlockTimestamp)
	if blk.Header.Target != expectedTarget {
		return fmt.Errorf("target at height %d does not match expected retarget value", blk.Height)
	}

	mtp, err := c.MedianTimePast(parent.Height)
	if err != nil {
		return fmt.Errorf("median time past: %w", err)
	}
	if blk.Header.Timestamp <= mtp {
		return fmt.Errorf("%w: timestamp %d <= median time past %d", ErrBadTimestamp, blk.Header.Timestamp, mtp)
	}
	if blk.Header.Timestamp > time.Now().UnixMilli()+MaxFutureDriftMs {
		return fmt.Errorf("%w: timestamp %d too far in the future", ErrBadTimestamp, blk.Header.Timestamp)
	}

	if blk.Header.PrevHash == c.state.TipHash {
		return c.extendTip(blk)
	}

	// Side branch: store unindexed so collectBranch can walk back to it,
	// then check whether it now outweighs the active chain.
	if err := c.blocks.StoreBlock(blk); err != nil {
		return fmt.Errorf("store side-branch block: %w", err)
	}
	return c.Reorg(blk.Hash)
}

// extendTip applies blk directly onto the current tip: the common case
// during normal operation and initial block download along the best chain.
func (c *Chain) extendTip(blk *block.Block) error {
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

	newSupply := c.state.Supply + subsidy
	newWork := new(big.Int).Add(c.state.CumulativeWork, WorkForTarget(blk.Header.Target))

	if err := c.blocks.SetTip(blk.Hash, blk.Height, newSupply); err != nil {
		return fmt.Errorf("set tip: %w", err)
	}
	if err := c.blocks.SetCumulativeWork(newWork); err != nil {
		return fmt.Errorf("set cumulative work: %w", err)
	}

	c.state.TipHash = blk.Hash
	c.state.Height = blk.Height
	c.state.Supply = newSupply
	c.state.CumulativeWork = newWork
	c.state.TipTimestamp = blk.Header.Timestamp

	c.notify(TipChanged{NewTip: blk})
	return nil
}

// validateBlockState validates blk's transactions against the current UTXO
// set and claim registry: coinbase structure aside, every regular input
// must resolve and verify, every claim must check out against the loaded
// snapshot. In-block no-double-spend is already enforced structurally by
// block.Validate. Returns the block's total fees.
func (c *Chain) validateBlockState(blk *block.Block) (uint64, error) {
	var totalFees uint64
	for i, t := range blk.Transactions {
		if i == 0 {
			continue // Coinbase: no inputs to validate here.
		}
		if t.IsClaim() {
			if err := c.validateClaim(t); err != nil {
				return 0, fmt.Errorf("tx %d (claim): %w", i, err)
			}
			continue
		}
		fee, err := t.ValidateWithUTXOs(c.utxos)
		if err != nil {
			return 0, fmt.Errorf("tx %d: %w", i, err)
		}
		totalFees += fee
	}
	return totalFees, nil
}

// checkCoinbaseAmount enforces that the coinbase pays out no more than the
// block's subsidy plus the fees its transactions generated.
func (c *Chain) checkCoinbaseAmount(blk *block.Block, subsidy, fees uint64) error {
	total, err := blk.Transactions[0].TotalOutputValue()
	if err != nil {
		return fmt.Errorf("coinbase output total: %w", err)
	}
	if total > subsidy+fees {
		return fmt.Errorf("%w: coinbase pays %d, max %d", ErrBadCoinbaseAmount, total, subsidy+fees)
	}
	return nil
}

// validateClaim checks a claim transaction's proof against the loaded
// snapshot: the btcAddress must be a known snapshot entry not already
// claimed, the supplied key material must recompute that exact address,
// the signature(s) must verify over the claim digest, and the transaction
// must pay the snapshot's full amount to the claimed qcoin address.
func (c *Chain) validateClaim(t *tx.Transaction) error {
	if c.snapshot == nil {
		return ErrMissingSnapshot
	}
	cd := t.ClaimData

	entry, ok := c.snapshot.Lookup(cd.BtcAddress)
	if !ok {
		return fmt.Errorf("%w: %s", ErrClaimUnknownAddr, cd.BtcAddress)
	}

	claimed, err := c.claims.IsClaimed(cd.BtcAddress)
	if err != nil {
		return fmt.Errorf("check claim status: %w", err)
	}
	if claimed {
		return fmt.Errorf("%w: %s", ErrClaimAlreadyRedeemed, cd.BtcAddress)
	}

	if err := utxo.VerifyClaimProof(t, entry, c.snapshot.BlockHash()); err != nil {
		return err
	}

	return nil
}

// applyBlockWithUndo applies a block's transactions to the UTXO set and
// claim registry, returning the data needed to revert it.
func (c *Chain) applyBlockWithUndo(blk *block.Block) (*UndoData, error) {
	undo := &UndoData{}

	for _, t := range blk.Transactions {
		undo.TxIDs = append(undo.TxIDs, t.ID)

		switch {
		case t.IsCoinbase():
			// No inputs to spend.
		case t.IsClaim():
			btcAddr := t.ClaimData.BtcAddress
			if err := c.claims.MarkClaimed(btcAddr, t.ClaimData.QcoinAddress.String()); err != nil {
				return nil, fmt.Errorf("mark claimed %s: %w", btcAddr, err)
			}
			undo.ClaimedAddresses = append(undo.ClaimedAddresses, btcAddr)
		default:
			for _, in := range t.Inputs {
				op := types.Outpoint{TxID: in.TxID, Index: in.OutputIndex}
				u, err := c.utxos.Get(op)
				if err != nil {
					return nil, fmt.Errorf("get utxo for undo %s: %w", op, err)
				}
				undo.SpentUTXOs = append(undo.SpentUTXOs, *u)
				if err := c.utxos.Delete(op); err != nil {
					return nil, fmt.Errorf("spend %s: %w", op, err)
				}
			}
		}

		for i, out := range t.Outputs {
			op := types.Outpoint{TxID: t.ID, Index: uint32(i)}
			undo.CreatedOutpoints = append(undo.CreatedOutpoints, op)
			u := &utxo.UTXO{
				Outpoint: op,
				Address:  out.Address,
				Amount:   out.Amount,
				Height:   blk.Height,
				Coinbase: t.IsCoinbase(),
			}
			if err := c.utxos.Put(u); err != nil {
				return nil, fmt.Errorf("create output %s: %w", op, err)
			}
		}
	}

	return undo, nil
}

// revertBlock undoes a block's effect on the UTXO set and claim registry,
// restoring the state undo was captured from.
func (c *Chain) revertBlock(undo *UndoData) error {
	for i := len(undo.CreatedOutpoints) - 1; i >= 0; i-- {
		if err := c.utxos.Delete(undo.CreatedOutpoints[i]); err != nil {
			return fmt.Errorf("delete created output %s: %w", undo.CreatedOutpoints[i], err)
		}
	}
	for i := range undo.SpentUTXOs {
		if err := c.utxos.Put(&undo.SpentUTXOs[i]); err != nil {
			return fmt.Errorf("restore utxo %s: %w", undo.SpentUTXOs[i].Outpoint, err)
		}
	}
	for _, btcAddr := range undo.ClaimedAddresses {
		if err := c.claims.Unclaim(btcAddr); err != nil {
			return fmt.Errorf("unclaim %s: %w", btcAddr, err)
		}
	}
	for _, txID := range undo.TxIDs {
		if err := c.blocks.DeleteTxIndex(txID); err != nil {
			return fmt.Errorf("delete tx index %s: %w", txID, err)
		}
	}
	return nil
}
