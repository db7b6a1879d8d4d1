package block

import (
	"errors"
	"fmt"

	"github.com/qubitcoin-project/qcoind/config"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// Validation errors.
var (
	ErrNilHeader           = errors.New("block has nil header")
	ErrNoTransactions      = errors.New("block has no transactions")
	ErrBadHash             = errors.New("block hash does not match its header")
	ErrBadMerkleRoot       = errors.New("merkle root mismatch")
	ErrBadVersion          = errors.New("unsupported block version")
	ErrZeroTimestamp       = errors.New("block timestamp is zero")
	ErrNoCoinbase          = errors.New("first transaction must be coinbase")
	ErrBlockTooLarge       = errors.New("block too large")
	ErrDuplicateBlockInput = errors.New("duplicate input across transactions in block")
	ErrMultipleCoinbase    = errors.New("multiple coinbase transactions in block")
)

// Block version constants.
const (
	CurrentVersion = 1 // The current block version produced by this software.
	MaxVersion     = 1 // Bump when a fork introduces a new block version.
)

// Validate checks block structure and internal consistency: header hash,
// size, version, coinbase placement, merkle root, per-tx structural
// validity, and no-double-spend within the block. It does NOT verify
// consensus rules that require chain context (proof of work against the
// target, previous-block linkage, timestamp against median time past, or
// UTXO/claim-snapshot membership) — see internal/consensus and
// internal/chain for those.
func (b *Block) Validate() error {
	if b.Header == nil {
		return ErrNilHeader
	}

	if b.Hash != b.Header.Hash() {
		return ErrBadHash
	}

	if b.Header.Version < 1 || b.Header.Version > MaxVersion {
		return fmt.Errorf("%w: got %d, want 1..%d", ErrBadVersion, b.Header.Version, MaxVersion)
	}

	if b.Header.Timestamp == 0 {
		return ErrZeroTimestamp
	}

	if len(b.Transactions) == 0 {
		return ErrNoTransactions
	}

	if size := b.Size(); size > config.MaxBlockSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrBlockTooLarge, size, config.MaxBlockSize)
	}

	// First transaction must be coinbase; no other transaction may be.
	if !b.Transactions[0].IsCoinbase() {
		return ErrNoCoinbase
	}
	for i, transaction := range b.Transactions[1:] {
		if transaction.IsCoinbase() {
			return fmt.Errorf("tx %d: %w", i+1, ErrMultipleCoinbase)
		}
	}

	// Verify merkle root.
	txHashes := make([]types.Hash, len(b.Transactions))
	for i, transaction := range b.Transactions {
		txHashes[i] = transaction.ID
	}
	expectedRoot := ComputeMerkleRoot(txHashes)
	if b.Header.MerkleRoot != expectedRoot {
		return fmt.Errorf("%w: header=%s computed=%s", ErrBadMerkleRoot, b.Header.MerkleRoot, expectedRoot)
	}

	// Validate each transaction structurally.
	for i, transaction := range b.Transactions {
		if err := transaction.Validate(); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
	}

	// Check for duplicate inputs across different transactions in the block.
	// (Per-tx duplicates are caught by tx.Validate above.)
	allInputs := make(map[types.Outpoint]int) // outpoint -> tx index
	for i, transaction := range b.Transactions {
		if transaction.IsCoinbase() {
			continue
		}
		for _, in := range transaction.Inputs {
			if in.IsClaim() {
				continue
			}
			op := types.Outpoint{TxID: in.TxID, Index: in.OutputIndex}
			if prevTx, exists := allInputs[op]; exists {
				return fmt.Errorf("tx %d: %w: outpoint %s also spent in tx %d",
					i, ErrDuplicateBlockInput, op, prevTx)
			}
			allInputs[op] = i
		}
	}

	return nil
}
