// Package block defines block types and validation.
package block

import (
	"github.com/qubitcoin-project/qcoind/pkg/tx"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// Block is a header plus its transactions. Hash and Height are not part of
// the header's hashed bytes: Hash is cached from Header.Hash(), and Height
// is assigned by whatever chain the block is attached to.
type Block struct {
	Header       *Header           `json:"header"`
	Hash         types.Hash        `json:"hash"`
	Transactions []*tx.Transaction `json:"transactions"`
	Height       uint64            `json:"height"`
}

// NewBlock builds a block from a header and its transactions, computing and
// caching the header hash.
func NewBlock(header *Header, txs []*tx.Transaction, height uint64) *Block {
	return &Block{
		Header:       header,
		Hash:         header.Hash(),
		Transactions: txs,
		Height:       height,
	}
}

// RecomputeHash refreshes the cached Hash field from the current header,
// for use after mutating Header (e.g. during mining).
func (b *Block) RecomputeHash() {
	b.Hash = b.Header.Hash()
}

// Size returns the block's byte-exact size: the 112-byte header plus the
// exact size of every transaction.
func (b *Block) Size() int {
	size := HeaderSize
	for _, t := range b.Transactions {
		size += t.Size()
	}
	return size
}
