// Package utxo manages the unspent transaction output set.
package utxo

import "github.com/qubitcoin-project/qcoind/pkg/types"

// UTXO represents an unspent transaction output: a destination address, an
// amount, and the height it was created at (for coinbase maturity checks).
type UTXO struct {
	Outpoint types.Outpoint `json:"outpoint"`
	Address  types.Address  `json:"address"`
	Amount   uint64         `json:"amount"`
	Height   uint64         `json:"height"`
	Coinbase bool           `json:"coinbase"`
}

// Set is the interface for UTXO storage.
type Set interface {
	Get(outpoint types.Outpoint) (*UTXO, error)
	Put(u *UTXO) error
	Delete(outpoint types.Outpoint) error
	Has(outpoint types.Outpoint) (bool, error)
}
