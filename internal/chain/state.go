package chain

import (
	"math/big"

	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// State holds the current chain tip state.
type State struct {
	Height         uint64
	TipHash        types.Hash
	Supply         uint64   // Total coins in circulation (genesis alloc + cumulative rewards).
	CumulativeWork *big.Int // Sum of floor(2^256/(target+1)) over every block (PoW fork choice).
	TipTimestamp   int64    // Timestamp of the current tip block, in milliseconds.
}

// IsGenesis returns true if no blocks have been processed yet.
func (s *State) IsGenesis() bool {
	return s.Height == 0 && s.TipHash.IsZero()
}
