// Package consensus defines consensus engine interfaces and the
// proof-of-work implementation.
package consensus

import "github.com/qubitcoin-project/qcoind/pkg/block"

// Engine is the interface for consensus implementations.
type Engine interface {
	VerifyHeader(header *block.Header) error
	Seal(blk *block.Block) error
}
